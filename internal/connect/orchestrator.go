package connect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	clierr "github.com/ggonzalez94/dexswap/internal/errors"
	"github.com/ggonzalez94/dexswap/internal/id"
	"github.com/ggonzalez94/dexswap/internal/logging"
	"github.com/ggonzalez94/dexswap/internal/metrics"
	"github.com/ggonzalez94/dexswap/internal/notify"
	"github.com/ggonzalez94/dexswap/internal/phantom"
	"github.com/ggonzalez94/dexswap/internal/providers"
	"github.com/ggonzalez94/dexswap/internal/ratelimit"
	"github.com/ggonzalez94/dexswap/internal/relay"
	"github.com/ggonzalez94/dexswap/internal/session"
)

const (
	DefaultSlippageBps int64 = 50
	notifyTimeout            = 10 * time.Second
)

// Broadcaster submits a wallet-signed Solana transaction.
type Broadcaster interface {
	Broadcast(ctx context.Context, signed []byte, lastValidBlockHeight uint64) (string, error)
}

type Options struct {
	Store       *session.Store
	Aggregators []providers.Aggregator
	Relay       relay.Client
	Broadcaster Broadcaster
	Notifier    notify.Notifier
	Metrics     *metrics.Recorder
	Limiter     *ratelimit.KeyLimiter
	Logger      *slog.Logger
	Links       phantom.Links

	TTL         time.Duration
	SlippageBps int64
	// Explorers overrides the transaction URL prefix per chain slug.
	Explorers map[string]string
}

// Orchestrator drives wallet sessions from open to a terminal state. Every terminal path
// deletes the session.
type Orchestrator struct {
	store       *session.Store
	aggregators []providers.Aggregator
	relay       relay.Client
	broadcaster Broadcaster
	notifier    notify.Notifier
	metrics     *metrics.Recorder
	limiter     *ratelimit.KeyLimiter
	logger      *slog.Logger
	links       phantom.Links
	ttl         time.Duration
	slippageBps int64
	explorers   map[string]string

	now       func() time.Time
	newID     func() string
	keySource io.Reader

	wg sync.WaitGroup
}

func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		store:       opts.Store,
		aggregators: opts.Aggregators,
		relay:       opts.Relay,
		broadcaster: opts.Broadcaster,
		notifier:    opts.Notifier,
		metrics:     opts.Metrics,
		limiter:     opts.Limiter,
		logger:      opts.Logger,
		links:       opts.Links,
		ttl:         opts.TTL,
		slippageBps: opts.SlippageBps,
		explorers:   map[string]string{},
		now:         time.Now,
		newID:       uuid.NewString,
	}
	if o.store == nil {
		o.store = session.NewStore()
	}
	if o.notifier == nil {
		o.notifier = notify.Nop{}
	}
	if o.logger == nil {
		o.logger = logging.Discard()
	}
	if o.ttl <= 0 {
		o.ttl = session.DefaultTTL
	}
	if o.slippageBps <= 0 {
		o.slippageBps = DefaultSlippageBps
	}
	for slug, prefix := range opts.Explorers {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			o.explorers[strings.ToLower(strings.TrimSpace(slug))] = prefix
		}
	}
	return o
}

type OpenRequest struct {
	UserID string
	Intent session.Intent
}

// SessionInfo is what the caller shows the user after opening a session.
type SessionInfo struct {
	SessionID string
	URI       string
	ExpiresAt time.Time
}

type SignResult struct {
	TransactionHash string
	ExplorerURL     string
}

// OpenSession validates the intent, stores a PENDING_APPROVAL session and returns without
// waiting for the wallet. Relay sessions continue in a background task.
func (o *Orchestrator) OpenSession(ctx context.Context, req OpenRequest) (SessionInfo, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return SessionInfo{}, clierr.New(clierr.CodeUsage, "user id is required")
	}
	intent := req.Intent
	agg, ok := providers.Find(o.aggregators, intent.AggregatorID)
	if !ok {
		return SessionInfo{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("aggregator %q is not available for swap", intent.AggregatorID))
	}
	if !agg.SupportsChain(intent.Chain) {
		return SessionInfo{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("aggregator %s does not support %s", agg.ID(), intent.Chain.Slug))
	}
	if !o.limiter.Allow(req.UserID, o.now()) {
		return SessionInfo{}, clierr.New(clierr.CodeRateLimited, "too many swap sessions opened")
	}
	if intent.SlippageBps <= 0 {
		intent.SlippageBps = o.slippageBps
	}

	now := o.now()
	s := session.Session{
		ID:        o.newID(),
		UserID:    req.UserID,
		Intent:    intent,
		CreatedAt: now,
		ExpiresAt: now.Add(o.ttl),
		State:     session.StatePendingApproval,
	}

	switch intent.Chain.Flow {
	case id.FlowRelay:
		if err := o.openRelay(ctx, &s); err != nil {
			return SessionInfo{}, err
		}
	case id.FlowDeepLink:
		if err := o.openDeepLink(&s); err != nil {
			return SessionInfo{}, err
		}
	default:
		return SessionInfo{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("chain %s has no wallet flow", intent.Chain.Slug))
	}

	o.metrics.SwapRequest(metrics.SwapInitiated)
	o.logger.Info("swap session opened",
		"session_id", s.ID,
		"user_id", s.UserID,
		"chain", intent.Chain.Slug,
		"flow", string(intent.Chain.Flow),
		"aggregator", intent.AggregatorID,
		"expires_at", s.ExpiresAt,
	)
	return SessionInfo{SessionID: s.ID, URI: s.URI, ExpiresAt: s.ExpiresAt}, nil
}

func (o *Orchestrator) openRelay(ctx context.Context, s *session.Session) error {
	if o.relay == nil {
		return clierr.New(clierr.CodeUnsupported, "relay transport is not configured")
	}
	required, err := relay.RequiredNamespaces(s.Intent.Chain)
	if err != nil {
		return err
	}
	pairing, err := o.relay.OpenPairing(ctx, required)
	if err != nil {
		return typed(clierr.CodeUpstream, "open relay pairing", err)
	}
	if pairing.Approval == nil || strings.TrimSpace(pairing.URI) == "" {
		return clierr.New(clierr.CodeUpstream, "relay returned an incomplete pairing")
	}
	s.URI = pairing.URI
	s.PairingTopic = pairing.Topic
	s.Approval = pairing.Approval
	o.store.Save(*s)

	o.wg.Add(1)
	go o.runRelay(*s)
	return nil
}

func (o *Orchestrator) openDeepLink(s *session.Session) error {
	kp, err := phantom.GenerateKeyPair(o.keySource)
	if err != nil {
		return err
	}
	s.Phantom = session.PhantomState{DappPublicKey: kp.Public, DappSecretKey: kp.Secret}
	kp.Secret = [phantom.KeySize]byte{}
	s.URI = o.links.Connect(s.ID, s.Phantom.DappPublicKey)
	o.store.Save(*s)
	s.Phantom.Wipe()
	return nil
}

// Wait blocks until every background relay task has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Sweep evicts expired sessions every interval until ctx is done.
func (o *Orchestrator) Sweep(ctx context.Context, interval time.Duration) {
	o.store.Run(ctx, interval)
}

// finish is the single terminal path: it stores the terminal state, notifies the user and
// deletes the session. s is the last known copy, used when the stored one has already expired.
func (o *Orchestrator) finish(s session.Session, txHash string, err error) {
	defer o.store.Delete(s.ID)
	if current, ok := o.store.Get(s.ID); ok {
		s = current
	}
	defer s.Phantom.Wipe()

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	if err != nil {
		code := clierr.CodeOf(err)
		o.settle(&s, s.Fail(code))
		o.metrics.SwapRequest(metrics.SwapError)
		o.metrics.Error(clierr.TypeName(code))
		o.logger.Warn("swap session failed",
			"session_id", s.ID,
			"user_id", s.UserID,
			"chain", s.Intent.Chain.Slug,
			"error_type", clierr.TypeName(code),
		)
		o.notifier.Notify(ctx, s.UserID, notify.SwapFailed(err))
		return
	}

	o.settle(&s, s.Transition(session.StateCompleted))
	o.metrics.SwapRequest(metrics.SwapSuccess)
	o.logger.Info("swap session completed",
		"session_id", s.ID,
		"user_id", s.UserID,
		"chain", s.Intent.Chain.Slug,
		"tx_hash", txHash,
	)
	o.notifier.Notify(ctx, s.UserID, notify.SwapSent(s.Intent.Chain.Name, s.Intent.AggregatorID, txHash, o.explorerURL(s.Intent.Chain, txHash)))
}

// settle stores a terminal transition so readers see it until the session is deleted.
func (o *Orchestrator) settle(s *session.Session, transitionErr error) {
	if transitionErr != nil {
		o.logger.Debug("terminal transition rejected", "session_id", s.ID, "state", string(s.State), "error", transitionErr)
		return
	}
	o.store.Save(*s)
}

func (o *Orchestrator) explorerURL(chain id.Chain, txHash string) string {
	if prefix, ok := o.explorers[chain.Slug]; ok {
		return prefix + txHash
	}
	return chain.ExplorerTxURL(txHash)
}

func (o *Orchestrator) buildTransaction(ctx context.Context, s session.Session) (providers.SwapTransaction, error) {
	agg, ok := providers.Find(o.aggregators, s.Intent.AggregatorID)
	if !ok {
		return providers.SwapTransaction{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("aggregator %q is not available for swap", s.Intent.AggregatorID))
	}
	tx, err := agg.BuildSwapTransaction(ctx, providers.SwapRequest{
		QuoteRequest: providers.QuoteRequest{
			Chain:        s.Intent.Chain,
			SellToken:    s.Intent.SellToken,
			BuyToken:     s.Intent.BuyToken,
			SellAmount:   s.Intent.SellAmount,
			SellDecimals: s.Intent.SellDecimals,
			BuyDecimals:  s.Intent.BuyDecimals,
		},
		WalletAddress: s.WalletAddress,
		SlippageBps:   s.Intent.SlippageBps,
	})
	if err != nil {
		return providers.SwapTransaction{}, typed(clierr.CodeUpstream, "build swap transaction", err)
	}
	return tx, nil
}

// refetch re-reads a session after a suspension point.
func (o *Orchestrator) refetch(sessionID string) (session.Session, error) {
	s, ok := o.store.Get(sessionID)
	if !ok {
		return session.Session{}, clierr.New(clierr.CodeSessionNotFound, "swap session is not found or expired")
	}
	return s, nil
}

// save applies next to s and stores it.
func (o *Orchestrator) save(s *session.Session, next session.State) error {
	if err := s.Transition(next); err != nil {
		return err
	}
	o.store.Save(*s)
	return nil
}

// typed keeps a coded error as is and wraps anything else with code.
func typed(code clierr.Code, message string, err error) error {
	if _, ok := clierr.As(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) && code == clierr.CodeUpstream {
		code = clierr.CodeUpstreamTimeout
	}
	return clierr.Wrap(code, message, err)
}
