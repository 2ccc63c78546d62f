package connect

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ggonzalez94/dexswap/internal/id"
	"github.com/ggonzalez94/dexswap/internal/metrics"
	"github.com/ggonzalez94/dexswap/internal/model"
	"github.com/ggonzalez94/dexswap/internal/phantom"
	"github.com/ggonzalez94/dexswap/internal/providers"
	"github.com/ggonzalez94/dexswap/internal/relay"
	"github.com/ggonzalez94/dexswap/internal/session"
)

const (
	testWallet = "0x1111111111111111111111111111111111111111"
	testTxHash = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
)

type fakeAggregator struct {
	id    string
	chain string
	tx    providers.SwapTransaction
	err   error

	mu     sync.Mutex
	builds []providers.SwapRequest
}

func (f *fakeAggregator) ID() string                        { return f.id }
func (f *fakeAggregator) Info() model.ProviderInfo          { return model.ProviderInfo{Name: f.id} }
func (f *fakeAggregator) SupportsChain(chain id.Chain) bool { return chain.Slug == f.chain }
func (f *fakeAggregator) HealthCheck(context.Context) error { return nil }

func (f *fakeAggregator) GetQuote(context.Context, providers.QuoteRequest) (model.Quote, error) {
	return model.Quote{AggregatorID: f.id, BuyAmount: "1"}, nil
}

func (f *fakeAggregator) BuildSwapTransaction(_ context.Context, req providers.SwapRequest) (providers.SwapTransaction, error) {
	f.mu.Lock()
	f.builds = append(f.builds, req)
	f.mu.Unlock()
	return f.tx, f.err
}

type relayCall struct {
	topic   string
	chainID string
	method  string
	params  any
}

type fakeRelay struct {
	approve func(ctx context.Context) (relay.Approval, error)
	respond func(ctx context.Context) (json.RawMessage, error)

	mu       sync.Mutex
	required relay.Namespaces
	calls    []relayCall
}

func (f *fakeRelay) OpenPairing(_ context.Context, required relay.Namespaces) (relay.Pairing, error) {
	f.mu.Lock()
	f.required = required
	f.mu.Unlock()
	return relay.Pairing{URI: "wc:topic-1@2?relay-protocol=irn&symKey=abc", Topic: "topic-1", Approval: f.approve}, nil
}

func (f *fakeRelay) Request(ctx context.Context, topic, chainID, method string, params any) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, relayCall{topic: topic, chainID: chainID, method: method, params: params})
	f.mu.Unlock()
	return f.respond(ctx)
}

func approveWith(accounts ...string) func(context.Context) (relay.Approval, error) {
	return func(context.Context) (relay.Approval, error) {
		return relay.Approval{Topic: "session-topic", Accounts: accounts}, nil
	}
}

func respondWith(raw string) func(context.Context) (json.RawMessage, error) {
	return func(context.Context) (json.RawMessage, error) {
		return json.RawMessage(raw), nil
	}
}

func blockUntilDone[T any](ctx context.Context) (T, error) {
	<-ctx.Done()
	var zero T
	return zero, ctx.Err()
}

type fakeBroadcaster struct {
	sig string
	err error

	mu        sync.Mutex
	signed    [][]byte
	lastValid []uint64
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, signed []byte, lastValid uint64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signed = append(f.signed, signed)
	f.lastValid = append(f.lastValid, lastValid)
	if f.err != nil {
		return "", f.err
	}
	return f.sig, nil
}

func (f *fakeBroadcaster) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.signed)
}

type recordingNotifier struct {
	// onNotify runs before the message is recorded.
	onNotify func()

	mu       sync.Mutex
	users    []string
	messages []string
}

func (r *recordingNotifier) Notify(_ context.Context, userID, message string) {
	if r.onNotify != nil {
		r.onNotify()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
	r.messages = append(r.messages, message)
}

func (r *recordingNotifier) last(t *testing.T) string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) != 1 {
		t.Fatalf("expected exactly one notification, got %d: %v", len(r.messages), r.messages)
	}
	return r.messages[0]
}

type harness struct {
	orch        *Orchestrator
	store       *session.Store
	agg         *fakeAggregator
	relay       *fakeRelay
	broadcaster *fakeBroadcaster
	notifier    *recordingNotifier
	metrics     *metrics.Recorder
}

func newHarness(t *testing.T, agg *fakeAggregator, rc *fakeRelay, ttl time.Duration) *harness {
	t.Helper()
	h := &harness{
		store:       session.NewStore(),
		agg:         agg,
		relay:       rc,
		broadcaster: &fakeBroadcaster{sig: "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"},
		notifier:    &recordingNotifier{},
		metrics:     metrics.New(),
	}
	opts := Options{
		Store:       h.store,
		Aggregators: []providers.Aggregator{agg},
		Broadcaster: h.broadcaster,
		Notifier:    h.notifier,
		Metrics:     h.metrics,
		Links:       phantom.NewLinks("https://swap.example.com/"),
		TTL:         ttl,
	}
	if rc != nil {
		opts.Relay = rc
	}
	h.orch = New(opts)
	return h
}

func mustChain(t *testing.T, slug string) id.Chain {
	t.Helper()
	chain, err := id.ParseChain(slug)
	if err != nil {
		t.Fatalf("ParseChain(%s): %v", slug, err)
	}
	return chain
}
