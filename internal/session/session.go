package session

import (
	"context"
	"fmt"
	"time"

	clierr "github.com/ggonzalez94/dexswap/internal/errors"
	"github.com/ggonzalez94/dexswap/internal/id"
	"github.com/ggonzalez94/dexswap/internal/relay"
)

// State is the protocol position of a wallet session.
type State string

const (
	StatePendingApproval  State = "PENDING_APPROVAL"
	StateApproved         State = "APPROVED"
	StateSigningRequested State = "SIGNING_REQUESTED"
	StateCompleted        State = "COMPLETED"
	StateExpired          State = "EXPIRED"
	StateFailed           State = "FAILED"
)

var stateRank = map[State]int{
	StatePendingApproval:  0,
	StateApproved:         1,
	StateSigningRequested: 2,
	StateCompleted:        3,
	StateExpired:          3,
	StateFailed:           3,
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateExpired || s == StateFailed
}

// Intent is the swap a session was opened for.
type Intent struct {
	Chain        id.Chain
	AggregatorID string
	SellToken    string
	BuyToken     string
	SellAmount   string
	SellDecimals int
	BuyDecimals  int
	SlippageBps  int64
}

// PhantomState holds the deep-link handshake material. It is copied with the session;
// holders of a copy call Wipe when done with it.
type PhantomState struct {
	DappPublicKey        [32]byte
	DappSecretKey        [32]byte
	SharedSecret         [32]byte
	HasSharedSecret      bool
	WalletPublicKey      string
	WalletSession        string
	LastValidBlockHeight uint64
}

// Wipe zeroes the secret key material and the wallet session token.
func (p *PhantomState) Wipe() {
	zero(p.DappSecretKey[:])
	zero(p.SharedSecret[:])
	p.HasSharedSecret = false
	p.WalletSession = ""
}

type Session struct {
	ID            string
	UserID        string
	Intent        Intent
	CreatedAt     time.Time
	ExpiresAt     time.Time
	State         State
	URI           string
	WalletAddress string
	FailureCode   clierr.Code

	// Relay path.
	PairingTopic string
	Approval     func(ctx context.Context) (relay.Approval, error)

	// Deep-link path.
	Phantom PhantomState
}

func (s Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Transition moves the session to next. Moves backward, sideways or out of a terminal state
// are rejected and leave the session unchanged.
func (s *Session) Transition(next State) error {
	if s.State.Terminal() {
		return clierr.New(clierr.CodeInternal, fmt.Sprintf("session %s is already %s", s.ID, s.State))
	}
	to, ok := stateRank[next]
	if !ok {
		return clierr.New(clierr.CodeInternal, fmt.Sprintf("unknown session state %q", next))
	}
	if to <= stateRank[s.State] {
		return clierr.New(clierr.CodeInternal, fmt.Sprintf("session %s cannot move from %s to %s", s.ID, s.State, next))
	}
	s.State = next
	return nil
}

// Fail moves the session to FAILED and remembers why.
func (s *Session) Fail(code clierr.Code) error {
	if err := s.Transition(StateFailed); err != nil {
		return err
	}
	s.FailureCode = code
	return nil
}
