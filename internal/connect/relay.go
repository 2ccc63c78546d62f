package connect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"

	clierr "github.com/ggonzalez94/dexswap/internal/errors"
	"github.com/ggonzalez94/dexswap/internal/id"
	"github.com/ggonzalez94/dexswap/internal/providers"
	"github.com/ggonzalez94/dexswap/internal/relay"
	"github.com/ggonzalez94/dexswap/internal/session"
)

type sendTransactionParams struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
}

// runRelay owns one relay session from approval to a terminal state. Panics are converted
// into a failure so the session is still finished.
func (o *Orchestrator) runRelay(s session.Session) {
	defer o.wg.Done()

	var (
		txHash string
		err    error
	)
	defer func() {
		if r := recover(); r != nil {
			err = clierr.New(clierr.CodeInternal, fmt.Sprintf("relay session panicked: %v", r))
		}
		o.finish(s, txHash, err)
	}()

	ctx, cancel := context.WithDeadline(context.Background(), s.ExpiresAt)
	defer cancel()
	txHash, err = o.driveRelay(ctx, s.ID)
}

func (o *Orchestrator) driveRelay(ctx context.Context, sessionID string) (string, error) {
	s, err := o.refetch(sessionID)
	if err != nil {
		return "", err
	}

	approval, err := race(ctx, s.Approval)
	if err != nil {
		return "", relayError(ctx, err, clierr.CodeApprovalTimeout, "wallet did not approve the connection before the session expired", "relay approval failed")
	}
	address, err := relay.WalletAddress(approval.Accounts, s.Intent.Chain.CAIP2)
	if err != nil {
		return "", err
	}
	if !id.ChainSupportsAddress(s.Intent.Chain, address) {
		return "", clierr.New(clierr.CodeInvalidWalletResponse, "wallet approved an account that is not valid for the chain")
	}

	if s, err = o.refetch(sessionID); err != nil {
		return "", err
	}
	s.WalletAddress = id.ChecksumAddress(s.Intent.Chain, address)
	if approval.Topic != "" {
		s.PairingTopic = approval.Topic
	}
	if err := o.save(&s, session.StateApproved); err != nil {
		return "", err
	}

	tx, err := o.buildTransaction(ctx, s)
	if err != nil {
		return "", err
	}
	if tx.Kind != providers.TransactionKindEVM || tx.EVM == nil {
		return "", clierr.New(clierr.CodeUpstream, fmt.Sprintf("%s returned a non-EVM transaction", s.Intent.AggregatorID))
	}
	value, ok := new(big.Int).SetString(tx.EVM.Value, 10)
	if !ok {
		return "", clierr.New(clierr.CodeUpstream, fmt.Sprintf("%s returned invalid transaction value", s.Intent.AggregatorID))
	}

	if s, err = o.refetch(sessionID); err != nil {
		return "", err
	}
	if err := o.save(&s, session.StateSigningRequested); err != nil {
		return "", err
	}

	params := []sendTransactionParams{{
		From:  s.WalletAddress,
		To:    tx.EVM.To,
		Data:  tx.EVM.Data,
		Value: hexutil.EncodeBig(value),
	}}
	topic, chainID := s.PairingTopic, s.Intent.Chain.CAIP2
	raw, err := race(ctx, func(ctx context.Context) (json.RawMessage, error) {
		return o.relay.Request(ctx, topic, chainID, relay.MethodSendTransaction, params)
	})
	if err != nil {
		return "", relayError(ctx, err, clierr.CodeSigningTimeout, "wallet did not sign the transaction before the session expired", "relay signing request failed")
	}
	return relay.NormalizeTxHash(raw)
}

// race runs fn and returns its result, or ctx's error once ctx ends first. A late result is
// dropped.
func race[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	var zero T
	if fn == nil {
		return zero, clierr.New(clierr.CodeInternal, "relay session has no pending wallet handle")
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: clierr.New(clierr.CodeInternal, fmt.Sprintf("relay handle panicked: %v", r))}
			}
		}()
		v, err := fn(ctx)
		done <- result{value: v, err: err}
	}()
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-done:
		return r.value, r.err
	}
}

func relayError(ctx context.Context, err error, timeoutCode clierr.Code, timeoutMsg, failMsg string) error {
	switch {
	case relay.IsUserRejection(err):
		return clierr.Wrap(clierr.CodeWalletRejected, "wallet declined the request", err)
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
		return clierr.New(timeoutCode, timeoutMsg)
	default:
		return typed(clierr.CodeUpstream, failMsg, err)
	}
}
