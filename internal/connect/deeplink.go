package connect

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/mr-tron/base58"

	clierr "github.com/ggonzalez94/dexswap/internal/errors"
	"github.com/ggonzalez94/dexswap/internal/id"
	"github.com/ggonzalez94/dexswap/internal/phantom"
	"github.com/ggonzalez94/dexswap/internal/providers"
	"github.com/ggonzalez94/dexswap/internal/session"
)

// GetConnectDeepLink returns the Phantom connect link for a pending deep-link session.
func (o *Orchestrator) GetConnectDeepLink(sessionID string) (string, error) {
	s, err := o.deepLinkSession(sessionID, session.StatePendingApproval)
	if err != nil {
		return "", err
	}
	s.Phantom.Wipe()
	return s.URI, nil
}

// HandleConnectCallback completes the key exchange, builds the swap for the connected wallet
// and returns the Phantom signTransaction link. Any failure after the session is found ends
// the session.
func (o *Orchestrator) HandleConnectCallback(ctx context.Context, sessionID string, params phantom.CallbackParams) (string, error) {
	s, err := o.deepLinkSession(sessionID, session.StatePendingApproval)
	if err != nil {
		return "", err
	}
	defer s.Phantom.Wipe()
	ctx, cancel := context.WithDeadline(ctx, s.ExpiresAt)
	defer cancel()

	link, err := o.connectAndBuild(ctx, s, params)
	if err != nil {
		o.finish(s, "", err)
		return "", err
	}
	return link, nil
}

func (o *Orchestrator) connectAndBuild(ctx context.Context, s session.Session, params phantom.CallbackParams) (string, error) {
	defer s.Phantom.Wipe()
	if err := params.Rejection("phantom connect declined"); err != nil {
		return "", err
	}
	walletKey, err := phantom.Require(params.PhantomEncryptionPublicKey, "phantom_encryption_public_key")
	if err != nil {
		return "", err
	}
	nonce, err := phantom.Require(params.Nonce, "nonce")
	if err != nil {
		return "", err
	}
	data, err := phantom.Require(params.Data, "data")
	if err != nil {
		return "", err
	}

	shared, err := phantom.SharedSecret(walletKey, &s.Phantom.DappSecretKey)
	if err != nil {
		return "", err
	}
	var payload phantom.ConnectPayload
	if err := phantom.Decrypt(data, nonce, &shared, &payload); err != nil {
		shared = [phantom.KeySize]byte{}
		return "", err
	}
	if !id.ChainSupportsAddress(s.Intent.Chain, payload.PublicKey) || payload.Session == "" {
		shared = [phantom.KeySize]byte{}
		return "", clierr.New(clierr.CodeInvalidWalletResponse, "phantom connect payload is missing the wallet key or session")
	}

	s.Phantom.SharedSecret = shared
	s.Phantom.HasSharedSecret = true
	s.Phantom.WalletPublicKey = walletKey
	s.Phantom.WalletSession = payload.Session
	shared = [phantom.KeySize]byte{}
	s.WalletAddress = payload.PublicKey
	if err := o.save(&s, session.StateApproved); err != nil {
		return "", err
	}

	tx, err := o.buildTransaction(ctx, s)
	if err != nil {
		return "", err
	}
	if tx.Kind != providers.TransactionKindSolana || tx.Solana == nil {
		return "", clierr.New(clierr.CodeUpstream, fmt.Sprintf("%s returned a non-Solana transaction", s.Intent.AggregatorID))
	}
	wire, err := base64.StdEncoding.DecodeString(tx.Solana.SerializedTransaction)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUpstream, fmt.Sprintf("%s returned a transaction that is not base64", s.Intent.AggregatorID), err)
	}

	if s, err = o.refetch(s.ID); err != nil {
		return "", err
	}
	nonceOut, sealed, err := phantom.Encrypt(phantom.SignRequest{
		Session:     s.Phantom.WalletSession,
		Transaction: base58.Encode(wire),
	}, &s.Phantom.SharedSecret)
	if err != nil {
		return "", err
	}
	s.Phantom.LastValidBlockHeight = tx.Solana.LastValidBlockHeight
	if err := o.save(&s, session.StateSigningRequested); err != nil {
		return "", err
	}
	return o.links.Sign(s.ID, s.Phantom.DappPublicKey, nonceOut, sealed), nil
}

// HandleSignCallback decrypts the signed transaction, broadcasts it and ends the session.
func (o *Orchestrator) HandleSignCallback(ctx context.Context, sessionID string, params phantom.CallbackParams) (SignResult, error) {
	s, err := o.deepLinkSession(sessionID, session.StateSigningRequested)
	if err != nil {
		return SignResult{}, err
	}
	defer s.Phantom.Wipe()
	ctx, cancel := context.WithDeadline(ctx, s.ExpiresAt)
	defer cancel()

	txHash, err := o.signAndBroadcast(ctx, s, params)
	o.finish(s, txHash, err)
	if err != nil {
		return SignResult{}, err
	}
	return SignResult{TransactionHash: txHash, ExplorerURL: o.explorerURL(s.Intent.Chain, txHash)}, nil
}

func (o *Orchestrator) signAndBroadcast(ctx context.Context, s session.Session, params phantom.CallbackParams) (string, error) {
	defer s.Phantom.Wipe()
	if err := params.Rejection("phantom signing declined"); err != nil {
		return "", err
	}
	nonce, err := phantom.Require(params.Nonce, "nonce")
	if err != nil {
		return "", err
	}
	data, err := phantom.Require(params.Data, "data")
	if err != nil {
		return "", err
	}
	if !s.Phantom.HasSharedSecret {
		return "", clierr.New(clierr.CodeInternal, "deep-link session has no shared secret")
	}

	var payload phantom.SignedPayload
	if err := phantom.Decrypt(data, nonce, &s.Phantom.SharedSecret, &payload); err != nil {
		return "", err
	}
	signed, err := base58.Decode(payload.Transaction)
	if err != nil || len(signed) == 0 {
		return "", clierr.New(clierr.CodeInvalidWalletResponse, "phantom returned a signed transaction that is not base58")
	}
	if o.broadcaster == nil {
		return "", clierr.New(clierr.CodeInternal, "solana broadcaster is not configured")
	}
	sig, err := o.broadcaster.Broadcast(ctx, signed, s.Phantom.LastValidBlockHeight)
	if err != nil {
		return "", typed(clierr.CodeBroadcastRejected, "broadcast signed transaction", err)
	}
	return sig, nil
}

// deepLinkSession loads a copy of a deep-link session that is waiting in state want. Sessions
// in any other state are reported as not found and left untouched. Callers wipe the copy.
func (o *Orchestrator) deepLinkSession(sessionID string, want session.State) (session.Session, error) {
	s, ok := o.store.Get(sessionID)
	if !ok || s.Intent.Chain.Flow != id.FlowDeepLink || s.State != want {
		s.Phantom.Wipe()
		return session.Session{}, clierr.New(clierr.CodeSessionNotFound, "swap session is not found or expired")
	}
	return s, nil
}
