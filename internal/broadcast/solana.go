package broadcast

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	clierr "github.com/ggonzalez94/dexswap/internal/errors"
	"github.com/ggonzalez94/dexswap/internal/registry"
)

type solanaRPC interface {
	GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	SendRawTransactionWithOpts(ctx context.Context, tx []byte, opts rpc.TransactionOpts) (solana.Signature, error)
}

// Solana submits wallet-signed transactions to a Solana RPC node.
type Solana struct {
	rpc solanaRPC
}

func NewSolana(endpoint string) *Solana {
	return &Solana{rpc: rpc.New(registry.ResolveSolanaRPCURL(endpoint))}
}

// Broadcast sends signed and returns its signature. It refuses once the chain has moved past
// lastValidBlockHeight.
func (s *Solana) Broadcast(ctx context.Context, signed []byte, lastValidBlockHeight uint64) (string, error) {
	if len(signed) == 0 {
		return "", clierr.New(clierr.CodeInvalidWalletResponse, "signed transaction is empty")
	}
	height, err := s.rpc.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUpstream, "fetch solana block height", err)
	}
	if height > lastValidBlockHeight {
		return "", clierr.New(clierr.CodeBroadcastRejected,
			fmt.Sprintf("transaction expired at block height %d, chain is at %d", lastValidBlockHeight, height))
	}
	sig, err := s.rpc.SendRawTransactionWithOpts(ctx, signed, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", clierr.Wrap(clierr.CodeBroadcastRejected, "solana node rejected transaction", err)
	}
	return sig.String(), nil
}
