package providers

import (
	"context"

	"github.com/ggonzalez94/dexswap/internal/id"
	"github.com/ggonzalez94/dexswap/internal/model"
)

// Aggregator is one external swap quoting backend.
type Aggregator interface {
	ID() string
	Info() model.ProviderInfo
	SupportsChain(chain id.Chain) bool
	GetQuote(ctx context.Context, req QuoteRequest) (model.Quote, error)
	BuildSwapTransaction(ctx context.Context, req SwapRequest) (SwapTransaction, error)
	HealthCheck(ctx context.Context) error
}

type QuoteRequest struct {
	Chain        id.Chain
	SellToken    string
	BuyToken     string
	SellAmount   string
	SellDecimals int
	BuyDecimals  int
}

type SwapRequest struct {
	QuoteRequest
	WalletAddress string
	SlippageBps   int64
}

type TransactionKind string

const (
	TransactionKindEVM    TransactionKind = "evm"
	TransactionKindSolana TransactionKind = "solana"
)

// SwapTransaction is an unsigned swap ready for a wallet. Exactly one of EVM or Solana is set,
// matching Kind.
type SwapTransaction struct {
	Kind   TransactionKind
	EVM    *EVMCall
	Solana *SolanaTransaction
}

type EVMCall struct {
	To    string
	Data  string
	Value string
}

type SolanaTransaction struct {
	// SerializedTransaction is base64 wire bytes.
	SerializedTransaction string
	LastValidBlockHeight  uint64
}

// Supports filters aggs down to the ones that serve chain, preserving order.
func Supports(aggs []Aggregator, chain id.Chain) []Aggregator {
	out := make([]Aggregator, 0, len(aggs))
	for _, agg := range aggs {
		if agg.SupportsChain(chain) {
			out = append(out, agg)
		}
	}
	return out
}

// Find returns the aggregator registered under name.
func Find(aggs []Aggregator, name string) (Aggregator, bool) {
	for _, agg := range aggs {
		if agg.ID() == name {
			return agg, true
		}
	}
	return nil, false
}
