package jupiter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/dexswap/internal/errors"
	"github.com/ggonzalez94/dexswap/internal/httpx"
	"github.com/ggonzalez94/dexswap/internal/id"
	"github.com/ggonzalez94/dexswap/internal/providers"
	"github.com/ggonzalez94/dexswap/internal/registry"
)

const walletKey = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

func solanaRequest(t *testing.T) providers.QuoteRequest {
	t.Helper()
	chain, err := id.ParseChain("solana")
	if err != nil {
		t.Fatalf("parse chain: %v", err)
	}
	return providers.QuoteRequest{
		Chain:        chain,
		SellToken:    "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		BuyToken:     "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
		SellAmount:   "2000000",
		SellDecimals: 6,
		BuyDecimals:  6,
	}
}

func TestNewPicksBaseByKey(t *testing.T) {
	if c := New(httpx.New(time.Second), ""); c.baseURL != registry.JupiterLiteBaseURL {
		t.Fatalf("expected lite base without key, got %s", c.baseURL)
	}
	if c := New(httpx.New(time.Second), "k"); c.baseURL != registry.JupiterProBaseURL {
		t.Fatalf("expected pro base with key, got %s", c.baseURL)
	}
}

func TestGetQuoteRejectsNonSolanaChains(t *testing.T) {
	chain, _ := id.ParseChain("ethereum")
	c := New(httpx.New(2*time.Second), "")
	_, err := c.GetQuote(context.Background(), providers.QuoteRequest{Chain: chain})
	if !clierr.Is(err, clierr.CodeUnsupported) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func TestGetQuoteRejectsNonMainnetSolanaChain(t *testing.T) {
	chain := id.Chain{
		Name:  "Solana Devnet",
		Slug:  "solana-devnet",
		CAIP2: "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1",
	}
	c := New(httpx.New(2*time.Second), "")
	if c.SupportsChain(chain) {
		t.Fatal("did not expect devnet support")
	}
	if _, err := c.GetQuote(context.Background(), providers.QuoteRequest{Chain: chain}); err == nil {
		t.Fatal("expected non-mainnet solana chain error")
	}
}

func TestGetQuoteParsesJupiterResponse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("expected x-api-key header, got %q", got)
		}
		q := r.URL.Query()
		if q.Get("slippageBps") != "50" || q.Get("restrictIntermediateTokens") != "true" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"outAmount":"1995000","priceImpactPct":"0.13","routePlan":[]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(httpx.New(2*time.Second), "test-key")
	c.baseURL = srv.URL
	got, err := c.GetQuote(context.Background(), solanaRequest(t))
	if err != nil {
		t.Fatalf("GetQuote failed: %v", err)
	}
	if got.AggregatorID != "jupiter" || got.BuyAmount != "1995000" {
		t.Fatalf("unexpected quote: %+v", got)
	}
}

func TestBuildSwapTransactionReturnsSerializedTransaction(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("slippageBps") != "100" {
			t.Errorf("expected session slippage, got %s", r.URL.Query().Get("slippageBps"))
		}
		_, _ = w.Write([]byte(`{"outAmount":"1995000","inputMint":"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"}`))
	})
	mux.HandleFunc("/swap", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			QuoteResponse           map[string]any `json:"quoteResponse"`
			UserPublicKey           string         `json:"userPublicKey"`
			WrapAndUnwrapSol        bool           `json:"wrapAndUnwrapSol"`
			DynamicComputeUnitLimit bool           `json:"dynamicComputeUnitLimit"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.UserPublicKey != walletKey || !body.WrapAndUnwrapSol || !body.DynamicComputeUnitLimit {
			t.Errorf("unexpected swap payload: %+v", body)
		}
		if body.QuoteResponse["outAmount"] != "1995000" {
			t.Errorf("expected quote response to be forwarded, got %v", body.QuoteResponse)
		}
		_, _ = w.Write([]byte(`{"swapTransaction":"AQIDBA==","lastValidBlockHeight":279632475}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(httpx.New(2*time.Second), "")
	c.baseURL = srv.URL
	tx, err := c.BuildSwapTransaction(context.Background(), providers.SwapRequest{
		QuoteRequest:  solanaRequest(t),
		WalletAddress: walletKey,
		SlippageBps:   100,
	})
	if err != nil {
		t.Fatalf("BuildSwapTransaction failed: %v", err)
	}
	if tx.Kind != providers.TransactionKindSolana || tx.Solana == nil {
		t.Fatalf("expected solana transaction, got %+v", tx)
	}
	if tx.Solana.SerializedTransaction != "AQIDBA==" || tx.Solana.LastValidBlockHeight != 279632475 {
		t.Fatalf("unexpected solana transaction: %+v", tx.Solana)
	}
}

func TestBuildSwapTransactionRejectsMissingHeight(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"outAmount":"1"}`))
	})
	mux.HandleFunc("/swap", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"swapTransaction":"AQIDBA=="}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(httpx.New(2*time.Second), "")
	c.baseURL = srv.URL
	_, err := c.BuildSwapTransaction(context.Background(), providers.SwapRequest{
		QuoteRequest:  solanaRequest(t),
		WalletAddress: walletKey,
	})
	if !clierr.Is(err, clierr.CodeUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}
