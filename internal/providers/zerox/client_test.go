package zerox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/dexswap/internal/errors"
	"github.com/ggonzalez94/dexswap/internal/httpx"
	"github.com/ggonzalez94/dexswap/internal/id"
	"github.com/ggonzalez94/dexswap/internal/providers"
)

func quoteRequest(t *testing.T, chainName string) providers.QuoteRequest {
	t.Helper()
	chain, err := id.ParseChain(chainName)
	if err != nil {
		t.Fatalf("parse chain: %v", err)
	}
	return providers.QuoteRequest{
		Chain:        chain,
		SellToken:    "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		BuyToken:     "0xdac17f958d2ee523a2206206994597c13d831ec7",
		SellAmount:   "10000000",
		SellDecimals: 6,
		BuyDecimals:  6,
	}
}

func TestGetQuoteParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != quotePath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("0x-version"); got != "v2" {
			t.Errorf("expected 0x-version v2, got %q", got)
		}
		if got := r.Header.Get("0x-api-key"); got != "test-key" {
			t.Errorf("expected api key header, got %q", got)
		}
		q := r.URL.Query()
		if q.Get("chainId") != "8453" || q.Get("taker") != defaultTaker || q.Get("sellAmount") != "10000000" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"buyAmount":"9950000","liquidityAvailable":true,"totalNetworkFee":"1200000000000"}`))
	}))
	defer srv.Close()

	c := New(httpx.New(2*time.Second), "test-key")
	c.baseURL = srv.URL
	got, err := c.GetQuote(context.Background(), quoteRequest(t, "base"))
	if err != nil {
		t.Fatalf("GetQuote failed: %v", err)
	}
	if got.AggregatorID != "0x" || got.BuyAmount != "9950000" {
		t.Fatalf("unexpected quote: %+v", got)
	}
	if got.EstimatedGasUSD != nil {
		t.Fatalf("0x quotes carry no USD gas estimate, got %v", *got.EstimatedGasUSD)
	}
	if len(got.Raw) == 0 {
		t.Fatal("expected raw payload to be kept")
	}
}

func TestGetQuoteRejectsMissingLiquidity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"buyAmount":"0","liquidityAvailable":false,"totalNetworkFee":null}`))
	}))
	defer srv.Close()

	c := New(httpx.New(2*time.Second), "")
	c.baseURL = srv.URL
	_, err := c.GetQuote(context.Background(), quoteRequest(t, "ethereum"))
	if !clierr.Is(err, clierr.CodeUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestBuildSwapTransactionUsesWalletAndSlippage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("taker") != "0x1111111111111111111111111111111111111111" {
			t.Errorf("expected wallet as taker, got %q", q.Get("taker"))
		}
		if q.Get("slippageBps") != "1" {
			t.Errorf("expected slippage floor of 1 bps, got %q", q.Get("slippageBps"))
		}
		_, _ = w.Write([]byte(`{
			"buyAmount":"9950000",
			"liquidityAvailable":true,
			"totalNetworkFee":null,
			"transaction":{"to":"0x0000000000001ff3684f28c67538d4d072c22734","data":"0x2213bc0b","value":"0"}
		}`))
	}))
	defer srv.Close()

	c := New(httpx.New(2*time.Second), "")
	c.baseURL = srv.URL
	tx, err := c.BuildSwapTransaction(context.Background(), providers.SwapRequest{
		QuoteRequest:  quoteRequest(t, "arbitrum"),
		WalletAddress: "0x1111111111111111111111111111111111111111",
		SlippageBps:   0,
	})
	if err != nil {
		t.Fatalf("BuildSwapTransaction failed: %v", err)
	}
	if tx.Kind != providers.TransactionKindEVM || tx.EVM.Data != "0x2213bc0b" || tx.EVM.Value != "0" {
		t.Fatalf("unexpected transaction: %+v", tx.EVM)
	}
}

func TestBuildSwapTransactionRequiresTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"buyAmount":"1","liquidityAvailable":true,"totalNetworkFee":null}`))
	}))
	defer srv.Close()

	c := New(httpx.New(2*time.Second), "")
	c.baseURL = srv.URL
	_, err := c.BuildSwapTransaction(context.Background(), providers.SwapRequest{
		QuoteRequest:  quoteRequest(t, "ethereum"),
		WalletAddress: "0x1111111111111111111111111111111111111111",
		SlippageBps:   50,
	})
	if !clierr.Is(err, clierr.CodeUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestSupportsChain(t *testing.T) {
	c := New(httpx.New(time.Second), "")
	for _, name := range []string{"ethereum", "arbitrum", "base", "optimism"} {
		chain, _ := id.ParseChain(name)
		if !c.SupportsChain(chain) {
			t.Fatalf("expected 0x to support %s", name)
		}
	}
	for _, name := range []string{"solana", "polygon"} {
		chain, _ := id.ParseChain(name)
		if c.SupportsChain(chain) {
			t.Fatalf("did not expect 0x to support %s", name)
		}
	}
}
