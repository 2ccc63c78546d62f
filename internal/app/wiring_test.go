package app

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ggonzalez94/dexswap/internal/config"
	"github.com/ggonzalez94/dexswap/internal/connect"
	clierr "github.com/ggonzalez94/dexswap/internal/errors"
	"github.com/ggonzalez94/dexswap/internal/id"
	"github.com/ggonzalez94/dexswap/internal/logging"
	"github.com/ggonzalez94/dexswap/internal/metrics"
	"github.com/ggonzalez94/dexswap/internal/session"
)

func testSettings() config.Settings {
	return config.Settings{
		Timeout:           time.Second,
		SessionTTL:        time.Minute,
		SlippageBps:       75,
		SessionsPerMinute: 1,
		AppPublicURL:      "https://swap.example.com/",
		BaseURLs:          map[string]string{},
		Explorers:         map[string]string{},
	}
}

func aggregatorIDs(t *testing.T, settings config.Settings) []string {
	t.Helper()
	aggs := buildAggregators(settings, metrics.New())
	ids := make([]string, 0, len(aggs))
	for _, agg := range aggs {
		ids = append(ids, agg.ID())
	}
	return ids
}

func TestBuildAggregatorsRegistersOneInchOnlyWithKey(t *testing.T) {
	settings := testSettings()
	if got := strings.Join(aggregatorIDs(t, settings), ","); got != "0x,odos,paraswap,jupiter" {
		t.Fatalf("unexpected default aggregators: %s", got)
	}
	settings.OneInchAPIKey = "key"
	if got := strings.Join(aggregatorIDs(t, settings), ","); got != "0x,odos,paraswap,jupiter,1inch" {
		t.Fatalf("expected 1inch last when keyed, got %s", got)
	}
}

func TestNewOrchestratorOpensDeepLinkSession(t *testing.T) {
	settings := testSettings()
	aggs := buildAggregators(settings, nil)
	orch := NewOrchestrator(settings, aggs, nil, nil, logging.Discard())

	solana, err := id.ParseChain("solana")
	if err != nil {
		t.Fatalf("parse chain: %v", err)
	}
	intent := session.Intent{
		Chain:        solana,
		AggregatorID: "jupiter",
		SellToken:    id.WrappedSOLMint,
		BuyToken:     "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		SellAmount:   "1000000000",
		SellDecimals: 9,
		BuyDecimals:  6,
	}
	info, err := orch.OpenSession(context.Background(), connect.OpenRequest{UserID: "42", Intent: intent})
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	if !strings.HasPrefix(info.URI, "https://phantom.com/ul/v1/connect?") || !strings.Contains(info.URI, "dapp_encryption_public_key=") {
		t.Fatalf("expected phantom connect link, got %s", info.URI)
	}
	if !strings.Contains(info.URI, url.QueryEscape("https://swap.example.com/phantom/callback/connect?sessionId="+info.SessionID)) {
		t.Fatalf("expected callback for the session in %s", info.URI)
	}
	if time.Until(info.ExpiresAt) > time.Minute {
		t.Fatalf("expected configured session ttl, got expiry %s", info.ExpiresAt)
	}

	// One session per minute per user.
	if _, err := orch.OpenSession(context.Background(), connect.OpenRequest{UserID: "42", Intent: intent}); !clierr.Is(err, clierr.CodeRateLimited) {
		t.Fatalf("expected rate limit on second open, got %v", err)
	}
}

func TestNewOrchestratorWithoutRelayRefusesEVM(t *testing.T) {
	settings := testSettings()
	orch := NewOrchestrator(settings, buildAggregators(settings, nil), nil, nil, nil)
	base, err := id.ParseChain("base")
	if err != nil {
		t.Fatalf("parse chain: %v", err)
	}
	_, err = orch.OpenSession(context.Background(), connect.OpenRequest{UserID: "7", Intent: session.Intent{
		Chain:        base,
		AggregatorID: "0x",
		SellToken:    id.NativeEVMAddress,
		BuyToken:     "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		SellAmount:   "1000000000000000",
	}})
	if !clierr.Is(err, clierr.CodeUnsupported) {
		t.Fatalf("expected unsupported without a relay client, got %v", err)
	}
}
