package app

import (
	"log/slog"

	"github.com/ggonzalez94/dexswap/internal/broadcast"
	"github.com/ggonzalez94/dexswap/internal/config"
	"github.com/ggonzalez94/dexswap/internal/connect"
	"github.com/ggonzalez94/dexswap/internal/httpx"
	"github.com/ggonzalez94/dexswap/internal/metrics"
	"github.com/ggonzalez94/dexswap/internal/notify"
	"github.com/ggonzalez94/dexswap/internal/phantom"
	"github.com/ggonzalez94/dexswap/internal/providers"
	"github.com/ggonzalez94/dexswap/internal/providers/jupiter"
	"github.com/ggonzalez94/dexswap/internal/providers/odos"
	"github.com/ggonzalez94/dexswap/internal/providers/oneinch"
	"github.com/ggonzalez94/dexswap/internal/providers/paraswap"
	"github.com/ggonzalez94/dexswap/internal/providers/zerox"
	"github.com/ggonzalez94/dexswap/internal/ratelimit"
	"github.com/ggonzalez94/dexswap/internal/registry"
	"github.com/ggonzalez94/dexswap/internal/relay"
	"github.com/ggonzalez94/dexswap/internal/session"
)

// buildAggregators returns the configured adapters in priority order, each bounded by the
// request timeout. 1inch is registered only with an API key.
func buildAggregators(settings config.Settings, rec *metrics.Recorder) []providers.Aggregator {
	httpClient := httpx.New(settings.Timeout)
	aggs := []providers.Aggregator{
		zerox.New(httpClient, settings.ZeroXAPIKey).WithBaseURL(registry.ResolveBaseURL("0x", settings.BaseURLs["0x"])),
		odos.New(httpClient, settings.OdosAPIKey).WithBaseURL(registry.ResolveBaseURL("odos", settings.BaseURLs["odos"])),
		paraswap.New(httpClient).WithBaseURL(registry.ResolveBaseURL("paraswap", settings.BaseURLs["paraswap"])),
		// The Jupiter default depends on the key, so only an explicit override is applied.
		jupiter.New(httpClient, settings.JupiterAPIKey).WithBaseURL(settings.BaseURLs["jupiter"]),
	}
	if settings.OneInchAPIKey != "" {
		aggs = append(aggs, oneinch.New(httpClient, settings.OneInchAPIKey).WithBaseURL(registry.ResolveBaseURL("1inch", settings.BaseURLs["1inch"])))
	}
	return providers.InstrumentAll(aggs, settings.Timeout, rec)
}

// NewOrchestrator assembles a wallet session orchestrator from settings. relayClient may be nil,
// in which case relay-flow chains are refused at open time.
func NewOrchestrator(settings config.Settings, aggs []providers.Aggregator, relayClient relay.Client, rec *metrics.Recorder, logger *slog.Logger) *connect.Orchestrator {
	var notifier notify.Notifier = notify.Log{Logger: logger}
	if settings.TelegramBotToken != "" {
		notifier = notify.NewTelegram(httpx.New(settings.Timeout), settings.TelegramBotToken, logger)
	}
	return connect.New(connect.Options{
		Store:       session.NewStore(),
		Aggregators: aggs,
		Relay:       relayClient,
		Broadcaster: broadcast.NewSolana(settings.SolanaRPCURL),
		Notifier:    notifier,
		Metrics:     rec,
		Limiter:     ratelimit.PerMinute(settings.SessionsPerMinute),
		Logger:      logger,
		Links:       phantom.NewLinks(settings.AppPublicURL),
		TTL:         settings.SessionTTL,
		SlippageBps: settings.SlippageBps,
		Explorers:   settings.Explorers,
	})
}
