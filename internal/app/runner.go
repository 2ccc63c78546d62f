package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ggonzalez94/dexswap/internal/cache"
	"github.com/ggonzalez94/dexswap/internal/config"
	clierr "github.com/ggonzalez94/dexswap/internal/errors"
	"github.com/ggonzalez94/dexswap/internal/id"
	"github.com/ggonzalez94/dexswap/internal/logging"
	"github.com/ggonzalez94/dexswap/internal/metrics"
	"github.com/ggonzalez94/dexswap/internal/model"
	"github.com/ggonzalez94/dexswap/internal/out"
	"github.com/ggonzalez94/dexswap/internal/providers"
	"github.com/ggonzalez94/dexswap/internal/quote"
	"github.com/ggonzalez94/dexswap/internal/version"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time

	// aggregators replaces the configured adapters when set.
	aggregators []providers.Aggregator
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner        *Runner
	flags         config.GlobalFlags
	settings      config.Settings
	cache         *cache.Store
	root          *cobra.Command
	logger        *slog.Logger
	metrics       *metrics.Recorder
	selector      *quote.Selector
	lastCommand   string
	lastWarnings  []string
	lastProviders []model.ProviderStatus
	lastPartial   bool
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	state.root = root
	state.resetCommandDiagnostics()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	if err == nil {
		state.dumpMetrics()
		if state.cache != nil {
			_ = state.cache.Close()
		}
		return 0
	}

	state.metrics.Error(clierr.TypeName(clierr.CodeOf(err)))
	state.renderError("", err, state.lastWarnings, state.lastProviders, state.lastPartial)
	state.dumpMetrics()
	if state.cache != nil {
		_ = state.cache.Close()
	}
	return clierr.ExitCode(err)
}

// dumpMetrics writes the run's metrics to --metrics-dump. A failed write is only logged.
func (s *runtimeState) dumpMetrics() {
	path := s.settings.MetricsDumpPath
	if path == "" || s.metrics == nil {
		return
	}
	var buf bytes.Buffer
	err := s.metrics.WriteText(&buf)
	if err == nil {
		err = os.WriteFile(path, buf.Bytes(), 0o644)
	}
	if err != nil && s.logger != nil {
		s.logger.Warn("metrics dump failed", "path", path, "error", err.Error())
	}
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Best-price DEX aggregator quotes across EVM chains and Solana",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path

			if s.selector == nil {
				s.logger = logging.New(s.runner.stderr, settings.LogLevel)
				if settings.MetricsEnabled {
					s.metrics = metrics.New()
				}
				aggs := s.runner.aggregators
				if aggs == nil {
					aggs = buildAggregators(settings, s.metrics)
				}
				s.selector = quote.NewSelector(aggs, s.metrics, s.logger)
			}

			if settings.CacheEnabled && shouldOpenCache(path) && s.cache == nil {
				cacheStore, err := cache.Open(settings.CachePath, settings.CacheLockPath)
				if err != nil {
					return clierr.Wrap(clierr.CodeInternal, "open cache", err)
				}
				s.cache = cacheStore
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	config.BindFlags(cmd.PersistentFlags(), &s.flags)

	cmd.AddCommand(s.newQuoteCommand())
	cmd.AddCommand(s.newProvidersCommand())
	cmd.AddCommand(s.newChainsCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newQuoteCommand() *cobra.Command {
	var chainArg, fromAssetArg, toAssetArg string
	var amountBase, amountDecimal string
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Best swap quote across every aggregator serving the chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := id.ParseChain(chainArg)
			if err != nil {
				return err
			}
			fromAsset, err := id.ParseAsset(fromAssetArg, chain)
			if err != nil {
				return err
			}
			toAsset, err := id.ParseAsset(toAssetArg, chain)
			if err != nil {
				return err
			}
			fromDecimals := decimalsOrDefault(fromAsset)
			toDecimals := decimalsOrDefault(toAsset)
			base, decimal, err := id.NormalizeAmount(amountBase, amountDecimal, fromDecimals)
			if err != nil {
				return err
			}
			req := providers.QuoteRequest{
				Chain:        chain,
				SellToken:    fromAsset.Address,
				BuyToken:     toAsset.Address,
				SellAmount:   base,
				SellDecimals: fromDecimals,
				BuyDecimals:  toDecimals,
			}
			commandPath := trimRootPath(cmd.CommandPath())
			return s.runCachedCommand(commandPath, priceCacheKey(req), s.settings.PriceCacheTTL, s.quoteFetch(req, fromAsset, toAsset, decimal))
		},
	}
	cmd.Flags().StringVar(&chainArg, "chain", "", "Chain identifier")
	cmd.Flags().StringVar(&fromAssetArg, "from-asset", "", "Input asset (symbol, address or CAIP-19)")
	cmd.Flags().StringVar(&toAssetArg, "to-asset", "", "Output asset (symbol, address or CAIP-19)")
	cmd.Flags().StringVar(&amountBase, "amount", "", "Amount in base units")
	cmd.Flags().StringVar(&amountDecimal, "amount-decimal", "", "Amount in decimal units")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("from-asset")
	_ = cmd.MarkFlagRequired("to-asset")
	return cmd
}

func (s *runtimeState) newProvidersCommand() *cobra.Command {
	root := &cobra.Command{Use: "providers", Short: "Aggregator commands"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List configured aggregators and API key metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			aggs := s.selector.Aggregators()
			infos := make([]model.ProviderInfo, 0, len(aggs))
			for _, agg := range aggs {
				infos = append(infos, agg.Info())
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), infos, nil, cacheMetaBypass(), nil, false)
		},
	}
	health := &cobra.Command{
		Use:   "health",
		Short: "Probe every configured aggregator",
		RunE: func(cmd *cobra.Command, args []string) error {
			s.resetCommandDiagnostics()
			aggs := s.selector.Aggregators()
			results := make([]model.ProviderHealth, len(aggs))
			statuses := make([]model.ProviderStatus, len(aggs))

			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			var g errgroup.Group
			for i, agg := range aggs {
				g.Go(func() error {
					start := s.runner.now()
					err := agg.HealthCheck(ctx)
					latency := s.runner.now().Sub(start).Milliseconds()
					results[i] = model.ProviderHealth{Name: agg.ID(), Healthy: err == nil, LatencyMS: latency}
					statuses[i] = model.ProviderStatus{Name: agg.ID(), Status: statusFromErr(err), LatencyMS: latency}
					if err != nil {
						results[i].Error = clierr.UserMessage(err)
					}
					return nil
				})
			}
			_ = g.Wait()

			warnings, partial := statusWarnings(statuses)
			s.captureCommandDiagnostics(warnings, statuses, partial)
			if partial && s.settings.Strict {
				return clierr.New(clierr.CodePartialStrict, "unhealthy aggregators in strict mode")
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), results, warnings, cacheMetaBypass(), statuses, partial)
		},
	}
	root.AddCommand(list)
	root.AddCommand(health)
	return root
}

func (s *runtimeState) newChainsCommand() *cobra.Command {
	root := &cobra.Command{Use: "chains", Short: "Chain commands"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List supported chains with their wallet flow and aggregators",
		RunE: func(cmd *cobra.Command, args []string) error {
			chains := id.Chains()
			data := make([]model.ChainInfo, 0, len(chains))
			for _, chain := range chains {
				names := []string{}
				for _, agg := range providers.Supports(s.selector.Aggregators(), chain) {
					names = append(names, agg.ID())
				}
				data = append(data, model.ChainInfo{
					Slug:        chain.Slug,
					Name:        chain.Name,
					ChainID:     chain.CAIP2,
					Flow:        string(chain.Flow),
					Aggregators: names,
				})
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), nil, false)
		},
	}
	root.AddCommand(list)
	return root
}

type fetchFn func(ctx context.Context) (data any, providerStatus []model.ProviderStatus, warnings []string, partial bool, err error)

func priceCacheKey(req providers.QuoteRequest) string {
	return cache.PriceKey(req.Chain.CAIP2, req.SellToken, req.BuyToken, req.SellAmount)
}

// quoteFetch polls every aggregator serving req.Chain and shapes the best price for output.
func (s *runtimeState) quoteFetch(req providers.QuoteRequest, fromAsset, toAsset id.Asset, amountDecimal string) fetchFn {
	return func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
		sel, statuses, err := s.selector.SelectWithStatus(ctx, req)
		warnings, partial := statusWarnings(statuses)
		if err != nil {
			return nil, statuses, warnings, partial, err
		}
		data := model.PriceQuote{
			ChainID:     req.Chain.CAIP2,
			FromAssetID: fromAsset.AssetID,
			ToAssetID:   toAsset.AssetID,
			InputAmount: model.AmountInfo{
				AmountBaseUnits: req.SellAmount,
				AmountDecimal:   amountDecimal,
				Decimals:        req.SellDecimals,
			},
			BestAggregator:  sel.Best.AggregatorID,
			EstimatedOut:    amountInfo(sel.Best.BuyAmount, req.BuyDecimals),
			EstimatedGasUSD: sel.Best.EstimatedGasUSD,
			Alternatives:    alternatives(sel, req.BuyDecimals),
			PollCount:       sel.PollCount,
			FetchedAt:       s.runner.now().UTC().Format(time.RFC3339),
		}
		return data, statuses, warnings, partial, nil
	}
}

func (s *runtimeState) runCachedCommand(commandPath, key string, ttl time.Duration, fetch fetchFn) error {
	s.resetCommandDiagnostics()
	cacheStatus := cacheMetaMiss()
	warnings := []string{}
	var staleData any
	staleAvailable := false
	staleObservedAge := time.Duration(0)
	staleObservedAt := time.Time{}
	staleCacheStatus := cacheMetaMiss()

	if s.settings.CacheEnabled && s.cache != nil {
		cached, err := s.cache.Get(key, s.settings.MaxStale)
		if err == nil && cached.Hit {
			entryStatus := model.CacheStatus{Status: "hit", AgeMS: cached.Age.Milliseconds(), Stale: cached.Stale}
			if !cached.Stale {
				var data any
				if err := json.Unmarshal(cached.Value, &data); err == nil {
					s.captureCommandDiagnostics(warnings, nil, false)
					return s.emitSuccess(commandPath, data, warnings, entryStatus, nil, false)
				}
			} else {
				var data any
				if err := json.Unmarshal(cached.Value, &data); err == nil {
					staleData = data
					staleAvailable = true
					staleObservedAge = cached.Age
					staleObservedAt = time.Now()
					staleCacheStatus = entryStatus
				}
			}
		}
	}

	// Aggregator calls carry their own timeout and expire before the fan-out does.
	ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout+time.Second)
	defer cancel()
	data, providerStatus, providerWarnings, partial, err := fetch(ctx)
	warnings = append(warnings, providerWarnings...)
	s.captureCommandDiagnostics(warnings, providerStatus, partial)
	if err != nil {
		if staleAvailable {
			if !staleFallbackAllowed(err) {
				return err
			}
			currentStaleAge := staleObservedAge
			if !staleObservedAt.IsZero() {
				currentStaleAge += time.Since(staleObservedAt)
			}
			staleCacheStatus.AgeMS = currentStaleAge.Milliseconds()
			if s.settings.NoStale {
				return clierr.Wrap(clierr.CodeStale, "fresh aggregator fetch failed and stale fallback is disabled (--no-stale)", err)
			}
			if staleExceedsBudget(currentStaleAge, ttl, s.settings.MaxStale) {
				return clierr.Wrap(clierr.CodeStale, "fresh aggregator fetch failed and cached data exceeded stale budget", err)
			}
			warnings = append(warnings, "aggregator fetch failed; serving stale data within max-stale budget")
			s.captureCommandDiagnostics(warnings, providerStatus, false)
			return s.emitSuccess(commandPath, staleData, warnings, staleCacheStatus, providerStatus, false)
		}
		return err
	}

	if partial && s.settings.Strict {
		s.captureCommandDiagnostics(warnings, providerStatus, true)
		return clierr.New(clierr.CodePartialStrict, "partial results returned in strict mode")
	}

	if s.settings.CacheEnabled && s.cache != nil {
		if payload, err := json.Marshal(data); err == nil {
			if err := s.cache.Set(key, payload, ttl); err != nil {
				s.logger.Warn("cache write failed", "command", commandPath, "error", err.Error())
			} else {
				cacheStatus = model.CacheStatus{Status: "write", AgeMS: 0, Stale: false}
			}
		}
	}

	s.captureCommandDiagnostics(warnings, providerStatus, partial)
	return s.emitSuccess(commandPath, data, warnings, cacheStatus, providerStatus, partial)
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string, cacheStatus model.CacheStatus, providers []model.ProviderStatus, partial bool) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Providers: providers,
			Cache:     cacheStatus,
			Partial:   partial,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(commandPath string, err error, warnings []string, providers []model.ProviderStatus, partial bool) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.CodeOf(err)
	message := "internal error"
	if cErr, ok := clierr.As(err); ok && cErr.Code != clierr.CodeInternal {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    int(code),
			Type:    clierr.TypeName(code),
			Message: message,
		},
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Providers: providers,
			Cache:     cacheMetaBypass(),
			Partial:   partial,
		},
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func decimalsOrDefault(asset id.Asset) int {
	if asset.Decimals <= 0 {
		return 18
	}
	return asset.Decimals
}

func amountInfo(baseUnits string, decimals int) model.AmountInfo {
	return model.AmountInfo{
		AmountBaseUnits: baseUnits,
		AmountDecimal:   id.FormatDecimalCompat(baseUnits, decimals),
		Decimals:        decimals,
	}
}

// alternatives lists every non-winning quote in aggregator order.
func alternatives(sel model.QuoteSelection, decimals int) []model.PriceRoute {
	routes := []model.PriceRoute{}
	for _, q := range sel.Quotes {
		if q.AggregatorID == sel.Best.AggregatorID {
			continue
		}
		routes = append(routes, model.PriceRoute{Aggregator: q.AggregatorID, EstimatedOut: amountInfo(q.BuyAmount, decimals)})
	}
	return routes
}

// statusWarnings reports one warning per aggregator that did not answer.
func statusWarnings(statuses []model.ProviderStatus) ([]string, bool) {
	var warnings []string
	for _, st := range statuses {
		if st.Status == "ok" {
			continue
		}
		warnings = append(warnings, fmt.Sprintf("aggregator %s: %s", st.Name, st.Status))
	}
	return warnings, len(warnings) > 0
}

func newRequestID() string {
	return uuid.NewString()
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func statusFromErr(err error) string {
	if err == nil {
		return "ok"
	}
	switch clierr.CodeOf(err) {
	case clierr.CodeUpstreamTimeout:
		return "timeout"
	case clierr.CodeRateLimited:
		return "rate_limited"
	default:
		return "error"
	}
}

func cacheMetaBypass() model.CacheStatus {
	return model.CacheStatus{Status: "bypass", AgeMS: 0, Stale: false}
}

func cacheMetaMiss() model.CacheStatus {
	return model.CacheStatus{Status: "miss", AgeMS: 0, Stale: false}
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func staleExceedsBudget(age, ttl, maxStale time.Duration) bool {
	if age <= ttl {
		return false
	}
	if maxStale < 0 {
		return false
	}
	return age > ttl+maxStale
}

func staleFallbackAllowed(err error) bool {
	switch clierr.CodeOf(err) {
	case clierr.CodeUpstream, clierr.CodeUpstreamTimeout, clierr.CodeAllAggregatorsFailed, clierr.CodeRateLimited:
		return true
	default:
		return false
	}
}

func shouldOpenCache(commandPath string) bool {
	switch normalizeCommandPath(commandPath) {
	case "quote":
		return true
	default:
		return false
	}
}

func normalizeCommandPath(commandPath string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(commandPath))), " ")
}

func (s *runtimeState) resetCommandDiagnostics() {
	s.lastWarnings = nil
	s.lastProviders = nil
	s.lastPartial = false
}

func (s *runtimeState) captureCommandDiagnostics(warnings []string, providers []model.ProviderStatus, partial bool) {
	if len(warnings) == 0 {
		s.lastWarnings = nil
	} else {
		s.lastWarnings = append([]string(nil), warnings...)
	}
	if len(providers) == 0 {
		s.lastProviders = nil
	} else {
		s.lastProviders = append([]model.ProviderStatus(nil), providers...)
	}
	s.lastPartial = partial
}
