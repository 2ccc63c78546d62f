package quote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"

	clierr "github.com/ggonzalez94/dexswap/internal/errors"
	"github.com/ggonzalez94/dexswap/internal/id"
	"github.com/ggonzalez94/dexswap/internal/logging"
	"github.com/ggonzalez94/dexswap/internal/metrics"
	"github.com/ggonzalez94/dexswap/internal/model"
	"github.com/ggonzalez94/dexswap/internal/providers"
)

// Selector fans a quote request out to every aggregator serving the chain and keeps the
// best price.
type Selector struct {
	aggregators []providers.Aggregator
	metrics     *metrics.Recorder
	logger      *slog.Logger
	now         func() time.Time
}

func NewSelector(aggs []providers.Aggregator, rec *metrics.Recorder, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Selector{aggregators: aggs, metrics: rec, logger: logger, now: time.Now}
}

// Aggregators returns the configured aggregators in priority order.
func (s *Selector) Aggregators() []providers.Aggregator {
	return s.aggregators
}

type outcome struct {
	quote   model.Quote
	amount  *big.Int
	err     error
	latency time.Duration
}

// SelectBest quotes every supporting aggregator concurrently. A failing backend never cancels
// the others; the selection fails only when none supports the chain or none succeeds.
func (s *Selector) SelectBest(ctx context.Context, req providers.QuoteRequest) (model.QuoteSelection, error) {
	sel, _, err := s.SelectWithStatus(ctx, req)
	return sel, err
}

// SelectWithStatus is SelectBest plus a per-backend status line for diagnostics.
func (s *Selector) SelectWithStatus(ctx context.Context, req providers.QuoteRequest) (model.QuoteSelection, []model.ProviderStatus, error) {
	supported := providers.Supports(s.aggregators, req.Chain)
	if len(supported) == 0 {
		s.metrics.PriceRequest("unsupported")
		return model.QuoteSelection{}, nil, clierr.New(clierr.CodeNoAggregators, fmt.Sprintf("no aggregators support chain %s", req.Chain.Slug))
	}

	results := make([]outcome, len(supported))
	var g errgroup.Group
	for i, agg := range supported {
		g.Go(func() error {
			started := s.now()
			q, err := agg.GetQuote(ctx, req)
			results[i] = outcome{quote: q, err: err, latency: s.now().Sub(started)}
			if err != nil {
				return nil
			}
			amount, ok := id.ParseBaseUnits(q.BuyAmount)
			if !ok {
				results[i].err = clierr.New(clierr.CodeUpstream, fmt.Sprintf("%s returned non-integer buy amount %q", agg.ID(), q.BuyAmount))
				return nil
			}
			results[i].amount = amount
			return nil
		})
	}
	_ = g.Wait()

	statuses := make([]model.ProviderStatus, 0, len(supported))
	quotes := make([]model.Quote, 0, len(supported))
	var (
		best     model.Quote
		bestAmt  *big.Int
		failures []error
	)
	for i, res := range results {
		name := supported[i].ID()
		statuses = append(statuses, model.ProviderStatus{
			Name:      name,
			Status:    statusOf(res.err),
			LatencyMS: res.latency.Milliseconds(),
		})
		if res.err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", name, res.err))
			s.logger.Warn("aggregator quote failed", "provider", name, "chain", req.Chain.Slug, "error", res.err.Error())
			continue
		}
		quotes = append(quotes, res.quote)
		// Strictly greater keeps the earliest quote on ties.
		if bestAmt == nil || res.amount.Cmp(bestAmt) > 0 {
			best, bestAmt = res.quote, res.amount
		}
	}

	if len(quotes) == 0 {
		s.metrics.PriceRequest("error")
		return model.QuoteSelection{}, statuses, clierr.Wrap(clierr.CodeAllAggregatorsFailed,
			fmt.Sprintf("all %d aggregators failed for chain %s", len(supported), req.Chain.Slug), errors.Join(failures...))
	}

	s.metrics.PriceRequest("success")
	return model.QuoteSelection{
		Best:      best,
		Quotes:    quotes,
		PollCount: len(supported),
	}, statuses, nil
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case clierr.Is(err, clierr.CodeUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case clierr.Is(err, clierr.CodeRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}
