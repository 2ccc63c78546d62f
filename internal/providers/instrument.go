package providers

import (
	"context"
	"net/http"
	"time"

	"github.com/ggonzalez94/dexswap/internal/httpx"
	"github.com/ggonzalez94/dexswap/internal/id"
	"github.com/ggonzalez94/dexswap/internal/metrics"
	"github.com/ggonzalez94/dexswap/internal/model"
)

const DefaultCallTimeout = 10 * time.Second

type instrumented struct {
	next    Aggregator
	timeout time.Duration
	metrics *metrics.Recorder
	now     func() time.Time
}

// Instrument bounds every call to next by timeout and records one request observation per
// call. rec may be nil.
func Instrument(next Aggregator, timeout time.Duration, rec *metrics.Recorder) Aggregator {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &instrumented{next: next, timeout: timeout, metrics: rec, now: time.Now}
}

// InstrumentAll wraps every aggregator in aggs.
func InstrumentAll(aggs []Aggregator, timeout time.Duration, rec *metrics.Recorder) []Aggregator {
	out := make([]Aggregator, 0, len(aggs))
	for _, agg := range aggs {
		out = append(out, Instrument(agg, timeout, rec))
	}
	return out
}

func (a *instrumented) ID() string                        { return a.next.ID() }
func (a *instrumented) Info() model.ProviderInfo          { return a.next.Info() }
func (a *instrumented) SupportsChain(chain id.Chain) bool { return a.next.SupportsChain(chain) }

func (a *instrumented) GetQuote(ctx context.Context, req QuoteRequest) (model.Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	started := a.now()
	quote, err := a.next.GetQuote(ctx, req)
	a.observe("quote", started, err)
	return quote, err
}

func (a *instrumented) BuildSwapTransaction(ctx context.Context, req SwapRequest) (SwapTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	started := a.now()
	tx, err := a.next.BuildSwapTransaction(ctx, req)
	a.observe("build", started, err)
	return tx, err
}

func (a *instrumented) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	started := a.now()
	err := a.next.HealthCheck(ctx)
	a.observe("health", started, err)
	return err
}

func (a *instrumented) observe(method string, started time.Time, err error) {
	status := http.StatusOK
	if err != nil {
		status = httpx.StatusCode(err)
	}
	a.metrics.ObserveRequest(metrics.RequestObservation{
		Provider:   a.next.ID(),
		Method:     method,
		StatusCode: status,
		Duration:   a.now().Sub(started),
	})
}
