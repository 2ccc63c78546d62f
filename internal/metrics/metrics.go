package metrics

import (
	"io"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"
)

// Swap request lifecycle labels.
const (
	SwapInitiated = "initiated"
	SwapSuccess   = "success"
	SwapError     = "error"
)

var requestBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5}

// RequestObservation describes one outbound backend call.
type RequestObservation struct {
	Provider   string
	Method     string
	StatusCode int
	Duration   time.Duration
}

// Recorder is the process metrics sink. A nil *Recorder drops every observation.
type Recorder struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	priceRequests *prometheus.CounterVec
	swapRequests  *prometheus.CounterVec
	errors        *prometheus.CounterVec
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Outbound aggregator requests by provider, method and status code.",
		}, []string{"provider", "method", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Outbound aggregator request latency.",
			Buckets: requestBuckets,
		}, []string{"provider", "method", "status_code"}),
		priceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "price_requests_total",
			Help: "Quote selections by outcome.",
		}, []string{"status"}),
		swapRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swap_requests_total",
			Help: "Wallet swap sessions by lifecycle status.",
		}, []string{"status"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Errors by kind.",
		}, []string{"type"}),
	}
	r.registry.MustRegister(
		r.httpRequests,
		r.httpDuration,
		r.priceRequests,
		r.swapRequests,
		r.errors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// WriteText writes every registered metric family in the Prometheus text format.
func (r *Recorder) WriteText(w io.Writer) error {
	if r == nil {
		return nil
	}
	families, err := r.registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

// ObserveRequest records one backend call. Status code 0 means no response was received.
func (r *Recorder) ObserveRequest(obs RequestObservation) {
	if r == nil {
		return
	}
	status := "error"
	if obs.StatusCode > 0 {
		status = strconv.Itoa(obs.StatusCode)
	}
	r.httpRequests.WithLabelValues(obs.Provider, obs.Method, status).Inc()
	r.httpDuration.WithLabelValues(obs.Provider, obs.Method, status).Observe(obs.Duration.Seconds())
}

func (r *Recorder) PriceRequest(status string) {
	if r == nil {
		return
	}
	r.priceRequests.WithLabelValues(status).Inc()
}

func (r *Recorder) SwapRequest(status string) {
	if r == nil {
		return
	}
	r.swapRequests.WithLabelValues(status).Inc()
}

func (r *Recorder) Error(kind string) {
	if r == nil {
		return
	}
	r.errors.WithLabelValues(kind).Inc()
}
