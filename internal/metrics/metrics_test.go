package metrics

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRequestLabels(t *testing.T) {
	r := New()
	r.ObserveRequest(RequestObservation{Provider: "0x", Method: "GET", StatusCode: 200, Duration: 120 * time.Millisecond})
	r.ObserveRequest(RequestObservation{Provider: "0x", Method: "GET", Duration: 10 * time.Second})

	if got := testutil.ToFloat64(r.httpRequests.WithLabelValues("0x", "GET", "200")); got != 1 {
		t.Fatalf("expected one 200 request, got %v", got)
	}
	if got := testutil.ToFloat64(r.httpRequests.WithLabelValues("0x", "GET", "error")); got != 1 {
		t.Fatalf("expected one failed request, got %v", got)
	}
	if n := testutil.CollectAndCount(r.httpDuration); n != 2 {
		t.Fatalf("expected two histogram series, got %d", n)
	}
}

func TestCountersAndNilRecorder(t *testing.T) {
	r := New()
	r.SwapRequest(SwapInitiated)
	r.SwapRequest(SwapInitiated)
	r.PriceRequest("success")
	r.Error("wallet_rejected")

	if got := testutil.ToFloat64(r.swapRequests.WithLabelValues(SwapInitiated)); got != 2 {
		t.Fatalf("expected 2 initiated swaps, got %v", got)
	}
	if got := testutil.ToFloat64(r.errors.WithLabelValues("wallet_rejected")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}

	var disabled *Recorder
	disabled.SwapRequest(SwapError)
	disabled.ObserveRequest(RequestObservation{Provider: "odos"})
	if disabled.Registry() != nil {
		t.Fatal("nil recorder must not expose a registry")
	}
}

func TestWriteTextExposition(t *testing.T) {
	r := New()
	r.PriceRequest("success")
	r.Error("rate_limited")

	var buf bytes.Buffer
	if err := r.WriteText(&buf); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"# TYPE price_requests_total counter",
		`price_requests_total{status="success"} 1`,
		`errors_total{type="rate_limited"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in exposition:\n%s", want, out)
		}
	}

	var disabled *Recorder
	buf.Reset()
	if err := disabled.WriteText(&buf); err != nil || buf.Len() != 0 {
		t.Fatalf("nil recorder must write nothing, got %q err=%v", buf.String(), err)
	}
}
