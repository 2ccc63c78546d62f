package out

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ggonzalez94/dexswap/internal/config"
	"github.com/ggonzalez94/dexswap/internal/model"
)

func TestRenderJSONSelectResultsOnly(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data:    []map[string]any{{"a": 1, "b": 2}},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	settings := config.Settings{OutputMode: "json", SelectFields: []string{"a"}, ResultsOnly: true}
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	var out []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if len(out) != 1 || out[0]["a"].(float64) != 1 {
		t.Fatalf("unexpected output: %s", buf.String())
	}
	if _, ok := out[0]["b"]; ok {
		t.Fatalf("field projection failed: %s", buf.String())
	}
}

func TestRenderSelectNestedField(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data: model.PriceQuote{
			BestAggregator: "odos",
			EstimatedOut:   model.AmountInfo{AmountBaseUnits: "9950000", AmountDecimal: "9.95", Decimals: 6},
		},
	}
	settings := config.Settings{OutputMode: "json", SelectFields: []string{"best_aggregator", "estimated_out.amount_decimal"}, ResultsOnly: true}
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if out["best_aggregator"] != "odos" || out["estimated_out.amount_decimal"] != "9.95" || len(out) != 2 {
		t.Fatalf("unexpected projection: %s", buf.String())
	}
}

func TestRenderPlain(t *testing.T) {
	env := model.Envelope{
		Version:  "v1",
		Success:  true,
		Data:     []map[string]any{{"name": "x", "score": 42}},
		Warnings: []string{"serving stale data"},
		Meta:     model.EnvelopeMeta{Timestamp: time.Now()},
	}
	settings := config.Settings{OutputMode: "plain"}
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "name=x") || !strings.Contains(buf.String(), "warning: serving stale data") {
		t.Fatalf("unexpected plain output: %s", buf.String())
	}
}

func TestRenderPlainError(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Error:   &model.ErrorBody{Code: 23, Type: "all_aggregators_failed", Message: "every aggregator failed"},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, config.Settings{OutputMode: "plain"}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got := buf.String(); got != "error all_aggregators_failed (23): every aggregator failed\n" {
		t.Fatalf("unexpected error line %q", got)
	}
}
