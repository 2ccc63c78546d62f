package model

import (
	"encoding/json"
	"time"
)

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string           `json:"request_id"`
	Timestamp time.Time        `json:"timestamp"`
	Command   string           `json:"command"`
	Providers []ProviderStatus `json:"providers,omitempty"`
	Cache     CacheStatus      `json:"cache"`
	Partial   bool             `json:"partial"`
}

type ProviderStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

type CacheStatus struct {
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
	Stale  bool   `json:"stale"`
}

type ProviderInfo struct {
	Name          string   `json:"name"`
	Chains        []string `json:"chains"`
	RequiresKey   bool     `json:"requires_key"`
	KeyEnvVarName string   `json:"key_env_var,omitempty"`
	Capabilities  []string `json:"capabilities"`
}

type ProviderHealth struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type ChainInfo struct {
	Slug        string   `json:"slug"`
	Name        string   `json:"name"`
	ChainID     string   `json:"chain_id"`
	Flow        string   `json:"wallet_flow"`
	Aggregators []string `json:"aggregators"`
}

// Quote is one aggregator's priced offer. BuyAmount is an integer string in base units.
type Quote struct {
	AggregatorID    string          `json:"aggregator"`
	BuyAmount       string          `json:"buy_amount"`
	EstimatedGasUSD *float64        `json:"estimated_gas_usd"`
	Raw             json.RawMessage `json:"-"`
}

// QuoteSelection is the result of one fan-out. Quotes keeps every successful answer in
// aggregator order.
type QuoteSelection struct {
	Best      Quote   `json:"best"`
	Quotes    []Quote `json:"quotes"`
	PollCount int     `json:"poll_count"`
}

type AmountInfo struct {
	AmountBaseUnits string `json:"amount_base_units"`
	AmountDecimal   string `json:"amount_decimal"`
	Decimals        int    `json:"decimals"`
}

// PriceQuote is the rendered answer of a price lookup.
type PriceQuote struct {
	ChainID         string       `json:"chain_id"`
	FromAssetID     string       `json:"from_asset_id"`
	ToAssetID       string       `json:"to_asset_id"`
	InputAmount     AmountInfo   `json:"input_amount"`
	BestAggregator  string       `json:"best_aggregator"`
	EstimatedOut    AmountInfo   `json:"estimated_out"`
	EstimatedGasUSD *float64     `json:"estimated_gas_usd"`
	Alternatives    []PriceRoute `json:"alternatives"`
	PollCount       int          `json:"poll_count"`
	FetchedAt       string       `json:"fetched_at"`
}

type PriceRoute struct {
	Aggregator   string     `json:"aggregator"`
	EstimatedOut AmountInfo `json:"estimated_out"`
}
