package odos

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	clierr "github.com/ggonzalez94/dexswap/internal/errors"
	"github.com/ggonzalez94/dexswap/internal/httpx"
	"github.com/ggonzalez94/dexswap/internal/id"
	"github.com/ggonzalez94/dexswap/internal/model"
	"github.com/ggonzalez94/dexswap/internal/providers"
	"github.com/ggonzalez94/dexswap/internal/registry"
)

const (
	quotePath    = "/sor/quote/v2"
	assemblePath = "/sor/assemble"

	nativeAddress    = "0x0000000000000000000000000000000000000000"
	quoteUserAddress = "0x000000000000000000000000000000000000dead"
	quoteSlippagePct = 0.5

	healthSellToken = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	healthBuyToken  = "0xdac17f958d2ee523a2206206994597c13d831ec7"
	healthAmount    = "10000000"
)

type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
}

func New(httpClient *httpx.Client, apiKey string) *Client {
	return &Client{http: httpClient, baseURL: registry.OdosBaseURL, apiKey: strings.TrimSpace(apiKey)}
}

func (c *Client) WithBaseURL(base string) *Client {
	if v := strings.TrimRight(strings.TrimSpace(base), "/"); v != "" {
		c.baseURL = v
	}
	return c
}

func (c *Client) ID() string { return "odos" }

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          "odos",
		Chains:        []string{"ethereum", "arbitrum", "base", "optimism"},
		RequiresKey:   false,
		KeyEnvVarName: "DEXSWAP_ODOS_API_KEY",
		Capabilities:  []string{"swap.quote", "swap.build"},
	}
}

func (c *Client) SupportsChain(chain id.Chain) bool {
	_, ok := providers.EVMChains[chain.Slug]
	return ok
}

type inputToken struct {
	TokenAddress string `json:"tokenAddress"`
	Amount       string `json:"amount"`
}

type outputToken struct {
	TokenAddress string `json:"tokenAddress"`
	Proportion   int    `json:"proportion"`
}

type quoteRequest struct {
	ChainID              int64         `json:"chainId"`
	InputTokens          []inputToken  `json:"inputTokens"`
	OutputTokens         []outputToken `json:"outputTokens"`
	SlippageLimitPercent float64       `json:"slippageLimitPercent"`
	UserAddr             string        `json:"userAddr"`
	DisableRFQs          bool          `json:"disableRFQs"`
	Compact              bool          `json:"compact"`
}

type quoteResponse struct {
	OutAmounts       []string `json:"outAmounts"`
	PathID           string   `json:"pathId"`
	GasEstimateValue *float64 `json:"gasEstimateValue"`
}

type assembleRequest struct {
	UserAddr string `json:"userAddr"`
	PathID   string `json:"pathId"`
	Simulate bool   `json:"simulate"`
}

type assembleResponse struct {
	Transaction *struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
	} `json:"transaction"`
}

func (c *Client) GetQuote(ctx context.Context, req providers.QuoteRequest) (model.Quote, error) {
	body, err := buildQuoteRequest(req, quoteUserAddress, quoteSlippagePct)
	if err != nil {
		return model.Quote{}, err
	}
	var raw json.RawMessage
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.baseURL+quotePath, body, c.headers(), &raw); err != nil {
		return model.Quote{}, err
	}
	resp, err := decodeQuote(raw)
	if err != nil {
		return model.Quote{}, err
	}
	return model.Quote{
		AggregatorID:    c.ID(),
		BuyAmount:       resp.OutAmounts[0],
		EstimatedGasUSD: resp.GasEstimateValue,
		Raw:             raw,
	}, nil
}

// BuildSwapTransaction re-quotes for the wallet and assembles the resulting path.
func (c *Client) BuildSwapTransaction(ctx context.Context, req providers.SwapRequest) (providers.SwapTransaction, error) {
	body, err := buildQuoteRequest(req.QuoteRequest, req.WalletAddress, float64(req.SlippageBps)/100)
	if err != nil {
		return providers.SwapTransaction{}, err
	}
	var raw json.RawMessage
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.baseURL+quotePath, body, c.headers(), &raw); err != nil {
		return providers.SwapTransaction{}, err
	}
	quote, err := decodeQuote(raw)
	if err != nil {
		return providers.SwapTransaction{}, err
	}
	if strings.TrimSpace(quote.PathID) == "" {
		return providers.SwapTransaction{}, clierr.New(clierr.CodeUpstream, "odos pathId is missing")
	}

	var assembled assembleResponse
	assemble := assembleRequest{UserAddr: req.WalletAddress, PathID: quote.PathID, Simulate: false}
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.baseURL+assemblePath, assemble, c.headers(), &assembled); err != nil {
		return providers.SwapTransaction{}, err
	}
	if assembled.Transaction == nil {
		return providers.SwapTransaction{}, clierr.New(clierr.CodeUpstream, "odos assemble response schema is invalid")
	}
	tx := assembled.Transaction
	return providers.NewEVMTransaction(c.ID(), tx.To, tx.Data, tx.Value)
}

func (c *Client) HealthCheck(ctx context.Context) error {
	chain, err := id.ParseChain("ethereum")
	if err != nil {
		return err
	}
	_, err = c.GetQuote(ctx, providers.QuoteRequest{
		Chain:      chain,
		SellToken:  healthSellToken,
		BuyToken:   healthBuyToken,
		SellAmount: healthAmount,
	})
	return err
}

func (c *Client) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": c.apiKey}
}

func buildQuoteRequest(req providers.QuoteRequest, user string, slippagePct float64) (quoteRequest, error) {
	chainID, ok := providers.EVMChains[req.Chain.Slug]
	if !ok {
		return quoteRequest{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("odos does not support chain %s", req.Chain.Slug))
	}
	return quoteRequest{
		ChainID:              chainID,
		InputTokens:          []inputToken{{TokenAddress: normalizeToken(req.SellToken), Amount: req.SellAmount}},
		OutputTokens:         []outputToken{{TokenAddress: normalizeToken(req.BuyToken), Proportion: 1}},
		SlippageLimitPercent: slippagePct,
		UserAddr:             user,
		DisableRFQs:          true,
		Compact:              true,
	}, nil
}

func decodeQuote(raw json.RawMessage) (quoteResponse, error) {
	var resp quoteResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return quoteResponse{}, clierr.Wrap(clierr.CodeUpstream, "odos quote response schema is invalid", err)
	}
	if len(resp.OutAmounts) == 0 {
		return quoteResponse{}, clierr.New(clierr.CodeUpstream, "odos quote amount is missing")
	}
	if _, ok := id.ParseBaseUnits(resp.OutAmounts[0]); !ok {
		return quoteResponse{}, clierr.New(clierr.CodeUpstream, "odos quote amount is invalid")
	}
	return resp, nil
}

// Odos addresses the native gas token with the zero address.
func normalizeToken(address string) string {
	address = strings.TrimSpace(address)
	if strings.EqualFold(address, id.NativeEVMAddress) {
		return nativeAddress
	}
	return address
}
