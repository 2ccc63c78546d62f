package zerox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/dexswap/internal/errors"
	"github.com/ggonzalez94/dexswap/internal/httpx"
	"github.com/ggonzalez94/dexswap/internal/id"
	"github.com/ggonzalez94/dexswap/internal/model"
	"github.com/ggonzalez94/dexswap/internal/providers"
	"github.com/ggonzalez94/dexswap/internal/registry"
)

const (
	apiVersion   = "v2"
	defaultTaker = "0x0000000000000000000000000000000000010000"
	quotePath    = "/swap/allowance-holder/quote"

	healthSellToken = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	healthBuyToken  = "0xdac17f958d2ee523a2206206994597c13d831ec7"
	healthAmount    = "10000000"
)

type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
	taker   string
}

func New(httpClient *httpx.Client, apiKey string) *Client {
	return &Client{
		http:    httpClient,
		baseURL: registry.ZeroXBaseURL,
		apiKey:  strings.TrimSpace(apiKey),
		taker:   defaultTaker,
	}
}

// WithBaseURL points the client at another deployment of the 0x API.
func (c *Client) WithBaseURL(base string) *Client {
	if v := strings.TrimRight(strings.TrimSpace(base), "/"); v != "" {
		c.baseURL = v
	}
	return c
}

func (c *Client) ID() string { return "0x" }

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          "0x",
		Chains:        []string{"ethereum", "arbitrum", "base", "optimism"},
		RequiresKey:   true,
		KeyEnvVarName: "DEXSWAP_ZEROX_API_KEY",
		Capabilities:  []string{"swap.quote", "swap.build"},
	}
}

func (c *Client) SupportsChain(chain id.Chain) bool {
	_, ok := providers.EVMChains[chain.Slug]
	return ok
}

type quoteResponse struct {
	BuyAmount          string  `json:"buyAmount"`
	LiquidityAvailable *bool   `json:"liquidityAvailable"`
	TotalNetworkFee    *string `json:"totalNetworkFee"`
	Transaction        *struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
	} `json:"transaction"`
}

func (c *Client) GetQuote(ctx context.Context, req providers.QuoteRequest) (model.Quote, error) {
	vals, err := c.baseValues(req)
	if err != nil {
		return model.Quote{}, err
	}
	vals.Set("taker", c.taker)

	var resp quoteResponse
	raw, err := c.get(ctx, vals, &resp)
	if err != nil {
		return model.Quote{}, err
	}
	if err := validateQuote(resp); err != nil {
		return model.Quote{}, err
	}
	return model.Quote{
		AggregatorID: c.ID(),
		BuyAmount:    resp.BuyAmount,
		Raw:          raw,
	}, nil
}

func (c *Client) BuildSwapTransaction(ctx context.Context, req providers.SwapRequest) (providers.SwapTransaction, error) {
	vals, err := c.baseValues(req.QuoteRequest)
	if err != nil {
		return providers.SwapTransaction{}, err
	}
	vals.Set("taker", req.WalletAddress)
	vals.Set("slippageBps", strconv.FormatInt(max(req.SlippageBps, 1), 10))

	var resp quoteResponse
	if _, err := c.get(ctx, vals, &resp); err != nil {
		return providers.SwapTransaction{}, err
	}
	if err := validateQuote(resp); err != nil {
		return providers.SwapTransaction{}, err
	}
	if resp.Transaction == nil {
		return providers.SwapTransaction{}, clierr.New(clierr.CodeUpstream, "0x swap transaction is missing in response")
	}
	return providers.NewEVMTransaction(c.ID(), resp.Transaction.To, resp.Transaction.Data, resp.Transaction.Value)
}

func (c *Client) HealthCheck(ctx context.Context) error {
	vals := url.Values{}
	vals.Set("chainId", "1")
	vals.Set("sellToken", healthSellToken)
	vals.Set("buyToken", healthBuyToken)
	vals.Set("sellAmount", healthAmount)
	vals.Set("taker", c.taker)
	var resp quoteResponse
	_, err := c.get(ctx, vals, &resp)
	return err
}

func (c *Client) baseValues(req providers.QuoteRequest) (url.Values, error) {
	chainID, ok := providers.EVMChains[req.Chain.Slug]
	if !ok {
		return nil, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("0x does not support chain %s", req.Chain.Slug))
	}
	vals := url.Values{}
	vals.Set("chainId", strconv.FormatInt(chainID, 10))
	vals.Set("sellToken", req.SellToken)
	vals.Set("buyToken", req.BuyToken)
	vals.Set("sellAmount", req.SellAmount)
	return vals, nil
}

func (c *Client) get(ctx context.Context, vals url.Values, out *quoteResponse) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s%s?%s", c.baseURL, quotePath, vals.Encode())
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build 0x quote request", err)
	}
	hReq.Header.Set("0x-version", apiVersion)
	if c.apiKey != "" {
		hReq.Header.Set("0x-api-key", c.apiKey)
	}

	var raw json.RawMessage
	if _, err := c.http.DoJSON(ctx, hReq, &raw); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, clierr.Wrap(clierr.CodeUpstream, "0x response schema is invalid", err)
	}
	return raw, nil
}

func validateQuote(resp quoteResponse) error {
	if resp.LiquidityAvailable == nil {
		return clierr.New(clierr.CodeUpstream, "0x response schema is invalid")
	}
	if !*resp.LiquidityAvailable {
		return clierr.New(clierr.CodeUpstream, "0x reports no liquidity for this pair")
	}
	if _, ok := id.ParseBaseUnits(resp.BuyAmount); !ok {
		return clierr.New(clierr.CodeUpstream, "0x quote missing buy amount")
	}
	return nil
}
