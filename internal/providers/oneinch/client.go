package oneinch

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

type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
}

func New(httpClient *httpx.Client, apiKey string) *Client {
	return &Client{http: httpClient, baseURL: registry.OneInchBaseURL, apiKey: strings.TrimSpace(apiKey)}
}

func (c *Client) WithBaseURL(base string) *Client {
	if v := strings.TrimRight(strings.TrimSpace(base), "/"); v != "" {
		c.baseURL = v
	}
	return c
}

func (c *Client) ID() string { return "1inch" }

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          "1inch",
		Chains:        []string{"ethereum", "arbitrum", "base", "optimism"},
		RequiresKey:   true,
		KeyEnvVarName: "DEXSWAP_1INCH_API_KEY",
		Capabilities:  []string{"swap.quote", "swap.build"},
	}
}

func (c *Client) SupportsChain(chain id.Chain) bool {
	_, ok := providers.EVMChains[chain.Slug]
	return ok
}

type quoteResponse struct {
	DstAmount string `json:"dstAmount"`
	Gas       int64  `json:"gas"`
}

type swapResponse struct {
	DstAmount string `json:"dstAmount"`
	Tx        *struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
	} `json:"tx"`
}

func (c *Client) GetQuote(ctx context.Context, req providers.QuoteRequest) (model.Quote, error) {
	vals := url.Values{}
	vals.Set("src", req.SellToken)
	vals.Set("dst", req.BuyToken)
	vals.Set("amount", req.SellAmount)
	vals.Set("includeGas", "true")

	var raw json.RawMessage
	if err := c.get(ctx, req.Chain, "quote", vals, &raw); err != nil {
		return model.Quote{}, err
	}
	var resp quoteResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return model.Quote{}, clierr.Wrap(clierr.CodeUpstream, "1inch quote schema is invalid", err)
	}
	if _, ok := id.ParseBaseUnits(resp.DstAmount); !ok {
		return model.Quote{}, clierr.New(clierr.CodeUpstream, "1inch quote missing destination amount")
	}
	return model.Quote{
		AggregatorID: c.ID(),
		BuyAmount:    resp.DstAmount,
		Raw:          raw,
	}, nil
}

func (c *Client) BuildSwapTransaction(ctx context.Context, req providers.SwapRequest) (providers.SwapTransaction, error) {
	vals := url.Values{}
	vals.Set("src", req.SellToken)
	vals.Set("dst", req.BuyToken)
	vals.Set("amount", req.SellAmount)
	vals.Set("from", req.WalletAddress)
	vals.Set("origin", req.WalletAddress)
	vals.Set("slippage", strconv.FormatFloat(float64(req.SlippageBps)/100, 'f', -1, 64))
	vals.Set("disableEstimate", "true")

	var resp swapResponse
	if err := c.get(ctx, req.Chain, "swap", vals, &resp); err != nil {
		return providers.SwapTransaction{}, err
	}
	if resp.Tx == nil {
		return providers.SwapTransaction{}, clierr.New(clierr.CodeUpstream, "1inch swap transaction is missing in response")
	}
	return providers.NewEVMTransaction(c.ID(), resp.Tx.To, resp.Tx.Data, resp.Tx.Value)
}

func (c *Client) HealthCheck(ctx context.Context) error {
	if c.apiKey == "" {
		return clierr.New(clierr.CodeUsage, "missing required API key for 1inch (DEXSWAP_1INCH_API_KEY)")
	}
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/swap/v6.0/1/healthcheck", nil)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "build 1inch health request", err)
	}
	hReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	_, err = c.http.DoJSON(ctx, hReq, nil)
	return err
}

func (c *Client) get(ctx context.Context, chain id.Chain, action string, vals url.Values, out any) error {
	chainID, ok := providers.EVMChains[chain.Slug]
	if !ok {
		return clierr.New(clierr.CodeUnsupported, fmt.Sprintf("1inch does not support chain %s", chain.Slug))
	}
	if c.apiKey == "" {
		return clierr.New(clierr.CodeUsage, "missing required API key for 1inch (DEXSWAP_1INCH_API_KEY)")
	}
	endpoint := fmt.Sprintf("%s/swap/v6.0/%d/%s?%s", c.baseURL, chainID, action, vals.Encode())
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "build 1inch request", err)
	}
	hReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	_, err = c.http.DoJSON(ctx, hReq, out)
	return err
}
