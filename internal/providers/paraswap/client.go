package paraswap

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
	sideSell = "SELL"

	healthBuyToken = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	healthAmount   = "1000000000000000"
)

type Client struct {
	http    *httpx.Client
	baseURL string
}

func New(httpClient *httpx.Client) *Client {
	return &Client{http: httpClient, baseURL: registry.ParaSwapBaseURL}
}

func (c *Client) WithBaseURL(base string) *Client {
	if v := strings.TrimRight(strings.TrimSpace(base), "/"); v != "" {
		c.baseURL = v
	}
	return c
}

func (c *Client) ID() string { return "paraswap" }

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:         "paraswap",
		Chains:       []string{"ethereum", "arbitrum", "base", "optimism"},
		RequiresKey:  false,
		Capabilities: []string{"swap.quote", "swap.build"},
	}
}

func (c *Client) SupportsChain(chain id.Chain) bool {
	_, ok := providers.EVMChains[chain.Slug]
	return ok
}

type pricesResponse struct {
	PriceRoute json.RawMessage `json:"priceRoute"`
}

type priceRoute struct {
	DestAmount string  `json:"destAmount"`
	GasCostUSD *string `json:"gasCostUSD"`
}

type transactionRequest struct {
	SrcToken     string          `json:"srcToken"`
	DestToken    string          `json:"destToken"`
	SrcAmount    string          `json:"srcAmount"`
	SrcDecimals  int             `json:"srcDecimals"`
	DestDecimals int             `json:"destDecimals"`
	UserAddress  string          `json:"userAddress"`
	Slippage     int64           `json:"slippage"`
	PriceRoute   json.RawMessage `json:"priceRoute"`
}

type transactionResponse struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
}

func (c *Client) GetQuote(ctx context.Context, req providers.QuoteRequest) (model.Quote, error) {
	raw, route, _, err := c.prices(ctx, req)
	if err != nil {
		return model.Quote{}, err
	}
	return model.Quote{
		AggregatorID:    c.ID(),
		BuyAmount:       route.DestAmount,
		EstimatedGasUSD: parseGasUSD(route.GasCostUSD),
		Raw:             raw,
	}, nil
}

// BuildSwapTransaction prices the route again and asks ParaSwap to encode it for the wallet.
func (c *Client) BuildSwapTransaction(ctx context.Context, req providers.SwapRequest) (providers.SwapTransaction, error) {
	_, _, routeRaw, err := c.prices(ctx, req.QuoteRequest)
	if err != nil {
		return providers.SwapTransaction{}, err
	}
	network, err := networkID(req.Chain)
	if err != nil {
		return providers.SwapTransaction{}, err
	}

	body := transactionRequest{
		SrcToken:     normalizeToken(req.SellToken),
		DestToken:    normalizeToken(req.BuyToken),
		SrcAmount:    req.SellAmount,
		SrcDecimals:  req.SellDecimals,
		DestDecimals: req.BuyDecimals,
		UserAddress:  req.WalletAddress,
		Slippage:     req.SlippageBps,
		PriceRoute:   routeRaw,
	}
	endpoint := fmt.Sprintf("%s/transactions/%s?ignoreChecks=true", c.baseURL, network)
	var resp transactionResponse
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, endpoint, body, nil, &resp); err != nil {
		return providers.SwapTransaction{}, err
	}
	return providers.NewEVMTransaction(c.ID(), resp.To, resp.Data, resp.Value)
}

func (c *Client) HealthCheck(ctx context.Context) error {
	chain, err := id.ParseChain("ethereum")
	if err != nil {
		return err
	}
	_, _, _, err = c.prices(ctx, providers.QuoteRequest{
		Chain:        chain,
		SellToken:    id.NativeEVMAddress,
		BuyToken:     healthBuyToken,
		SellAmount:   healthAmount,
		SellDecimals: 18,
		BuyDecimals:  6,
	})
	return err
}

func (c *Client) prices(ctx context.Context, req providers.QuoteRequest) (json.RawMessage, priceRoute, json.RawMessage, error) {
	network, err := networkID(req.Chain)
	if err != nil {
		return nil, priceRoute{}, nil, err
	}
	vals := url.Values{}
	vals.Set("srcToken", normalizeToken(req.SellToken))
	vals.Set("destToken", normalizeToken(req.BuyToken))
	vals.Set("amount", req.SellAmount)
	vals.Set("srcDecimals", strconv.Itoa(req.SellDecimals))
	vals.Set("destDecimals", strconv.Itoa(req.BuyDecimals))
	vals.Set("side", sideSell)
	vals.Set("network", network)

	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/prices?"+vals.Encode(), nil)
	if err != nil {
		return nil, priceRoute{}, nil, clierr.Wrap(clierr.CodeInternal, "build paraswap prices request", err)
	}
	var raw json.RawMessage
	if _, err := c.http.DoJSON(ctx, hReq, &raw); err != nil {
		return nil, priceRoute{}, nil, err
	}
	var resp pricesResponse
	if err := json.Unmarshal(raw, &resp); err != nil || len(resp.PriceRoute) == 0 {
		return nil, priceRoute{}, nil, clierr.New(clierr.CodeUpstream, "paraswap response schema is invalid")
	}
	var route priceRoute
	if err := json.Unmarshal(resp.PriceRoute, &route); err != nil {
		return nil, priceRoute{}, nil, clierr.Wrap(clierr.CodeUpstream, "paraswap response schema is invalid", err)
	}
	amount, ok := id.ParseBaseUnits(route.DestAmount)
	if !ok {
		return nil, priceRoute{}, nil, clierr.New(clierr.CodeUpstream, "paraswap response contains invalid destAmount")
	}
	if amount.Sign() == 0 {
		return nil, priceRoute{}, nil, clierr.New(clierr.CodeUpstream, "paraswap reports no liquidity for this pair")
	}
	return raw, route, resp.PriceRoute, nil
}

func networkID(chain id.Chain) (string, error) {
	chainID, ok := providers.EVMChains[chain.Slug]
	if !ok {
		return "", clierr.New(clierr.CodeUnsupported, fmt.Sprintf("paraswap does not support chain %s", chain.Slug))
	}
	return strconv.FormatInt(chainID, 10), nil
}

func normalizeToken(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func parseGasUSD(v *string) *float64 {
	if v == nil {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(*v), 64)
	if err != nil {
		return nil
	}
	return &f
}
