package jupiter

import (
	"context"
	"encoding/base64"
	"encoding/json"
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
	defaultSlippageBps = 50

	healthOutputMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	healthAmount     = "100000000"
)

type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
}

// New selects the keyed pro endpoint when apiKey is set and the lite endpoint otherwise.
func New(httpClient *httpx.Client, apiKey string) *Client {
	apiKey = strings.TrimSpace(apiKey)
	baseURL := registry.JupiterLiteBaseURL
	if apiKey != "" {
		baseURL = registry.JupiterProBaseURL
	}
	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

func (c *Client) WithBaseURL(base string) *Client {
	if v := strings.TrimRight(strings.TrimSpace(base), "/"); v != "" {
		c.baseURL = v
	}
	return c
}

func (c *Client) ID() string { return "jupiter" }

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          "jupiter",
		Chains:        []string{"solana"},
		RequiresKey:   false,
		KeyEnvVarName: "DEXSWAP_JUPITER_API_KEY",
		Capabilities:  []string{"swap.quote", "swap.build"},
	}
}

func (c *Client) SupportsChain(chain id.Chain) bool {
	return chain.CAIP2 == id.SolanaMainnetCAIP2
}

type quoteResponse struct {
	OutAmount string `json:"outAmount"`
}

type swapRequest struct {
	QuoteResponse           json.RawMessage `json:"quoteResponse"`
	UserPublicKey           string          `json:"userPublicKey"`
	WrapAndUnwrapSol        bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit bool            `json:"dynamicComputeUnitLimit"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

func (c *Client) GetQuote(ctx context.Context, req providers.QuoteRequest) (model.Quote, error) {
	raw, resp, err := c.quote(ctx, req, defaultSlippageBps)
	if err != nil {
		return model.Quote{}, err
	}
	return model.Quote{
		AggregatorID: c.ID(),
		BuyAmount:    resp.OutAmount,
		Raw:          raw,
	}, nil
}

// BuildSwapTransaction quotes with the session slippage and requests an unsigned versioned
// transaction for the wallet.
func (c *Client) BuildSwapTransaction(ctx context.Context, req providers.SwapRequest) (providers.SwapTransaction, error) {
	slippage := req.SlippageBps
	if slippage <= 0 {
		slippage = defaultSlippageBps
	}
	raw, _, err := c.quote(ctx, req.QuoteRequest, slippage)
	if err != nil {
		return providers.SwapTransaction{}, err
	}

	body := swapRequest{
		QuoteResponse:           raw,
		UserPublicKey:           req.WalletAddress,
		WrapAndUnwrapSol:        true,
		DynamicComputeUnitLimit: true,
	}
	var resp swapResponse
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.baseURL+"/swap", body, c.headers(), &resp); err != nil {
		return providers.SwapTransaction{}, err
	}
	if strings.TrimSpace(resp.SwapTransaction) == "" {
		return providers.SwapTransaction{}, clierr.New(clierr.CodeUpstream, "jupiter swap transaction is missing in response")
	}
	if _, err := base64.StdEncoding.DecodeString(resp.SwapTransaction); err != nil {
		return providers.SwapTransaction{}, clierr.Wrap(clierr.CodeUpstream, "jupiter swap transaction is not base64", err)
	}
	if resp.LastValidBlockHeight == 0 {
		return providers.SwapTransaction{}, clierr.New(clierr.CodeUpstream, "jupiter swap response missing lastValidBlockHeight")
	}
	return providers.SwapTransaction{
		Kind: providers.TransactionKindSolana,
		Solana: &providers.SolanaTransaction{
			SerializedTransaction: resp.SwapTransaction,
			LastValidBlockHeight:  resp.LastValidBlockHeight,
		},
	}, nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	chain, err := id.ParseChain("solana")
	if err != nil {
		return err
	}
	_, _, err = c.quote(ctx, providers.QuoteRequest{
		Chain:      chain,
		SellToken:  id.WrappedSOLMint,
		BuyToken:   healthOutputMint,
		SellAmount: healthAmount,
	}, defaultSlippageBps)
	return err
}

func (c *Client) quote(ctx context.Context, req providers.QuoteRequest, slippageBps int64) (json.RawMessage, quoteResponse, error) {
	if !c.SupportsChain(req.Chain) {
		return nil, quoteResponse{}, clierr.New(clierr.CodeUnsupported, "jupiter supports only Solana mainnet")
	}
	vals := url.Values{}
	vals.Set("inputMint", req.SellToken)
	vals.Set("outputMint", req.BuyToken)
	vals.Set("amount", req.SellAmount)
	vals.Set("slippageBps", strconv.FormatInt(slippageBps, 10))
	vals.Set("restrictIntermediateTokens", "true")

	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/quote?"+vals.Encode(), nil)
	if err != nil {
		return nil, quoteResponse{}, clierr.Wrap(clierr.CodeInternal, "build jupiter quote request", err)
	}
	for k, v := range c.headers() {
		hReq.Header.Set(k, v)
	}

	var raw json.RawMessage
	if _, err := c.http.DoJSON(ctx, hReq, &raw); err != nil {
		return nil, quoteResponse{}, err
	}
	var resp quoteResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, quoteResponse{}, clierr.Wrap(clierr.CodeUpstream, "jupiter response schema is invalid", err)
	}
	if _, ok := id.ParseBaseUnits(resp.OutAmount); !ok {
		return nil, quoteResponse{}, clierr.New(clierr.CodeUpstream, "jupiter quote missing output amount")
	}
	return raw, resp, nil
}

func (c *Client) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{"x-api-key": c.apiKey}
}
