package id

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/dexswap/internal/errors"
)

var (
	eip155ChainPattern = regexp.MustCompile(`^eip155:[0-9]+$`)
	solanaMintPattern  = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
)

const (
	SolanaMainnetCAIP2 = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"

	// NativeEVMAddress is the pseudo-address aggregators use for the chain's gas token.
	NativeEVMAddress = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"
	// WrappedSOLMint doubles as the native SOL mint for Solana routers.
	WrappedSOLMint = "So11111111111111111111111111111111111111112"
)

// Flow is the wallet connection protocol used for a chain.
type Flow string

const (
	FlowRelay    Flow = "relay"
	FlowDeepLink Flow = "deeplink"
)

type Chain struct {
	Name       string
	Slug       string
	CAIP2      string
	EVMChainID int64
	Flow       Flow
	Explorer   string
}

func (c Chain) Namespace() string {
	parts := strings.SplitN(c.CAIP2, ":", 2)
	if len(parts) != 2 {
		return ""
	}
	return strings.ToLower(parts[0])
}

func (c Chain) IsEVM() bool {
	return c.Namespace() == "eip155"
}

func (c Chain) IsSolana() bool {
	return c.Namespace() == "solana"
}

// ExplorerTxURL joins the chain explorer prefix with hash.
func (c Chain) ExplorerTxURL(hash string) string {
	if c.Explorer == "" {
		return ""
	}
	return c.Explorer + hash
}

type Asset struct {
	ChainID  string
	AssetID  string
	Address  string
	Symbol   string
	Decimals int
}

type Token struct {
	Symbol   string
	Address  string
	Decimals int
}

var chains = []struct {
	chain   Chain
	aliases []string
}{
	{Chain{Name: "Ethereum", Slug: "ethereum", CAIP2: "eip155:1", EVMChainID: 1, Flow: FlowRelay, Explorer: "https://etherscan.io/tx/"}, []string{"eth", "mainnet"}},
	{Chain{Name: "Arbitrum", Slug: "arbitrum", CAIP2: "eip155:42161", EVMChainID: 42161, Flow: FlowRelay, Explorer: "https://arbiscan.io/tx/"}, []string{"arb", "arbitrum-one"}},
	{Chain{Name: "Base", Slug: "base", CAIP2: "eip155:8453", EVMChainID: 8453, Flow: FlowRelay, Explorer: "https://basescan.org/tx/"}, nil},
	{Chain{Name: "Optimism", Slug: "optimism", CAIP2: "eip155:10", EVMChainID: 10, Flow: FlowRelay, Explorer: "https://optimistic.etherscan.io/tx/"}, []string{"op"}},
	{Chain{Name: "Polygon", Slug: "polygon", CAIP2: "eip155:137", EVMChainID: 137, Flow: FlowRelay, Explorer: "https://polygonscan.com/tx/"}, []string{"matic"}},
	{Chain{Name: "Solana", Slug: "solana", CAIP2: SolanaMainnetCAIP2, Flow: FlowDeepLink, Explorer: "https://solscan.io/tx/"}, []string{"sol", "solana-mainnet", "mainnet-beta"}},
}

var (
	chainBySlug  = map[string]Chain{}
	chainByID    = map[int64]Chain{}
	chainByCAIP2 = map[string]Chain{}
)

func init() {
	for _, def := range chains {
		chainBySlug[def.chain.Slug] = def.chain
		for _, alias := range def.aliases {
			chainBySlug[alias] = def.chain
		}
		chainByCAIP2[def.chain.CAIP2] = def.chain
		if def.chain.EVMChainID != 0 {
			chainByID[def.chain.EVMChainID] = def.chain
		}
	}
}

// Chains lists the known chains in display order.
func Chains() []Chain {
	out := make([]Chain, 0, len(chains))
	for _, def := range chains {
		out = append(out, def.chain)
	}
	return out
}

// Small bootstrap registry for deterministic symbol resolution.
var tokenRegistry = map[string][]Token{
	"eip155:1": {
		{Symbol: "ETH", Address: NativeEVMAddress, Decimals: 18},
		{Symbol: "USDC", Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Decimals: 6},
		{Symbol: "USDT", Address: "0xdac17f958d2ee523a2206206994597c13d831ec7", Decimals: 6},
		{Symbol: "DAI", Address: "0x6b175474e89094c44da98b954eedeac495271d0f", Decimals: 18},
		{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
	},
	"eip155:8453": {
		{Symbol: "ETH", Address: NativeEVMAddress, Decimals: 18},
		{Symbol: "USDC", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
		{Symbol: "DAI", Address: "0x50c5725949A6F0c72E6C4a641F24049A917DB0Cb", Decimals: 18},
		{Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
	},
	"eip155:42161": {
		{Symbol: "ETH", Address: NativeEVMAddress, Decimals: 18},
		{Symbol: "USDC", Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Decimals: 6},
		{Symbol: "USDT", Address: "0xFd086bC7CD5C481DCC9C85ebe478A1C0b69FCbb9", Decimals: 6},
		{Symbol: "DAI", Address: "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1", Decimals: 18},
		{Symbol: "WETH", Address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Decimals: 18},
	},
	"eip155:10": {
		{Symbol: "ETH", Address: NativeEVMAddress, Decimals: 18},
		{Symbol: "USDC", Address: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", Decimals: 6},
		{Symbol: "USDT", Address: "0x94b008aA00579c1307B0EF2c499aD98a8ce58e58", Decimals: 6},
		{Symbol: "DAI", Address: "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1", Decimals: 18},
		{Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
	},
	"eip155:137": {
		{Symbol: "POL", Address: NativeEVMAddress, Decimals: 18},
		{Symbol: "USDC", Address: "0x3c499c542cef5e3811e1192ce70d8cc03d5c3359", Decimals: 6},
		{Symbol: "USDT", Address: "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", Decimals: 6},
	},
	SolanaMainnetCAIP2: {
		{Symbol: "SOL", Address: WrappedSOLMint, Decimals: 9},
		{Symbol: "USDC", Address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6},
		{Symbol: "USDT", Address: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", Decimals: 6},
		{Symbol: "JUP", Address: "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN", Decimals: 6},
		{Symbol: "JTO", Address: "jtojtomepa8beP8AuQc6eXt5FriJwfFMwGQx2v2f9mCL", Decimals: 9},
	},
}

func ParseChain(input string) (Chain, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Chain{}, clierr.New(clierr.CodeUsage, "chain is required")
	}
	norm := strings.ToLower(raw)

	if chain, ok := chainBySlug[norm]; ok {
		return chain, nil
	}
	if chain, ok := chainByCAIP2[raw]; ok {
		return chain, nil
	}
	if eip155ChainPattern.MatchString(norm) {
		norm = strings.TrimPrefix(norm, "eip155:")
	}
	if n, err := strconv.ParseInt(norm, 10, 64); err == nil {
		if chain, ok := chainByID[n]; ok {
			return chain, nil
		}
	}
	return Chain{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("unsupported chain: %s", input))
}

// ParseAsset accepts a registry symbol or a raw token address valid for chain.
func ParseAsset(input string, chain Chain) (Asset, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Asset{}, clierr.New(clierr.CodeUsage, "asset is required")
	}
	if looksLikeAddress(chain, raw) {
		if !ChainSupportsAddress(chain, raw) {
			return Asset{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid %s token address: %s", chain.Slug, input))
		}
		addr := normalizeTokenAddress(chain, raw)
		token, _ := LookupByAddress(chain, addr)
		return newAsset(chain, addr, token.Symbol, token.Decimals), nil
	}
	token, err := ResolveToken(raw, chain)
	if err != nil {
		return Asset{}, err
	}
	return newAsset(chain, token.Address, token.Symbol, token.Decimals), nil
}

// ResolveToken finds a token by symbol in the registry for chain.
func ResolveToken(symbol string, chain Chain) (Token, error) {
	symbol = strings.TrimSpace(symbol)
	for _, t := range tokenRegistry[chain.CAIP2] {
		if strings.EqualFold(t.Symbol, symbol) {
			return Token{
				Symbol:   strings.ToUpper(t.Symbol),
				Address:  normalizeTokenAddress(chain, t.Address),
				Decimals: t.Decimals,
			}, nil
		}
	}
	return Token{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("symbol %s not found in registry for chain %s", symbol, chain.Slug))
}

func LookupByAddress(chain Chain, address string) (Token, bool) {
	for _, t := range tokenRegistry[chain.CAIP2] {
		if tokenAddressEqual(chain, t.Address, address) {
			return Token{
				Symbol:   strings.ToUpper(t.Symbol),
				Address:  normalizeTokenAddress(chain, t.Address),
				Decimals: t.Decimals,
			}, true
		}
	}
	return Token{}, false
}

func newAsset(chain Chain, address, symbol string, decimals int) Asset {
	return Asset{
		ChainID:  chain.CAIP2,
		AssetID:  canonicalAssetID(chain, address),
		Address:  address,
		Symbol:   symbol,
		Decimals: decimals,
	}
}

func looksLikeAddress(chain Chain, raw string) bool {
	if chain.IsEVM() {
		return strings.HasPrefix(strings.ToLower(raw), "0x")
	}
	return solanaMintPattern.MatchString(raw)
}

func canonicalAssetID(chain Chain, address string) string {
	switch chain.Namespace() {
	case "eip155":
		return fmt.Sprintf("%s/erc20:%s", chain.CAIP2, strings.ToLower(address))
	case "solana":
		return fmt.Sprintf("%s/token:%s", chain.CAIP2, address)
	default:
		return fmt.Sprintf("%s/asset:%s", chain.CAIP2, address)
	}
}

func normalizeTokenAddress(chain Chain, address string) string {
	address = strings.TrimSpace(address)
	if chain.IsEVM() {
		return strings.ToLower(address)
	}
	return address
}

func tokenAddressEqual(chain Chain, a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if chain.IsEVM() {
		return strings.EqualFold(a, b)
	}
	return a == b
}
