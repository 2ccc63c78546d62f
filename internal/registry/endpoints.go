package registry

import (
	"net"
	"net/url"
	"strings"
)

const (
	// Aggregator endpoints.
	ZeroXBaseURL       = "https://api.0x.org"
	OdosBaseURL        = "https://api.odos.xyz"
	ParaSwapBaseURL    = "https://api.paraswap.io"
	JupiterLiteBaseURL = "https://lite-api.jup.ag/swap/v1"
	JupiterProBaseURL  = "https://api.jup.ag/swap/v1"
	OneInchBaseURL     = "https://api.1inch.dev"

	// Phantom universal links.
	PhantomConnectURL = "https://phantom.com/ul/v1/connect"
	PhantomSignURL    = "https://phantom.com/ul/v1/signTransaction"

	TelegramAPIBaseURL = "https://api.telegram.org"
)

var defaultBaseURLs = map[string]string{
	"0x":       ZeroXBaseURL,
	"odos":     OdosBaseURL,
	"paraswap": ParaSwapBaseURL,
	"jupiter":  JupiterLiteBaseURL,
	"1inch":    OneInchBaseURL,
}

func DefaultBaseURL(provider string) (string, bool) {
	v, ok := defaultBaseURLs[strings.ToLower(strings.TrimSpace(provider))]
	return v, ok
}

// IsAllowedBaseURL reports whether endpoint may replace a provider's default base URL.
// Overrides must be https, except loopback hosts which may use plain http.
func IsAllowedBaseURL(endpoint string) bool {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return false
	}
	if strings.TrimSpace(parsed.Hostname()) == "" {
		return false
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if isLoopbackHost(parsed.Hostname()) {
		return scheme == "http" || scheme == "https"
	}
	return scheme == "https"
}

// ResolveBaseURL returns override when it is allowed, otherwise the provider default.
func ResolveBaseURL(provider, override string) string {
	if strings.TrimSpace(override) != "" && IsAllowedBaseURL(override) {
		return strings.TrimRight(strings.TrimSpace(override), "/")
	}
	v, _ := DefaultBaseURL(provider)
	return v
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSpace(strings.ToLower(host))
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
