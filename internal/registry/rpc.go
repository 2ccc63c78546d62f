package registry

import "strings"

const DefaultSolanaRPCURL = "https://api.mainnet-beta.solana.com"

func ResolveSolanaRPCURL(override string) string {
	if v := strings.TrimSpace(override); v != "" {
		return v
	}
	return DefaultSolanaRPCURL
}
