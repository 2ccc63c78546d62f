package id

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

// ChainSupportsAddress reports whether address is well-formed for chain's namespace.
func ChainSupportsAddress(chain Chain, address string) bool {
	address = strings.TrimSpace(address)
	switch {
	case chain.IsEVM():
		return strings.HasPrefix(address, "0x") && common.IsHexAddress(address)
	case chain.IsSolana():
		if !solanaMintPattern.MatchString(address) {
			return false
		}
		_, err := solana.PublicKeyFromBase58(address)
		return err == nil
	default:
		return false
	}
}

// ChecksumAddress returns the EIP-55 form of an EVM address and leaves other chains untouched.
func ChecksumAddress(chain Chain, address string) string {
	if chain.IsEVM() && common.IsHexAddress(address) {
		return common.HexToAddress(address).Hex()
	}
	return strings.TrimSpace(address)
}
