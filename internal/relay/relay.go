package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	clierr "github.com/ggonzalez94/dexswap/internal/errors"
	"github.com/ggonzalez94/dexswap/internal/id"
)

const (
	MethodSendTransaction = "eth_sendTransaction"

	eip155Namespace = "eip155"
)

var (
	evmMethods = []string{
		MethodSendTransaction,
		"eth_signTransaction",
		"personal_sign",
		"eth_signTypedData",
		"eth_signTypedData_v4",
	}
	evmEvents = []string{"accountsChanged", "chainChanged"}
)

// Namespace is the capability set a dapp requires for one chain family.
type Namespace struct {
	Chains  []string `json:"chains"`
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

type Namespaces map[string]Namespace

// Approval is the wallet's answer to a pairing proposal.
type Approval struct {
	Topic    string
	Accounts []string
}

// Pairing is an open proposal. Approval blocks until the wallet answers or ctx ends.
type Pairing struct {
	URI      string
	Topic    string
	Approval func(ctx context.Context) (Approval, error)
}

// Client is the relay transport between the service and a remote wallet.
type Client interface {
	OpenPairing(ctx context.Context, required Namespaces) (Pairing, error)
	Request(ctx context.Context, topic, chainID, method string, params any) (json.RawMessage, error)
}

// RPCError is a JSON-RPC error returned by the wallet.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("wallet rpc error %d: %s", e.Code, e.Message)
}

// IsUserRejection reports whether err carries a wallet user-rejection code.
func IsUserRejection(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	// EIP-1193 uses 4001, the relay SDK uses 5000 for declined session requests.
	return rpcErr.Code == 4001 || rpcErr.Code == 5000
}

// RequiredNamespaces returns what a wallet must support to sign swaps on chain.
func RequiredNamespaces(chain id.Chain) (Namespaces, error) {
	if !chain.IsEVM() {
		return nil, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("chain %s has no relay namespace", chain.Slug))
	}
	return Namespaces{
		eip155Namespace: {
			Chains:  []string{chain.CAIP2},
			Methods: append([]string(nil), evmMethods...),
			Events:  append([]string(nil), evmEvents...),
		},
	}, nil
}

// WalletAddress picks the approved account for chain and returns its address part. Accounts
// are CAIP-10 strings such as eip155:1:0xabc.
func WalletAddress(accounts []string, chainCAIP2 string) (string, error) {
	var pick string
	for _, account := range accounts {
		if strings.HasPrefix(account, chainCAIP2+":") {
			pick = account
			break
		}
	}
	if pick == "" && len(accounts) > 0 {
		pick = accounts[0]
	}
	idx := strings.LastIndex(pick, ":")
	addr := strings.TrimSpace(pick[idx+1:])
	if addr == "" {
		return "", clierr.New(clierr.CodeInvalidWalletResponse, "wallet approved no accounts")
	}
	return addr, nil
}

// NormalizeTxHash extracts the transaction hash from an eth_sendTransaction result. The
// wallet may answer with a bare string or an object carrying the hash under one of several
// keys. Anything else is rejected.
func NormalizeTxHash(raw json.RawMessage) (string, error) {
	var candidate string
	if err := json.Unmarshal(raw, &candidate); err != nil {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", clierr.New(clierr.CodeInvalidWalletResponse, "wallet response is neither a string nor an object")
		}
		for _, key := range []string{"hash", "txHash", "transactionHash", "signature"} {
			v, ok := obj[key]
			if !ok {
				continue
			}
			if err := json.Unmarshal(v, &candidate); err == nil {
				break
			}
		}
	}
	candidate = strings.TrimSpace(candidate)
	if len(candidate) != 66 {
		return "", clierr.New(clierr.CodeInvalidWalletResponse, "wallet response carries no transaction hash")
	}
	if _, err := hexutil.Decode(candidate); err != nil {
		return "", clierr.Wrap(clierr.CodeInvalidWalletResponse, "wallet returned a malformed transaction hash", err)
	}
	return strings.ToLower(candidate), nil
}
