package relay

import (
	"encoding/json"
	"fmt"
	"testing"

	clierr "github.com/ggonzalez94/dexswap/internal/errors"
	"github.com/ggonzalez94/dexswap/internal/id"
)

const txHash = "0x88df016429689c079f3b2f6ad39fa052532c56795b733da78a91ebe6a713944b"

func TestNormalizeTxHashAcceptsKnownShapes(t *testing.T) {
	cases := []string{
		`"` + txHash + `"`,
		`{"hash":"` + txHash + `"}`,
		`{"txHash":"` + txHash + `"}`,
		`{"transactionHash":"` + txHash + `"}`,
		`{"signature":"` + txHash + `"}`,
		`{"hash":7,"txHash":"` + txHash + `"}`,
	}
	for _, raw := range cases {
		got, err := NormalizeTxHash(json.RawMessage(raw))
		if err != nil {
			t.Fatalf("NormalizeTxHash(%s) failed: %v", raw, err)
		}
		if got != txHash {
			t.Fatalf("NormalizeTxHash(%s) = %s", raw, got)
		}
	}
}

func TestNormalizeTxHashRejectsUnknownShapes(t *testing.T) {
	cases := []string{
		`null`,
		`42`,
		`["` + txHash + `"]`,
		`{"result":"` + txHash + `"}`,
		`"0x1234"`,
		`"` + txHash[:64] + `zz"`,
	}
	for _, raw := range cases {
		_, err := NormalizeTxHash(json.RawMessage(raw))
		if !clierr.Is(err, clierr.CodeInvalidWalletResponse) {
			t.Fatalf("expected invalid wallet response for %s, got %v", raw, err)
		}
	}
}

func TestWalletAddressTakesLastSegment(t *testing.T) {
	accounts := []string{
		"eip155:10:0x2222222222222222222222222222222222222222",
		"eip155:1:0x1111111111111111111111111111111111111111",
	}
	got, err := WalletAddress(accounts, "eip155:1")
	if err != nil {
		t.Fatalf("WalletAddress failed: %v", err)
	}
	if got != "0x1111111111111111111111111111111111111111" {
		t.Fatalf("unexpected address %s", got)
	}
	got, _ = WalletAddress(accounts, "eip155:8453")
	if got != "0x2222222222222222222222222222222222222222" {
		t.Fatalf("expected first account fallback, got %s", got)
	}
	if _, err := WalletAddress(nil, "eip155:1"); !clierr.Is(err, clierr.CodeInvalidWalletResponse) {
		t.Fatalf("expected error for empty accounts, got %v", err)
	}
}

func TestRequiredNamespaces(t *testing.T) {
	chain, _ := id.ParseChain("arbitrum")
	ns, err := RequiredNamespaces(chain)
	if err != nil {
		t.Fatalf("RequiredNamespaces failed: %v", err)
	}
	evm, ok := ns["eip155"]
	if !ok || len(evm.Chains) != 1 || evm.Chains[0] != "eip155:42161" {
		t.Fatalf("unexpected namespaces: %+v", ns)
	}
	if len(evm.Methods) != 5 || evm.Methods[0] != MethodSendTransaction {
		t.Fatalf("unexpected methods: %v", evm.Methods)
	}

	sol, _ := id.ParseChain("solana")
	if _, err := RequiredNamespaces(sol); !clierr.Is(err, clierr.CodeUnsupported) {
		t.Fatalf("expected unsupported for solana, got %v", err)
	}
}

func TestIsUserRejection(t *testing.T) {
	if !IsUserRejection(fmt.Errorf("send: %w", &RPCError{Code: 4001, Message: "User rejected"})) {
		t.Fatal("expected 4001 to be a rejection")
	}
	if IsUserRejection(&RPCError{Code: -32000, Message: "insufficient funds"}) {
		t.Fatal("did not expect -32000 to be a rejection")
	}
}
