package providers

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	clierr "github.com/ggonzalez94/dexswap/internal/errors"
)

// EVMChains is the EVM chain set shared by the EVM aggregator backends.
var EVMChains = map[string]int64{
	"ethereum": 1,
	"arbitrum": 42161,
	"base":     8453,
	"optimism": 10,
}

// NewEVMTransaction validates a backend's call descriptor and returns it with Value
// normalized to a base-10 wei string.
func NewEVMTransaction(provider, to, data, value string) (SwapTransaction, error) {
	to = strings.TrimSpace(to)
	if !strings.HasPrefix(to, "0x") || !common.IsHexAddress(to) {
		return SwapTransaction{}, clierr.New(clierr.CodeUpstream, fmt.Sprintf("%s returned invalid transaction target", provider))
	}
	data = strings.TrimSpace(data)
	if _, err := hexutil.Decode(data); err != nil {
		return SwapTransaction{}, clierr.Wrap(clierr.CodeUpstream, fmt.Sprintf("%s returned invalid calldata", provider), err)
	}
	wei, err := parseWei(value)
	if err != nil {
		return SwapTransaction{}, clierr.Wrap(clierr.CodeUpstream, fmt.Sprintf("%s returned invalid transaction value", provider), err)
	}
	return SwapTransaction{
		Kind: TransactionKindEVM,
		EVM: &EVMCall{
			To:    common.HexToAddress(to).Hex(),
			Data:  data,
			Value: wei.String(),
		},
	}, nil
}

func parseWei(v string) (*big.Int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return new(big.Int), nil
	}
	base := 10
	if strings.HasPrefix(v, "0x") || strings.HasPrefix(v, "0X") {
		v, base = v[2:], 16
	}
	n, ok := new(big.Int).SetString(v, base)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("not a wei amount: %q", v)
	}
	return n, nil
}
