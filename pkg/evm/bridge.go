package evm

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/tellor-io/supplyx/pkg/rpc"
)

const balanceOfABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

var erc20ABI = mustParseABI(balanceOfABI)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// BridgeBalance reads the bridge contract's token balance at a specific
// block via eth_call, returned as a decimal token amount.
func (c *Client) BridgeBalance(ctx context.Context, blockNumber uint64) (float64, error) {
	data, err := erc20ABI.Pack("balanceOf", c.bridge)
	if err != nil {
		return 0, fmt.Errorf("pack balanceOf: %w", err)
	}

	msg := ethereum.CallMsg{To: &c.token, Data: data}
	out, err := c.eth.CallContract(ctx, msg, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		lower := strings.ToLower(err.Error())
		if strings.Contains(lower, "missing trie node") || strings.Contains(lower, "not found") {
			return 0, fmt.Errorf("%w: state at block %d", rpc.ErrBlockNotFound, blockNumber)
		}
		return 0, fmt.Errorf("%w: balanceOf at block %d: %v", rpc.ErrUnavailable, blockNumber, err)
	}

	results, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil || len(results) != 1 {
		return 0, fmt.Errorf("unpack balanceOf at block %d: %w", blockNumber, err)
	}
	raw, ok := results[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unexpected balanceOf result type %T", results[0])
	}

	return WeiToDecimal(raw, c.decimals), nil
}

// WeiToDecimal converts a raw token amount to a decimal amount using the
// token's decimal count. Precision beyond float64 is not needed here: the
// engine stores analytic balances, not ledger entries.
func WeiToDecimal(raw *big.Int, decimals int) float64 {
	if raw == nil || raw.Sign() == 0 {
		return 0
	}
	f := new(big.Float).SetInt(raw)
	f.Quo(f, big.NewFloat(math.Pow10(decimals)))
	out, _ := f.Float64()
	return out
}
