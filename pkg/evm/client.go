// Package evm talks to the settlement chain over Ethereum JSON-RPC: block
// header sampling and bridge contract balance reads at historical blocks.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/tellor-io/supplyx/pkg/rpc"
	"go.uber.org/zap"
)

// fallbackBlockTime seeds sampling before the chain's own spacing is known.
const fallbackBlockTime = 12.0

// Client wraps an ethclient connection to the settlement chain.
type Client struct {
	Logger *zap.Logger

	eth      *ethclient.Client
	token    common.Address
	bridge   common.Address
	decimals int
}

// Opts configures a settlement chain Client.
type Opts struct {
	// URL is the JSON-RPC endpoint.
	URL string
	// TokenContract is the ERC-20 token whose bridge balance is tracked.
	TokenContract string
	// BridgeAddress is the bridge contract holding locked tokens.
	BridgeAddress string
	// Decimals is the token's decimal count (18 for standard ERC-20).
	Decimals int
}

// New dials the settlement chain and validates the configured addresses.
func New(ctx context.Context, logger *zap.Logger, o Opts) (*Client, error) {
	if !common.IsHexAddress(o.TokenContract) {
		return nil, fmt.Errorf("invalid token contract address %q", o.TokenContract)
	}
	if !common.IsHexAddress(o.BridgeAddress) {
		return nil, fmt.Errorf("invalid bridge address %q", o.BridgeAddress)
	}
	if o.Decimals <= 0 {
		o.Decimals = 18
	}

	eth, err := ethclient.DialContext(ctx, o.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", rpc.ErrUnavailable, o.URL, err)
	}

	return &Client{
		Logger:   logger,
		eth:      eth,
		token:    common.HexToAddress(o.TokenContract),
		bridge:   common.HexToAddress(o.BridgeAddress),
		decimals: o.Decimals,
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// BlockRef identifies one sampled settlement block.
type BlockRef struct {
	Number    uint64
	Timestamp uint64
	Time      time.Time
}

func headerRef(h *types.Header) BlockRef {
	return BlockRef{
		Number:    h.Number.Uint64(),
		Timestamp: h.Time,
		Time:      time.Unix(int64(h.Time), 0).UTC(),
	}
}

// Head returns the latest block header.
func (c *Client) Head(ctx context.Context) (BlockRef, error) {
	h, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return BlockRef{}, fmt.Errorf("%w: fetch head: %v", rpc.ErrUnavailable, err)
	}
	return headerRef(h), nil
}

// HeaderAt returns the header for a specific block number.
func (c *Client) HeaderAt(ctx context.Context, number uint64) (BlockRef, error) {
	h, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return BlockRef{}, fmt.Errorf("%w: block %d", rpc.ErrBlockNotFound, number)
		}
		return BlockRef{}, fmt.Errorf("%w: fetch header %d: %v", rpc.ErrUnavailable, number, err)
	}
	if h == nil {
		return BlockRef{}, fmt.Errorf("%w: block %d", rpc.ErrBlockNotFound, number)
	}
	return headerRef(h), nil
}

// avgBlockTime estimates seconds per block by spacing the head against a
// header several thousand blocks back.
func (c *Client) avgBlockTime(ctx context.Context, head BlockRef) float64 {
	const span = 5000
	if head.Number <= span {
		return fallbackBlockTime
	}
	older, err := c.HeaderAt(ctx, head.Number-span)
	if err != nil || head.Timestamp <= older.Timestamp {
		return fallbackBlockTime
	}
	return float64(head.Timestamp-older.Timestamp) / float64(span)
}

// SampleBlocks picks settlement blocks spaced about `interval` apart covering
// the last `window`, newest first. Block numbers are estimated from the
// average block time; the returned timestamps are the real header times.
func (c *Client) SampleBlocks(ctx context.Context, window, interval time.Duration) ([]BlockRef, error) {
	head, err := c.Head(ctx)
	if err != nil {
		return nil, err
	}

	avg := c.avgBlockTime(ctx, head)
	startTs := head.Timestamp - uint64(window.Seconds())

	samples := []BlockRef{head}
	target := head.Timestamp
	for {
		if target < uint64(interval.Seconds()) {
			break
		}
		target -= uint64(interval.Seconds())
		if target < startTs {
			break
		}

		back := uint64(float64(head.Timestamp-target) / avg)
		if back >= head.Number {
			break
		}
		ref, err := c.HeaderAt(ctx, head.Number-back)
		if err != nil {
			c.Logger.Warn("Skipping unsampleable block",
				zap.Uint64("estimated_number", head.Number-back),
				zap.Error(err))
			continue
		}
		samples = append(samples, ref)
	}

	return samples, nil
}
