package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Block is the slice of a ledger block header the engine cares about.
type Block struct {
	Height uint64
	Time   time.Time
}

// BlockByHeight returns the block at the given height. Heights beyond the
// head map to ErrInvalidHeight, pruned heights to ErrBlockNotFound.
func (c *Client) BlockByHeight(ctx context.Context, height uint64) (*Block, error) {
	if height == 0 {
		return nil, fmt.Errorf("%w: height must be positive", ErrInvalidHeight)
	}

	q := url.Values{}
	q.Set("height", strconv.FormatUint(height, 10))

	var envelope cometResult
	if err := c.RPC.getJSON(ctx, blockPath, q, 0, &envelope); err != nil {
		return nil, fmt.Errorf("fetch block %d: %w", height, err)
	}

	var body struct {
		Block struct {
			Header struct {
				Height string    `json:"height"`
				Time   time.Time `json:"time"`
			} `json:"header"`
		} `json:"block"`
	}
	if err := json.Unmarshal(envelope.Result, &body); err != nil {
		return nil, fmt.Errorf("decode block %d: %w", height, err)
	}

	got, err := strconv.ParseUint(body.Block.Header.Height, 10, 64)
	if err != nil || got != height {
		return nil, fmt.Errorf("%w: height %d", ErrBlockNotFound, height)
	}

	return &Block{Height: got, Time: body.Block.Header.Time}, nil
}
