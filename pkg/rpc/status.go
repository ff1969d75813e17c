package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// cometResult is the JSON-RPC envelope CometBFT wraps every response in.
type cometResult struct {
	Result json.RawMessage `json:"result"`
}

// ChainStatus describes the ledger chain's available block range. The oldest
// block may be later than genesis when the node prunes history.
type ChainStatus struct {
	CurrentHeight uint64
	CurrentTime   time.Time
	OldestHeight  uint64
	OldestTime    time.Time
}

// AvgBlockTime estimates seconds per block over the node's whole retained
// range. Used as the step size for timestamp-to-height guesses.
func (s *ChainStatus) AvgBlockTime() float64 {
	if s.CurrentHeight <= s.OldestHeight {
		return 0
	}
	span := s.CurrentTime.Sub(s.OldestTime).Seconds()
	return span / float64(s.CurrentHeight-s.OldestHeight)
}

// Status fetches the node's sync info: current and earliest block with their times.
func (c *Client) Status(ctx context.Context) (*ChainStatus, error) {
	var envelope cometResult
	if err := c.RPC.getJSON(ctx, statusPath, nil, 0, &envelope); err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}

	var body struct {
		SyncInfo struct {
			LatestBlockHeight   string    `json:"latest_block_height"`
			LatestBlockTime     time.Time `json:"latest_block_time"`
			EarliestBlockHeight string    `json:"earliest_block_height"`
			EarliestBlockTime   time.Time `json:"earliest_block_time"`
		} `json:"sync_info"`
	}
	if err := json.Unmarshal(envelope.Result, &body); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}

	current, err := strconv.ParseUint(body.SyncInfo.LatestBlockHeight, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse latest height %q: %w", body.SyncInfo.LatestBlockHeight, err)
	}
	oldest, err := strconv.ParseUint(body.SyncInfo.EarliestBlockHeight, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse earliest height %q: %w", body.SyncInfo.EarliestBlockHeight, err)
	}

	return &ChainStatus{
		CurrentHeight: current,
		CurrentTime:   body.SyncInfo.LatestBlockTime,
		OldestHeight:  oldest,
		OldestTime:    body.SyncInfo.EarliestBlockTime,
	}, nil
}
