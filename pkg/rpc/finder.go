package rpc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// Alignment parameters for matching a ledger block to a settlement timestamp.
// A snapshot's ledger fields are only meaningful when the resolved block sits
// within AlignmentTolerance of the settlement block's time.
const (
	AlignmentTolerance  = 300 * time.Second
	maxFinderIterations = 20
)

// ErrNotAligned means the search converged but no retained ledger block lies
// within the alignment tolerance of the target time.
var ErrNotAligned = errors.New("no ledger block within alignment tolerance")

// NearestBlock finds the ledger block whose timestamp is closest to target.
//
// The search seeds its bounds from the node's retained range, takes an
// initial guess using the average block time, then narrows by binary search
// on block timestamps. Out-of-range targets clamp to the newest or oldest
// retained block, which still has to pass the tolerance check.
func (c *Client) NearestBlock(ctx context.Context, target time.Time) (*Block, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("nearest block: %w", err)
	}

	// Clamp targets outside the retained range.
	if !target.Before(status.CurrentTime) {
		return c.checkAligned(&Block{Height: status.CurrentHeight, Time: status.CurrentTime}, target)
	}
	if !target.After(status.OldestTime) {
		return c.checkAligned(&Block{Height: status.OldestHeight, Time: status.OldestTime}, target)
	}

	lo, hi := status.OldestHeight, status.CurrentHeight

	// Initial guess from the average block time, clamped to the bounds.
	guess := status.CurrentHeight
	if avg := status.AvgBlockTime(); avg > 0 {
		back := uint64(status.CurrentTime.Sub(target).Seconds() / avg)
		if back < guess-lo {
			guess = status.CurrentHeight - back
		} else {
			guess = lo
		}
	}

	var best *Block
	bestDiff := time.Duration(math.MaxInt64)
	probe := guess

	for i := 0; i < maxFinderIterations && lo <= hi; i++ {
		block, err := c.BlockByHeight(ctx, probe)
		if err != nil {
			// Pruned or unavailable probe: shrink toward newer blocks.
			if errors.Is(err, ErrBlockNotFound) || errors.Is(err, ErrInvalidHeight) {
				lo = probe + 1
				probe = lo + (hi-lo)/2
				continue
			}
			return nil, fmt.Errorf("nearest block: %w", err)
		}

		diff := block.Time.Sub(target)
		absDiff := diff
		if absDiff < 0 {
			absDiff = -absDiff
		}
		if absDiff < bestDiff {
			best, bestDiff = block, absDiff
		}
		if absDiff <= AlignmentTolerance/2 {
			break
		}

		if diff > 0 {
			if block.Height == 0 {
				break
			}
			hi = block.Height - 1
		} else {
			lo = block.Height + 1
		}
		if lo > hi {
			break
		}
		probe = lo + (hi-lo)/2
	}

	if best == nil {
		return nil, fmt.Errorf("nearest block for %s: %w", target.UTC().Format(time.RFC3339), ErrNotAligned)
	}

	c.Logger.Debug("Resolved nearest ledger block",
		zap.Uint64("height", best.Height),
		zap.Time("block_time", best.Time),
		zap.Time("target", target),
		zap.Duration("diff", bestDiff))

	return c.checkAligned(best, target)
}

func (c *Client) checkAligned(block *Block, target time.Time) (*Block, error) {
	diff := block.Time.Sub(target)
	if diff < 0 {
		diff = -diff
	}
	if diff > AlignmentTolerance {
		return nil, fmt.Errorf("nearest block %d is %s from target: %w", block.Height, diff, ErrNotAligned)
	}
	return block, nil
}
