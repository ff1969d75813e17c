package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	models "github.com/tellor-io/supplyx/pkg/db/models/timeline"
	"github.com/tellor-io/supplyx/pkg/evm"
	"go.uber.org/zap"
)

// ErrCollectionFailed means a re-collection produced nothing at all: neither
// chain answered for the timestamp.
var ErrCollectionFailed = errors.New("collection produced no data")

// BackfillResult summarizes one backfill run.
type BackfillResult struct {
	Examined  int           `json:"examined"`
	Improved  int           `json:"improved"`
	Completed int           `json:"completed"`
	Duration  time.Duration `json:"duration"`
}

// Backfill re-collects incomplete snapshots, worst first, up to limit
// (<= 0 uses the configured default). Fresh values overwrite stored ones,
// but a fresh null never erases stored data; the score is recomputed after
// the merge.
func (c *Collector) Backfill(ctx context.Context, limit int) (*BackfillResult, error) {
	if limit <= 0 {
		limit = c.cfg.BackfillLimit
	}

	release, err := c.tryLock(ctx, "backfill")
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	incomplete, err := c.Store.ListIncomplete(ctx, limit)
	if err != nil {
		return nil, err
	}

	result := &BackfillResult{}
	for _, prev := range incomplete {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Examined++

		fresh, balances := c.collectOne(ctx, refFromSnapshot(prev))
		fresh.Merge(prev)
		fresh.Completeness = fresh.Score()

		if fresh.Completeness <= prev.Completeness {
			// Nothing gained; skip the write so collected_at stays honest.
			continue
		}
		if err := c.persist(ctx, fresh, balances); err != nil {
			return result, err
		}

		result.Improved++
		if fresh.Complete() {
			result.Completed++
		}
		c.Logger.Info("Backfilled snapshot",
			zap.Uint64("settlement_ts", fresh.SettlementTs),
			zap.Float64("before", prev.Completeness),
			zap.Float64("after", fresh.Completeness))
	}

	result.Duration = time.Since(start)
	return result, nil
}

// Rerun re-collects the snapshot at the given settlement timestamp in place.
// Stored values survive where the fresh collection came back empty.
// Returns timeline.ErrNotFound when the timestamp is absent.
func (c *Collector) Rerun(ctx context.Context, ts uint64) (*models.UnifiedSnapshot, error) {
	release, err := c.tryLock(ctx, "rerun")
	if err != nil {
		return nil, err
	}
	defer release()

	prev, err := c.Store.SnapshotAt(ctx, ts)
	if err != nil {
		return nil, err
	}

	fresh, balances := c.collectOne(ctx, refFromSnapshot(prev))
	fresh.Merge(prev)
	fresh.Completeness = fresh.Score()

	if err := c.persist(ctx, fresh, balances); err != nil {
		return nil, err
	}
	return fresh, nil
}

// Remove deletes the snapshot and its balance rows.
// Returns timeline.ErrNotFound when the timestamp is absent.
func (c *Collector) Remove(ctx context.Context, ts uint64) error {
	return c.Store.DeleteSnapshot(ctx, ts)
}

// RemoveAndRerun deletes the snapshot, then collects it fresh with no memory
// of the removed data. When the fresh collection yields nothing the timestamp
// stays absent and ErrCollectionFailed is returned: removal is not undone.
func (c *Collector) RemoveAndRerun(ctx context.Context, ts uint64) (*models.UnifiedSnapshot, error) {
	release, err := c.tryLock(ctx, "rerun")
	if err != nil {
		return nil, err
	}
	defer release()

	prev, err := c.Store.SnapshotAt(ctx, ts)
	if err != nil {
		return nil, err
	}
	ref := refFromSnapshot(prev)

	if err := c.Store.DeleteSnapshot(ctx, ts); err != nil {
		return nil, err
	}

	fresh, balances := c.collectOne(ctx, ref)
	if fresh.Completeness == 0 {
		return nil, fmt.Errorf("remove and rerun %d: %w", ts, ErrCollectionFailed)
	}
	if err := c.persist(ctx, fresh, balances); err != nil {
		return nil, err
	}
	return fresh, nil
}

// refFromSnapshot rebuilds the settlement block reference a stored snapshot
// was collected from.
func refFromSnapshot(s *models.UnifiedSnapshot) evm.BlockRef {
	return evm.BlockRef{
		Number:    s.SettlementBlock,
		Timestamp: s.SettlementTs,
		Time:      s.SettlementTime,
	}
}
