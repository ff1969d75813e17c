package collector

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	models "github.com/tellor-io/supplyx/pkg/db/models/timeline"
	"github.com/tellor-io/supplyx/pkg/evm"
	"github.com/tellor-io/supplyx/pkg/retry"
	"go.uber.org/zap"
)

// CollectResult summarizes one collection run.
type CollectResult struct {
	SampledBlocks   int           `json:"sampled_blocks"`
	SkippedExisting int           `json:"skipped_existing"`
	Collected       int           `json:"collected"`
	Complete        int           `json:"complete"`
	Partial         int           `json:"partial"`
	Duration        time.Duration `json:"duration"`
}

// Collect samples the settlement chain over the window and collects a
// snapshot for every sampled block whose timestamp is not already covered,
// newest first, up to maxPoints new snapshots. window <= 0 and maxPoints <= 0
// fall back to the configured defaults.
//
// A failure at one timestamp degrades that snapshot's completeness and moves
// on; only store write failures and context cancellation abort the run.
func (c *Collector) Collect(ctx context.Context, window time.Duration, maxPoints int) (*CollectResult, error) {
	if window <= 0 {
		window = c.cfg.Window
	}
	if maxPoints <= 0 {
		maxPoints = c.cfg.MaxPoints
	}

	release, err := c.tryLock(ctx, "collect")
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	samples, err := c.Settlement.SampleBlocks(ctx, window, c.cfg.Interval)
	if err != nil {
		return nil, err
	}

	result := &CollectResult{SampledBlocks: len(samples)}
	if len(samples) == 0 {
		result.Duration = time.Since(start)
		return result, nil
	}

	// One range query instead of a lookup per sample.
	prox := uint64(c.cfg.ProximitySkip.Seconds())
	oldest := samples[len(samples)-1].Timestamp
	newest := samples[0].Timestamp
	existing, err := c.Store.ExistingTimestamps(ctx, oldest-prox, newest+prox)
	if err != nil {
		return nil, err
	}

	for _, ref := range samples {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if result.Collected >= maxPoints {
			break
		}
		if hasNearTimestamp(existing, ref.Timestamp, prox) {
			result.SkippedExisting++
			continue
		}

		snapshot, balances := c.collectOne(ctx, ref)
		if err := c.persist(ctx, snapshot, balances); err != nil {
			return result, err
		}
		// Keep the skip check aware of rows written this run, in case the
		// sampling interval is configured below the proximity window.
		existing = insertSorted(existing, ref.Timestamp)

		result.Collected++
		if snapshot.Complete() {
			result.Complete++
		} else {
			result.Partial++
		}
	}

	result.Duration = time.Since(start)
	c.Logger.Info("Collection run finished",
		zap.Int("sampled", result.SampledBlocks),
		zap.Int("skipped", result.SkippedExisting),
		zap.Int("collected", result.Collected),
		zap.Int("complete", result.Complete),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// hasNearTimestamp reports whether sorted holds a value within prox of ts.
func hasNearTimestamp(sorted []uint64, ts, prox uint64) bool {
	i := sort.Search(len(sorted), func(i int) bool { return sorted[i]+prox >= ts })
	return i < len(sorted) && sorted[i] <= ts+prox
}

// insertSorted places ts into the ascending slice, keeping it sorted.
func insertSorted(sorted []uint64, ts uint64) []uint64 {
	i := sort.Search(len(sorted), func(i int) bool { return sorted[i] >= ts })
	sorted = append(sorted, 0)
	copy(sorted[i+1:], sorted[i:])
	sorted[i] = ts
	return sorted
}

// persist upserts the snapshot, swaps its balance rows when the census
// succeeded, and emits a snapshot event.
func (c *Collector) persist(ctx context.Context, snapshot *models.UnifiedSnapshot, balances []*models.AccountBalance) error {
	if err := c.Store.UpsertSnapshot(ctx, snapshot); err != nil {
		return err
	}
	if balances != nil {
		if err := c.Store.ReplaceBalances(ctx, snapshot.SettlementTs, balances); err != nil {
			return err
		}
	}
	c.publish(ctx, snapshot)
	return nil
}

// collectOne gathers both sides of one snapshot. The settlement fetch and the
// ledger resolution run concurrently; inside the ledger side, calls are
// sequential because they all depend on the resolved height.
//
// Never fails outright: whatever could not be fetched stays null and lowers
// the completeness score.
func (c *Collector) collectOne(ctx context.Context, ref evm.BlockRef) (*models.UnifiedSnapshot, []*models.AccountBalance) {
	snapshot := &models.UnifiedSnapshot{
		SettlementBlock: ref.Number,
		SettlementTs:    ref.Timestamp,
		SettlementTime:  ref.Time,
		CollectedAt:     time.Now().UTC(),
	}

	var balances []*models.AccountBalance

	group := c.pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	group.Submit(func() {
		if groupCtx.Err() != nil {
			return
		}
		var balance float64
		err := retry.WithBackoff(groupCtx, retry.QuickConfig(), c.Logger, "bridge_balance", func() error {
			var err error
			balance, err = c.Settlement.BridgeBalance(groupCtx, ref.Number)
			return err
		})
		if err != nil {
			c.Logger.Warn("Bridge balance unavailable",
				zap.Uint64("settlement_block", ref.Number), zap.Error(err))
			return
		}
		snapshot.BridgeBalance = &balance
	})

	group.Submit(func() {
		if groupCtx.Err() != nil {
			return
		}
		balances = c.collectLedgerSide(groupCtx, snapshot)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		c.Logger.Warn("Snapshot group error", zap.Uint64("settlement_ts", ref.Timestamp), zap.Error(err))
	}

	snapshot.Completeness = snapshot.Score()
	return snapshot, balances
}

// collectLedgerSide fills the ledger fields of the snapshot in place and
// returns the balance rows when the account census succeeded.
func (c *Collector) collectLedgerSide(ctx context.Context, snapshot *models.UnifiedSnapshot) []*models.AccountBalance {
	block, err := c.Ledger.NearestBlock(ctx, snapshot.SettlementTime)
	if err != nil {
		c.Logger.Warn("No aligned ledger block",
			zap.Uint64("settlement_ts", snapshot.SettlementTs), zap.Error(err))
		return nil
	}

	height := block.Height
	ts := uint64(block.Time.Unix())
	snapshot.LedgerHeight = &height
	snapshot.LedgerTs = &ts

	var supply float64
	err = retry.WithBackoff(ctx, retry.QuickConfig(), c.Logger, "ledger_supply", func() error {
		s, err := c.Ledger.TotalSupply(ctx, height)
		if err != nil {
			return err
		}
		supply = s.Decimal
		return nil
	})
	if err != nil {
		c.Logger.Warn("Ledger supply unavailable", zap.Uint64("height", height), zap.Error(err))
	} else {
		snapshot.LedgerTotalSupply = &supply
	}

	var bonded, notBonded float64
	err = retry.WithBackoff(ctx, retry.QuickConfig(), c.Logger, "staking_pool", func() error {
		p, err := c.Ledger.StakingPool(ctx, height)
		if err != nil {
			return err
		}
		bonded, notBonded = p.Bonded, p.NotBonded
		return nil
	})
	if err != nil {
		c.Logger.Warn("Staking pool unavailable", zap.Uint64("height", height), zap.Error(err))
	} else {
		snapshot.BondedTokens = &bonded
		snapshot.NotBondedTokens = &notBonded
	}

	// Reporter power is optional: chains without the module just miss it.
	if power, err := c.Ledger.TotalReporterPower(ctx, height); err == nil {
		snapshot.TotalReporterPower = &power
	}

	return c.collectCensus(ctx, snapshot, height)
}

// collectCensus lists every ledger account and fans out balance queries. The
// census is all-or-nothing: a partial address list would make the aggregate
// counters lie, so any failure leaves the census fields null.
func (c *Collector) collectCensus(ctx context.Context, snapshot *models.UnifiedSnapshot, height uint64) []*models.AccountBalance {
	accounts, err := c.Ledger.Accounts(ctx, height)
	if err != nil {
		c.Logger.Warn("Account census unavailable", zap.Uint64("height", height), zap.Error(err))
		return nil
	}

	rows := make([]*models.AccountBalance, len(accounts))
	var failed atomic.Bool

	group := c.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for i, account := range accounts {
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			raw, err := c.Ledger.BalanceOf(groupCtx, account.Address, height)
			if err != nil {
				failed.Store(true)
				group.Stop()
				return
			}
			rows[i] = &models.AccountBalance{
				SettlementTs: snapshot.SettlementTs,
				Address:      account.Address,
				AccountType:  account.Type,
				AccountName:  account.Name,
				BalanceRaw:   raw,
				Balance:      c.Ledger.ToDecimal(raw),
				CollectedAt:  snapshot.CollectedAt,
			}
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		c.Logger.Warn("Census group error", zap.Uint64("height", height), zap.Error(err))
		failed.Store(true)
	}
	if failed.Load() || ctx.Err() != nil {
		c.Logger.Warn("Account census incomplete, dropping it", zap.Uint64("height", height))
		return nil
	}

	total := uint32(len(rows))
	var withBalance uint32
	var totalBalance float64
	for _, row := range rows {
		if row == nil {
			return nil
		}
		if row.BalanceRaw > 0 {
			withBalance++
		}
		totalBalance += row.Balance
	}

	snapshot.TotalAddresses = &total
	snapshot.AddressesWithBalance = &withBalance
	snapshot.TotalBalance = &totalBalance
	return rows
}
