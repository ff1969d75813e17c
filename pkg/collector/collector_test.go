package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	models "github.com/tellor-io/supplyx/pkg/db/models/timeline"
	timelinedb "github.com/tellor-io/supplyx/pkg/db/timeline"
	"github.com/tellor-io/supplyx/pkg/evm"
	"github.com/tellor-io/supplyx/pkg/rpc"
	"go.uber.org/zap/zaptest"
)

// fakeStore is an in-memory timeline.Store.
type fakeStore struct {
	mu        sync.Mutex
	snapshots map[uint64]*models.UnifiedSnapshot
	balances  map[uint64][]*models.AccountBalance
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		snapshots: map[uint64]*models.UnifiedSnapshot{},
		balances:  map[uint64][]*models.AccountBalance{},
	}
}

func (s *fakeStore) DatabaseName() string { return "test" }

func (s *fakeStore) GetConnection() driver.Conn { return nil }

func (s *fakeStore) InitializeDB(context.Context) error { return nil }

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) UpsertSnapshot(_ context.Context, snap *models.UnifiedSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.SettlementTs] = snap
	return nil
}

func (s *fakeStore) SnapshotAt(_ context.Context, ts uint64) (*models.UnifiedSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[ts]
	if !ok {
		return nil, timelinedb.ErrNotFound
	}
	return snap, nil
}

func (s *fakeStore) Range(context.Context, uint64, uint64, float64) ([]*models.UnifiedSnapshot, error) {
	return nil, nil
}

func (s *fakeStore) ListRecent(context.Context, int) ([]*models.UnifiedSnapshot, error) {
	return nil, nil
}

func (s *fakeStore) ListIncomplete(_ context.Context, limit int) ([]*models.UnifiedSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.UnifiedSnapshot
	for _, snap := range s.snapshots {
		if snap.Completeness < 1.0 {
			out = append(out, snap)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) ExistingTimestamps(_ context.Context, startTs, endTs uint64) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uint64
	for ts := range s.snapshots {
		if ts >= startTs && ts <= endTs {
			out = append(out, ts)
		}
	}
	// callers expect ascending order
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteSnapshot(_ context.Context, ts uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[ts]; !ok {
		return timelinedb.ErrNotFound
	}
	delete(s.snapshots, ts)
	delete(s.balances, ts)
	return nil
}

func (s *fakeStore) ReplaceBalances(_ context.Context, ts uint64, balances []*models.AccountBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[ts] = balances
	return nil
}

func (s *fakeStore) BalancesAt(context.Context, uint64, string, int, int) ([]*models.AccountBalance, error) {
	return nil, nil
}

func (s *fakeStore) CountBalances(context.Context, uint64) (uint64, error) { return 0, nil }

func (s *fakeStore) BalanceBreakdown(context.Context, uint64) ([]*timelinedb.BalanceTypeStat, error) {
	return nil, nil
}

func (s *fakeStore) Summary(context.Context) (*timelinedb.Summary, error) { return nil, nil }

var _ timelinedb.Store = (*fakeStore)(nil)

// fakeSettlement serves canned blocks and bridge balances.
type fakeSettlement struct {
	samples    []evm.BlockRef
	balance    float64
	balanceErr error
}

func (f *fakeSettlement) SampleBlocks(context.Context, time.Duration, time.Duration) ([]evm.BlockRef, error) {
	return f.samples, nil
}

func (f *fakeSettlement) HeaderAt(_ context.Context, number uint64) (evm.BlockRef, error) {
	for _, ref := range f.samples {
		if ref.Number == number {
			return ref, nil
		}
	}
	return evm.BlockRef{}, rpc.ErrBlockNotFound
}

func (f *fakeSettlement) BridgeBalance(context.Context, uint64) (float64, error) {
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	return f.balance, nil
}

// fakeLedger serves canned ledger data with per-call error switches.
type fakeLedger struct {
	height     uint64
	supply     float64
	bonded     float64
	notBonded  float64
	accounts   []*rpc.Account
	balances   map[string]uint64
	alignErr   error
	supplyErr  error
	stakingErr error
	censusErr  error
	balanceErr error
}

func (f *fakeLedger) NearestBlock(_ context.Context, target time.Time) (*rpc.Block, error) {
	if f.alignErr != nil {
		return nil, f.alignErr
	}
	return &rpc.Block{Height: f.height, Time: target.Add(10 * time.Second)}, nil
}

func (f *fakeLedger) TotalSupply(context.Context, uint64) (*rpc.Supply, error) {
	if f.supplyErr != nil {
		return nil, f.supplyErr
	}
	return &rpc.Supply{Denom: "loya", Raw: uint64(f.supply * 1e6), Decimal: f.supply}, nil
}

func (f *fakeLedger) StakingPool(context.Context, uint64) (*rpc.StakingPool, error) {
	if f.stakingErr != nil {
		return nil, f.stakingErr
	}
	return &rpc.StakingPool{Bonded: f.bonded, NotBonded: f.notBonded}, nil
}

func (f *fakeLedger) TotalReporterPower(context.Context, uint64) (float64, error) {
	return 0, errors.New("no reporter module")
}

func (f *fakeLedger) Accounts(context.Context, uint64) ([]*rpc.Account, error) {
	if f.censusErr != nil {
		return nil, f.censusErr
	}
	return f.accounts, nil
}

func (f *fakeLedger) BalanceOf(_ context.Context, address string, _ uint64) (uint64, error) {
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	return f.balances[address], nil
}

func (f *fakeLedger) ToDecimal(raw uint64) float64 { return float64(raw) / 1e6 }

func healthyLedger() *fakeLedger {
	return &fakeLedger{
		height:    500,
		supply:    2000000,
		bonded:    1500000,
		notBonded: 400000,
		accounts: []*rpc.Account{
			{Address: "tellor1aaa", Type: models.AccountTypeBase},
			{Address: "tellor1bbb", Type: models.AccountTypeBase},
			{Address: "tellor1mod", Type: models.AccountTypeModule, Name: "bonded_tokens_pool"},
		},
		balances: map[string]uint64{
			"tellor1aaa": 1_000_000,
			"tellor1bbb": 0,
			"tellor1mod": 5_000_000,
		},
	}
}

func sampleRefs(base uint64, n int) []evm.BlockRef {
	refs := make([]evm.BlockRef, n)
	for i := 0; i < n; i++ {
		// newest first, one hour apart
		ts := base - uint64(i)*3600
		refs[i] = evm.BlockRef{
			Number:    1000 - uint64(i)*300,
			Timestamp: ts,
			Time:      time.Unix(int64(ts), 0).UTC(),
		}
	}
	return refs
}

func newTestCollector(t *testing.T, store *fakeStore, settlement *fakeSettlement, ledger *fakeLedger) *Collector {
	t.Helper()
	c := New(zaptest.NewLogger(t), store, settlement, ledger, Config{BalanceWorkers: 4})
	t.Cleanup(c.Stop)
	return c
}

func TestCollect(t *testing.T) {
	ctx := context.Background()

	t.Run("collects complete snapshots", func(t *testing.T) {
		store := newFakeStore()
		settlement := &fakeSettlement{samples: sampleRefs(1700000000, 3), balance: 1234.5}
		c := newTestCollector(t, store, settlement, healthyLedger())

		res, err := c.Collect(ctx, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, 3, res.SampledBlocks)
		assert.Equal(t, 3, res.Collected)
		assert.Equal(t, 3, res.Complete)
		assert.Equal(t, 0, res.Partial)

		snap, err := store.SnapshotAt(ctx, 1700000000)
		require.NoError(t, err)
		assert.Equal(t, 1.0, snap.Completeness)
		require.NotNil(t, snap.BridgeBalance)
		assert.Equal(t, 1234.5, *snap.BridgeBalance)
		require.NotNil(t, snap.TotalAddresses)
		assert.Equal(t, uint32(3), *snap.TotalAddresses)
		require.NotNil(t, snap.AddressesWithBalance)
		assert.Equal(t, uint32(2), *snap.AddressesWithBalance)

		assert.Len(t, store.balances[1700000000], 3)
	})

	t.Run("skips timestamps near existing snapshots", func(t *testing.T) {
		store := newFakeStore()
		// stored row 30s off one of the samples, within the proximity window
		store.snapshots[1700000000-30] = &models.UnifiedSnapshot{SettlementTs: 1700000000 - 30}
		settlement := &fakeSettlement{samples: sampleRefs(1700000000, 3), balance: 1.0}
		c := newTestCollector(t, store, settlement, healthyLedger())

		res, err := c.Collect(ctx, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, res.SkippedExisting)
		assert.Equal(t, 2, res.Collected)
	})

	t.Run("skips same-run samples within the proximity window", func(t *testing.T) {
		store := newFakeStore()
		refs := []evm.BlockRef{
			{Number: 1000, Timestamp: 1700000000, Time: time.Unix(1700000000, 0).UTC()},
			{Number: 998, Timestamp: 1700000000 - 30, Time: time.Unix(1700000000-30, 0).UTC()},
		}
		settlement := &fakeSettlement{samples: refs, balance: 1.0}
		c := newTestCollector(t, store, settlement, healthyLedger())

		res, err := c.Collect(ctx, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Collected)
		assert.Equal(t, 1, res.SkippedExisting)

		_, err = store.SnapshotAt(ctx, 1700000000)
		assert.NoError(t, err)
		_, err = store.SnapshotAt(ctx, 1700000000-30)
		assert.ErrorIs(t, err, timelinedb.ErrNotFound)
	})

	t.Run("caps new snapshots at maxPoints", func(t *testing.T) {
		store := newFakeStore()
		settlement := &fakeSettlement{samples: sampleRefs(1700000000, 5), balance: 1.0}
		c := newTestCollector(t, store, settlement, healthyLedger())

		res, err := c.Collect(ctx, 0, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Collected)

		// newest first: the two newest samples were taken
		_, err = store.SnapshotAt(ctx, 1700000000)
		assert.NoError(t, err)
		_, err = store.SnapshotAt(ctx, 1700000000-3600)
		assert.NoError(t, err)
	})

	t.Run("stores partial snapshot when one side fails", func(t *testing.T) {
		store := newFakeStore()
		settlement := &fakeSettlement{samples: sampleRefs(1700000000, 1), balance: 1.0}
		ledger := healthyLedger()
		ledger.supplyErr = errors.New("supply endpoint down")
		c := newTestCollector(t, store, settlement, ledger)

		res, err := c.Collect(ctx, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Collected)
		assert.Equal(t, 1, res.Partial)

		snap, err := store.SnapshotAt(ctx, 1700000000)
		require.NoError(t, err)
		assert.Nil(t, snap.LedgerTotalSupply)
		require.NotNil(t, snap.BondedTokens)
		assert.Equal(t, 0.83, snap.Completeness)
	})

	t.Run("census is dropped whole when one balance fails", func(t *testing.T) {
		store := newFakeStore()
		settlement := &fakeSettlement{samples: sampleRefs(1700000000, 1), balance: 1.0}
		ledger := healthyLedger()
		ledger.balanceErr = errors.New("balance endpoint down")
		c := newTestCollector(t, store, settlement, ledger)

		_, err := c.Collect(ctx, 0, 0)
		require.NoError(t, err)

		snap, err := store.SnapshotAt(ctx, 1700000000)
		require.NoError(t, err)
		assert.Nil(t, snap.TotalAddresses)
		assert.Nil(t, snap.TotalBalance)
		assert.Empty(t, store.balances[1700000000])
	})

	t.Run("concurrent runs conflict", func(t *testing.T) {
		store := newFakeStore()
		settlement := &fakeSettlement{samples: nil, balance: 1.0}
		c := newTestCollector(t, store, settlement, healthyLedger())

		release, err := c.tryLock(ctx, "collect")
		require.NoError(t, err)
		defer release()

		_, err = c.Collect(ctx, 0, 0)
		assert.ErrorIs(t, err, ErrAlreadyRunning)
	})
}

func TestBackfill(t *testing.T) {
	ctx := context.Background()

	storedPartial := func() (*fakeStore, *models.UnifiedSnapshot) {
		store := newFakeStore()
		bridge := 100.0
		prev := &models.UnifiedSnapshot{
			SettlementBlock: 1000,
			SettlementTs:    1700000000,
			SettlementTime:  time.Unix(1700000000, 0).UTC(),
			BridgeBalance:   &bridge,
		}
		prev.Completeness = prev.Score()
		store.snapshots[prev.SettlementTs] = prev
		return store, prev
	}

	t.Run("improves incomplete snapshots", func(t *testing.T) {
		store, prev := storedPartial()
		settlement := &fakeSettlement{balance: 200.0}
		c := newTestCollector(t, store, settlement, healthyLedger())

		res, err := c.Backfill(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Examined)
		assert.Equal(t, 1, res.Improved)
		assert.Equal(t, 1, res.Completed)

		snap, err := store.SnapshotAt(ctx, prev.SettlementTs)
		require.NoError(t, err)
		assert.Equal(t, 1.0, snap.Completeness)
		// fresh value wins over the stored one
		assert.Equal(t, 200.0, *snap.BridgeBalance)
	})

	t.Run("fresh null never erases stored data", func(t *testing.T) {
		store, prev := storedPartial()
		settlement := &fakeSettlement{balanceErr: errors.New("rpc down")}
		ledger := healthyLedger()
		c := newTestCollector(t, store, settlement, ledger)

		res, err := c.Backfill(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Improved)

		snap, err := store.SnapshotAt(ctx, prev.SettlementTs)
		require.NoError(t, err)
		// bridge balance survived from the stored row
		require.NotNil(t, snap.BridgeBalance)
		assert.Equal(t, 100.0, *snap.BridgeBalance)
		assert.Equal(t, 1.0, snap.Completeness)
	})

	t.Run("skips write when nothing improved", func(t *testing.T) {
		store, prev := storedPartial()
		settlement := &fakeSettlement{balanceErr: errors.New("rpc down")}
		ledger := healthyLedger()
		ledger.alignErr = rpc.ErrNotAligned
		c := newTestCollector(t, store, settlement, ledger)

		res, err := c.Backfill(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Examined)
		assert.Equal(t, 0, res.Improved)

		snap, err := store.SnapshotAt(ctx, prev.SettlementTs)
		require.NoError(t, err)
		assert.Same(t, prev, snap)
	})
}

func TestRerun(t *testing.T) {
	ctx := context.Background()

	t.Run("merges fresh data over stored row", func(t *testing.T) {
		store := newFakeStore()
		supply := 42.0
		prev := &models.UnifiedSnapshot{
			SettlementBlock:   1000,
			SettlementTs:      1700000000,
			SettlementTime:    time.Unix(1700000000, 0).UTC(),
			LedgerTotalSupply: &supply,
		}
		store.snapshots[prev.SettlementTs] = prev

		settlement := &fakeSettlement{balance: 300.0}
		ledger := healthyLedger()
		ledger.supplyErr = errors.New("supply down")
		c := newTestCollector(t, store, settlement, ledger)

		snap, err := c.Rerun(ctx, prev.SettlementTs)
		require.NoError(t, err)
		require.NotNil(t, snap.BridgeBalance)
		assert.Equal(t, 300.0, *snap.BridgeBalance)
		// failed supply fetch fell back to the stored value
		require.NotNil(t, snap.LedgerTotalSupply)
		assert.Equal(t, 42.0, *snap.LedgerTotalSupply)
	})

	t.Run("unknown timestamp", func(t *testing.T) {
		c := newTestCollector(t, newFakeStore(), &fakeSettlement{}, healthyLedger())
		_, err := c.Rerun(ctx, 123456)
		assert.ErrorIs(t, err, timelinedb.ErrNotFound)
	})
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.snapshots[1700000000] = &models.UnifiedSnapshot{SettlementTs: 1700000000}
	store.balances[1700000000] = []*models.AccountBalance{{Address: "tellor1aaa"}}
	c := newTestCollector(t, store, &fakeSettlement{}, healthyLedger())

	require.NoError(t, c.Remove(ctx, 1700000000))
	_, err := store.SnapshotAt(ctx, 1700000000)
	assert.ErrorIs(t, err, timelinedb.ErrNotFound)
	assert.Empty(t, store.balances[1700000000])

	assert.ErrorIs(t, c.Remove(ctx, 1700000000), timelinedb.ErrNotFound)
}

func TestRemoveAndRerun(t *testing.T) {
	ctx := context.Background()

	seed := func() *fakeStore {
		store := newFakeStore()
		bridge := 100.0
		store.snapshots[1700000000] = &models.UnifiedSnapshot{
			SettlementBlock: 1000,
			SettlementTs:    1700000000,
			SettlementTime:  time.Unix(1700000000, 0).UTC(),
			BridgeBalance:   &bridge,
			Completeness:    0.17,
		}
		return store
	}

	t.Run("rebuilds from scratch", func(t *testing.T) {
		store := seed()
		settlement := &fakeSettlement{balance: 777.0}
		c := newTestCollector(t, store, settlement, healthyLedger())

		snap, err := c.RemoveAndRerun(ctx, 1700000000)
		require.NoError(t, err)
		assert.Equal(t, 1.0, snap.Completeness)
		assert.Equal(t, 777.0, *snap.BridgeBalance)
	})

	t.Run("total failure leaves timestamp absent", func(t *testing.T) {
		store := seed()
		settlement := &fakeSettlement{balanceErr: errors.New("rpc down")}
		ledger := healthyLedger()
		ledger.alignErr = fmt.Errorf("%w: ledger down", rpc.ErrUnavailable)
		c := newTestCollector(t, store, settlement, ledger)

		_, err := c.RemoveAndRerun(ctx, 1700000000)
		assert.ErrorIs(t, err, ErrCollectionFailed)

		// the old row is gone and nothing replaced it
		_, err = store.SnapshotAt(ctx, 1700000000)
		assert.ErrorIs(t, err, timelinedb.ErrNotFound)
	})
}

func TestHasNearTimestamp(t *testing.T) {
	sorted := []uint64{100, 200, 300}

	assert.True(t, hasNearTimestamp(sorted, 200, 0))
	assert.True(t, hasNearTimestamp(sorted, 250, 60))
	assert.True(t, hasNearTimestamp(sorted, 40, 60))
	assert.False(t, hasNearTimestamp(sorted, 450, 60))
	assert.False(t, hasNearTimestamp(sorted, 150, 40))
	assert.False(t, hasNearTimestamp(nil, 100, 60))
}
