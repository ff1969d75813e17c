// Package collector builds unified supply snapshots: it samples settlement
// chain blocks, resolves the nearest ledger block for each, gathers the
// supply, staking and account metrics from both chains, scores completeness,
// and upserts the result into the timeline store.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/tellor-io/supplyx/pkg/db/timeline"
	"github.com/tellor-io/supplyx/pkg/evm"
	"github.com/tellor-io/supplyx/pkg/rpc"
	"github.com/tellor-io/supplyx/pkg/utils"
	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned when a collect or backfill run is requested
// while another one holds the guard. Runs are serialized: two concurrent
// writers would race on the skip-existing check.
var ErrAlreadyRunning = errors.New("operation already running")

// SettlementClient is the settlement-chain surface the collector needs.
// Implemented by *evm.Client.
type SettlementClient interface {
	SampleBlocks(ctx context.Context, window, interval time.Duration) ([]evm.BlockRef, error)
	HeaderAt(ctx context.Context, number uint64) (evm.BlockRef, error)
	BridgeBalance(ctx context.Context, blockNumber uint64) (float64, error)
}

// LedgerClient is the ledger-chain surface the collector needs.
// Implemented by *rpc.Client.
type LedgerClient interface {
	NearestBlock(ctx context.Context, target time.Time) (*rpc.Block, error)
	TotalSupply(ctx context.Context, height uint64) (*rpc.Supply, error)
	StakingPool(ctx context.Context, height uint64) (*rpc.StakingPool, error)
	TotalReporterPower(ctx context.Context, height uint64) (float64, error)
	Accounts(ctx context.Context, height uint64) ([]*rpc.Account, error)
	BalanceOf(ctx context.Context, address string, height uint64) (uint64, error)
	ToDecimal(raw uint64) float64
}

// Locker guards a run across processes. Optional; the in-process guard is
// always active. Implemented by *redis.Client.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// Config tunes the collection runs. Zero values fall back to defaults.
type Config struct {
	// Window is how far back a collect run samples.
	Window time.Duration
	// Interval is the spacing between sampled settlement blocks.
	Interval time.Duration
	// MaxPoints caps new snapshots per collect run.
	MaxPoints int
	// BackfillLimit caps snapshots re-examined per backfill run.
	BackfillLimit int
	// ProximitySkip treats a sample as already covered when a stored
	// timestamp lies within this distance.
	ProximitySkip time.Duration
	// BalanceWorkers is the parallelism of per-address balance fetches.
	BalanceWorkers int
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 24 * time.Hour
	}
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.MaxPoints <= 0 {
		c.MaxPoints = 50
	}
	if c.BackfillLimit <= 0 {
		c.BackfillLimit = 20
	}
	if c.ProximitySkip <= 0 {
		c.ProximitySkip = time.Minute
	}
	if c.BalanceWorkers <= 0 {
		c.BalanceWorkers = 8
	}
	return c
}

// ConfigFromEnv builds a Config from environment variables.
func ConfigFromEnv() Config {
	return Config{
		Window:         time.Duration(utils.EnvInt("COLLECT_HOURS_BACK", 24)) * time.Hour,
		Interval:       time.Duration(utils.EnvInt("COLLECT_INTERVAL_SECONDS", 3600)) * time.Second,
		MaxPoints:      utils.EnvInt("COLLECT_MAX_POINTS", 50),
		BackfillLimit:  utils.EnvInt("BACKFILL_LIMIT", 20),
		BalanceWorkers: utils.EnvInt("COLLECT_BALANCE_WORKERS", 8),
	}
}

// Collector orchestrates snapshot collection against both chains and the store.
type Collector struct {
	Logger     *zap.Logger
	Store      timeline.Store
	Settlement SettlementClient
	Ledger     LedgerClient

	// Publisher receives snapshot events when set.
	Publisher Publisher
	// Lock is the optional cross-process run lock.
	Lock Locker

	cfg     Config
	pool    pond.Pool
	running *xsync.Map[string, time.Time]
}

// New builds a Collector. Publisher and Lock may be nil.
func New(logger *zap.Logger, store timeline.Store, settlement SettlementClient, ledger LedgerClient, cfg Config) *Collector {
	cfg = cfg.withDefaults()
	return &Collector{
		Logger:     logger,
		Store:      store,
		Settlement: settlement,
		Ledger:     ledger,
		cfg:        cfg,
		pool:       pond.NewPool(cfg.BalanceWorkers + 2),
		running:    xsync.NewMap[string, time.Time](),
	}
}

// Config returns the effective configuration.
func (c *Collector) Config() Config {
	return c.cfg
}

// Running reports the operations currently holding the run guard.
func (c *Collector) Running() map[string]time.Time {
	out := map[string]time.Time{}
	c.running.Range(func(op string, since time.Time) bool {
		out[op] = since
		return true
	})
	return out
}

// Stop releases the worker pool.
func (c *Collector) Stop() {
	c.pool.StopAndWait()
}

const lockTTL = 30 * time.Minute

// tryLock takes the in-process guard and, when configured, the cross-process
// lock. Each operation has its own guard key; the admin reruns share "rerun".
func (c *Collector) tryLock(ctx context.Context, op string) (func(), error) {
	if _, loaded := c.running.LoadOrStore(op, time.Now().UTC()); loaded {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, op)
	}

	release := func() { c.running.Delete(op) }

	if c.Lock != nil {
		ok, err := c.Lock.AcquireLock(ctx, op, lockTTL)
		if err != nil {
			release()
			return nil, fmt.Errorf("acquire %s lock: %w", op, err)
		}
		if !ok {
			release()
			return nil, fmt.Errorf("%w: %s (held elsewhere)", ErrAlreadyRunning, op)
		}
		inner := release
		release = func() {
			if err := c.Lock.ReleaseLock(context.WithoutCancel(ctx), op); err != nil {
				c.Logger.Warn("Failed to release run lock", zap.String("op", op), zap.Error(err))
			}
			inner()
		}
	}

	return release, nil
}
