package timeline

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	models "github.com/tellor-io/supplyx/pkg/db/models/timeline"
)

// Store describes the timeline database operations required by the collector
// engine and the query service.
type Store interface {
	DatabaseName() string
	GetConnection() driver.Conn

	// --- Init

	InitializeDB(ctx context.Context) error

	// --- Snapshots

	UpsertSnapshot(ctx context.Context, s *models.UnifiedSnapshot) error
	SnapshotAt(ctx context.Context, ts uint64) (*models.UnifiedSnapshot, error)
	Range(ctx context.Context, startTs, endTs uint64, minCompleteness float64) ([]*models.UnifiedSnapshot, error)
	ListRecent(ctx context.Context, limit int) ([]*models.UnifiedSnapshot, error)
	ListIncomplete(ctx context.Context, limit int) ([]*models.UnifiedSnapshot, error)
	ExistingTimestamps(ctx context.Context, startTs, endTs uint64) ([]uint64, error)
	DeleteSnapshot(ctx context.Context, ts uint64) error

	// --- Balances

	ReplaceBalances(ctx context.Context, ts uint64, balances []*models.AccountBalance) error
	BalancesAt(ctx context.Context, ts uint64, accountType string, limit, offset int) ([]*models.AccountBalance, error)
	CountBalances(ctx context.Context, ts uint64) (uint64, error)
	BalanceBreakdown(ctx context.Context, ts uint64) ([]*BalanceTypeStat, error)

	// --- Aggregates

	Summary(ctx context.Context) (*Summary, error)

	Close() error
}

var _ Store = (*DB)(nil)
