package timeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/tellor-io/supplyx/pkg/db/clickhouse"
	models "github.com/tellor-io/supplyx/pkg/db/models/timeline"
)

const snapshotFields = `settlement_block, settlement_ts, settlement_time,
		       bridge_balance, ledger_height, ledger_ts, ledger_total_supply,
		       bonded_tokens, not_bonded_tokens, total_reporter_power,
		       total_addresses, addresses_with_balance, total_balance,
		       completeness, collected_at`

// initSnapshots initializes the unified snapshot table. ReplacingMergeTree on
// collected_at keyed by settlement_ts gives upsert semantics: re-collecting a
// timestamp replaces the row once merges run, and reads use FINAL so callers
// never see the superseded version.
func (db *DB) initSnapshots(ctx context.Context) error {
	schemaSQL := models.ColumnsToSchemaSQL(models.SnapshotColumns)

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."%s" (
			%s,
			INDEX idx_completeness completeness TYPE minmax GRANULARITY 8192
		) ENGINE = ReplacingMergeTree(collected_at)
		ORDER BY settlement_ts
		SETTINGS index_granularity = 8192
	`, db.Name, models.SnapshotTableName, schemaSQL)

	if err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", models.SnapshotTableName, err)
	}
	return nil
}

// UpsertSnapshot writes a snapshot row. An existing row at the same
// settlement_ts is superseded, never duplicated.
func (db *DB) UpsertSnapshot(ctx context.Context, s *models.UnifiedSnapshot) error {
	if s.CollectedAt.IsZero() {
		s.CollectedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`INSERT INTO "%s"."%s" (%s) VALUES`,
		db.Name, models.SnapshotTableName, snapshotFields)

	batch, err := db.PrepareBatch(ctx, query)
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	if err = batch.Append(
		s.SettlementBlock,
		s.SettlementTs,
		s.SettlementTime,
		s.BridgeBalance,
		s.LedgerHeight,
		s.LedgerTs,
		s.LedgerTotalSupply,
		s.BondedTokens,
		s.NotBondedTokens,
		s.TotalReporterPower,
		s.TotalAddresses,
		s.AddressesWithBalance,
		s.TotalBalance,
		s.Completeness,
		s.CollectedAt,
	); err != nil {
		return err
	}

	return batch.Send()
}

// SnapshotAt returns the snapshot for the exact settlement timestamp, or
// ErrNotFound.
func (db *DB) SnapshotAt(ctx context.Context, ts uint64) (*models.UnifiedSnapshot, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM "%s"."%s" FINAL
		WHERE settlement_ts = ?
		LIMIT 1
	`, snapshotFields, db.Name, models.SnapshotTableName)

	var s models.UnifiedSnapshot
	err := db.QueryRow(ctx, query, ts).Scan(
		&s.SettlementBlock,
		&s.SettlementTs,
		&s.SettlementTime,
		&s.BridgeBalance,
		&s.LedgerHeight,
		&s.LedgerTs,
		&s.LedgerTotalSupply,
		&s.BondedTokens,
		&s.NotBondedTokens,
		&s.TotalReporterPower,
		&s.TotalAddresses,
		&s.AddressesWithBalance,
		&s.TotalBalance,
		&s.Completeness,
		&s.CollectedAt,
	)
	if err != nil {
		if clickhouse.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query snapshot at %d: %w", ts, err)
	}

	return &s, nil
}

// Range returns snapshots with settlement_ts in [startTs, endTs] and
// completeness >= minCompleteness, newest first.
func (db *DB) Range(ctx context.Context, startTs, endTs uint64, minCompleteness float64) ([]*models.UnifiedSnapshot, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM "%s"."%s" FINAL
		WHERE settlement_ts >= ? AND settlement_ts <= ? AND completeness >= ?
		ORDER BY settlement_ts DESC
	`, snapshotFields, db.Name, models.SnapshotTableName)

	var out []*models.UnifiedSnapshot
	if err := db.Select(ctx, &out, query, startTs, endTs, minCompleteness); err != nil {
		return nil, fmt.Errorf("query snapshot range: %w", err)
	}
	return out, nil
}

// ListRecent returns the newest snapshots, newest first.
func (db *DB) ListRecent(ctx context.Context, limit int) ([]*models.UnifiedSnapshot, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM "%s"."%s" FINAL
		ORDER BY settlement_ts DESC
		LIMIT ?
	`, snapshotFields, db.Name, models.SnapshotTableName)

	var out []*models.UnifiedSnapshot
	if err := db.Select(ctx, &out, query, limit); err != nil {
		return nil, fmt.Errorf("query recent snapshots: %w", err)
	}
	return out, nil
}

// ListIncomplete returns snapshots with completeness < 1.0, worst first, ties
// broken by age so the oldest gaps are repaired before newer ones.
func (db *DB) ListIncomplete(ctx context.Context, limit int) ([]*models.UnifiedSnapshot, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM "%s"."%s" FINAL
		WHERE completeness < 1.0
		ORDER BY completeness ASC, settlement_ts ASC
		LIMIT ?
	`, snapshotFields, db.Name, models.SnapshotTableName)

	var out []*models.UnifiedSnapshot
	if err := db.Select(ctx, &out, query, limit); err != nil {
		return nil, fmt.Errorf("query incomplete snapshots: %w", err)
	}
	return out, nil
}

// ExistingTimestamps returns the settlement timestamps already stored within
// [startTs, endTs], ascending. Collection uses this to skip covered points.
func (db *DB) ExistingTimestamps(ctx context.Context, startTs, endTs uint64) ([]uint64, error) {
	query := fmt.Sprintf(`
		SELECT settlement_ts
		FROM "%s"."%s" FINAL
		WHERE settlement_ts >= ? AND settlement_ts <= ?
		ORDER BY settlement_ts ASC
	`, db.Name, models.SnapshotTableName)

	rows, err := db.Query(ctx, query, startTs, endTs)
	if err != nil {
		return nil, fmt.Errorf("query existing timestamps: %w", err)
	}
	defer rows.Close()

	var out []uint64
	for rows.Next() {
		var ts uint64
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// DeleteSnapshot removes the snapshot at the given settlement timestamp and
// its balance rows. Balance rows go first: failing midway then leaves a
// snapshot that re-collection can repair, never balances without a parent.
// Returns ErrNotFound when no snapshot exists.
func (db *DB) DeleteSnapshot(ctx context.Context, ts uint64) error {
	if _, err := db.SnapshotAt(ctx, ts); err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM "%s"."%s" WHERE settlement_ts = ?`,
		db.Name, models.BalanceTableName)
	if err := db.Exec(ctx, query, ts); err != nil {
		return fmt.Errorf("delete balances for %d: %w", ts, err)
	}

	query = fmt.Sprintf(`DELETE FROM "%s"."%s" WHERE settlement_ts = ?`,
		db.Name, models.SnapshotTableName)
	if err := db.Exec(ctx, query, ts); err != nil {
		return fmt.Errorf("delete snapshot %d: %w", ts, err)
	}

	return nil
}
