package timeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	models "github.com/tellor-io/supplyx/pkg/db/models/timeline"
)

// initBalances initializes the per-address balance table. Rows are scoped to
// a snapshot by settlement_ts; the (settlement_ts, address) key dedupes
// repeated writes of the same address within one collection.
func (db *DB) initBalances(ctx context.Context) error {
	schemaSQL := models.ColumnsToSchemaSQL(models.BalanceColumns)

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."%s" (
			%s
		) ENGINE = ReplacingMergeTree(collected_at)
		ORDER BY (settlement_ts, address)
		SETTINGS index_granularity = 8192
	`, db.Name, models.BalanceTableName, schemaSQL)

	if err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", models.BalanceTableName, err)
	}
	return nil
}

// ReplaceBalances swaps the full balance set for a settlement timestamp:
// existing rows are deleted first so addresses that disappeared from the
// ledger do not linger from an earlier collection.
func (db *DB) ReplaceBalances(ctx context.Context, ts uint64, balances []*models.AccountBalance) error {
	deleteQuery := fmt.Sprintf(`DELETE FROM "%s"."%s" WHERE settlement_ts = ?`,
		db.Name, models.BalanceTableName)
	if err := db.Exec(ctx, deleteQuery, ts); err != nil {
		return fmt.Errorf("clear balances for %d: %w", ts, err)
	}

	if len(balances) == 0 {
		return nil
	}

	query := fmt.Sprintf(
		`INSERT INTO "%s"."%s" (settlement_ts, address, account_type, account_name, balance_raw, balance, collected_at) VALUES`,
		db.Name, models.BalanceTableName,
	)

	batch, err := db.PrepareBatch(ctx, query)
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	now := time.Now().UTC()
	for _, b := range balances {
		collectedAt := b.CollectedAt
		if collectedAt.IsZero() {
			collectedAt = now
		}
		if err = batch.Append(
			ts,
			b.Address,
			b.AccountType,
			b.AccountName,
			b.BalanceRaw,
			b.Balance,
			collectedAt,
		); err != nil {
			return err
		}
	}

	return batch.Send()
}

// BalancesAt returns balance rows for a settlement timestamp, largest first.
// accountType filters to a single type when non-empty.
func (db *DB) BalancesAt(ctx context.Context, ts uint64, accountType string, limit, offset int) ([]*models.AccountBalance, error) {
	query := fmt.Sprintf(`
		SELECT settlement_ts, address, account_type, account_name, balance_raw, balance, collected_at
		FROM "%s"."%s" FINAL
		WHERE settlement_ts = ?
	`, db.Name, models.BalanceTableName)

	args := []interface{}{ts}
	if accountType != "" {
		query += " AND account_type = ?"
		args = append(args, accountType)
	}
	query += " ORDER BY balance DESC, address ASC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var out []*models.AccountBalance
	if err := db.Select(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("query balances at %d: %w", ts, err)
	}
	return out, nil
}

// CountBalances returns the number of balance rows held for a settlement timestamp.
func (db *DB) CountBalances(ctx context.Context, ts uint64) (uint64, error) {
	query := fmt.Sprintf(`
		SELECT count()
		FROM "%s"."%s" FINAL
		WHERE settlement_ts = ?
	`, db.Name, models.BalanceTableName)

	var count uint64
	if err := db.QueryRow(ctx, query, ts).Scan(&count); err != nil {
		return 0, fmt.Errorf("count balances at %d: %w", ts, err)
	}
	return count, nil
}

// BalanceTypeStat aggregates balances by account type at one timestamp.
type BalanceTypeStat struct {
	AccountType string  `ch:"account_type" json:"account_type"`
	Addresses   uint64  `ch:"addresses" json:"addresses"`
	Total       float64 `ch:"total" json:"total"`
}

// BalanceBreakdown summarizes the balance set per account type.
func (db *DB) BalanceBreakdown(ctx context.Context, ts uint64) ([]*BalanceTypeStat, error) {
	query := fmt.Sprintf(`
		SELECT
			account_type,
			count() AS addresses,
			sum(balance) AS total
		FROM "%s"."%s" FINAL
		WHERE settlement_ts = ?
		GROUP BY account_type
		ORDER BY total DESC
	`, db.Name, models.BalanceTableName)

	var out []*BalanceTypeStat
	if err := db.Select(ctx, &out, query, ts); err != nil {
		return nil, fmt.Errorf("query balance breakdown at %d: %w", ts, err)
	}
	return out, nil
}
