package timeline

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tellor-io/supplyx/pkg/db/clickhouse"
	models "github.com/tellor-io/supplyx/pkg/db/models/timeline"
	"go.uber.org/zap/zaptest"
)

// execRecorder is a driver.Conn that records executed statements and can
// fail the one matching failOn. Anything it does not implement panics.
type execRecorder struct {
	driver.Conn
	execs  []string
	failOn string
	rowErr error
}

func (c *execRecorder) Exec(_ context.Context, query string, _ ...any) error {
	c.execs = append(c.execs, query)
	if c.failOn != "" && strings.Contains(query, c.failOn) {
		return errors.New("connection reset")
	}
	return nil
}

func (c *execRecorder) QueryRow(context.Context, string, ...any) driver.Row {
	return stubRow{err: c.rowErr}
}

type stubRow struct {
	err error
}

func (r stubRow) Err() error { return r.err }

func (r stubRow) Scan(...any) error { return r.err }

func (r stubRow) ScanStruct(any) error { return r.err }

func newRecordedDB(t *testing.T, rec *execRecorder) *DB {
	t.Helper()
	return &DB{
		Client: clickhouse.Client{Logger: zaptest.NewLogger(t), Db: rec},
		Name:   "supplyx_test",
	}
}

func TestDeleteSnapshot(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes balances before the snapshot", func(t *testing.T) {
		rec := &execRecorder{}
		db := newRecordedDB(t, rec)

		require.NoError(t, db.DeleteSnapshot(ctx, 1700000000))
		require.Len(t, rec.execs, 2)
		assert.Contains(t, rec.execs[0], models.BalanceTableName)
		assert.Contains(t, rec.execs[1], models.SnapshotTableName)
	})

	t.Run("keeps the snapshot when the balance delete fails", func(t *testing.T) {
		rec := &execRecorder{failOn: models.BalanceTableName}
		db := newRecordedDB(t, rec)

		err := db.DeleteSnapshot(ctx, 1700000000)
		require.Error(t, err)
		// the snapshot delete never ran, so the row stays re-collectable
		require.Len(t, rec.execs, 1)
		assert.Contains(t, rec.execs[0], models.BalanceTableName)
	})

	t.Run("unknown timestamp", func(t *testing.T) {
		rec := &execRecorder{rowErr: sql.ErrNoRows}
		db := newRecordedDB(t, rec)

		assert.ErrorIs(t, db.DeleteSnapshot(ctx, 123456), ErrNotFound)
		assert.Empty(t, rec.execs)
	})
}
