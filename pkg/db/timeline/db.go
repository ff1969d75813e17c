package timeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/tellor-io/supplyx/pkg/db/clickhouse"
	"github.com/tellor-io/supplyx/pkg/utils"
	"go.uber.org/zap"
)

// ErrNotFound is returned when an operation targets a settlement timestamp
// that has no snapshot.
var ErrNotFound = errors.New("snapshot not found")

// DB is the ClickHouse-backed timeline store. It owns the unified snapshot
// table and its per-address balance table. It implements Store.
type DB struct {
	clickhouse.Client
	Name string
}

// New connects to ClickHouse and ensures the timeline database and tables
// exist. The database name comes from CLICKHOUSE_DB.
func New(ctx context.Context, logger *zap.Logger) (*DB, error) {
	dbName := clickhouse.SanitizeName(utils.Env("CLICKHOUSE_DB", "supplyx"))

	client, err := clickhouse.New(ctx, logger.With(zap.String("db", dbName)), dbName)
	if err != nil {
		return nil, err
	}

	db := &DB{
		Client: client,
		Name:   dbName,
	}

	if err := db.InitializeDB(ctx); err != nil {
		return nil, err
	}

	return db, nil
}

// InitializeDB creates the database and both timeline tables if they do not
// already exist.
func (db *DB) InitializeDB(ctx context.Context) error {
	if err := db.CreateDbIfNotExists(ctx, db.Name); err != nil {
		return fmt.Errorf("failed to create database %s: %w", db.Name, err)
	}

	if err := db.initSnapshots(ctx); err != nil {
		return fmt.Errorf("init snapshots: %w", err)
	}
	if err := db.initBalances(ctx); err != nil {
		return fmt.Errorf("init balances: %w", err)
	}

	db.Logger.Info("Timeline database initialized", zap.String("database", db.Name))
	return nil
}

// Close terminates the underlying ClickHouse connection.
func (db *DB) Close() error {
	return db.Db.Close()
}

// GetConnection exposes the raw driver connection, mainly for tests.
func (db *DB) GetConnection() driver.Conn {
	return db.Db
}

// DatabaseName returns the ClickHouse database backing this store.
func (db *DB) DatabaseName() string {
	return db.Name
}
