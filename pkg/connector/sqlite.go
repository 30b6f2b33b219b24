// pkg/connector/sqlite.go
package connector

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/David-Botos/engagement-pipeline/pkg/config"
)

// SQLiteDriver is the database/sql driver name registered by modernc.org/sqlite
const SQLiteDriver = "sqlite"

// SQLiteConnector implements the DatabaseConnector interface for a local SQLite file
type SQLiteConnector struct {
	sqlConnector
}

// NewSQLiteConnector opens the SQLite database at path. ":memory:" gives a
// private in-memory database.
func NewSQLiteConnector(ctx context.Context, path string) (*SQLiteConnector, error) {
	logger := zap.L().Named("sqlite-connector")
	logger.Info("Opening SQLite database", zap.String("path", path))

	db, err := sql.Open(SQLiteDriver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite allows a single writer; one connection also keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	if err := PingWithTimeout(ctx, db, 5*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA foreign_keys = ON"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return &SQLiteConnector{
		sqlConnector: sqlConnector{
			db:     db,
			driver: SQLiteDriver,
			name:   path,
			logger: logger,
		},
	}, nil
}

// NewSQLiteConnectorFromConfig opens the database named by the store configuration
func NewSQLiteConnectorFromConfig(ctx context.Context, cfg *config.StoreConfig) (*SQLiteConnector, error) {
	return NewSQLiteConnector(ctx, cfg.SQLitePath)
}

// Validate verifies the SQLite connection can create tables
func (c *SQLiteConnector) Validate(ctx context.Context) error {
	var version string
	if err := c.db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err != nil {
		return fmt.Errorf("failed to query SQLite version: %w", err)
	}

	for _, stmt := range []string{"CREATE TEMP TABLE _permission_check (test TEXT)", "DROP TABLE _permission_check"} {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("permission validation failed: %w", err)
		}
	}

	c.logger.Info("SQLite connection validated", zap.String("version", version), zap.String("path", c.name))
	return nil
}
