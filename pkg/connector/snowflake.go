// pkg/connector/snowflake.go
package connector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sf "github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"

	"github.com/David-Botos/engagement-pipeline/pkg/config"
)

// SnowflakeConnector implements the DatabaseConnector interface for Snowflake
type SnowflakeConnector struct {
	sqlConnector
	cfg *config.SnowflakeConfig
}

// NewSnowflakeConnector creates a new Snowflake connection
func NewSnowflakeConnector(ctx context.Context, cfg *config.SnowflakeConfig) (*SnowflakeConnector, error) {
	logger := zap.L().Named("snowflake-connector")

	// Create DSN using Snowflake's DSN builder
	sfConfig := &sf.Config{
		Account:       cfg.Account,
		User:          cfg.User,
		Password:      cfg.Password,
		Database:      cfg.Database,
		Schema:        cfg.Schema,
		Warehouse:     cfg.Warehouse,
		Role:          cfg.Role,
		Authenticator: cfg.Authenticator,
	}

	// Log connection attempt (without credentials)
	logger.Info("Connecting to Snowflake",
		zap.String("account", cfg.Account),
		zap.String("user", cfg.User),
		zap.String("database", cfg.Database),
		zap.String("warehouse", cfg.Warehouse),
		zap.String("role", cfg.Role))

	dsn, err := sf.DSN(sfConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to build Snowflake DSN: %w", err)
	}

	// Open connection pool
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Snowflake connection: %w", err)
	}

	// Configure connection pool
	ApplyConnectionSettings(
		db,
		cfg.MaxOpenConns,
		cfg.MaxIdleConns,
		cfg.ConnMaxLifetime,
		cfg.ConnMaxIdleTime,
	)

	// Verify connection
	if err := PingWithTimeout(ctx, db, 10*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to Snowflake: %w", err)
	}

	// Set query timeout if configured
	if cfg.QueryTimeout > 0 {
		_, err = db.ExecContext(
			ctx,
			fmt.Sprintf("ALTER SESSION SET STATEMENT_TIMEOUT_IN_SECONDS = %d",
				int(cfg.QueryTimeout.Seconds())),
		)
		if err != nil {
			logger.Warn("Failed to set statement timeout", zap.Error(err))
		}
	}

	connector := &SnowflakeConnector{
		sqlConnector: sqlConnector{
			db:     db,
			driver: "snowflake",
			name:   cfg.Database,
			logger: logger,
		},
		cfg: cfg,
	}

	LogConnectionStats(logger, cfg.Database, db)
	return connector, nil
}

// Validate verifies the Snowflake connection and access rights
func (c *SnowflakeConnector) Validate(ctx context.Context) error {
	var role, database, warehouse sql.NullString
	err := c.db.QueryRowContext(ctx, "SELECT CURRENT_ROLE(), CURRENT_DATABASE(), CURRENT_WAREHOUSE()").Scan(
		&role, &database, &warehouse)
	if err != nil {
		return fmt.Errorf("failed to verify Snowflake access: %w", err)
	}

	c.logger.Info("Connected to Snowflake",
		zap.String("role", role.String),
		zap.String("database", database.String),
		zap.String("warehouse", warehouse.String))

	// Verify we're connected to the correct database
	if c.cfg.Database != "" && !strings.EqualFold(database.String, c.cfg.Database) {
		return fmt.Errorf("connected to wrong database: %s (expected: %s)",
			database.String, c.cfg.Database)
	}

	return nil
}

// BatchQuery fetches data in batches to handle large result sets.
// The query must have a deterministic ORDER BY for paging to be stable.
// onColumns, when set, receives the result columns of every page, including
// an empty one.
func (c *SnowflakeConnector) BatchQuery(
	ctx context.Context,
	query string,
	batchSize int,
	onColumns func([]string) error,
	processor func(*sql.Rows) error,
) error {
	// Set default batch size if not provided
	if batchSize <= 0 {
		batchSize = 10000
	}

	offset := 0
	for {
		batchQuery := fmt.Sprintf("%s LIMIT %d OFFSET %d", query, batchSize, offset)
		rowCount, err := c.processBatch(ctx, batchQuery, onColumns, processor)
		if err != nil {
			return fmt.Errorf("batch query failed at offset %d: %w", offset, err)
		}

		// If fewer rows than batch size were returned, we're done
		if rowCount < batchSize {
			break
		}

		// Move to next batch
		offset += batchSize
	}

	return nil
}

func (c *SnowflakeConnector) processBatch(
	ctx context.Context,
	query string,
	onColumns func([]string) error,
	processor func(*sql.Rows) error,
) (int, error) {
	timeout := c.cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	rows, cancel, err := c.QueryWithTimeout(ctx, query, timeout)
	if err != nil {
		return 0, err
	}
	defer cancel()
	defer rows.Close()

	if onColumns != nil {
		cols, err := rows.Columns()
		if err != nil {
			return 0, fmt.Errorf("failed to get columns: %w", err)
		}
		if err := onColumns(cols); err != nil {
			return 0, err
		}
	}

	rowCount := 0
	for rows.Next() {
		rowCount++
		if err := processor(rows); err != nil {
			return rowCount, fmt.Errorf("row processing failed: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return rowCount, fmt.Errorf("error iterating rows: %w", err)
	}
	return rowCount, nil
}
