// pkg/connector/factory.go
package connector

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/David-Botos/engagement-pipeline/pkg/config"
)

// ConnectorFactory creates database connectors
type ConnectorFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewConnectorFactory creates a new connector factory
func NewConnectorFactory(cfg *config.Config, logger *zap.Logger) *ConnectorFactory {
	return &ConnectorFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateStoreConnector creates the connector for the relational store selected by DB_DRIVER
func (f *ConnectorFactory) CreateStoreConnector(ctx context.Context) (DatabaseConnector, error) {
	if f.cfg.Store == nil {
		return nil, errors.New("store configuration is missing")
	}

	f.logger.Info("Creating store connector", zap.String("driver", f.cfg.Store.Driver))

	var (
		conn DatabaseConnector
		err  error
	)
	switch f.cfg.Store.Driver {
	case config.DriverPostgres:
		conn, err = NewPostgresConnector(ctx, f.cfg.Store)
	case config.DriverSQLite:
		conn, err = NewSQLiteConnectorFromConfig(ctx, f.cfg.Store)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", f.cfg.Store.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create store connector: %w", err)
	}

	if err := conn.Validate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store connection validation failed: %w", err)
	}

	return conn, nil
}

// CreateSnowflakeConnector creates a new Snowflake connector for the raw feed
func (f *ConnectorFactory) CreateSnowflakeConnector(ctx context.Context) (*SnowflakeConnector, error) {
	if f.cfg.Snowflake == nil {
		return nil, errors.New("snowflake configuration is missing")
	}

	f.logger.Info("Creating Snowflake connector")

	connector, err := NewSnowflakeConnector(ctx, f.cfg.Snowflake)
	if err != nil {
		return nil, fmt.Errorf("failed to create Snowflake connector: %w", err)
	}

	return connector, nil
}
