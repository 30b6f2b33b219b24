// pkg/config/database.go
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/snowflakedb/gosnowflake"
)

// Supported relational store drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// StoreConfig holds the relational store connection parameters
type StoreConfig struct {
	Driver     string `yaml:"driver"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	Database   string `yaml:"database"`
	SSLMode    string `yaml:"sslmode"`
	SQLitePath string `yaml:"sqlite_path"`

	// Table names
	CleanedTable     string `yaml:"cleaned_table"`
	PredictionsTable string `yaml:"predictions_table"`
	RunsTable        string `yaml:"runs_table"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`

	// Statement timeout
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

// SnowflakeConfig holds Snowflake connection parameters for the raw feed
type SnowflakeConfig struct {
	User          string               `yaml:"user"`
	Password      string               `yaml:"password"`
	Account       string               `yaml:"account"`
	Warehouse     string               `yaml:"warehouse"`
	Database      string               `yaml:"database"`
	Schema        string               `yaml:"schema"`
	Role          string               `yaml:"role"`
	Authenticator gosnowflake.AuthType `yaml:"-"`
	AuthName      string               `yaml:"authenticator"`
	RawQuery      string               `yaml:"raw_query"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`

	// Query timeout
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// DefaultStoreConfig returns the store defaults
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		Driver:           DriverPostgres,
		Host:             "localhost",
		Port:             5432,
		SSLMode:          "disable",
		SQLitePath:       "engagement.db",
		CleanedTable:     "social_media_data",
		PredictionsTable: "engagement_predictions",
		RunsTable:        "pipeline_runs",
		MaxOpenConns:     10,
		MaxIdleConns:     5,
		ConnMaxLifetime:  30 * time.Minute,
		ConnMaxIdleTime:  10 * time.Minute,
		StatementTimeout: 5 * time.Minute,
	}
}

// DefaultSnowflakeConfig returns the Snowflake defaults
func DefaultSnowflakeConfig() *SnowflakeConfig {
	return &SnowflakeConfig{
		AuthName:        "snowflake",
		Authenticator:   gosnowflake.AuthTypeSnowflake,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 10 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		QueryTimeout:    5 * time.Minute,
	}
}

func (c *StoreConfig) applyEnv() {
	c.Driver = getEnv("DB_DRIVER", c.Driver)
	c.Host = getEnv("DB_HOST", c.Host)
	c.Port = getEnvAsInt("DB_PORT", c.Port)
	c.User = getEnv("DB_USER", c.User)
	c.Password = getEnv("DB_PASSWORD", c.Password)
	c.Database = getEnv("DB_NAME", c.Database)
	c.SSLMode = getEnv("DB_SSLMODE", c.SSLMode)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)

	c.CleanedTable = getEnv("CLEANED_TABLE", c.CleanedTable)
	c.PredictionsTable = getEnv("PREDICTIONS_TABLE", c.PredictionsTable)
	c.RunsTable = getEnv("RUNS_TABLE", c.RunsTable)

	c.MaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", c.MaxOpenConns)
	c.MaxIdleConns = getEnvAsInt("DB_MAX_IDLE_CONNS", c.MaxIdleConns)
	c.ConnMaxLifetime = time.Duration(getEnvAsInt("DB_CONN_MAX_LIFETIME_SECONDS", int(c.ConnMaxLifetime.Seconds()))) * time.Second
	c.StatementTimeout = time.Duration(getEnvAsInt("DB_STATEMENT_TIMEOUT_SECONDS", int(c.StatementTimeout.Seconds()))) * time.Second
}

func (c *SnowflakeConfig) applyEnv() {
	c.User = getEnv("SNOWFLAKE_USER", c.User)
	c.Password = getEnv("SNOWFLAKE_PASSWORD", c.Password)
	c.Account = getEnv("SNOWFLAKE_ACCOUNT", c.Account)
	c.Warehouse = getEnv("SNOWFLAKE_WAREHOUSE", c.Warehouse)
	c.Database = getEnv("SNOWFLAKE_DATABASE", c.Database)
	c.Schema = getEnv("SNOWFLAKE_SCHEMA", c.Schema)
	c.Role = getEnv("SNOWFLAKE_ROLE", c.Role)
	c.RawQuery = getEnv("SNOWFLAKE_RAW_QUERY", c.RawQuery)
	c.AuthName = getEnv("SNOWFLAKE_AUTHENTICATOR", c.AuthName)
	c.Authenticator = parseAuthenticator(c.AuthName)

	c.MaxOpenConns = getEnvAsInt("SNOWFLAKE_MAX_OPEN_CONNS", c.MaxOpenConns)
	c.MaxIdleConns = getEnvAsInt("SNOWFLAKE_MAX_IDLE_CONNS", c.MaxIdleConns)
	c.QueryTimeout = time.Duration(getEnvAsInt("SNOWFLAKE_QUERY_TIMEOUT_SECONDS", int(c.QueryTimeout.Seconds()))) * time.Second
}

// Convert authenticator string to proper type
func parseAuthenticator(name string) gosnowflake.AuthType {
	switch name {
	case "oauth":
		return gosnowflake.AuthTypeOAuth
	case "externalbrowser":
		return gosnowflake.AuthTypeExternalBrowser
	case "username_password_mfa":
		return gosnowflake.AuthTypeUsernamePasswordMFA
	case "jwt":
		return gosnowflake.AuthTypeJwt
	case "token":
		return gosnowflake.AuthTypeTokenAccessor
	case "okta":
		return gosnowflake.AuthTypeOkta
	default:
		return gosnowflake.AuthTypeSnowflake
	}
}

// Validate checks the store parameters required by the selected driver
func (c *StoreConfig) Validate() error {
	switch c.Driver {
	case DriverPostgres:
		if c.User == "" {
			return errors.New("DB_USER environment variable is required")
		}
		if c.Database == "" {
			return errors.New("DB_NAME environment variable is required")
		}
		if c.Host == "" || c.Port <= 0 {
			return errors.New("DB_HOST and a positive DB_PORT are required")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported store driver %q", c.Driver)
	}

	if c.CleanedTable == "" || c.PredictionsTable == "" || c.RunsTable == "" {
		return errors.New("cleaned, predictions and runs table names are required")
	}
	if c.CleanedTable == c.PredictionsTable {
		return errors.New("cleaned and predictions tables must differ")
	}
	return nil
}

// Validate checks the Snowflake parameters
func (c *SnowflakeConfig) Validate() error {
	if c.User == "" {
		return errors.New("SNOWFLAKE_USER environment variable is required")
	}
	if c.Password == "" && c.Authenticator == gosnowflake.AuthTypeSnowflake {
		return errors.New("SNOWFLAKE_PASSWORD environment variable is required")
	}
	if c.Account == "" {
		return errors.New("SNOWFLAKE_ACCOUNT environment variable is required")
	}
	if c.Warehouse == "" {
		return errors.New("SNOWFLAKE_WAREHOUSE environment variable is required")
	}
	if c.RawQuery == "" {
		return errors.New("SNOWFLAKE_RAW_QUERY environment variable is required")
	}
	return nil
}

// ConnectionString returns the DSN for the configured driver
func (c *StoreConfig) ConnectionString() string {
	if c.Driver == DriverSQLite {
		return c.SQLitePath
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Database,
		c.SSLMode,
	)
}

// ConnectionString returns a formatted Snowflake DSN
func (c *SnowflakeConfig) ConnectionString() string {
	dsn := fmt.Sprintf("%s:%s@%s/%s?warehouse=%s&authenticator=%s",
		c.User,
		c.Password,
		c.Account,
		c.Database,
		c.Warehouse,
		c.Authenticator,
	)

	if c.Schema != "" {
		dsn += "&schema=" + c.Schema
	}
	if c.Role != "" {
		dsn += "&role=" + c.Role
	}

	return dsn
}
