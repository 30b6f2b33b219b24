// pkg/converter/converter.go
package converter

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/David-Botos/engagement-pipeline/pkg/model"
)

// Dialect identifies the SQL flavour of the relational store
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DialectForDriver maps a database/sql driver name to its dialect
func DialectForDriver(driverName string) (Dialect, error) {
	switch strings.ToLower(driverName) {
	case "pgx", "postgres", "postgresql":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported driver for relational store: %s", driverName)
	}
}

// TypeConverter handles mapping and conversion of column kinds and values
type TypeConverter struct {
	logger  *zap.Logger
	dialect Dialect
}

// NewTypeConverter creates a new TypeConverter for the given dialect
func NewTypeConverter(logger *zap.Logger, dialect Dialect) *TypeConverter {
	return &TypeConverter{
		logger:  logger,
		dialect: dialect,
	}
}

// Dialect returns the dialect the converter generates SQL for
func (c *TypeConverter) Dialect() Dialect {
	return c.dialect
}

// SQLType maps a column kind to the store's column type
func (c *TypeConverter) SQLType(kind model.ColumnKind) string {
	switch kind {
	case model.KindNumeric:
		if c.dialect == DialectSQLite {
			return "REAL"
		}
		return "DOUBLE PRECISION"
	case model.KindDate:
		return "TIMESTAMP"
	case model.KindText:
		return "TEXT"
	default:
		c.logger.Warn("Unknown column kind encountered, mapping to TEXT",
			zap.String("kind", kind.String()))
		return "TEXT"
	}
}

// GenerateColumnDefinitions creates column definitions for a cleaned table
func (c *TypeConverter) GenerateColumnDefinitions(metadata *model.TableMetadata) ([]string, error) {
	if metadata == nil || len(metadata.Columns) == 0 {
		return nil, fmt.Errorf("table metadata has no columns")
	}

	definitions := make([]string, 0, len(metadata.Columns)+1)
	seen := make(map[string]bool, len(metadata.Columns))

	for _, col := range metadata.Columns {
		key := strings.ToLower(col.Name)
		if seen[key] {
			return nil, fmt.Errorf("duplicate column name %q", col.Name)
		}
		seen[key] = true

		if col.IsRecordID() {
			definitions = append(definitions, fmt.Sprintf("%s TEXT NOT NULL", QuoteIdentifier(col.Name)))
			continue
		}

		definitions = append(definitions, fmt.Sprintf("%s %s NULL",
			QuoteIdentifier(col.Name),
			c.SQLType(col.Kind)))
	}

	if len(metadata.PrimaryKeys) > 0 {
		keys := make([]string, len(metadata.PrimaryKeys))
		for i, k := range metadata.PrimaryKeys {
			keys[i] = QuoteIdentifier(k)
		}
		definitions = append(definitions, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(keys, ", ")))
	}

	return definitions, nil
}

// QuoteIdentifier properly quotes and escapes an identifier. Source column
// names keep their case, so they are always quoted.
func QuoteIdentifier(name string) string {
	return pq.QuoteIdentifier(name)
}
