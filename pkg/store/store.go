// pkg/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/David-Botos/engagement-pipeline/pkg/converter"
	"github.com/David-Botos/engagement-pipeline/pkg/model"
)

var (
	// ErrDuplicatePrediction is returned when a record_id would be predicted twice
	ErrDuplicatePrediction = errors.New("duplicate prediction")

	// ErrTableMissing is returned when the cleaned table has not been loaded yet
	ErrTableMissing = errors.New("table does not exist")

	// ErrRowCountMismatch is returned when a load does not persist every row
	ErrRowCountMismatch = errors.New("row count mismatch")
)

const (
	// Bound on bind parameters per statement, below the SQLite and PostgreSQL limits
	maxParamsPerStatement = 30000
	maxRowsPerInsert      = 1000
	idsPerLookup          = 500
)

// Tables names the tables the store manages
type Tables struct {
	Cleaned     string
	Predictions string
	Runs        string
}

// Store persists cleaned records, predictions and run history
type Store struct {
	db     *sqlx.DB
	conv   *converter.TypeConverter
	tables Tables
	logger *zap.Logger
}

// New creates a store over db. The SQL dialect follows the driver name.
func New(db *sqlx.DB, tables Tables, logger *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("database connection cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if tables.Cleaned == "" || tables.Predictions == "" || tables.Runs == "" {
		return nil, errors.New("cleaned, predictions and runs table names are required")
	}

	dialect, err := converter.DialectForDriver(db.DriverName())
	if err != nil {
		return nil, err
	}

	return &Store{
		db:     db,
		conv:   converter.NewTypeConverter(logger, dialect),
		tables: tables,
		logger: logger,
	}, nil
}

// Replace atomically overwrites the cleaned table with batch. On any failure
// the previous table content is left untouched.
func (s *Store) Replace(ctx context.Context, batch *model.Batch) (rowsLoaded int64, err error) {
	if err := validateBatch(batch); err != nil {
		return 0, err
	}

	start := time.Now()
	table := converter.QuoteIdentifier(s.tables.Cleaned)

	defs, err := s.conv.GenerateColumnDefinitions(batch.Metadata(s.tables.Cleaned))
	if err != nil {
		return 0, fmt.Errorf("failed to generate column definitions: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error("Failed to rollback transaction",
					zap.Error(rbErr),
					zap.NamedError("cause", err))
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return 0, fmt.Errorf("failed to drop %s: %w", s.tables.Cleaned, err)
	}

	createSQL := fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", table, strings.Join(defs, ",\n\t"))
	if _, err = tx.ExecContext(ctx, createSQL); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", s.tables.Cleaned, err)
	}

	if err = s.insertRows(ctx, tx, table, batch); err != nil {
		return 0, err
	}

	// Verify every row landed before making the new table visible
	var count int64
	if err = tx.GetContext(ctx, &count, "SELECT COUNT(*) FROM "+table); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", s.tables.Cleaned, err)
	}
	if count != int64(batch.Len()) {
		err = fmt.Errorf("%w: %s has %d rows, expected %d", ErrRowCountMismatch, s.tables.Cleaned, count, batch.Len())
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("Replaced cleaned table",
		zap.String("table", s.tables.Cleaned),
		zap.Int64("rows", count),
		zap.Int("columns", len(batch.Columns)),
		zap.Duration("duration", time.Since(start)))

	return count, nil
}

// insertRows writes batch rows in multi-row INSERT statements
func (s *Store) insertRows(ctx context.Context, tx *sqlx.Tx, table string, batch *model.Batch) error {
	if batch.Len() == 0 {
		return nil
	}

	names := batch.ColumnNames()
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = converter.QuoteIdentifier(n)
	}
	rowPlaceholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ") + ")"

	chunk := maxParamsPerStatement / len(names)
	if chunk > maxRowsPerInsert {
		chunk = maxRowsPerInsert
	}
	if chunk < 1 {
		chunk = 1
	}

	for i := 0; i < batch.Len(); i += chunk {
		end := i + chunk
		if end > batch.Len() {
			end = batch.Len()
		}

		placeholders := make([]string, 0, end-i)
		args := make([]interface{}, 0, (end-i)*len(names))
		for r, row := range batch.Rows[i:end] {
			for _, col := range batch.Columns {
				v, err := s.conv.ToDB(row[col.Name], col.Kind)
				if err != nil {
					return fmt.Errorf("row %d, column %s: %w", i+r+1, col.Name, err)
				}
				args = append(args, v)
			}
			placeholders = append(placeholders, rowPlaceholder)
		}

		query := tx.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
			table, strings.Join(quoted, ", "), strings.Join(placeholders, ", ")))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("batch insert failed at row %d: %w", i+1, err)
		}
	}
	return nil
}

// Unscored returns the cleaned records whose record_id has no prediction,
// ordered by record_id. An empty result is not an error.
func (s *Store) Unscored(ctx context.Context) (*model.Batch, error) {
	exists, err := s.tableExists(ctx, s.tables.Cleaned)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTableMissing, s.tables.Cleaned)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	id := converter.QuoteIdentifier(model.RecordIDColumn)
	query := fmt.Sprintf(
		"SELECT c.* FROM %s c WHERE NOT EXISTS (SELECT 1 FROM %s p WHERE p.%s = c.%s) ORDER BY c.%s",
		converter.QuoteIdentifier(s.tables.Cleaned),
		converter.QuoteIdentifier(s.tables.Predictions),
		id, id, id,
	)

	rows, err := s.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query unscored records: %w", err)
	}
	defer rows.Close()

	columns, err := batchColumns(rows)
	if err != nil {
		return nil, err
	}

	batch := &model.Batch{Columns: columns}
	for rows.Next() {
		raw := make(map[string]interface{}, len(columns))
		if err := rows.MapScan(raw); err != nil {
			return nil, fmt.Errorf("failed to scan unscored record: %w", err)
		}

		row := make(model.Row, len(columns))
		for _, col := range columns {
			v, err := s.conv.FromDB(raw[col.Name], col.Kind)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col.Name, err)
			}
			row[col.Name] = v
		}
		batch.Rows = append(batch.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unscored records: %w", err)
	}

	s.logger.Info("Selected unscored records",
		zap.String("table", s.tables.Cleaned),
		zap.Int("rows", batch.Len()))

	return batch, nil
}

// batchColumns reads the result column kinds from the declared column types
func batchColumns(rows *sqlx.Rows) ([]model.Column, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to read column types: %w", err)
	}

	columns := make([]model.Column, len(types))
	hasID := false
	for i, ct := range types {
		columns[i] = model.Column{Name: ct.Name(), Kind: kindFromDatabaseType(ct.DatabaseTypeName())}
		if columns[i].IsRecordID() {
			columns[i].Kind = model.KindText
			hasID = true
		}
	}
	if !hasID {
		return nil, fmt.Errorf("cleaned table has no %s column", model.RecordIDColumn)
	}
	return columns, nil
}

// kindFromDatabaseType maps a driver column type name to a column kind
func kindFromDatabaseType(name string) model.ColumnKind {
	upper := strings.ToUpper(name)
	switch {
	case strings.Contains(upper, "TIMESTAMP"), strings.Contains(upper, "DATE"):
		return model.KindDate
	case strings.Contains(upper, "FLOAT"), strings.Contains(upper, "DOUBLE"),
		strings.Contains(upper, "REAL"), strings.Contains(upper, "NUMERIC"),
		strings.Contains(upper, "DECIMAL"), strings.Contains(upper, "INT"):
		return model.KindNumeric
	default:
		return model.KindText
	}
}

// validateBatch checks the identity invariants before any write
func validateBatch(batch *model.Batch) error {
	if batch == nil || len(batch.Columns) == 0 {
		return errors.New("batch has no columns")
	}
	if !batch.Columns[0].IsRecordID() {
		return fmt.Errorf("first column must be %s, got %s", model.RecordIDColumn, batch.Columns[0].Name)
	}

	ids, err := batch.RecordIDs()
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate %s %s in batch", model.RecordIDColumn, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
