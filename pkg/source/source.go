// pkg/source/source.go
package source

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/engagement-pipeline/pkg/blob"
	"github.com/David-Botos/engagement-pipeline/pkg/cleaner"
	"github.com/David-Botos/engagement-pipeline/pkg/csvio"
	"github.com/David-Botos/engagement-pipeline/pkg/model"
)

// RawSource produces one raw batch per call
type RawSource interface {
	Read(ctx context.Context) (*model.RawBatch, error)
}

// CSVSource reads a delimited file from local disk or S3
type CSVSource struct {
	store     blob.Store
	uri       string
	delimiter rune
	logger    *zap.Logger
}

// NewCSVSource creates a source for the delimited file at uri
func NewCSVSource(store blob.Store, uri string, delimiter rune, logger *zap.Logger) *CSVSource {
	return &CSVSource{store: store, uri: uri, delimiter: delimiter, logger: logger}
}

// Read reads the whole file. Any failure is an unreadable-input error.
func (s *CSVSource) Read(ctx context.Context) (*model.RawBatch, error) {
	rc, err := s.store.Open(ctx, s.uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cleaner.ErrUnreadableInput, err)
	}
	defer rc.Close()

	batch, err := csvio.ReadRaw(rc, s.delimiter)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", cleaner.ErrUnreadableInput, s.uri, err)
	}

	s.logger.Info("Read raw data file",
		zap.String("uri", s.uri),
		zap.Int("rows", batch.Len()),
		zap.Int("columns", len(batch.Columns)))
	return batch, nil
}

// BatchQuerier runs a paged query and hands every row to processor
type BatchQuerier interface {
	BatchQuery(ctx context.Context, query string, batchSize int, onColumns func([]string) error, processor func(*sql.Rows) error) error
}

// SnowflakeSource reads the raw feed from a warehouse query
type SnowflakeSource struct {
	querier   BatchQuerier
	query     string
	batchSize int
	logger    *zap.Logger
}

// NewSnowflakeSource creates a source running query in pages of batchSize rows
func NewSnowflakeSource(querier BatchQuerier, query string, batchSize int, logger *zap.Logger) *SnowflakeSource {
	return &SnowflakeSource{querier: querier, query: query, batchSize: batchSize, logger: logger}
}

// Read runs the query and collects every row with dynamic column scanning
func (s *SnowflakeSource) Read(ctx context.Context) (*model.RawBatch, error) {
	start := time.Now()
	batch := &model.RawBatch{}

	onColumns := func(cols []string) error {
		if batch.Columns == nil {
			batch.Columns = cols
			return nil
		}
		if len(cols) != len(batch.Columns) {
			return fmt.Errorf("page has %d columns, first page had %d", len(cols), len(batch.Columns))
		}
		return nil
	}

	err := s.querier.BatchQuery(ctx, s.query, s.batchSize, onColumns, func(rows *sql.Rows) error {
		row, err := scanRow(rows, batch.Columns)
		if err != nil {
			return err
		}
		batch.Rows = append(batch.Rows, row)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: warehouse query failed: %v", cleaner.ErrUnreadableInput, err)
	}

	s.logger.Info("Read raw data from warehouse",
		zap.Int("rows", batch.Len()),
		zap.Int("columns", len(batch.Columns)),
		zap.Duration("duration", time.Since(start)))
	return batch, nil
}

// scanRow scans one row of unknown shape into a raw record
func scanRow(rows *sql.Rows, columns []string) (model.Row, error) {
	values := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	row := make(model.Row, len(columns))
	for i, col := range columns {
		if b, ok := values[i].([]byte); ok {
			row[col] = string(b)
			continue
		}
		row[col] = values[i]
	}
	return row, nil
}
