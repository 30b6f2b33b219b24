// pkg/model/record.go
package model

import (
	"fmt"
	"time"
)

// Row maps a column name to its value. A nil value is the missing marker.
type Row map[string]interface{}

// IsMissing reports whether v is the missing marker
func IsMissing(v interface{}) bool {
	return v == nil
}

// RawBatch is a batch of raw records as read from a source feed.
// Values are untyped: strings from delimited files, driver values from warehouses.
type RawBatch struct {
	Columns []string
	Rows    []Row
}

// Len returns the number of raw records
func (b *RawBatch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// Batch is a batch of cleaned records. The first column is always record_id.
type Batch struct {
	Columns []Column
	Rows    []Row
}

// Len returns the number of cleaned records
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// ColumnNames returns the column names in storage order
func (b *Batch) ColumnNames() []string {
	names := make([]string, len(b.Columns))
	for i, col := range b.Columns {
		names[i] = col.Name
	}
	return names
}

// Metadata describes the batch as a table with record_id as primary key
func (b *Batch) Metadata(table string) *TableMetadata {
	return &TableMetadata{
		Table:       table,
		Columns:     b.Columns,
		PrimaryKeys: []string{RecordIDColumn},
	}
}

// RecordIDs returns the identity of every record, in batch order
func (b *Batch) RecordIDs() ([]string, error) {
	ids := make([]string, 0, len(b.Rows))
	for i, row := range b.Rows {
		id, err := RecordID(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// RecordID extracts the record identity from a cleaned row
func RecordID(row Row) (string, error) {
	v, ok := row[RecordIDColumn]
	if !ok || v == nil {
		return "", fmt.Errorf("row has no %s", RecordIDColumn)
	}
	switch id := v.(type) {
	case string:
		if id == "" {
			return "", fmt.Errorf("row has empty %s", RecordIDColumn)
		}
		return id, nil
	case []byte:
		return string(id), nil
	default:
		return "", fmt.Errorf("%s has unexpected type %T", RecordIDColumn, v)
	}
}

// Prediction is one scored record. Predictions are append-only:
// a record_id appears at most once in the prediction table.
type Prediction struct {
	RecordID     string    `db:"record_id"`
	Label        int       `db:"predicted_label"`
	ModelVersion string    `db:"model_version"`
	ScoredAt     time.Time `db:"scored_at"`
}
