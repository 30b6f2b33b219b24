// pkg/model/metadata.go
package model

import "strings"

// RecordIDColumn is the identity column every cleaned batch starts with
const RecordIDColumn = "record_id"

// ColumnKind describes how the values of a column are typed
type ColumnKind int

const (
	KindUnknown ColumnKind = iota
	KindText
	KindNumeric
	KindDate
)

// String returns a string representation of the column kind
func (k ColumnKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNumeric:
		return "numeric"
	case KindDate:
		return "date"
	default:
		return "unknown"
	}
}

// Column represents metadata about a cleaned column
type Column struct {
	Name string     // Column name, as it appeared in the source feed
	Kind ColumnKind // Value type after normalization
}

// TableMetadata contains the structure information for a relational table
type TableMetadata struct {
	Table       string   // Table name
	Columns     []Column // Column definitions, in storage order
	PrimaryKeys []string // List of primary key column names
}

// GetColumnByName returns a column by name (case-insensitive)
// Returns nil if column not found
func (tm *TableMetadata) GetColumnByName(name string) *Column {
	normalizedName := normalizeColumnName(name)
	for i, col := range tm.Columns {
		if normalizeColumnName(col.Name) == normalizedName {
			return &tm.Columns[i]
		}
	}
	return nil
}

// IsRecordID reports whether the column is the identity column
func (col *Column) IsRecordID() bool {
	return normalizeColumnName(col.Name) == RecordIDColumn
}

func normalizeColumnName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
