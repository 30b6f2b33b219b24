// pkg/cleaner/cleaner.go
package cleaner

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/David-Botos/engagement-pipeline/pkg/converter"
	"github.com/David-Botos/engagement-pipeline/pkg/model"
)

var (
	// ErrUnreadableInput marks a raw batch that cannot be cleaned at all
	ErrUnreadableInput = errors.New("unreadable input")

	// ErrIdentityCollision marks two distinct records sharing a natural key
	ErrIdentityCollision = errors.New("record identity collision")
)

// IdentityStrategy selects how record_id values are assigned
type IdentityStrategy string

const (
	// IdentitySequential numbers records rid000001.. in batch order
	IdentitySequential IdentityStrategy = "sequential"
	// IdentityHash derives record_id from a hash of the natural key columns
	IdentityHash IdentityStrategy = "hash"
)

// Options controls column classification and identity assignment
type Options struct {
	// Lower-cased substrings that mark a column as date-like
	DateTokens []string
	// Declared engagement metric columns, matched case-insensitively
	EngagementColumns []string
	IdentityStrategy  IdentityStrategy
	// Columns hashed by IdentityHash. Empty means every column.
	NaturalKey []string
}

// DefaultOptions returns the options used by the original feed
func DefaultOptions() Options {
	return Options{
		DateTokens:        []string{"date"},
		EngagementColumns: []string{"likes", "shares", "comments", "impressions", "reach", "followers"},
		IdentityStrategy:  IdentitySequential,
	}
}

// Normalizer turns raw record batches into cleaned batches with identities
type Normalizer struct {
	opts       Options
	engagement map[string]bool
	logger     *zap.Logger
}

// NewNormalizer creates a new Normalizer
func NewNormalizer(opts Options, logger *zap.Logger) (*Normalizer, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	switch opts.IdentityStrategy {
	case "":
		opts.IdentityStrategy = IdentitySequential
	case IdentitySequential, IdentityHash:
	default:
		return nil, fmt.Errorf("unknown identity strategy %q", opts.IdentityStrategy)
	}

	engagement := make(map[string]bool, len(opts.EngagementColumns))
	for _, col := range opts.EngagementColumns {
		engagement[strings.ToLower(strings.TrimSpace(col))] = true
	}
	tokens := make([]string, 0, len(opts.DateTokens))
	for _, tok := range opts.DateTokens {
		tokens = append(tokens, strings.ToLower(strings.TrimSpace(tok)))
	}
	opts.DateTokens = tokens

	return &Normalizer{
		opts:       opts,
		engagement: engagement,
		logger:     logger,
	}, nil
}

// Normalize cleans a raw batch: typed coercion, ambiguous-token removal,
// duplicate collapse and identity assignment. Per-value failures become
// missing values counted in the diagnostics.
func (n *Normalizer) Normalize(raw *model.RawBatch) (*model.Batch, *model.Diagnostics, error) {
	columns, err := n.sourceColumns(raw)
	if err != nil {
		return nil, nil, err
	}

	diag := model.NewDiagnostics()
	diag.RowsIn = raw.Len()

	kinds := n.classify(raw, columns)
	for _, col := range columns {
		diag.ColumnKinds[col] = kinds[col]
	}

	// Coerce every value, counting failures before duplicates collapse
	normalized := make([]model.Row, 0, raw.Len())
	for _, rawRow := range raw.Rows {
		normalized = append(normalized, n.normalizeRow(rawRow, columns, kinds, diag))
	}

	// Collapse full-row duplicates, keeping the first occurrence
	seen := make(map[string]struct{}, len(normalized))
	deduped := make([]model.Row, 0, len(normalized))
	for _, row := range normalized {
		key := rowKey(row, columns)
		if _, dup := seen[key]; dup {
			diag.DuplicatesRemoved++
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, row)
	}

	if err := n.assignIdentities(deduped, columns); err != nil {
		return nil, nil, err
	}

	batch := &model.Batch{
		Columns: n.batchColumns(columns, kinds),
		Rows:    deduped,
	}
	diag.RowsOut = batch.Len()

	n.logger.Info("Normalized raw batch",
		zap.Int("rows_in", diag.RowsIn),
		zap.Int("rows_out", diag.RowsOut),
		zap.Int("duplicates_removed", diag.DuplicatesRemoved),
		zap.Int("invalid_dates", diag.TotalInvalidDates()),
		zap.Int("invalid_numbers", diag.TotalInvalidNumbers()),
		zap.String("identity_strategy", string(n.opts.IdentityStrategy)))

	for col, count := range diag.InvalidDates {
		n.logger.Warn("Unparsable date values replaced with missing",
			zap.String("column", col),
			zap.Int("count", count))
	}

	return batch, diag, nil
}

// Restore re-types an already-cleaned batch, such as one read back from the
// cleaned output file. Identities are kept and rows are not deduplicated.
func (n *Normalizer) Restore(raw *model.RawBatch) (*model.Batch, error) {
	if raw == nil || len(raw.Columns) == 0 {
		return nil, fmt.Errorf("%w: cleaned batch has no header", ErrUnreadableInput)
	}

	idColumn := ""
	columns := make([]string, 0, len(raw.Columns))
	for _, col := range raw.Columns {
		if strings.EqualFold(col, model.RecordIDColumn) {
			idColumn = col
			continue
		}
		columns = append(columns, col)
	}
	if idColumn == "" {
		return nil, fmt.Errorf("%w: cleaned batch has no %s column", ErrUnreadableInput, model.RecordIDColumn)
	}

	kinds := n.classify(raw, columns)
	diag := model.NewDiagnostics()
	ids := make(map[string]struct{}, raw.Len())
	rows := make([]model.Row, 0, raw.Len())

	for i, rawRow := range raw.Rows {
		id, _ := converter.ToText(rawRow[idColumn])
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("%w: row %d has no %s", ErrUnreadableInput, i+1, model.RecordIDColumn)
		}
		if _, dup := ids[id]; dup {
			return nil, fmt.Errorf("%w: duplicate %s %s", ErrUnreadableInput, model.RecordIDColumn, id)
		}
		ids[id] = struct{}{}

		row := n.normalizeRow(rawRow, columns, kinds, diag)
		row[model.RecordIDColumn] = id
		rows = append(rows, row)
	}

	n.logger.Info("Restored cleaned batch",
		zap.Int("rows", len(rows)),
		zap.Int("columns", len(columns)))

	return &model.Batch{
		Columns: n.batchColumns(columns, kinds),
		Rows:    rows,
	}, nil
}

// sourceColumns validates the header and drops any incoming identity column
func (n *Normalizer) sourceColumns(raw *model.RawBatch) ([]string, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: no batch", ErrUnreadableInput)
	}
	if len(raw.Columns) == 0 {
		return nil, fmt.Errorf("%w: batch has no header", ErrUnreadableInput)
	}

	seen := make(map[string]bool, len(raw.Columns))
	columns := make([]string, 0, len(raw.Columns))
	for _, col := range raw.Columns {
		if strings.TrimSpace(col) == "" {
			return nil, fmt.Errorf("%w: empty column name", ErrUnreadableInput)
		}
		key := strings.ToLower(col)
		if seen[key] {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrUnreadableInput, col)
		}
		seen[key] = true

		if key == model.RecordIDColumn {
			n.logger.Debug("Dropping incoming record_id column; identities are reassigned")
			continue
		}
		columns = append(columns, col)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: batch has no data columns", ErrUnreadableInput)
	}
	return columns, nil
}

// classify decides the kind of every column
func (n *Normalizer) classify(raw *model.RawBatch, columns []string) map[string]model.ColumnKind {
	kinds := make(map[string]model.ColumnKind, len(columns))
	for _, col := range columns {
		lower := strings.ToLower(col)
		switch {
		case n.isDateColumn(lower):
			kinds[col] = model.KindDate
		case n.engagement[lower]:
			kinds[col] = model.KindNumeric
		default:
			values := make([]interface{}, len(raw.Rows))
			for i, row := range raw.Rows {
				values[i] = row[col]
			}
			kinds[col] = converter.InferKind(values)
		}
	}
	return kinds
}

func (n *Normalizer) isDateColumn(lower string) bool {
	for _, tok := range n.opts.DateTokens {
		if tok != "" && strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

// normalizeRow coerces one raw row, recording failures in diag
func (n *Normalizer) normalizeRow(
	rawRow model.Row,
	columns []string,
	kinds map[string]model.ColumnKind,
	diag *model.Diagnostics,
) model.Row {
	row := make(model.Row, len(columns)+1)
	for _, col := range columns {
		var (
			value interface{}
			out   outcome
		)
		switch kinds[col] {
		case model.KindDate:
			value, out = coerceDate(rawRow[col])
			if out == outcomeInvalid {
				diag.InvalidDates[col]++
			}
		case model.KindNumeric:
			value, out = coerceNumeric(rawRow[col])
			if out == outcomeInvalid {
				diag.InvalidNumbers[col]++
			}
		default:
			value, out = normalizeText(rawRow[col])
			if out == outcomeAmbiguous {
				diag.AmbiguousValues[col]++
			}
		}
		row[col] = value
	}
	return row
}

// assignIdentities sets record_id on every deduplicated row
func (n *Normalizer) assignIdentities(rows []model.Row, columns []string) error {
	if n.opts.IdentityStrategy == IdentitySequential {
		for i, row := range rows {
			row[model.RecordIDColumn] = sequentialID(i + 1)
		}
		return nil
	}

	keyColumns := columns
	if len(n.opts.NaturalKey) > 0 {
		keyColumns = make([]string, 0, len(n.opts.NaturalKey))
		for _, want := range n.opts.NaturalKey {
			found := ""
			for _, col := range columns {
				if strings.EqualFold(col, want) {
					found = col
					break
				}
			}
			if found == "" {
				return fmt.Errorf("%w: natural key column %q not in batch", ErrUnreadableInput, want)
			}
			keyColumns = append(keyColumns, found)
		}
	}

	issued := make(map[string]int, len(rows))
	for i, row := range rows {
		id := hashID(rowKey(row, keyColumns))
		if prev, ok := issued[id]; ok {
			return fmt.Errorf("%w: rows %d and %d share %s %s", ErrIdentityCollision, prev+1, i+1, model.RecordIDColumn, id)
		}
		issued[id] = i
		row[model.RecordIDColumn] = id
	}
	return nil
}

// batchColumns returns record_id followed by the source columns in order
func (n *Normalizer) batchColumns(columns []string, kinds map[string]model.ColumnKind) []model.Column {
	out := make([]model.Column, 0, len(columns)+1)
	out = append(out, model.Column{Name: model.RecordIDColumn, Kind: model.KindText})
	for _, col := range columns {
		out = append(out, model.Column{Name: col, Kind: kinds[col]})
	}
	return out
}
