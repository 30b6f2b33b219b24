// pkg/features/encoder.go
package features

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/David-Botos/engagement-pipeline/pkg/converter"
	"github.com/David-Botos/engagement-pipeline/pkg/model"
)

const secondsPerDay = 86400

// FeatureVector is the encoded form of one record, in encoding order
type FeatureVector []float64

// Encoder applies a fitted encoding to cleaned records
type Encoder struct {
	enc     *CategoryEncoding
	index   []map[string]int
	ignored map[string]bool
	workers int
	logger  *zap.Logger
}

// NewEncoder creates an encoder. workers bounds EncodeBatch parallelism;
// zero or less means runtime.NumCPU().
func NewEncoder(enc *CategoryEncoding, workers int, logger *zap.Logger) (*Encoder, error) {
	if enc == nil {
		return nil, fmt.Errorf("encoding cannot be nil")
	}
	if err := enc.Validate(); err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	index := make([]map[string]int, len(enc.Features))
	for i, f := range enc.Features {
		if f.Kind != FeatureCategorical {
			continue
		}
		index[i] = make(map[string]int, len(f.Categories))
		for j, c := range f.Categories {
			index[i][c] = j
		}
	}

	ignored := make(map[string]bool, len(enc.Ignored))
	for _, name := range enc.Ignored {
		ignored[strings.ToLower(name)] = true
	}

	return &Encoder{
		enc:     enc,
		index:   index,
		ignored: ignored,
		workers: workers,
		logger:  logger,
	}, nil
}

// Encoding returns the encoding the encoder applies
func (e *Encoder) Encoding() *CategoryEncoding {
	return e.enc
}

// Width returns the feature vector length
func (e *Encoder) Width() int {
	return len(e.enc.Features)
}

// ValidateSchema checks that columns carry exactly the fitted features, apart
// from record_id and ignored columns, with compatible kinds
func (e *Encoder) ValidateSchema(columns []model.Column) error {
	present := make(map[string]model.ColumnKind, len(columns))
	var extra []string
	for _, col := range columns {
		if col.IsRecordID() || e.ignored[strings.ToLower(col.Name)] {
			continue
		}
		present[col.Name] = col.Kind
	}

	var missing []string
	for _, f := range e.enc.Features {
		kind, ok := present[f.Name]
		if !ok {
			missing = append(missing, f.Name)
			continue
		}
		delete(present, f.Name)

		if kind != model.KindUnknown && kind.String() != f.Source {
			return fmt.Errorf("%w: column %s is %s, encoding expects %s", ErrSchemaMismatch, f.Name, kind, f.Source)
		}
	}
	for name := range present {
		extra = append(extra, name)
	}

	if len(missing) > 0 || len(extra) > 0 {
		sort.Strings(extra)
		return fmt.Errorf("%w: missing columns %v, unexpected columns %v", ErrSchemaMismatch, missing, extra)
	}
	return nil
}

// Encode maps one record to its feature vector. Missing values and values
// never seen during fitting resolve to the UNKNOWN category; missing numeric
// values take the feature's fill value.
func (e *Encoder) Encode(row model.Row) (FeatureVector, error) {
	vec := make(FeatureVector, len(e.enc.Features))
	for i, f := range e.enc.Features {
		value, ok := row[f.Name]
		if !ok {
			return nil, fmt.Errorf("%w: record has no column %s", ErrSchemaMismatch, f.Name)
		}

		switch f.Kind {
		case FeatureCategorical:
			vec[i] = float64(e.categoryIndex(i, value))
		default:
			x, err := numericValue(value, f.Fill)
			if err != nil {
				return nil, fmt.Errorf("%w: column %s: %v", ErrSchemaMismatch, f.Name, err)
			}
			vec[i] = x
		}
	}
	return vec, nil
}

func (e *Encoder) categoryIndex(feature int, value interface{}) int {
	idx := e.index[feature]
	if s, ok := converter.ToText(value); ok {
		if j, found := idx[s]; found {
			return j
		}
	}
	return idx[UnknownCategory]
}

// numericValue converts a numeric or date value; dates become days since the Unix epoch
func numericValue(value interface{}, fill float64) (float64, error) {
	switch v := value.(type) {
	case nil:
		return fill, nil
	case time.Time:
		return float64(v.Unix()) / secondsPerDay, nil
	}
	x, ok := converter.ToNumber(value)
	if !ok {
		return 0, fmt.Errorf("value %v (%T) is not numeric", value, value)
	}
	return x, nil
}

// EncodeBatch validates the batch schema and encodes every record in
// parallel. Vectors are returned in batch order.
func (e *Encoder) EncodeBatch(ctx context.Context, batch *model.Batch) ([]FeatureVector, error) {
	if err := e.ValidateSchema(batch.Columns); err != nil {
		return nil, err
	}

	out := make([]FeatureVector, batch.Len())
	if batch.Len() == 0 {
		return out, nil
	}

	chunk := (batch.Len() + e.workers - 1) / e.workers
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for start := 0; start < batch.Len(); start += chunk {
		start := start
		end := start + chunk
		if end > batch.Len() {
			end = batch.Len()
		}

		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				vec, err := e.Encode(batch.Rows[i])
				if err != nil {
					id, _ := model.RecordID(batch.Rows[i])
					return fmt.Errorf("record %s: %w", id, err)
				}
				out[i] = vec
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.logger.Debug("Encoded batch",
		zap.Int("records", batch.Len()),
		zap.Int("width", e.Width()),
		zap.Int("workers", e.workers))
	return out, nil
}
