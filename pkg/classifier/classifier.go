// pkg/classifier/classifier.go
package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/David-Botos/engagement-pipeline/pkg/converter"
	"github.com/David-Botos/engagement-pipeline/pkg/features"
	"github.com/David-Botos/engagement-pipeline/pkg/model"
)

// Classifier labels feature vectors as high (1) or low (0) engagement
type Classifier interface {
	// Predict returns one label per vector, in input order
	Predict(ctx context.Context, vectors [][]float64) ([]int, error)
	// Width is the feature vector length the classifier accepts
	Width() int
	// Version identifies the trained model
	Version() string
}

// Trainer fits a classifier on a labelled cleaned batch
type Trainer interface {
	Train(ctx context.Context, batch *model.Batch, encoder *features.Encoder) (Classifier, error)
}

// TargetSpec defines the training label: the sum of Columns reaching Threshold
type TargetSpec struct {
	Columns   []string
	Threshold float64
}

// Labels computes the binary target for every record. Missing values count as zero.
func (t TargetSpec) Labels(batch *model.Batch) ([]int, error) {
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("no target columns configured")
	}

	names := make([]string, len(t.Columns))
	for i, want := range t.Columns {
		col := (&model.TableMetadata{Columns: batch.Columns}).GetColumnByName(want)
		if col == nil {
			return nil, fmt.Errorf("target column %s not in batch", want)
		}
		names[i] = col.Name
	}

	labels := make([]int, batch.Len())
	for i, row := range batch.Rows {
		total := 0.0
		for _, name := range names {
			if v, ok := converter.ToNumber(row[name]); ok {
				total += v
			}
		}
		if total >= t.Threshold {
			labels[i] = 1
		}
	}
	return labels, nil
}

// IsTargetColumn reports whether name is one of the target columns
func (t TargetSpec) IsTargetColumn(name string) bool {
	for _, c := range t.Columns {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}
