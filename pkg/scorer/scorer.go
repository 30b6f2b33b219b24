// pkg/scorer/scorer.go
package scorer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/engagement-pipeline/pkg/classifier"
	"github.com/David-Botos/engagement-pipeline/pkg/features"
	"github.com/David-Botos/engagement-pipeline/pkg/model"
)

// Store is the storage the scorer reads candidates from and appends predictions to
type Store interface {
	Unscored(ctx context.Context) (*model.Batch, error)
	AppendPredictions(ctx context.Context, preds []model.Prediction) (int, error)
}

// ErrClassifierOutput is returned when the classifier's labels cannot be paired with the candidates
var ErrClassifierOutput = errors.New("invalid classifier output")

// IncrementalScorer scores only records absent from the prediction table
type IncrementalScorer struct {
	store   Store
	encoder *features.Encoder
	clf     classifier.Classifier
	logger  *zap.Logger
	now     func() time.Time
}

// New creates an incremental scorer
func New(store Store, encoder *features.Encoder, clf classifier.Classifier, logger *zap.Logger) (*IncrementalScorer, error) {
	if store == nil || encoder == nil || clf == nil {
		return nil, errors.New("store, encoder and classifier are required")
	}
	if clf.Width() != encoder.Width() {
		return nil, fmt.Errorf("%w: classifier width %d, encoding width %d",
			features.ErrArtifactMismatch, clf.Width(), encoder.Width())
	}
	return &IncrementalScorer{
		store:   store,
		encoder: encoder,
		clf:     clf,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Score predicts every unscored record and appends the results in one write.
// It returns the number of predictions written; zero when nothing is new.
// Any failure happens before the append, so either every prediction is
// written or none is.
func (s *IncrementalScorer) Score(ctx context.Context) (int, error) {
	candidates, err := s.store.Unscored(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to select unscored records: %w", err)
	}
	if candidates.Len() == 0 {
		s.logger.Info("No new data to predict")
		return 0, nil
	}

	ids, err := candidates.RecordIDs()
	if err != nil {
		return 0, err
	}

	vectors, err := s.encoder.EncodeBatch(ctx, candidates)
	if err != nil {
		return 0, fmt.Errorf("failed to encode candidates: %w", err)
	}

	input := make([][]float64, len(vectors))
	for i, v := range vectors {
		input[i] = v
	}

	labels, err := s.clf.Predict(ctx, input)
	if err != nil {
		return 0, fmt.Errorf("classifier failed: %w", err)
	}
	if len(labels) != len(ids) {
		return 0, fmt.Errorf("%w: %d labels for %d records", ErrClassifierOutput, len(labels), len(ids))
	}

	scoredAt := s.now().UTC()
	preds := make([]model.Prediction, len(ids))
	for i, id := range ids {
		if labels[i] != 0 && labels[i] != 1 {
			return 0, fmt.Errorf("%w: label %d for %s is not binary", ErrClassifierOutput, labels[i], id)
		}
		preds[i] = model.Prediction{
			RecordID:     id,
			Label:        labels[i],
			ModelVersion: s.clf.Version(),
			ScoredAt:     scoredAt,
		}
	}

	written, err := s.store.AppendPredictions(ctx, preds)
	if err != nil {
		return 0, fmt.Errorf("failed to append predictions: %w", err)
	}

	s.logger.Info("Saved predictions",
		zap.Int("count", written),
		zap.String("model_version", s.clf.Version()))
	return written, nil
}
