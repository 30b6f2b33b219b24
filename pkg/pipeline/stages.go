// pkg/pipeline/stages.go
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/David-Botos/engagement-pipeline/pkg/blob"
	"github.com/David-Botos/engagement-pipeline/pkg/classifier"
	"github.com/David-Botos/engagement-pipeline/pkg/cleaner"
	"github.com/David-Botos/engagement-pipeline/pkg/csvio"
	"github.com/David-Botos/engagement-pipeline/pkg/features"
	"github.com/David-Botos/engagement-pipeline/pkg/model"
	"github.com/David-Botos/engagement-pipeline/pkg/scorer"
	"github.com/David-Botos/engagement-pipeline/pkg/source"
)

// Stage names
const (
	StageClean = "clean"
	StageLoad  = "load"
	StageTrain = "train"
	StageScore = "score"
)

// CleanedFile locates the cleaned output file
type CleanedFile struct {
	Blobs     blob.Store
	URI       string
	Delimiter rune
}

// read loads the cleaned file back into a typed batch
func (f CleanedFile) read(ctx context.Context, normalizer *cleaner.Normalizer) (*model.Batch, error) {
	data, err := blob.ReadAll(ctx, f.Blobs, f.URI)
	if err != nil {
		return nil, fmt.Errorf("failed to read cleaned file %s: %w", f.URI, err)
	}
	raw, err := csvio.ReadRaw(bytes.NewReader(data), f.Delimiter)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", cleaner.ErrUnreadableInput, f.URI, err)
	}
	return normalizer.Restore(raw)
}

// cleanedBatch returns the batch cleaned earlier in the run, or the cleaned file
func cleanedBatch(ctx context.Context, state *RunState, file CleanedFile, normalizer *cleaner.Normalizer) (*model.Batch, error) {
	if state.Batch != nil {
		return state.Batch, nil
	}
	batch, err := file.read(ctx, normalizer)
	if err != nil {
		return nil, err
	}
	state.Batch = batch
	return batch, nil
}

// CleanStage reads the raw feed, normalizes it and writes the cleaned file
type CleanStage struct {
	source     source.RawSource
	normalizer *cleaner.Normalizer
	output     CleanedFile
	logger     *zap.Logger
}

// NewCleanStage creates the cleaning stage
func NewCleanStage(src source.RawSource, normalizer *cleaner.Normalizer, output CleanedFile, logger *zap.Logger) *CleanStage {
	return &CleanStage{source: src, normalizer: normalizer, output: output, logger: logger}
}

func (s *CleanStage) Name() string { return StageClean }

func (s *CleanStage) FailureCategory() ErrorCategory { return ErrorCategoryInput }

// Run writes the cleaned file only after the whole batch normalized
func (s *CleanStage) Run(ctx context.Context, state *RunState) error {
	raw, err := s.source.Read(ctx)
	if err != nil {
		return err
	}

	batch, diag, err := s.normalizer.Normalize(raw)
	if err != nil {
		return err
	}

	data, err := csvio.EncodeBatch(batch, s.output.Delimiter)
	if err != nil {
		return fmt.Errorf("failed to encode cleaned batch: %w", err)
	}
	if err := s.output.Blobs.Write(ctx, s.output.URI, data); err != nil {
		return fmt.Errorf("failed to write cleaned file %s: %w", s.output.URI, err)
	}

	state.Batch = batch
	state.Diagnostics = diag
	state.Warn(ErrorCategoryParse, diag.TotalInvalidDates()+diag.TotalInvalidNumbers())

	s.logger.Info("Saved cleaned data",
		zap.String("uri", s.output.URI),
		zap.Int("rows_in", diag.RowsIn),
		zap.Int("rows_out", diag.RowsOut),
		zap.Int("duplicates_removed", diag.DuplicatesRemoved),
		zap.Int("invalid_dates", diag.TotalInvalidDates()),
		zap.Int("invalid_numbers", diag.TotalInvalidNumbers()))
	return nil
}

// Loader replaces the cleaned table
type Loader interface {
	Replace(ctx context.Context, batch *model.Batch) (int64, error)
}

// LoadStage overwrites the cleaned table with the run's cleaned batch
type LoadStage struct {
	store      Loader
	input      CleanedFile
	normalizer *cleaner.Normalizer
	logger     *zap.Logger
}

// NewLoadStage creates the storage load stage. The cleaned file is read
// only when no earlier stage produced a batch.
func NewLoadStage(store Loader, input CleanedFile, normalizer *cleaner.Normalizer, logger *zap.Logger) *LoadStage {
	return &LoadStage{store: store, input: input, normalizer: normalizer, logger: logger}
}

func (s *LoadStage) Name() string { return StageLoad }

func (s *LoadStage) FailureCategory() ErrorCategory { return ErrorCategoryStorage }

func (s *LoadStage) Run(ctx context.Context, state *RunState) error {
	batch, err := cleanedBatch(ctx, state, s.input, s.normalizer)
	if err != nil {
		return err
	}

	n, err := s.store.Replace(ctx, batch)
	if err != nil {
		return err
	}
	state.RowsLoaded = n
	return nil
}

// Artifacts locates the paired encoding and model artifacts
type Artifacts struct {
	Blobs       blob.Store
	EncodingURI string
	ModelURI    string
}

// Load reads both artifacts and checks they belong together
func (a Artifacts) Load(ctx context.Context) (*features.CategoryEncoding, classifier.Classifier, error) {
	encData, err := blob.ReadAll(ctx, a.Blobs, a.EncodingURI)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read encoding %s: %w", a.EncodingURI, err)
	}
	enc, err := features.LoadEncoding(encData)
	if err != nil {
		return nil, nil, err
	}

	modelData, err := blob.ReadAll(ctx, a.Blobs, a.ModelURI)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read model %s: %w", a.ModelURI, err)
	}
	clf, err := classifier.LoadArtifact(modelData, enc)
	if err != nil {
		return nil, nil, err
	}
	return enc, clf, nil
}

// Save writes the encoding before the model so a model never exists without its encoding
func (a Artifacts) Save(ctx context.Context, enc *features.CategoryEncoding, clf classifier.Classifier) error {
	encData, err := enc.Marshal()
	if err != nil {
		return fmt.Errorf("failed to serialise encoding: %w", err)
	}
	modelData, err := classifier.MarshalArtifact(clf, enc)
	if err != nil {
		return err
	}

	if err := a.Blobs.Write(ctx, a.EncodingURI, encData); err != nil {
		return fmt.Errorf("failed to write encoding %s: %w", a.EncodingURI, err)
	}
	if err := a.Blobs.Write(ctx, a.ModelURI, modelData); err != nil {
		return fmt.Errorf("failed to write model %s: %w", a.ModelURI, err)
	}
	return nil
}

// TrainStage fits a fresh encoding and classifier on the cleaned batch
type TrainStage struct {
	trainer    classifier.Trainer
	fit        features.FitOptions
	workers    int
	input      CleanedFile
	normalizer *cleaner.Normalizer
	artifacts  Artifacts
	logger     *zap.Logger
}

// NewTrainStage creates the training stage
func NewTrainStage(
	trainer classifier.Trainer,
	fit features.FitOptions,
	workers int,
	input CleanedFile,
	normalizer *cleaner.Normalizer,
	artifacts Artifacts,
	logger *zap.Logger,
) *TrainStage {
	return &TrainStage{
		trainer:    trainer,
		fit:        fit,
		workers:    workers,
		input:      input,
		normalizer: normalizer,
		artifacts:  artifacts,
		logger:     logger,
	}
}

func (s *TrainStage) Name() string { return StageTrain }

func (s *TrainStage) Run(ctx context.Context, state *RunState) error {
	batch, err := cleanedBatch(ctx, state, s.input, s.normalizer)
	if err != nil {
		return err
	}

	enc, err := features.Fit(batch, s.fit)
	if err != nil {
		return err
	}
	encoder, err := features.NewEncoder(enc, s.workers, s.logger)
	if err != nil {
		return err
	}

	clf, err := s.trainer.Train(ctx, batch, encoder)
	if err != nil {
		return err
	}
	if err := s.artifacts.Save(ctx, enc, clf); err != nil {
		return err
	}

	state.Encoding = enc
	state.Classifier = clf

	s.logger.Info("Saved model artifacts",
		zap.String("model", s.artifacts.ModelURI),
		zap.String("encoding", s.artifacts.EncodingURI),
		zap.String("version", clf.Version()))
	return nil
}

// ScoreStage predicts the records that have no prediction yet
type ScoreStage struct {
	store     scorer.Store
	artifacts Artifacts
	workers   int
	logger    *zap.Logger
}

// NewScoreStage creates the scoring stage
func NewScoreStage(store scorer.Store, artifacts Artifacts, workers int, logger *zap.Logger) *ScoreStage {
	return &ScoreStage{store: store, artifacts: artifacts, workers: workers, logger: logger}
}

func (s *ScoreStage) Name() string { return StageScore }

func (s *ScoreStage) FailureCategory() ErrorCategory { return ErrorCategoryStorage }

func (s *ScoreStage) Run(ctx context.Context, state *RunState) error {
	enc, clf := state.Encoding, state.Classifier
	if enc == nil || clf == nil {
		var err error
		if enc, clf, err = s.artifacts.Load(ctx); err != nil {
			if errors.Is(err, blob.ErrNotFound) {
				return fmt.Errorf("no trained model available, run the train command first: %w", err)
			}
			return err
		}
	}

	encoder, err := features.NewEncoder(enc, s.workers, s.logger)
	if err != nil {
		return err
	}
	sc, err := scorer.New(s.store, encoder, clf, s.logger)
	if err != nil {
		return err
	}

	n, err := sc.Score(ctx)
	if err != nil {
		return err
	}
	state.PredictionsWritten = n
	return nil
}

// DeferredStage builds its stage when the run reaches it. Connections a stage
// needs are opened there, so a failure to open them is reported as that stage.
type DeferredStage struct {
	name     string
	category ErrorCategory
	build    func(ctx context.Context) (Stage, error)
	stage    Stage
}

// Defer creates a stage named name. Build errors are reported under category.
func Defer(name string, category ErrorCategory, build func(ctx context.Context) (Stage, error)) *DeferredStage {
	return &DeferredStage{name: name, category: category, build: build}
}

func (s *DeferredStage) Name() string { return s.name }

// FailureCategory delegates to the built stage once it exists
func (s *DeferredStage) FailureCategory() ErrorCategory {
	if s.stage == nil {
		return s.category
	}
	if fc, ok := s.stage.(failureCategorizer); ok {
		return fc.FailureCategory()
	}
	return ErrorCategoryInternal
}

func (s *DeferredStage) Run(ctx context.Context, state *RunState) error {
	if s.stage == nil {
		built, err := s.build(ctx)
		if err != nil {
			return err
		}
		if built.Name() != s.name {
			return fmt.Errorf("deferred stage %s built stage %s", s.name, built.Name())
		}
		s.stage = built
	}
	return s.stage.Run(ctx, state)
}
