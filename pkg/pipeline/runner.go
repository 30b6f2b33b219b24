// pkg/pipeline/runner.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/engagement-pipeline/pkg/classifier"
	"github.com/David-Botos/engagement-pipeline/pkg/features"
	"github.com/David-Botos/engagement-pipeline/pkg/lock"
	"github.com/David-Botos/engagement-pipeline/pkg/model"
	"github.com/David-Botos/engagement-pipeline/pkg/notify"
	"github.com/David-Botos/engagement-pipeline/pkg/store"
)

const finishTimeout = 30 * time.Second

// Stage is one step of a run
type Stage interface {
	Name() string
	Run(ctx context.Context, state *RunState) error
}

// failureCategorizer is implemented by stages whose unrecognised errors
// belong to a specific category
type failureCategorizer interface {
	FailureCategory() ErrorCategory
}

// RunState carries data between the stages of one run
type RunState struct {
	Batch       *model.Batch
	Diagnostics *model.Diagnostics

	// Set when the model is trained during the run
	Encoding   *features.CategoryEncoding
	Classifier classifier.Classifier

	RowsLoaded         int64
	PredictionsWritten int

	warnings map[ErrorCategory]int
}

// Warn records n recovered problems for the current stage
func (s *RunState) Warn(category ErrorCategory, n int) {
	if n <= 0 {
		return
	}
	if s.warnings == nil {
		s.warnings = make(map[ErrorCategory]int)
	}
	s.warnings[category] += n
}

// RunRecorder persists run history
type RunRecorder interface {
	RecordRun(ctx context.Context, run store.RunRecord) error
}

// Runner executes stages strictly in order and stops at the first failure
type Runner struct {
	stages      []Stage
	lock        lock.Lock
	notifier    notify.Notifier
	recorder    RunRecorder
	logLocation string
	logger      *zap.Logger
	now         func() time.Time
}

// Option configures a Runner
type Option func(*Runner)

// WithLock guards runs with l
func WithLock(l lock.Lock) Option {
	return func(r *Runner) { r.lock = l }
}

// WithNotifier sends the run report through n
func WithNotifier(n notify.Notifier) Option {
	return func(r *Runner) { r.notifier = n }
}

// WithRecorder stores each run report
func WithRecorder(rec RunRecorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithLogLocation names the log file in the report body
func WithLogLocation(path string) Option {
	return func(r *Runner) { r.logLocation = path }
}

// NewRunner creates a runner. Without options it uses no lock and logs the report.
func NewRunner(stages []Stage, logger *zap.Logger, opts ...Option) (*Runner, error) {
	if len(stages) == 0 {
		return nil, errors.New("at least one stage is required")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	seen := make(map[string]bool, len(stages))
	for _, s := range stages {
		if seen[s.Name()] {
			return nil, fmt.Errorf("duplicate stage %s", s.Name())
		}
		seen[s.Name()] = true
	}

	r := &Runner{
		stages:   stages,
		lock:     lock.NoopLock{},
		notifier: notify.NewLogNotifier(logger),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes one pipeline run. It always returns a terminal report;
// notification and history failures are logged and do not change it.
func (r *Runner) Run(ctx context.Context) *RunReport {
	report := NewRunReport()
	report.LogLocation = r.logLocation
	report.start(r.now())

	logger := r.logger.With(zap.String("run_id", report.RunID))
	logger.Info("Starting ETL pipeline", zap.Strings("stages", r.stageNames()))

	if se := r.execute(ctx, report, logger); se != nil {
		report.fail(r.now(), se)
		logger.Error("Pipeline failed",
			zap.String("stage", se.Stage),
			zap.String("category", se.Category.String()),
			zap.Error(se.Err),
			zap.Duration("duration", report.Duration))
	} else {
		report.succeed(r.now())
		logger.Info("Pipeline completed successfully",
			zap.Int64("rows_loaded", report.RowsLoaded),
			zap.Int("predictions_written", report.PredictionsWritten),
			zap.Duration("duration", report.Duration))
	}

	r.finish(ctx, report, logger)
	return report
}

func (r *Runner) execute(ctx context.Context, report *RunReport, logger *zap.Logger) *StageError {
	acquired, err := r.lock.Acquire(ctx)
	if err != nil {
		return newStageError("lock", err, ErrorCategoryLock)
	}
	if !acquired {
		return newStageError("lock", lock.ErrNotAcquired, ErrorCategoryLock)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
		defer cancel()
		if err := r.lock.Release(releaseCtx); err != nil {
			logger.Warn("Failed to release run lock", zap.Error(err))
		}
	}()

	state := &RunState{}
	defer func() {
		report.RowsLoaded = state.RowsLoaded
		report.PredictionsWritten = state.PredictionsWritten
	}()

	for _, stage := range r.stages {
		if err := ctx.Err(); err != nil {
			return newStageError(stage.Name(), err, ErrorCategoryCancelled)
		}

		report.enterStage(stage.Name())
		state.warnings = nil
		start := r.now()
		logger.Info("Running stage", zap.String("stage", stage.Name()))

		err := stage.Run(ctx, state)
		result := StageResult{
			Name:      stage.Name(),
			Success:   err == nil,
			StartTime: start,
			Duration:  r.now().Sub(start),
			Warnings:  state.warnings,
		}
		report.addStage(result)

		if err != nil {
			fallback := ErrorCategoryInternal
			if fc, ok := stage.(failureCategorizer); ok {
				fallback = fc.FailureCategory()
			}
			return newStageError(stage.Name(), err, fallback)
		}

		logger.Info("Stage completed",
			zap.String("stage", stage.Name()),
			zap.Duration("duration", result.Duration))
	}
	return nil
}

// finish records and announces the terminal report. Both are best-effort.
func (r *Runner) finish(ctx context.Context, report *RunReport, logger *zap.Logger) {
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if r.recorder != nil {
		if err := r.recorder.RecordRun(finishCtx, report.Record()); err != nil {
			logger.Warn("Failed to record pipeline run", zap.Error(err))
		}
	}

	if r.notifier != nil {
		msg := notify.Message{Subject: report.Subject(), Body: report.Message()}
		if err := r.notifier.Notify(finishCtx, msg); err != nil {
			logger.Warn("Status notification failed",
				zap.String("category", ErrorCategoryNotification.String()),
				zap.Error(err))
		} else {
			logger.Info("Status notification sent")
		}
	}
}

func (r *Runner) stageNames() []string {
	names := make([]string, len(r.stages))
	for i, s := range r.stages {
		names[i] = s.Name()
	}
	return names
}
