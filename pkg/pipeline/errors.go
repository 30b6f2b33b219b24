// pkg/pipeline/errors.go
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"

	"github.com/David-Botos/engagement-pipeline/pkg/blob"
	"github.com/David-Botos/engagement-pipeline/pkg/cleaner"
	"github.com/David-Botos/engagement-pipeline/pkg/csvio"
	"github.com/David-Botos/engagement-pipeline/pkg/features"
	"github.com/David-Botos/engagement-pipeline/pkg/lock"
	"github.com/David-Botos/engagement-pipeline/pkg/scorer"
	"github.com/David-Botos/engagement-pipeline/pkg/store"
)

// ErrorCategory classifies why a stage failed
type ErrorCategory int

const (
	ErrorCategoryNone ErrorCategory = iota
	// Unreadable or malformed raw input
	ErrorCategoryInput
	// Per-field coercion failures; recovered as missing values, never fatal
	ErrorCategoryParse
	// Encoder, model and cleaned schema disagree
	ErrorCategorySchemaMismatch
	// Database or object storage failures
	ErrorCategoryStorage
	// Notification delivery failures; never fatal
	ErrorCategoryNotification
	// Run lock could not be taken
	ErrorCategoryLock
	// The run was aborted between stages
	ErrorCategoryCancelled
	ErrorCategoryInternal
)

// String returns a string representation of the error category
func (ec ErrorCategory) String() string {
	switch ec {
	case ErrorCategoryNone:
		return "None"
	case ErrorCategoryInput:
		return "Input"
	case ErrorCategoryParse:
		return "Parse"
	case ErrorCategorySchemaMismatch:
		return "SchemaMismatch"
	case ErrorCategoryStorage:
		return "Storage"
	case ErrorCategoryNotification:
		return "Notification"
	case ErrorCategoryLock:
		return "Lock"
	case ErrorCategoryCancelled:
		return "Cancelled"
	case ErrorCategoryInternal:
		return "Internal"
	default:
		return fmt.Sprintf("Unknown(%d)", ec)
	}
}

// StageError is the terminal failure of a run
type StageError struct {
	Stage    string
	Category ErrorCategory
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed [%s]: %v", e.Stage, e.Category, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Categorize maps err to a category using the package sentinels. Errors with
// no recognised sentinel fall back to the given category.
func Categorize(err error, fallback ErrorCategory) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}

	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorCategoryCancelled
	case errors.Is(err, lock.ErrNotAcquired):
		return ErrorCategoryLock
	case errors.Is(err, cleaner.ErrUnreadableInput),
		errors.Is(err, csvio.ErrMalformed),
		errors.Is(err, blob.ErrNotFound):
		return ErrorCategoryInput
	case errors.Is(err, features.ErrSchemaMismatch),
		errors.Is(err, features.ErrArtifactMismatch),
		errors.Is(err, scorer.ErrClassifierOutput):
		return ErrorCategorySchemaMismatch
	case errors.Is(err, store.ErrDuplicatePrediction),
		errors.Is(err, store.ErrTableMissing),
		errors.Is(err, store.ErrRowCountMismatch),
		errors.As(err, &pgErr):
		return ErrorCategoryStorage
	}

	if fallback == ErrorCategoryNone {
		return ErrorCategoryInternal
	}
	return fallback
}

// newStageError wraps err unless it already carries a stage
func newStageError(stage string, err error, fallback ErrorCategory) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	return &StageError{
		Stage:    stage,
		Category: Categorize(err, fallback),
		Err:      err,
	}
}
