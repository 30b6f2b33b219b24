// pkg/store/predictions.go
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/David-Botos/engagement-pipeline/pkg/converter"
	"github.com/David-Botos/engagement-pipeline/pkg/model"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint failure
const uniqueViolation = "23505"

// EnsureSchema creates the predictions and run history tables if absent
func (s *Store) EnsureSchema(ctx context.Context) error {
	id := converter.QuoteIdentifier(model.RecordIDColumn)

	predictionsSQL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s TEXT NOT NULL PRIMARY KEY,
	%s INTEGER NOT NULL,
	%s TEXT NULL,
	%s TIMESTAMP NOT NULL
)`,
		converter.QuoteIdentifier(s.tables.Predictions),
		id,
		converter.QuoteIdentifier("predicted_label"),
		converter.QuoteIdentifier("model_version"),
		converter.QuoteIdentifier("scored_at"),
	)
	if _, err := s.db.ExecContext(ctx, predictionsSQL); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.tables.Predictions, err)
	}

	runsSQL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id TEXT NOT NULL PRIMARY KEY,
	status TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	duration_ms BIGINT NOT NULL,
	failed_stage TEXT NULL,
	cause TEXT NULL,
	rows_loaded BIGINT NOT NULL,
	predictions_written BIGINT NOT NULL
)`, converter.QuoteIdentifier(s.tables.Runs))
	if _, err := s.db.ExecContext(ctx, runsSQL); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.tables.Runs, err)
	}

	return nil
}

// AppendPredictions adds predictions in one transaction. A record_id that is
// repeated in preds or already predicted fails the whole append with
// ErrDuplicatePrediction and nothing is written.
func (s *Store) AppendPredictions(ctx context.Context, preds []model.Prediction) (written int, err error) {
	if len(preds) == 0 {
		return 0, nil
	}

	ids := make([]string, len(preds))
	seen := make(map[string]struct{}, len(preds))
	for i, p := range preds {
		if p.RecordID == "" {
			return 0, fmt.Errorf("prediction %d has no %s", i, model.RecordIDColumn)
		}
		if p.Label != 0 && p.Label != 1 {
			return 0, fmt.Errorf("prediction for %s has non-binary label %d", p.RecordID, p.Label)
		}
		if _, dup := seen[p.RecordID]; dup {
			return 0, fmt.Errorf("%w: %s repeated in batch", ErrDuplicatePrediction, p.RecordID)
		}
		seen[p.RecordID] = struct{}{}
		ids[i] = p.RecordID
	}

	if err := s.EnsureSchema(ctx); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error("Failed to rollback transaction",
					zap.Error(rbErr),
					zap.NamedError("cause", err))
			}
		}
	}()

	existing, err := s.existingPredictions(ctx, tx, ids)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		sort.Strings(existing)
		err = fmt.Errorf("%w: %d record(s) already predicted, first %s", ErrDuplicatePrediction, len(existing), existing[0])
		return 0, err
	}

	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s, %s, %s, %s) VALUES (:record_id, :predicted_label, :model_version, :scored_at)",
		converter.QuoteIdentifier(s.tables.Predictions),
		converter.QuoteIdentifier(model.RecordIDColumn),
		converter.QuoteIdentifier("predicted_label"),
		converter.QuoteIdentifier("model_version"),
		converter.QuoteIdentifier("scored_at"),
	)

	for i := 0; i < len(preds); i += maxRowsPerInsert {
		end := i + maxRowsPerInsert
		if end > len(preds) {
			end = len(preds)
		}

		chunk := make([]model.Prediction, end-i)
		copy(chunk, preds[i:end])
		for j := range chunk {
			chunk[j].ScoredAt = chunk[j].ScoredAt.UTC()
		}

		if _, err = tx.NamedExecContext(ctx, insertSQL, chunk); err != nil {
			if isUniqueViolation(err) {
				err = fmt.Errorf("%w: %v", ErrDuplicatePrediction, err)
				return 0, err
			}
			err = fmt.Errorf("failed to insert predictions: %w", err)
			return 0, err
		}
	}

	if err = tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			err = fmt.Errorf("%w: %v", ErrDuplicatePrediction, err)
			return 0, err
		}
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("Appended predictions",
		zap.String("table", s.tables.Predictions),
		zap.Int("count", len(preds)))

	return len(preds), nil
}

// existingPredictions returns which of ids already have a prediction
func (s *Store) existingPredictions(ctx context.Context, tx *sqlx.Tx, ids []string) ([]string, error) {
	base := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (?)",
		converter.QuoteIdentifier(model.RecordIDColumn),
		converter.QuoteIdentifier(s.tables.Predictions),
		converter.QuoteIdentifier(model.RecordIDColumn),
	)

	var existing []string
	for i := 0; i < len(ids); i += idsPerLookup {
		end := i + idsPerLookup
		if end > len(ids) {
			end = len(ids)
		}

		query, args, err := sqlx.In(base, ids[i:end])
		if err != nil {
			return nil, fmt.Errorf("failed to expand id lookup: %w", err)
		}

		var found []string
		if err := tx.SelectContext(ctx, &found, tx.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("failed to check existing predictions: %w", err)
		}
		existing = append(existing, found...)
	}
	return existing, nil
}

// isUniqueViolation recognises unique constraint failures from either driver
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// PredictionCount returns the number of stored predictions
func (s *Store) PredictionCount(ctx context.Context) (int64, error) {
	if err := s.EnsureSchema(ctx); err != nil {
		return 0, err
	}
	var count int64
	query := "SELECT COUNT(*) FROM " + converter.QuoteIdentifier(s.tables.Predictions)
	if err := s.db.GetContext(ctx, &count, query); err != nil {
		return 0, fmt.Errorf("failed to count predictions: %w", err)
	}
	return count, nil
}

// Predictions returns every stored prediction ordered by record_id
func (s *Store) Predictions(ctx context.Context) ([]model.Prediction, error) {
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s, %s, %s, %s FROM %s ORDER BY %s",
		converter.QuoteIdentifier(model.RecordIDColumn),
		converter.QuoteIdentifier("predicted_label"),
		converter.QuoteIdentifier("model_version"),
		converter.QuoteIdentifier("scored_at"),
		converter.QuoteIdentifier(s.tables.Predictions),
		converter.QuoteIdentifier(model.RecordIDColumn),
	)

	rows, err := s.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	var preds []model.Prediction
	for rows.Next() {
		var (
			p        model.Prediction
			version  *string
			scoredAt interface{}
		)
		if err := rows.Scan(&p.RecordID, &p.Label, &version, &scoredAt); err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		if version != nil {
			p.ModelVersion = *version
		}
		if p.ScoredAt, err = converter.ToTime(scoredAt); err != nil {
			return nil, fmt.Errorf("prediction %s: %w", p.RecordID, err)
		}
		preds = append(preds, p)
	}
	return preds, rows.Err()
}

// RunRecord is one row of pipeline run history
type RunRecord struct {
	RunID              string
	Status             string
	StartedAt          time.Time
	Duration           time.Duration
	FailedStage        string
	Cause              string
	RowsLoaded         int64
	PredictionsWritten int64
}

// RecordRun appends a run to the history table
func (s *Store) RecordRun(ctx context.Context, run RunRecord) error {
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}

	query := s.db.Rebind(fmt.Sprintf(
		`INSERT INTO %s (run_id, status, started_at, duration_ms, failed_stage, cause, rows_loaded, predictions_written)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		converter.QuoteIdentifier(s.tables.Runs),
	))

	_, err := s.db.ExecContext(ctx, query,
		run.RunID,
		run.Status,
		run.StartedAt.UTC(),
		run.Duration.Milliseconds(),
		nullable(run.FailedStage),
		nullable(run.Cause),
		run.RowsLoaded,
		run.PredictionsWritten,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.RunID, err)
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// tableExists reports whether name exists in the current schema
func (s *Store) tableExists(ctx context.Context, name string) (bool, error) {
	var (
		query string
		count int
	)
	switch s.conv.Dialect() {
	case converter.DialectSQLite:
		query = "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
	default:
		query = s.db.Rebind("SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?")
	}

	if err := s.db.GetContext(ctx, &count, query, name); err != nil {
		return false, fmt.Errorf("failed to check if table %s exists: %w", name, err)
	}
	return count > 0, nil
}
