package store

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/David-Botos/engagement-pipeline/pkg/connector"
	"github.com/David-Botos/engagement-pipeline/pkg/model"
)

var testTables = Tables{
	Cleaned:     "social_media_data",
	Predictions: "engagement_predictions",
	Runs:        "pipeline_runs",
}

func setupSQLiteStore(t *testing.T) *Store {
	t.Helper()

	conn, err := connector.NewSQLiteConnector(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	s, err := New(sqlx.NewDb(conn.DB(), conn.DriverName()), testTables, zap.NewNop())
	require.NoError(t, err)
	return s
}

func setupMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := New(sqlx.NewDb(db, "pgx"), testTables, zap.NewNop())
	require.NoError(t, err)
	return s, mock
}

func cleanedBatch(ids ...string) *model.Batch {
	batch := &model.Batch{
		Columns: []model.Column{
			{Name: model.RecordIDColumn, Kind: model.KindText},
			{Name: "Post Date", Kind: model.KindDate},
			{Name: "platform", Kind: model.KindText},
			{Name: "likes", Kind: model.KindNumeric},
		},
	}
	for i, id := range ids {
		var platform interface{} = "TWITTER"
		if i%2 == 1 {
			platform = nil
		}
		batch.Rows = append(batch.Rows, model.Row{
			model.RecordIDColumn: id,
			"Post Date":          time.Date(2024, 1, i+1, 0, 0, 0, 0, time.UTC),
			"platform":           platform,
			"likes":              float64(i * 10),
		})
	}
	return batch
}

func predictions(label int, ids ...string) []model.Prediction {
	preds := make([]model.Prediction, len(ids))
	for i, id := range ids {
		preds[i] = model.Prediction{RecordID: id, Label: label, ModelVersion: "v1", ScoredAt: time.Now()}
	}
	return preds
}

func TestReplace_OverwritesWholeTable(t *testing.T) {
	ctx := context.Background()
	s := setupSQLiteStore(t)

	n, err := s.Replace(ctx, cleanedBatch("A", "B", "C"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.Replace(ctx, cleanedBatch("D"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	unscored, err := s.Unscored(ctx)
	require.NoError(t, err)
	ids, err := unscored.RecordIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"D"}, ids)
}

func TestReplace_RejectsInvalidBatchWithoutTouchingTable(t *testing.T) {
	ctx := context.Background()
	s := setupSQLiteStore(t)

	_, err := s.Replace(ctx, cleanedBatch("A", "B"))
	require.NoError(t, err)

	_, err = s.Replace(ctx, cleanedBatch("X", "X"))
	require.Error(t, err)

	unscored, err := s.Unscored(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, unscored.Len())
}

func TestReplace_ChunksLargeBatches(t *testing.T) {
	ctx := context.Background()
	s := setupSQLiteStore(t)

	ids := make([]string, 2500)
	for i := range ids {
		ids[i] = fmt.Sprintf("rid%06d", i+1)
	}

	n, err := s.Replace(ctx, cleanedBatch(ids...))
	require.NoError(t, err)
	assert.Equal(t, int64(2500), n)
}

func TestUnscored_AntiJoin(t *testing.T) {
	ctx := context.Background()
	s := setupSQLiteStore(t)

	_, err := s.Replace(ctx, cleanedBatch("A", "B", "C"))
	require.NoError(t, err)

	written, err := s.AppendPredictions(ctx, predictions(1, "A"))
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	unscored, err := s.Unscored(ctx)
	require.NoError(t, err)

	ids, err := unscored.RecordIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, ids)

	// Values come back typed
	assert.Equal(t, []string{model.RecordIDColumn, "Post Date", "platform", "likes"}, unscored.ColumnNames())
	assert.Equal(t, model.KindDate, unscored.Columns[1].Kind)
	assert.Equal(t, model.KindNumeric, unscored.Columns[3].Kind)
	assert.Equal(t, 10.0, unscored.Rows[0]["likes"])
	assert.Nil(t, unscored.Rows[0]["platform"])
	assert.Equal(t, "TWITTER", unscored.Rows[1]["platform"])
	postDate, ok := unscored.Rows[0]["Post Date"].(time.Time)
	require.True(t, ok)
	assert.True(t, postDate.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))
}

func TestUnscored_EmptyIsNotAnError(t *testing.T) {
	ctx := context.Background()
	s := setupSQLiteStore(t)

	_, err := s.Replace(ctx, cleanedBatch("A"))
	require.NoError(t, err)
	_, err = s.AppendPredictions(ctx, predictions(0, "A"))
	require.NoError(t, err)

	unscored, err := s.Unscored(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, unscored.Len())
}

func TestUnscored_MissingCleanedTable(t *testing.T) {
	s := setupSQLiteStore(t)

	_, err := s.Unscored(context.Background())
	assert.ErrorIs(t, err, ErrTableMissing)
}

func TestAppendPredictions_RejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := setupSQLiteStore(t)

	_, err := s.AppendPredictions(ctx, predictions(1, "A", "B"))
	require.NoError(t, err)

	// Already stored
	_, err = s.AppendPredictions(ctx, predictions(0, "C", "A"))
	assert.ErrorIs(t, err, ErrDuplicatePrediction)

	// Repeated within one batch
	_, err = s.AppendPredictions(ctx, predictions(0, "D", "D"))
	assert.ErrorIs(t, err, ErrDuplicatePrediction)

	// Neither failed append wrote anything
	count, err := s.PredictionCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	stored, err := s.Predictions(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "A", stored[0].RecordID)
	assert.Equal(t, 1, stored[0].Label)
	assert.Equal(t, "v1", stored[0].ModelVersion)
}

func TestAppendPredictions_RejectsNonBinaryLabel(t *testing.T) {
	s := setupSQLiteStore(t)

	_, err := s.AppendPredictions(context.Background(), predictions(2, "A"))
	assert.Error(t, err)
}

func TestAppendPredictions_MapsPostgresUniqueViolation(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "engagement_predictions"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "pipeline_runs"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "record_id" FROM "engagement_predictions" WHERE "record_id" IN ($1, $2)`)).
		WithArgs("A", "B").
		WillReturnRows(sqlmock.NewRows([]string{"record_id"}))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "engagement_predictions"`)).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	_, err := s.AppendPredictions(context.Background(), predictions(1, "A", "B"))
	assert.ErrorIs(t, err, ErrDuplicatePrediction)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplace_RollsBackOnInsertFailure(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DROP TABLE IF EXISTS "social_media_data"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE "social_media_data"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "social_media_data" ("record_id", "Post Date", "platform", "likes") VALUES ($1, $2, $3, $4)`)).
		WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectRollback()

	_, err := s.Replace(context.Background(), cleanedBatch("A"))
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplace_DetectsRowCountMismatch(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DROP TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "social_media_data"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	_, err := s.Replace(context.Background(), cleanedBatch("A", "B"))
	assert.ErrorIs(t, err, ErrRowCountMismatch)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRun(t *testing.T) {
	ctx := context.Background()
	s := setupSQLiteStore(t)

	err := s.RecordRun(ctx, RunRecord{
		RunID:       "run-1",
		Status:      "FAILED",
		StartedAt:   time.Now(),
		Duration:    1500 * time.Millisecond,
		FailedStage: "score",
		Cause:       "schema mismatch",
	})
	require.NoError(t, err)

	var status string
	require.NoError(t, s.db.GetContext(ctx, &status, `SELECT status FROM "pipeline_runs" WHERE run_id = ?`, "run-1"))
	assert.Equal(t, "FAILED", status)
}

func TestNew_RejectsUnknownDriver(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = New(sqlx.NewDb(db, "mysql"), testTables, zap.NewNop())
	assert.Error(t, err)
}
