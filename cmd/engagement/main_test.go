package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const feed = `post_date,platform,post_type,likes_count,shares_count,comments_count
2024-01-01,twitter,promo,600,10,5
2024-01-02,facebook,daily,3,1,0
2024-01-03,twitter,promo,700,20,1
2024-01-04,instagram,reel,2,0,0
`

func setupCLITest(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "raw.csv"), []byte(feed), 0o644))

	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "engagement.db"))
	t.Setenv("RAW_SOURCE", "csv")
	t.Setenv("RAW_DATA_PATH", filepath.Join(dir, "raw.csv"))
	t.Setenv("CLEANED_DATA_PATH", filepath.Join(dir, "cleaned.csv"))
	t.Setenv("MODEL_PATH", filepath.Join(dir, "model.json"))
	t.Setenv("ENCODING_PATH", filepath.Join(dir, "encoding.json"))
	t.Setenv("RUN_LOCK", "none")
	t.Setenv("NOTIFY_CHANNEL", "log")
	t.Setenv("TRAIN_ON_RUN", "true")
	t.Setenv("LOG_FILE", filepath.Join(dir, "pipeline.log"))
	t.Cleanup(func() { zap.ReplaceGlobals(zap.NewNop()) })
	return dir
}

func execute(args ...string) error {
	root := newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func TestRunCommand(t *testing.T) {
	dir := setupCLITest(t)

	require.NoError(t, execute("run", "--env-file", ""))

	for _, name := range []string{"cleaned.csv", "model.json", "encoding.json", "engagement.db"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	log, err := os.ReadFile(filepath.Join(dir, "pipeline.log"))
	require.NoError(t, err)
	assert.Contains(t, string(log), "Pipeline completed successfully")

	// Scoring again finds nothing new and still succeeds
	require.NoError(t, execute("score"))
	log, err = os.ReadFile(filepath.Join(dir, "pipeline.log"))
	require.NoError(t, err)
	assert.Contains(t, string(log), "No new data to predict")
}

func TestStageCommand_FailureExitStatus(t *testing.T) {
	dir := setupCLITest(t)
	t.Setenv("RAW_DATA_PATH", filepath.Join(dir, "missing.csv"))

	err := execute("clean")
	var exit *exitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 1, exit.code)
}

func TestRunSchedule_RequiresSpec(t *testing.T) {
	assert.Error(t, runSchedule(context.Background(), &app{logger: zap.NewNop()}, ""))
}

func TestSetup_InvalidConfig(t *testing.T) {
	setupCLITest(t)
	t.Setenv("RECORD_ID_STRATEGY", "random")

	assert.Error(t, execute("run"))
}

func TestRunCommand_UnreachableStoreStillReports(t *testing.T) {
	dir := setupCLITest(t)
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "no", "such", "dir", "engagement.db"))

	err := execute("run")
	var exit *exitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 1, exit.code)

	// Cleaning does not need the store and still runs
	_, err = os.Stat(filepath.Join(dir, "cleaned.csv"))
	assert.NoError(t, err)

	log, err := os.ReadFile(filepath.Join(dir, "pipeline.log"))
	require.NoError(t, err)
	assert.Contains(t, string(log), "[ETL Pipeline] ETL Pipeline FAILED")
	assert.Contains(t, string(log), "Failure Point: load")
	assert.Contains(t, string(log), "Status notification sent")
}

func TestRunCommand_MissingEmailCredentialsDoNotFailRun(t *testing.T) {
	dir := setupCLITest(t)
	t.Setenv("NOTIFY_CHANNEL", "smtp")
	t.Setenv("EMAIL_SENDER", "etl@example.com")
	t.Setenv("EMAIL_RECEIVER", "ops@example.com")
	t.Setenv("EMAIL_PASSWORD", "")

	require.NoError(t, execute("run"))

	log, err := os.ReadFile(filepath.Join(dir, "pipeline.log"))
	require.NoError(t, err)
	assert.Contains(t, string(log), "Missing email credentials")
	assert.Contains(t, string(log), "Pipeline completed successfully")
	assert.Contains(t, string(log), "Status notification failed")
}
