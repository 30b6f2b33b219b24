package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_WritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.log")

	logger, err := New("debug", "json", path)
	require.NoError(t, err)
	t.Cleanup(func() { zap.ReplaceGlobals(zap.NewNop()) })

	logger.Debug("Starting run", zap.String("stage", "clean"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"Starting run"`)
	assert.Contains(t, string(data), `"stage":"clean"`)
	assert.Same(t, logger, zap.L())
}

func TestNew_Invalid(t *testing.T) {
	_, err := New("loud", "json", "")
	assert.Error(t, err)

	_, err = New("info", "xml", "")
	assert.Error(t, err)
}
