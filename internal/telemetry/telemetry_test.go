package telemetry

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestInitLoggerWritesRotatedFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := t.TempDir()
	logger, closer, err := InitLogger(dir, "chat-test", "info")
	require.NoError(t, err)

	logger.Info("hello", "session_id", "s1")
	logger.Debug("hidden")
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(filepath.Join(dir, "chat-test.log"))
	require.NoError(t, err)
	out := string(b)
	assert.Contains(t, out, `"msg":"hello"`)
	assert.Contains(t, out, `"service":"chat-test"`)
	assert.False(t, strings.Contains(out, "hidden"))
}

func TestInitTelemetry(t *testing.T) {
	cleanup, err := InitTelemetry(context.Background(), t.TempDir(), "chat-test")
	require.NoError(t, err)
	cleanup()
}
