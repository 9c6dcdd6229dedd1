package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLogDir(t *testing.T) {
	dir := DefaultLogDir()
	require.NotEmpty(t, dir)
	assert.Contains(t, dir, ".lodestone")
	assert.Contains(t, dir, "logs")
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	// Given: logging into a temp file, no stderr tee
	path := filepath.Join(t.TempDir(), "server.log")
	logger, cleanup, err := Setup(Config{
		Level:     "info",
		FilePath:  path,
		MaxSizeMB: 1,
		MaxFiles:  2,
	})
	require.NoError(t, err)

	// When: emitting a record
	logger.Info("crawl finished", slog.Int("pages", 12))
	cleanup()

	// Then: the file holds one JSON line with the attributes
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var record map[string]any
	line := strings.TrimSpace(string(data))
	require.NoError(t, json.Unmarshal([]byte(line), &record))
	assert.Equal(t, "crawl finished", record["msg"])
	assert.Equal(t, float64(12), record["pages"])
}

func TestSetup_LevelFiltersRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	logger, cleanup, err := Setup(Config{
		Level:     "warn",
		FilePath:  path,
		MaxSizeMB: 1,
		MaxFiles:  2,
	})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("hidden too")
	logger.Warn("visible")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "visible")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), "level %q", tt.in)
	}
}

func TestRotatingWriter_RotatesAtSizeLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.log")

	w, err := NewRotatingWriter(path, 1, 3) // 1 MB cap
	require.NoError(t, err)
	defer w.Close()

	// Two writes that together exceed the cap force one rotation.
	big := strings.Repeat("x", 700*1024)
	_, err = w.Write([]byte(big))
	require.NoError(t, err)
	_, err = w.Write([]byte(big))
	require.NoError(t, err)

	_, err = os.Stat(path + ".1")
	assert.NoError(t, err, "rotated file should exist")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(1024*1024))
}

func TestRotatingWriter_KeepsAtMostMaxFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.log")

	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	defer w.Close()

	big := strings.Repeat("x", 600*1024)
	for i := 0; i < 6; i++ {
		_, err = w.Write([]byte(big))
		require.NoError(t, err)
	}

	matches, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(matches), 2)
}
