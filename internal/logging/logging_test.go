package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/dirsyncd/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  slog.Level
	}{
		{"debug", "debug", slog.LevelDebug},
		{"info", "info", slog.LevelInfo},
		{"warn", "warn", slog.LevelWarn},
		{"error", "error", slog.LevelError},
		{"unknown defaults to info", "verbose", slog.LevelInfo},
		{"empty defaults to info", "", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestSetup_AppendsToLogFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "nested", "dirsyncd.log")
	cfg := config.LogConfig{Level: "info", Format: "text"}

	logger, closer, err := Setup(cfg, logFile, nil)
	require.NoError(t, err)
	logger.Info("first run")
	require.NoError(t, closer.Close())

	logger, closer, err = Setup(cfg, logFile, nil)
	require.NoError(t, err)
	logger.Info("second run")
	logger.Debug("filtered out")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `msg="first run"`)
	assert.Contains(t, out, `msg="second run"`)
	assert.NotContains(t, out, "filtered out")
	assert.Less(t, strings.Index(out, "first run"), strings.Index(out, "second run"))
}

func TestSetup_UnwritableLogFile(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	_, _, err := Setup(config.LogConfig{}, filepath.Join(blocker, "dirsyncd.log"), nil)
	assert.Error(t, err)
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(config.LogConfig{Level: "debug", Format: "json"}, &buf, nil)
	logger.Debug("file copied", "replica", "/data/replica/a.txt")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "file copied", entry["msg"])
	assert.Equal(t, "DEBUG", entry["level"])
	assert.Equal(t, "/data/replica/a.txt", entry["replica"])
}

func TestNew_MirrorsToConsole(t *testing.T) {
	var file, console bytes.Buffer
	logger := New(config.LogConfig{Level: "info", Format: "text"}, &file, &console)
	logger.With("pass", "abc").Info("directory created", "replica", "/r/sub")

	assert.Contains(t, file.String(), `msg="directory created"`)
	assert.Contains(t, file.String(), "pass=abc")
	assert.Contains(t, console.String(), "directory created")
	assert.Contains(t, console.String(), "pass=abc")
	// a bytes.Buffer is never a terminal, so no escape codes
	assert.NotContains(t, console.String(), "\x1b[")
}

type recordingHandler struct {
	level   slog.Level
	records []slog.Record
	err     error
}

func (h *recordingHandler) Enabled(_ context.Context, l slog.Level) bool { return l >= h.level }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.records = append(h.records, r)
	return h.err
}

func (h *recordingHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(_ string) slog.Handler      { return h }

func TestMultiHandler(t *testing.T) {
	debug := &recordingHandler{level: slog.LevelDebug}
	warn := &recordingHandler{level: slog.LevelWarn}
	h := NewMultiHandler(debug, warn)

	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, NewMultiHandler(warn).Enabled(context.Background(), slog.LevelInfo))

	logger := slog.New(h)
	logger.Info("info only reaches debug handler")
	logger.Warn("warn reaches both")

	assert.Len(t, debug.records, 2)
	assert.Len(t, warn.records, 1)
	assert.Equal(t, "warn reaches both", warn.records[0].Message)
}

func TestMultiHandler_JoinsErrors(t *testing.T) {
	first := errors.New("disk full")
	second := errors.New("closed pipe")
	h := NewMultiHandler(
		&recordingHandler{err: first},
		&recordingHandler{err: second},
	)

	err := h.Handle(context.Background(), slog.NewRecord(time.Time{}, slog.LevelInfo, "msg", 0))
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
}
