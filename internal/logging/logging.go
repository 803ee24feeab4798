// Package logging builds the process logger: a durable, append-only log file
// optionally mirrored to the console.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"github.com/schaermu/dirsyncd/internal/config"
)

// ParseLevel converts a level name into a slog.Level, defaulting to info
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup opens logFile for appending and returns a logger writing to it and,
// when console is non-nil, mirroring to console. The returned closer closes
// the log file.
func Setup(cfg config.LogConfig, logFile string, console io.Writer) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return New(cfg, file, console), file, nil
}

// New builds a logger writing to out in the configured format, mirrored to
// console when it is non-nil.
func New(cfg config.LogConfig, out io.Writer, console io.Writer) *slog.Logger {
	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	var fileHandler slog.Handler
	if cfg.Format == "json" {
		fileHandler = slog.NewJSONHandler(out, opts)
	} else {
		fileHandler = slog.NewTextHandler(out, opts)
	}

	if console == nil {
		return slog.New(fileHandler)
	}

	consoleHandler := tint.NewHandler(console, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    !isTerminal(console),
	})
	return slog.New(NewMultiHandler(fileHandler, consoleHandler))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
