package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
)

// Action identifies a mutating operation on the replica
type Action string

const (
	DirCreated   Action = "directory created"
	FileCopied   Action = "file copied"
	FileModified Action = "file modified"
	FileDeleted  Action = "file deleted"
	DirDeleted   Action = "directory deleted"
)

// Event describes one completed mutating action
type Event struct {
	PassID  string
	Action  Action
	Source  string // absolute path in the source tree, empty for deletions
	Replica string // absolute path in the replica tree
	Size    int64  // bytes written, copies only
	DryRun  bool
}

// Recorder receives one Event per mutating action, after it succeeded.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// RecorderFunc adapts a function to the Recorder interface
type RecorderFunc func(ctx context.Context, ev Event)

// Record calls f(ctx, ev)
func (f RecorderFunc) Record(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// LogRecorder writes every event as a single log record
type LogRecorder struct {
	logger *slog.Logger
}

// NewLogRecorder creates a recorder that logs to logger
func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

// Record implements Recorder
func (r *LogRecorder) Record(ctx context.Context, ev Event) {
	msg := string(ev.Action)
	if ev.DryRun {
		msg = "[dry-run] " + msg
	}

	attrs := []slog.Attr{
		slog.String("action", actionKey(ev.Action)),
		slog.String("pass", ev.PassID),
	}
	if ev.Source != "" {
		attrs = append(attrs, slog.String("source", ev.Source))
	}
	attrs = append(attrs, slog.String("replica", ev.Replica))
	if ev.Action == FileCopied || ev.Action == FileModified {
		attrs = append(attrs, slog.String("size", humanize.Bytes(uint64(ev.Size))))
	}

	r.logger.LogAttrs(ctx, slog.LevelInfo, msg, attrs...)
}

func actionKey(a Action) string {
	switch a {
	case DirCreated:
		return "mkdir"
	case FileCopied:
		return "copy"
	case FileModified:
		return "modify"
	case FileDeleted:
		return "delete"
	case DirDeleted:
		return "rmdir"
	default:
		return string(a)
	}
}

// Result summarizes one synchronization pass
type Result struct {
	PassID        string
	DryRun        bool
	DirsCreated   int
	FilesCopied   int
	FilesModified int
	FilesDeleted  int
	DirsDeleted   int
	Duration      time.Duration
}

// Changes returns the total number of mutating actions in the pass
func (r *Result) Changes() int {
	return r.DirsCreated + r.FilesCopied + r.FilesModified + r.FilesDeleted + r.DirsDeleted
}

func (r *Result) count(a Action) {
	switch a {
	case DirCreated:
		r.DirsCreated++
	case FileCopied:
		r.FilesCopied++
	case FileModified:
		r.FilesModified++
	case FileDeleted:
		r.FilesDeleted++
	case DirDeleted:
		r.DirsDeleted++
	}
}
