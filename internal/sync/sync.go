package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/schaermu/dirsyncd/internal/config"
	"github.com/schaermu/dirsyncd/internal/tree"
)

// Fingerprinter computes the content digest of a file
type Fingerprinter interface {
	Fingerprint(path string) (string, error)
}

// Engine reconciles the replica tree against the source tree
type Engine struct {
	cfg      *config.Config
	fs       afero.Fs
	fp       Fingerprinter
	recorder Recorder
	logger   *slog.Logger
	dryRun   bool
}

// NewEngine creates a new sync engine
func NewEngine(cfg *config.Config, fs afero.Fs, fp Fingerprinter, recorder Recorder, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		cfg:      cfg,
		fs:       fs,
		fp:       fp,
		recorder: recorder,
		logger:   logger,
		dryRun:   dryRun,
	}
}

// Run executes one synchronization pass. The returned Result is non-nil
// even on error and counts the actions completed before the failure.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{PassID: uuid.NewString(), DryRun: e.dryRun}

	e.logger.Debug("starting synchronization pass",
		"pass", res.PassID,
		"source", e.cfg.Source,
		"replica", e.cfg.Replica,
		"dry_run", e.dryRun)

	// Creates and updates must land before stale names are removed
	if err := e.forward(ctx, res); err != nil {
		res.Duration = time.Since(start)
		return res, fmt.Errorf("forward phase: %w", err)
	}
	if err := e.reverse(ctx, res); err != nil {
		res.Duration = time.Since(start)
		return res, fmt.Errorf("reverse phase: %w", err)
	}

	res.Duration = time.Since(start)
	e.logger.Debug("synchronization pass finished",
		"pass", res.PassID,
		"changes", res.Changes(),
		"duration", res.Duration)

	return res, nil
}

// forward walks the source and creates or updates the replica counterpart of
// every directory and regular file.
func (e *Engine) forward(ctx context.Context, res *Result) error {
	return afero.Walk(e.fs, e.cfg.Source, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walk source %s: %w", path, err)
		}

		dst, err := tree.Rebase(e.cfg.Source, e.cfg.Replica, path)
		if err != nil {
			return err
		}

		switch tree.KindOfInfo(info) {
		case tree.Dir:
			return e.ensureDir(ctx, res, path, dst)
		case tree.File:
			return e.syncFile(ctx, res, path, dst, info)
		default:
			e.logger.Debug("skipping non-regular source entry", "path", path, "mode", info.Mode().String())
			return nil
		}
	})
}

// ensureDir makes sure dst is a directory, replacing any non-directory entry
func (e *Engine) ensureDir(ctx context.Context, res *Result, src, dst string) error {
	kind, err := tree.KindOf(e.fs, dst)
	if err != nil {
		return err
	}

	switch kind {
	case tree.Dir:
		return nil
	case tree.File, tree.Other:
		if err := e.remove(dst); err != nil {
			return err
		}
		e.record(ctx, res, Event{Action: FileDeleted, Replica: dst})
	}

	if !e.dryRun {
		if err := e.fs.MkdirAll(dst, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dst, err)
		}
	}
	e.record(ctx, res, Event{Action: DirCreated, Source: src, Replica: dst})
	return nil
}

// syncFile brings dst in line with the regular file src
func (e *Engine) syncFile(ctx context.Context, res *Result, src, dst string, info os.FileInfo) error {
	kind, err := tree.KindOf(e.fs, dst)
	if err != nil {
		return err
	}

	switch kind {
	case tree.Missing:
		return e.copy(ctx, res, FileCopied, src, dst, info)

	case tree.File:
		same, err := e.sameContent(src, dst)
		if err != nil {
			return err
		}
		if same {
			return nil
		}
		return e.copy(ctx, res, FileModified, src, dst, info)

	case tree.Dir:
		if err := e.removeAll(dst); err != nil {
			return err
		}
		e.record(ctx, res, Event{Action: DirDeleted, Replica: dst})
		return e.copy(ctx, res, FileCopied, src, dst, info)

	default:
		// never write through a symlink or special file in the replica
		if err := e.remove(dst); err != nil {
			return err
		}
		e.record(ctx, res, Event{Action: FileDeleted, Replica: dst})
		return e.copy(ctx, res, FileCopied, src, dst, info)
	}
}

// reverse walks the replica and removes everything that has no counterpart
// of the same kind in the source.
func (e *Engine) reverse(ctx context.Context, res *Result) error {
	kind, err := tree.KindOf(e.fs, e.cfg.Replica)
	if err != nil {
		return err
	}
	if kind != tree.Dir {
		// only reachable in dry-run, where the forward phase created nothing
		return nil
	}

	return afero.Walk(e.fs, e.cfg.Replica, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walk replica %s: %w", path, err)
		}
		if path == e.cfg.Replica {
			return nil
		}

		src, err := tree.Rebase(e.cfg.Replica, e.cfg.Source, path)
		if err != nil {
			return err
		}
		srcKind, err := tree.KindOf(e.fs, src)
		if err != nil {
			return err
		}

		if info.IsDir() {
			if srcKind == tree.Dir {
				return nil
			}
			if err := e.removeAll(path); err != nil {
				return err
			}
			e.record(ctx, res, Event{Action: DirDeleted, Replica: path})
			return filepath.SkipDir
		}

		if srcKind == tree.File {
			return nil
		}
		if tree.IsTempFile(path) {
			e.logger.Debug("removing interrupted copy", "path", path)
		}
		if err := e.remove(path); err != nil {
			return err
		}
		e.record(ctx, res, Event{Action: FileDeleted, Replica: path})
		return nil
	})
}

// sameContent compares the fingerprints of src and dst
func (e *Engine) sameContent(src, dst string) (bool, error) {
	srcSum, err := e.fp.Fingerprint(src)
	if err != nil {
		return false, fmt.Errorf("failed to fingerprint %s: %w", src, err)
	}
	dstSum, err := e.fp.Fingerprint(dst)
	if err != nil {
		return false, fmt.Errorf("failed to fingerprint %s: %w", dst, err)
	}
	return srcSum == dstSum, nil
}

func (e *Engine) copy(ctx context.Context, res *Result, action Action, src, dst string, info os.FileInfo) error {
	if !e.dryRun {
		if err := e.copyFile(src, dst, info); err != nil {
			return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
		}
	}
	e.record(ctx, res, Event{Action: action, Source: src, Replica: dst, Size: info.Size()})
	return nil
}

func (e *Engine) remove(path string) error {
	if e.dryRun {
		return nil
	}
	if err := e.fs.Remove(path); err != nil {
		return fmt.Errorf("failed to delete file %s: %w", path, err)
	}
	return nil
}

func (e *Engine) removeAll(path string) error {
	if e.dryRun {
		return nil
	}
	if err := e.fs.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete directory %s: %w", path, err)
	}
	return nil
}

func (e *Engine) record(ctx context.Context, res *Result, ev Event) {
	ev.PassID = res.PassID
	ev.DryRun = e.dryRun
	res.count(ev.Action)
	e.recorder.Record(ctx, ev)
}

// copyFile copies src to a temporary file carrying the permission bits and
// modification time of src, then renames it over dst.
func (e *Engine) copyFile(src, dst string, info os.FileInfo) error {
	srcFile, err := e.fs.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	// Create temp file in destination directory
	tmpFile, err := afero.TempFile(e.fs, filepath.Dir(dst), tree.TempPrefix+"*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = e.fs.Remove(tmpPath)
	}() // cleanup on error

	if _, err := io.Copy(tmpFile, srcFile); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	if err := e.fs.Chmod(tmpPath, info.Mode().Perm()); err != nil {
		return err
	}
	if err := e.fs.Chtimes(tmpPath, info.ModTime(), info.ModTime()); err != nil {
		return err
	}

	// Atomic rename, the only change visible in the replica
	return e.fs.Rename(tmpPath, dst)
}
