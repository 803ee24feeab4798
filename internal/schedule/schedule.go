// Package schedule repeats synchronization passes on a fixed interval.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/schaermu/dirsyncd/internal/config"
	"github.com/schaermu/dirsyncd/internal/sync"
)

// Pass runs a single synchronization pass
type Pass interface {
	Run(ctx context.Context) (*sync.Result, error)
}

// Scheduler runs a Pass, sleeps for the interval, and repeats
type Scheduler struct {
	pass     Pass
	clock    clockwork.Clock
	interval time.Duration
	policy   config.ErrorPolicy
	logger   *slog.Logger
}

// New creates a scheduler
func New(pass Pass, clock clockwork.Clock, interval time.Duration, policy config.ErrorPolicy, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		pass:     pass,
		clock:    clock,
		interval: interval,
		policy:   policy,
		logger:   logger,
	}
}

// Run loops until ctx is cancelled. Cancellation is only observed between
// passes. With the exit policy the first failed pass ends the loop and its
// error is returned.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval, "on_error", s.policy)

	for {
		if err := s.runPass(ctx); err != nil && s.policy == config.OnErrorExit {
			return err
		}

		s.logger.Info("next synchronization scheduled", "in", s.interval)
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-s.clock.After(s.interval):
		}
	}
}

// RunOnce performs a single pass
func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.runPass(ctx)
}

func (s *Scheduler) runPass(ctx context.Context) error {
	res, err := s.pass.Run(ctx)
	if err != nil {
		attrs := []any{"error", err}
		if res != nil {
			attrs = append(attrs, "pass", res.PassID, "completed_changes", res.Changes())
		}
		s.logger.Error("synchronization pass failed", attrs...)
		return fmt.Errorf("synchronization pass failed: %w", err)
	}

	s.logger.Info("synchronization complete",
		"pass", res.PassID,
		"dirs_created", res.DirsCreated,
		"files_copied", res.FilesCopied,
		"files_modified", res.FilesModified,
		"files_deleted", res.FilesDeleted,
		"dirs_deleted", res.DirsDeleted,
		"duration", res.Duration,
		"dry_run", res.DryRun)
	return nil
}
