package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/gofrs/flock"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/schaermu/dirsyncd/internal/config"
	"github.com/schaermu/dirsyncd/internal/fingerprint"
	"github.com/schaermu/dirsyncd/internal/logging"
	"github.com/schaermu/dirsyncd/internal/schedule"
	"github.com/schaermu/dirsyncd/internal/sync"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	dryRun    bool
	once      bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dirsyncd <source> <replica> <interval-seconds> <log-file>",
	Short: "Keep a replica directory identical to a source directory",
	Long: `dirsyncd periodically mirrors a source directory tree into a replica.

Every pass creates missing directories, copies new files, rewrites files whose
content differs, and finally removes everything in the replica that no longer
exists in the source. Each change is appended to the log file and mirrored to
the console.

Only directories and regular files are mirrored. Symbolic links and special
files in the source are skipped rather than copied as their target's content,
and any symlink found in the replica is removed.`,
	Args:          cobra.ExactArgs(config.NumArgs),
	Version:       version,
	SilenceErrors: true,
	RunE:          runDaemon,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("dirsyncd %s\n  commit: %s\n  built:  %s\n", version, commit, date))

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "optional YAML config file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&logFormat, "log-format", "text", "log file format (text, json)")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "log what would be done without making changes")
	rootCmd.Flags().BoolVar(&once, "once", false, "run a single pass and exit")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	// Arguments are valid from here on, errors are no longer usage errors.
	cmd.SilenceUsage = true

	ctx, cancel := setupSignalHandler()
	defer cancel()

	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	var console = cmd.OutOrStdout()
	if !cfg.ConsoleEnabled() {
		console = nil
	}
	logger, closer, err := logging.Setup(cfg.Log, cfg.LogFile, console)
	if err != nil {
		return err
	}
	defer closer.Close()

	unlock, err := acquireLock(cfg.LockFilePath())
	if err != nil {
		return err
	}
	defer unlock()

	scheduler, err := buildScheduler(cfg, logger)
	if err != nil {
		return err
	}

	logger.Info("dirsyncd started",
		"version", version,
		"source", cfg.Source,
		"replica", cfg.Replica,
		"interval", cfg.Interval,
		"log_file", cfg.LogFile,
		"dry_run", dryRun)

	if once {
		return scheduler.RunOnce(ctx)
	}
	return scheduler.Run(ctx)
}

// loadConfig merges the optional config file, the positional arguments and
// any explicitly set flags, then validates the result.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = logFormat
	}

	if err := cfg.ApplyArgs(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildScheduler(cfg *config.Config, logger *slog.Logger) (*schedule.Scheduler, error) {
	fs := afero.NewOsFs()

	fp, err := fingerprint.New(fs, fingerprint.Algorithm(cfg.Sync.Fingerprint))
	if err != nil {
		return nil, err
	}

	engine := sync.NewEngine(cfg, fs, fp, sync.NewLogRecorder(logger), logger, dryRun)
	return schedule.New(engine, clockwork.NewRealClock(), cfg.Interval, cfg.Sync.OnError, logger), nil
}

// acquireLock takes the exclusive lock guarding a replica and returns its
// release function.
func acquireLock(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("replica is already being synchronized by another process (lock %s)", path)
	}

	return func() { _ = lock.Unlock() }, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
