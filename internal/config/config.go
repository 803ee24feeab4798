package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrorPolicy defines what the scheduler does after a failed pass
type ErrorPolicy string

const (
	OnErrorContinue ErrorPolicy = "continue"
	OnErrorExit     ErrorPolicy = "exit"
)

// FingerprintAlgorithm names the hash used for content comparison
type FingerprintAlgorithm string

const (
	FingerprintSHA256 FingerprintAlgorithm = "sha256"
	FingerprintMD5    FingerprintAlgorithm = "md5"
)

// NumArgs is the number of positional arguments the daemon expects.
const NumArgs = 4

var (
	ErrSourceNotDir = errors.New("source is not a directory")
	ErrNestedTrees  = errors.New("source and replica must not be nested")
)

// Config represents the complete dirsyncd configuration.
// Paths and interval come from the command line; everything else may be set
// in an optional YAML file.
type Config struct {
	Source   string        `yaml:"-"`
	Replica  string        `yaml:"-"`
	Interval time.Duration `yaml:"-"`
	LogFile  string        `yaml:"-"`

	Log  LogConfig  `yaml:"log"`
	Sync SyncConfig `yaml:"sync"`
}

// LogConfig configures the log sink
type LogConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Console *bool  `yaml:"console"`
}

// SyncConfig configures pass behavior
type SyncConfig struct {
	OnError     ErrorPolicy          `yaml:"on_error"`
	Fingerprint FingerprintAlgorithm `yaml:"fingerprint"`
}

// Default returns a configuration with every optional field at its default.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.validateOptions(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Log.Level = os.ExpandEnv(c.Log.Level)
	c.Log.Format = os.ExpandEnv(c.Log.Format)
	c.Sync.OnError = ErrorPolicy(os.ExpandEnv(string(c.Sync.OnError)))
	c.Sync.Fingerprint = FingerprintAlgorithm(os.ExpandEnv(string(c.Sync.Fingerprint)))
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Console == nil {
		console := true
		c.Log.Console = &console
	}
	if c.Sync.OnError == "" {
		c.Sync.OnError = OnErrorContinue
	}
	if c.Sync.Fingerprint == "" {
		c.Sync.Fingerprint = FingerprintSHA256
	}
}

// ApplyArgs sets source, replica, interval and log file from the positional
// command line arguments.
func (c *Config) ApplyArgs(args []string) error {
	if len(args) != NumArgs {
		return fmt.Errorf("expected %d arguments, got %d", NumArgs, len(args))
	}

	seconds, err := strconv.Atoi(strings.TrimSpace(args[2]))
	if err != nil {
		return fmt.Errorf("interval must be a whole number of seconds: %q", args[2])
	}
	if seconds <= 0 {
		return fmt.Errorf("interval must be positive: %d", seconds)
	}

	c.Source = args[0]
	c.Replica = args[1]
	c.Interval = time.Duration(seconds) * time.Second
	c.LogFile = args[3]
	return nil
}

// ConsoleEnabled reports whether log records are mirrored to the console
func (c *Config) ConsoleEnabled() bool {
	return c.Log.Console == nil || *c.Log.Console
}

// Validate checks the configuration for errors and normalizes the paths.
func (c *Config) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("source directory is required")
	}
	if c.Replica == "" {
		return fmt.Errorf("replica directory is required")
	}
	if c.LogFile == "" {
		return fmt.Errorf("log file is required")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive: %s", c.Interval)
	}

	source, err := filepath.Abs(c.Source)
	if err != nil {
		return fmt.Errorf("failed to resolve source %s: %w", c.Source, err)
	}
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("source directory %s does not exist: %w", c.Source, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrSourceNotDir, c.Source)
	}
	// Walks do not follow a symlinked root, so resolve it here.
	if source, err = filepath.EvalSymlinks(source); err != nil {
		return fmt.Errorf("failed to resolve source %s: %w", c.Source, err)
	}

	replica, err := filepath.Abs(c.Replica)
	if err != nil {
		return fmt.Errorf("failed to resolve replica %s: %w", c.Replica, err)
	}
	if resolved, err := filepath.EvalSymlinks(replica); err == nil {
		replica = resolved
	}

	if isWithin(source, replica) || isWithin(replica, source) {
		return fmt.Errorf("%w: source=%s replica=%s", ErrNestedTrees, source, replica)
	}

	logFile, err := filepath.Abs(c.LogFile)
	if err != nil {
		return fmt.Errorf("failed to resolve log file %s: %w", c.LogFile, err)
	}

	c.Source = source
	c.Replica = replica
	c.LogFile = logFile

	return c.validateOptions()
}

// validateOptions checks the fields that may come from the YAML file
func (c *Config) validateOptions() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	switch c.Log.Format {
	case "text", "json":
		// valid
	default:
		return fmt.Errorf("invalid log.format: %s (must be text or json)", c.Log.Format)
	}

	switch c.Sync.OnError {
	case OnErrorContinue, OnErrorExit:
		// valid
	default:
		return fmt.Errorf("invalid sync.on_error policy: %s (must be continue or exit)", c.Sync.OnError)
	}

	switch c.Sync.Fingerprint {
	case FingerprintSHA256, FingerprintMD5:
		// valid
	default:
		return fmt.Errorf("invalid sync.fingerprint: %s (must be sha256 or md5)", c.Sync.Fingerprint)
	}

	return nil
}

// LockFilePath returns the path of the lock guarding the replica
func (c *Config) LockFilePath() string {
	return filepath.Clean(c.Replica) + ".lock"
}

// isWithin reports whether path equals root or lies below it
func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
