//go:build integration

package tier1

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/schaermu/dirsyncd/internal/testutil"
)

const (
	binaryName     = "dirsyncd"
	defaultTimeout = 5 * time.Minute
	pollInterval   = 100 * time.Millisecond
)

// Harness builds the dirsyncd binary once and runs it against temporary
// source and replica trees.
type Harness struct {
	t       *testing.T
	binPath string
	root    string
	keep    bool
}

// NewHarness creates a new test harness with its own working directory
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	return &Harness{
		t:    t,
		root: t.TempDir(),
		keep: os.Getenv("INTEGRATION_KEEP_TREES") == "1",
	}
}

// Source returns the source tree path
func (h *Harness) Source() string { return filepath.Join(h.root, "source") }

// Replica returns the replica tree path
func (h *Harness) Replica() string { return filepath.Join(h.root, "replica") }

// LogFile returns the log file path
func (h *Harness) LogFile() string { return filepath.Join(h.root, "logs", "dirsyncd.log") }

// BuildBinary compiles cmd/dirsyncd into the harness directory
func (h *Harness) BuildBinary(ctx context.Context) error {
	h.t.Helper()

	projectRoot, err := testutil.FindProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	h.binPath = filepath.Join(h.root, "bin", binaryName)
	h.t.Logf("Building %s from %s", h.binPath, projectRoot)

	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binPath, "./cmd/dirsyncd")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	return nil
}

// Run executes the binary to completion
func (h *Harness) Run(ctx context.Context, args ...string) (string, string, int, error) {
	h.t.Helper()
	if h.binPath == "" {
		return "", "", 0, fmt.Errorf("binary not built")
	}

	cmd := exec.CommandContext(ctx, h.binPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// MustSyncOnce runs a single pass over the harness trees and fails the test
// on a non-zero exit.
func (h *Harness) MustSyncOnce(ctx context.Context, extra ...string) string {
	h.t.Helper()
	args := append([]string{h.Source(), h.Replica(), "1", h.LogFile(), "--once"}, extra...)
	stdout, stderr, exitCode, err := h.Run(ctx, args...)
	if err != nil {
		h.t.Fatalf("run failed: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("dirsyncd failed with exit code %d\nstdout: %s\nstderr: %s\nargs: %v",
			exitCode, stdout, stderr, args)
	}
	return stdout
}

// lockedBuffer is written by the child process pipe and read by the test
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Daemon is a running dirsyncd process
type Daemon struct {
	cmd    *exec.Cmd
	stdout lockedBuffer
	done   chan error
}

// StartDaemon launches dirsyncd in its repeating mode
func (h *Harness) StartDaemon(ctx context.Context, interval string) (*Daemon, error) {
	h.t.Helper()

	d := &Daemon{done: make(chan error, 1)}
	d.cmd = exec.CommandContext(ctx, h.binPath, h.Source(), h.Replica(), interval, h.LogFile())
	d.cmd.Stdout = &d.stdout
	d.cmd.Stderr = &testWriter{t: h.t, prefix: "[daemon] "}

	if err := d.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start daemon: %w", err)
	}
	go func() { d.done <- d.cmd.Wait() }()
	return d, nil
}

// Stop sends SIGTERM and waits for the process to exit
func (d *Daemon) Stop(timeout time.Duration) error {
	if err := d.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon: %w", err)
	}
	select {
	case err := <-d.done:
		return err
	case <-time.After(timeout):
		_ = d.cmd.Process.Kill()
		return fmt.Errorf("daemon did not exit within %s", timeout)
	}
}

// Cleanup reports the harness directory when the test failed and trees are
// kept for inspection.
func (h *Harness) Cleanup() {
	h.t.Helper()
	if h.keep && h.t.Failed() {
		h.t.Logf("Test failed and INTEGRATION_KEEP_TREES=1, copy of log file follows")
		if data, err := os.ReadFile(h.LogFile()); err == nil {
			h.t.Log(string(data))
		}
	}
}

// WriteFile writes a file below the source tree, creating parents
func (h *Harness) WriteFile(rel, content string) {
	h.t.Helper()
	path := filepath.Join(h.Source(), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		h.t.Fatalf("mkdir parent: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		h.t.Fatalf("write file: %v", err)
	}
}

// RemoveSource deletes an entry below the source tree
func (h *Harness) RemoveSource(rel string) {
	h.t.Helper()
	if err := os.RemoveAll(filepath.Join(h.Source(), filepath.FromSlash(rel))); err != nil {
		h.t.Fatalf("remove: %v", err)
	}
}

// ReadReplica reads a file below the replica tree
func (h *Harness) ReadReplica(rel string) (string, error) {
	data, err := os.ReadFile(filepath.Join(h.Replica(), filepath.FromSlash(rel)))
	return string(data), err
}

// ReplicaExists reports whether rel exists below the replica tree
func (h *Harness) ReplicaExists(rel string) bool {
	_, err := os.Lstat(filepath.Join(h.Replica(), filepath.FromSlash(rel)))
	return err == nil
}

// ReadLog returns the log file contents
func (h *Harness) ReadLog() string {
	h.t.Helper()
	data, err := os.ReadFile(h.LogFile())
	if err != nil {
		h.t.Fatalf("read log: %v", err)
	}
	return string(data)
}

// WaitFor polls cond until it holds or timeout elapses
func (h *Harness) WaitFor(timeout time.Duration, what string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(pollInterval)
	}
	h.t.Fatalf("timed out after %s waiting for %s", timeout, what)
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)
