package schedule

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/dirsyncd/internal/config"
	"github.com/schaermu/dirsyncd/internal/sync"
)

// scriptedPass fails on the call numbers listed in failOn (1-based).
type scriptedPass struct {
	calls  atomic.Int32
	failOn map[int32]error
}

func (p *scriptedPass) Run(_ context.Context) (*sync.Result, error) {
	n := p.calls.Add(1)
	res := &sync.Result{PassID: fmt.Sprintf("pass-%d", n), FilesCopied: 1}
	if err, ok := p.failOn[n]; ok {
		return res, err
	}
	return res, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRun_RepeatsOnInterval(t *testing.T) {
	fc := clockwork.NewFakeClock()
	pass := &scriptedPass{}
	s := New(pass, fc, 30*time.Second, config.OnErrorContinue, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	fc.BlockUntil(1)
	assert.Equal(t, int32(1), pass.calls.Load())

	// not yet due
	fc.Advance(29 * time.Second)
	assert.Equal(t, int32(1), pass.calls.Load())

	fc.Advance(time.Second)
	fc.BlockUntil(1)
	assert.Equal(t, int32(2), pass.calls.Load())

	fc.Advance(30 * time.Second)
	fc.BlockUntil(1)
	assert.Equal(t, int32(3), pass.calls.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
	assert.Equal(t, int32(3), pass.calls.Load())
}

func TestRun_ContinuesAfterFailedPass(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	fc := clockwork.NewFakeClock()
	boom := errors.New("file vanished")
	pass := &scriptedPass{failOn: map[int32]error{1: boom}}
	s := New(pass, fc, time.Minute, config.OnErrorContinue, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	fc.BlockUntil(1)
	fc.Advance(time.Minute)
	fc.BlockUntil(1)
	assert.Equal(t, int32(2), pass.calls.Load())

	cancel()
	require.NoError(t, <-done)

	out := buf.String()
	assert.Contains(t, out, `msg="synchronization pass failed"`)
	assert.Contains(t, out, "file vanished")
	assert.Contains(t, out, "pass=pass-1")
	assert.Contains(t, out, `msg="synchronization complete"`)
	assert.Equal(t, 1, strings.Count(out, "synchronization pass failed"))
}

func TestRun_ExitPolicyStopsOnFailure(t *testing.T) {
	fc := clockwork.NewFakeClock()
	boom := errors.New("permission denied")
	pass := &scriptedPass{failOn: map[int32]error{1: boom}}
	s := New(pass, fc, time.Minute, config.OnErrorExit, testLogger())

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), pass.calls.Load())
}

func TestRun_CancelledContextStopsAfterCurrentPass(t *testing.T) {
	fc := clockwork.NewFakeClock()
	pass := &scriptedPass{}
	s := New(pass, fc, time.Hour, config.OnErrorContinue, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// the pass still runs to completion, the sleep is skipped
	require.NoError(t, s.Run(ctx))
	assert.Equal(t, int32(1), pass.calls.Load())
}

func TestRunOnce(t *testing.T) {
	fc := clockwork.NewFakeClock()

	pass := &scriptedPass{}
	s := New(pass, fc, time.Minute, config.OnErrorContinue, testLogger())
	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, int32(1), pass.calls.Load())

	boom := errors.New("boom")
	failing := &scriptedPass{failOn: map[int32]error{1: boom}}
	s = New(failing, fc, time.Minute, config.OnErrorContinue, testLogger())
	assert.ErrorIs(t, s.RunOnce(context.Background()), boom)
}
