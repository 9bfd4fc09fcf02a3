package stress

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/muzarski/scylla-cluster-tests/internal/remote"
	"github.com/muzarski/scylla-cluster-tests/internal/sandbox"
)

// scriptedRunner replays canned responses for consecutive commands and
// records everything it was asked to run.
type scriptedRunner struct {
	mu       sync.Mutex
	steps    []scriptedStep
	commands []string
}

type scriptedStep struct {
	output string
	exit   int
	err    error
	delay  time.Duration
}

func (s *scriptedRunner) Target() string { return "loader-test" }

func (s *scriptedRunner) Run(ctx context.Context, command string, opts remote.Options) (*remote.ExecResult, error) {
	s.mu.Lock()
	s.commands = append(s.commands, command)
	step := scriptedStep{}
	if len(s.steps) > 0 {
		step = s.steps[0]
		s.steps = s.steps[1:]
	}
	s.mu.Unlock()
	if step.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(step.delay):
		}
	}
	if step.err != nil {
		return nil, step.err
	}
	if opts.Output != nil && step.output != "" {
		_, _ = io.WriteString(opts.Output, step.output)
	}
	return &remote.ExecResult{ExitCode: step.exit}, nil
}

func (s *scriptedRunner) removeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, cmd := range s.commands {
		if strings.HasPrefix(cmd, "docker rm -f") {
			n++
		}
	}
	return n
}

func acquireContainer(t *testing.T, runner *scriptedRunner) *sandbox.Container {
	t.Helper()
	docker := sandbox.NewDocker(runner, zap.NewNop())
	c, err := docker.Acquire(context.Background(), sandbox.ContainerSpec{
		Image:  "scylladb/cql-stress-cassandra-stress:latest",
		Marker: "marker-run",
	})
	require.NoError(t, err)
	return c
}

func TestTimeoutPolicy_Hard(t *testing.T) {
	tests := []struct {
		soft time.Duration
		hard time.Duration
	}{
		{soft: 100 * time.Second, hard: 105 * time.Second},
		{soft: 60 * time.Second, hard: 63 * time.Second},
		{soft: 90 * time.Second, hard: 95 * time.Second}, // ceil(4.5s) = 5s
		{soft: 10 * time.Minute, hard: 630 * time.Second},
		{soft: time.Second, hard: 2 * time.Second}, // ceil(0.05s) = 1s
	}
	for _, tt := range tests {
		policy := TimeoutPolicy{Soft: tt.soft}
		assert.Equal(t, tt.hard, policy.Hard(), "soft=%s", tt.soft)
		assert.GreaterOrEqual(t, policy.Hard(), policy.Soft)
	}
}

func TestRunner_Run(t *testing.T) {
	t.Run("success streams output and returns a result", func(t *testing.T) {
		runner := &scriptedRunner{steps: []scriptedStep{
			{output: "container-id\n"},
			{output: "total,  1000, 1000\n"},
		}}
		c := acquireContainer(t, runner)
		logPath := filepath.Join(t.TempDir(), "run.log")

		result, err := NewRunner(zap.NewNop()).Run(context.Background(), RunSpec{
			Container: c,
			Command:   "echo TAG; run-stress",
			Policy:    TimeoutPolicy{Soft: time.Minute},
			LogPath:   logPath,
		})

		require.NoError(t, err)
		assert.Equal(t, 0, result.ExitCode)
		assert.Equal(t, logPath, result.LogFile)

		data, readErr := os.ReadFile(logPath)
		require.NoError(t, readErr)
		assert.Contains(t, string(data), "total,  1000, 1000")
	})

	t.Run("non-zero exit is an execution failure", func(t *testing.T) {
		runner := &scriptedRunner{steps: []scriptedStep{
			{output: "container-id\n"},
			{exit: 1},
		}}
		c := acquireContainer(t, runner)

		_, err := NewRunner(zap.NewNop()).Run(context.Background(), RunSpec{
			Container: c,
			Command:   "run-stress",
			Policy:    TimeoutPolicy{Soft: time.Minute},
			LogPath:   filepath.Join(t.TempDir(), "run.log"),
		})

		require.Error(t, err)
		assert.Equal(t, KindExec, FailureKindOf(err))
		assert.ErrorContains(t, err, "exited 1")
	})

	t.Run("transport fault preserves the original cause", func(t *testing.T) {
		cause := errors.New("connection reset by peer")
		runner := &scriptedRunner{steps: []scriptedStep{
			{output: "container-id\n"},
			{err: cause},
		}}
		c := acquireContainer(t, runner)

		_, err := NewRunner(zap.NewNop()).Run(context.Background(), RunSpec{
			Container: c,
			Command:   "run-stress",
			Policy:    TimeoutPolicy{Soft: time.Minute},
			LogPath:   filepath.Join(t.TempDir(), "run.log"),
		})

		require.Error(t, err)
		assert.Equal(t, KindExec, FailureKindOf(err))
		assert.ErrorIs(t, err, cause)
	})

	t.Run("hard timeout kills the run and releases the container", func(t *testing.T) {
		runner := &scriptedRunner{steps: []scriptedStep{
			{output: "container-id\n"},
			{delay: time.Hour}, // never finishes on its own
			{},                 // docker rm -f
		}}
		c := acquireContainer(t, runner)

		var softFired atomic.Bool
		start := time.Now()
		_, err := NewRunner(zap.NewNop()).Run(context.Background(), RunSpec{
			Container:     c,
			Command:       "run-stress",
			Policy:        TimeoutPolicy{Soft: 100 * time.Millisecond},
			LogPath:       filepath.Join(t.TempDir(), "run.log"),
			OnSoftTimeout: func(context.Context) { softFired.Store(true) },
		})
		elapsed := time.Since(start)

		require.Error(t, err)
		assert.Equal(t, KindTimeout, FailureKindOf(err))
		assert.True(t, IsTimeout(err))
		assert.True(t, softFired.Load(), "soft checkpoint fires before the hard kill")
		// Hard deadline for soft=100ms is 100ms + 1s margin.
		assert.Less(t, elapsed, 5*time.Second, "run must not outlive the hard timeout")
		assert.Equal(t, 1, runner.removeCount(), "hard timeout releases the container")

		// The orchestrator's deferred release stays a no-op.
		require.NoError(t, c.Release(context.Background()))
		assert.Equal(t, 1, runner.removeCount())
	})

	t.Run("soft checkpoint does not kill a run that finishes in the margin", func(t *testing.T) {
		runner := &scriptedRunner{steps: []scriptedStep{
			{output: "container-id\n"},
			{delay: 300 * time.Millisecond}, // past soft, within hard
		}}
		c := acquireContainer(t, runner)

		var softFired atomic.Bool
		result, err := NewRunner(zap.NewNop()).Run(context.Background(), RunSpec{
			Container:     c,
			Command:       "run-stress",
			Policy:        TimeoutPolicy{Soft: 100 * time.Millisecond},
			LogPath:       filepath.Join(t.TempDir(), "run.log"),
			OnSoftTimeout: func(context.Context) { softFired.Store(true) },
		})

		require.NoError(t, err)
		assert.Equal(t, 0, result.ExitCode)
		assert.True(t, softFired.Load())
		assert.Equal(t, 0, runner.removeCount(), "no kill when the run beats the hard deadline")
	})
}
