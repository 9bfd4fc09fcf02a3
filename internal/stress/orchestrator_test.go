package stress

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/muzarski/scylla-cluster-tests/internal/cluster"
	"github.com/muzarski/scylla-cluster-tests/internal/events"
	"github.com/muzarski/scylla-cluster-tests/internal/remote"
	"github.com/muzarski/scylla-cluster-tests/internal/results"
	"github.com/muzarski/scylla-cluster-tests/internal/sandbox"
)

// autoRunner answers by command shape instead of scripted order, so it
// is safe under concurrent invocations.
type autoRunner struct {
	mu       sync.Mutex
	commands []string
	nextID   int
	execErr  error
	execExit int
}

func (a *autoRunner) Target() string { return "loader-auto" }

func (a *autoRunner) Run(_ context.Context, command string, opts remote.Options) (*remote.ExecResult, error) {
	a.mu.Lock()
	a.commands = append(a.commands, command)
	a.nextID++
	id := a.nextID
	a.mu.Unlock()

	switch {
	case strings.HasPrefix(command, "docker run"):
		if opts.Output != nil {
			fmt.Fprintf(opts.Output, "container%012d\n", id)
		}
		return &remote.ExecResult{}, nil
	case strings.HasPrefix(command, "docker exec"):
		if a.execErr != nil {
			return nil, a.execErr
		}
		if opts.Output != nil {
			fmt.Fprintln(opts.Output, "total,  1000, 1000, 1000, 1000, 0.5, 0.3, 1.0, 2.0, 9.0, 40.0, 1.0")
		}
		return &remote.ExecResult{ExitCode: a.execExit}, nil
	default: // docker rm and friends
		return &remote.ExecResult{}, nil
	}
}

func (a *autoRunner) count(prefix string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n int
	for _, cmd := range a.commands {
		if strings.HasPrefix(cmd, prefix) {
			n++
		}
	}
	return n
}

func (a *autoRunner) find(prefix string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var found []string
	for _, cmd := range a.commands {
		if strings.HasPrefix(cmd, prefix) {
			found = append(found, cmd)
		}
	}
	return found
}

type testHarness struct {
	runner *autoRunner
	bus    *events.SimpleBus
	store  *results.MemoryStore
	orch   *Orchestrator
	host   LoaderHost
}

func newTestHarness(t *testing.T, mutate func(*Config)) *testHarness {
	t.Helper()

	runner := &autoRunner{}
	bus := events.NewSimpleBus()
	store := results.NewMemoryStore()

	cfg := Config{
		Translator: &CQLStressTranslator{
			Nodes:  []cluster.Node{{IPAddress: "10.0.0.1"}},
			Logger: zap.NewNop(),
		},
		Image:       "scylladb/cql-stress-cassandra-stress:latest",
		StressCmd:   "cql-stress-cassandra-stress write cl=ONE -schema -rate fixed=1000/s",
		Policy:      TimeoutPolicy{Soft: time.Minute},
		StressNum:   1,
		KeyspaceNum: 1,
		Bus:         bus,
		Reporter:    NewReporter(store, nil, zap.NewNop()),
		Logger:      zap.NewNop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	orch, err := New(cfg)
	require.NoError(t, err)

	return &testHarness{
		runner: runner,
		bus:    bus,
		store:  store,
		orch:   orch,
		host: LoaderHost{
			Loader: cluster.Loader{Name: "loader-1", IPAddress: "10.0.1.1", LogDir: t.TempDir()},
			Docker: sandbox.NewDocker(runner, zap.NewNop()),
		},
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorContains(t, err, "translator is required")
}

func TestOrchestrator_RunStressInvocation(t *testing.T) {
	ctx := context.Background()

	t.Run("success walks every state and returns the triple", func(t *testing.T) {
		h := newTestHarness(t, nil)
		id := InvocationID{LoaderIdx: 0, CPUIdx: 0, KeyspaceIdx: 1}

		inv, result, event := h.orch.RunStressInvocation(ctx, h.host, id)

		require.NotNil(t, inv)
		require.NotNil(t, result)
		require.NotNil(t, event)

		assert.Equal(t, StateDone, inv.State())
		assert.False(t, event.Failed())
		assert.Equal(t, 0, result.ExitCode)
		assert.Equal(t, "write", inv.Operation)
		assert.Contains(t, inv.Command, "throttle=1000/s fixed")
		assert.Contains(t, inv.Command, "keyspace=keyspace1")
		assert.Contains(t, inv.LogPath, "cql-stress-cassandra-stress-write-l0-c0-k1")

		// Exactly one acquire and one release.
		assert.Equal(t, 1, h.runner.count("docker run"))
		assert.Equal(t, 1, h.runner.count("docker rm -f"))

		// The remote shell carries the tag and the marker.
		execs := h.runner.find("docker exec")
		require.Len(t, execs, 1)
		assert.Contains(t, execs[0], "TAG: loader_idx:0-cpu_idx:0-keyspace_idx:1")
		assert.Contains(t, execs[0], "STRESS_TEST_MARKER="+inv.Marker)

		// One started and one finished event.
		history := h.bus.History()
		require.Len(t, history, 2)
		assert.Equal(t, events.StressStarted, history[0].Type)
		assert.Equal(t, events.StressFinished, history[1].Type)

		// Run record persisted.
		records, err := h.store.ListRuns(ctx)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.True(t, records[0].Success)
		assert.Equal(t, "write", records[0].Operation)
	})

	t.Run("provisioning failure still reports and returns the triple", func(t *testing.T) {
		cause := errors.New("docker daemon unreachable")
		h := newTestHarness(t, nil)
		// Fail the docker run itself.
		failing := &scriptedRunner{steps: []scriptedStep{{err: cause}}}
		h.host.Docker = sandbox.NewDocker(failing, zap.NewNop())

		inv, result, event := h.orch.RunStressInvocation(ctx, h.host, InvocationID{KeyspaceIdx: 1})

		assert.Nil(t, result)
		assert.Equal(t, StateDone, inv.State())
		require.True(t, event.Failed())
		assert.ErrorIs(t, event.Failure(), cause)
		assert.Equal(t, KindProvisioning, FailureKindOf(event.Failure()))

		// Nothing to release when acquire failed.
		assert.Equal(t, 0, failing.removeCount())

		records, err := h.store.ListRuns(ctx)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.False(t, records[0].Success)
	})

	t.Run("transport failure during run preserves cause and releases", func(t *testing.T) {
		cause := errors.New("connection reset by peer")
		h := newTestHarness(t, nil)
		h.runner.execErr = cause

		inv, result, event := h.orch.RunStressInvocation(ctx, h.host, InvocationID{KeyspaceIdx: 1})

		assert.Nil(t, result)
		assert.Equal(t, StateDone, inv.State())
		require.True(t, event.Failed())
		assert.ErrorIs(t, event.Failure(), cause)
		assert.Equal(t, KindExec, FailureKindOf(event.Failure()))

		assert.Equal(t, 1, h.runner.count("docker rm -f"), "release still happens on failure")

		history := h.bus.History()
		require.Len(t, history, 2)
		assert.Equal(t, events.StressFailed, history[1].Type)
	})

	t.Run("unexpected exit code is a failure with the exit preserved", func(t *testing.T) {
		h := newTestHarness(t, nil)
		h.runner.execExit = 137

		_, result, event := h.orch.RunStressInvocation(ctx, h.host, InvocationID{KeyspaceIdx: 1})

		assert.Nil(t, result)
		require.True(t, event.Failed())
		assert.ErrorContains(t, event.Failure(), "exited 137")
	})

	t.Run("cpu pinning applies when stress processes share a loader", func(t *testing.T) {
		h := newTestHarness(t, func(cfg *Config) { cfg.StressNum = 2 })

		h.orch.RunStressInvocation(ctx, h.host, InvocationID{CPUIdx: 1, KeyspaceIdx: 1})

		runs := h.runner.find("docker run")
		require.Len(t, runs, 1)
		assert.Contains(t, runs[0], `--cpuset-cpus="1"`)

		execs := h.runner.find("docker exec")
		require.Len(t, execs, 1)
		assert.Contains(t, execs[0], "taskset -c 1 ")
	})
}

func TestOrchestrator_RunAll(t *testing.T) {
	h := newTestHarness(t, func(cfg *Config) {
		cfg.StressNum = 2
		cfg.KeyspaceNum = 2
	})
	second := LoaderHost{
		Loader: cluster.Loader{Name: "loader-2", IPAddress: "10.0.1.2", LogDir: t.TempDir()},
		Docker: sandbox.NewDocker(h.runner, zap.NewNop()),
	}

	outcomes := h.orch.RunAll(context.Background(), []LoaderHost{h.host, second})

	require.Len(t, outcomes, 8) // 2 loaders x 2 cpus x 2 keyspaces

	logPaths := make(map[string]bool)
	for _, out := range outcomes {
		require.NotNil(t, out.Invocation)
		require.NotNil(t, out.Event)
		assert.False(t, out.Failed())
		assert.Equal(t, StateDone, out.Invocation.State())
		logPaths[out.Invocation.LogPath] = true
	}
	assert.Len(t, logPaths, 8, "every invocation writes to its own log")

	// Keyspace indexes are one-based.
	var seenKeyspace2 bool
	for _, out := range outcomes {
		assert.GreaterOrEqual(t, out.Invocation.ID.KeyspaceIdx, 1)
		if out.Invocation.ID.KeyspaceIdx == 2 {
			seenKeyspace2 = true
		}
	}
	assert.True(t, seenKeyspace2)

	assert.Equal(t, 8, h.runner.count("docker run"))
	assert.Equal(t, 8, h.runner.count("docker rm -f"))
}
