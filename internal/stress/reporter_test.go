package stress

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/muzarski/scylla-cluster-tests/internal/archive"
	"github.com/muzarski/scylla-cluster-tests/internal/events"
	"github.com/muzarski/scylla-cluster-tests/internal/results"
)

func reporterFixtures(t *testing.T) (*events.SimpleBus, *events.StressEvent, *Invocation) {
	t.Helper()
	bus := events.NewSimpleBus()
	inv := newInvocation(InvocationID{LoaderIdx: 1, KeyspaceIdx: 2}, testLoader(), "cql-stress-cassandra-stress write")
	inv.Operation = "write"
	inv.Command = "cql-stress-cassandra-stress write no-warmup"
	inv.LogPath = filepath.Join(t.TempDir(), "run.log")
	event := events.NewStressEvent(bus, inv.Loader.String(), inv.OriginalCmd, inv.LogPath)
	return bus, event, inv
}

func TestReporter_Report(t *testing.T) {
	ctx := context.Background()

	t.Run("success saves a record and emits one finished event", func(t *testing.T) {
		bus, event, inv := reporterFixtures(t)
		store := results.NewMemoryStore()
		reporter := NewReporter(store, nil, zap.NewNop())

		reporter.Report(ctx, inv, &RunResult{ExitCode: 0, Duration: time.Second, LogFile: inv.LogPath}, nil, event)

		history := bus.History()
		require.Len(t, history, 1)
		assert.Equal(t, events.StressFinished, history[0].Type)

		records, err := store.ListRuns(ctx)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.True(t, records[0].Success)
		assert.Equal(t, 1, records[0].LoaderIdx)
		assert.Equal(t, 2, records[0].KeyspaceIdx)
	})

	t.Run("failure keeps the original cause on event and record", func(t *testing.T) {
		bus, event, inv := reporterFixtures(t)
		store := results.NewMemoryStore()
		reporter := NewReporter(store, nil, zap.NewNop())
		cause := errors.New("node unreachable")

		reporter.Report(ctx, inv, nil, &ExecutionError{Kind: KindExec, Cause: cause}, event)

		require.True(t, event.Failed())
		assert.ErrorIs(t, event.Failure(), cause)

		history := bus.History()
		require.Len(t, history, 1)
		assert.Equal(t, events.StressFailed, history[0].Type)

		records, err := store.ListRuns(ctx)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.False(t, records[0].Success)
		assert.Contains(t, records[0].Failure, "node unreachable")
	})

	t.Run("archives the log when an archiver is configured", func(t *testing.T) {
		_, event, inv := reporterFixtures(t)
		require.NoError(t, os.WriteFile(inv.LogPath, []byte("log data\n"), 0o600))
		reporter := NewReporter(nil, archive.NewArchiver(nil, "", zap.NewNop()), zap.NewNop())

		reporter.Report(ctx, inv, &RunResult{LogFile: inv.LogPath}, nil, event)

		assert.FileExists(t, inv.LogPath+".gz")
	})

	t.Run("archive failure does not override the outcome", func(t *testing.T) {
		_, event, inv := reporterFixtures(t)
		// Log file never written, so archiving fails.
		reporter := NewReporter(nil, archive.NewArchiver(nil, "", zap.NewNop()), zap.NewNop())

		reporter.Report(ctx, inv, &RunResult{LogFile: inv.LogPath}, nil, event)

		assert.False(t, event.Failed())
	})
}
