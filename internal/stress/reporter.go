package stress

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/muzarski/scylla-cluster-tests/internal/archive"
	"github.com/muzarski/scylla-cluster-tests/internal/events"
	"github.com/muzarski/scylla-cluster-tests/internal/results"
)

// Reporter turns the outcome of one invocation into exactly one terminal
// event, an optional persisted run record and an optional log archive.
// It runs after cleanup: by the time Report is called the container is
// already released.
type Reporter struct {
	store    results.Store
	archiver *archive.Archiver
	logger   *zap.Logger
}

// NewReporter creates a reporter. Store and archiver may be nil.
func NewReporter(store results.Store, archiver *archive.Archiver, logger *zap.Logger) *Reporter {
	return &Reporter{store: store, archiver: archiver, logger: logger}
}

// Report finalizes one invocation. The original cause of a failure goes
// onto the event untouched; persistence and archival problems are logged
// but never override the run's own outcome.
func (r *Reporter) Report(ctx context.Context, inv *Invocation, result *RunResult, runErr error, event *events.StressEvent) {
	if runErr != nil {
		event.RecordFailure(runErr)
	}

	if r.store != nil {
		record := &results.RunRecord{
			Loader:      inv.Loader.String(),
			LoaderIdx:   inv.ID.LoaderIdx,
			CPUIdx:      inv.ID.CPUIdx,
			KeyspaceIdx: inv.ID.KeyspaceIdx,
			Operation:   inv.Operation,
			Command:     inv.Command,
			LogFile:     inv.LogPath,
			Success:     runErr == nil,
			StartedAt:   inv.StartedAt,
			Duration:    time.Since(inv.StartedAt),
		}
		if result != nil {
			record.ExitCode = result.ExitCode
		}
		if runErr != nil {
			record.Failure = runErr.Error()
		}
		if err := r.store.SaveRun(ctx, record); err != nil {
			r.logger.Error("saving run record failed",
				zap.String("invocation", inv.ID.String()),
				zap.Error(err))
		}
	}

	if r.archiver != nil && inv.LogPath != "" {
		if _, err := r.archiver.Archive(ctx, inv.LogPath); err != nil {
			r.logger.Warn("archiving stress log failed",
				zap.String("log", inv.LogPath),
				zap.Error(err))
		}
	}

	event.End(ctx)
}
