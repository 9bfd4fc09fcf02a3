package stress

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/muzarski/scylla-cluster-tests/internal/sandbox"
)

// TimeoutPolicy is the two-tier timeout for one invocation. Only the
// soft timeout is configured; the hard timeout is derived.
type TimeoutPolicy struct {
	Soft time.Duration
}

// Hard returns the absolute upper bound on process lifetime:
// soft plus a margin of ceil(5% of soft), rounded up to whole seconds,
// so the stress process gets a chance to finish its own summary before
// being killed. Hard is always >= Soft.
func (p TimeoutPolicy) Hard() time.Duration {
	margin := time.Duration(math.Ceil(p.Soft.Seconds()*0.05)) * time.Second
	return p.Soft + margin
}

// RunResult is the record of one completed stress run.
type RunResult struct {
	ExitCode int
	Duration time.Duration
	LogFile  string
}

// RunSpec ties one translated command to its provisioned container,
// timeout policy and log destination.
type RunSpec struct {
	Container *sandbox.Container
	// Command is the full shell command, tag and marker included.
	Command string
	Policy  TimeoutPolicy
	LogPath string
	// OnSoftTimeout is the cooperative checkpoint: called once if the
	// run outlives the soft timeout, without killing anything.
	OnSoftTimeout func(ctx context.Context)
}

// Runner executes stress commands inside provisioned containers under
// the timeout policy, streaming output to the invocation's log file.
type Runner struct {
	logger *zap.Logger
}

// NewRunner creates a runner.
func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run executes the command and returns its result. Failures come back
// as *ExecutionError carrying the original cause: KindTimeout when the
// hard deadline terminated the run, KindExec for transport faults and
// unexpected non-zero exits. On hard timeout the container is released
// immediately so the remote process cannot outlive the deadline.
func (r *Runner) Run(ctx context.Context, spec RunSpec) (*RunResult, error) {
	logFile, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, &ExecutionError{Kind: KindExec, Cause: fmt.Errorf("open log %s: %w", spec.LogPath, err)}
	}
	defer func() { _ = logFile.Close() }()

	hardCtx, cancel := context.WithTimeout(ctx, spec.Policy.Hard())
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go r.watchSoftTimeout(hardCtx, spec, done)

	start := time.Now()
	result, execErr := spec.Container.Exec(hardCtx, spec.Command, logFile)
	elapsed := time.Since(start)

	if execErr != nil {
		if hardCtx.Err() != nil && ctx.Err() == nil {
			r.logger.Error("hard timeout exceeded, terminating stress container",
				zap.Duration("soft", spec.Policy.Soft),
				zap.Duration("hard", spec.Policy.Hard()),
				zap.String("marker", spec.Container.Marker()))
			releaseCtx, releaseCancel := context.WithTimeout(context.Background(), time.Minute)
			defer releaseCancel()
			_ = spec.Container.Release(releaseCtx)
			return nil, &ExecutionError{Kind: KindTimeout, Cause: execErr}
		}
		return nil, &ExecutionError{Kind: KindExec, Cause: execErr}
	}

	if result.ExitCode != 0 {
		return nil, &ExecutionError{
			Kind:  KindExec,
			Cause: fmt.Errorf("stress command exited %d, log: %s", result.ExitCode, spec.LogPath),
		}
	}

	return &RunResult{ExitCode: 0, Duration: elapsed, LogFile: spec.LogPath}, nil
}

// watchSoftTimeout fires the cooperative checkpoint when the run passes
// the soft deadline while the process is still alive.
func (r *Runner) watchSoftTimeout(ctx context.Context, spec RunSpec, done <-chan struct{}) {
	timer := time.NewTimer(spec.Policy.Soft)
	defer timer.Stop()

	select {
	case <-done:
	case <-ctx.Done():
	case <-timer.C:
		r.logger.Warn("soft timeout reached, run continues until the hard deadline",
			zap.Duration("soft", spec.Policy.Soft),
			zap.Duration("hard", spec.Policy.Hard()),
			zap.String("log", spec.LogPath))
		if spec.OnSoftTimeout != nil {
			spec.OnSoftTimeout(ctx)
		}
	}
}

// IsTimeout reports whether an invocation failed on the hard timeout.
func IsTimeout(err error) bool {
	return FailureKindOf(err) == KindTimeout || errors.Is(err, context.DeadlineExceeded)
}
