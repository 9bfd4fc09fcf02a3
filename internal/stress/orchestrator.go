package stress

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muzarski/scylla-cluster-tests/internal/cluster"
	"github.com/muzarski/scylla-cluster-tests/internal/events"
	"github.com/muzarski/scylla-cluster-tests/internal/metrics"
	"github.com/muzarski/scylla-cluster-tests/internal/sandbox"
)

// LoaderHost pairs a loader with the container provisioner bound to it.
type LoaderHost struct {
	Loader cluster.Loader
	Docker *sandbox.Docker
}

// Config assembles an Orchestrator.
type Config struct {
	Translator Translator
	Image      string
	// StressCmd is the invocation in the legacy dialect.
	StressCmd string
	Policy    TimeoutPolicy
	// StressNum is the number of concurrent stress processes per
	// loader; above one, each process is pinned to its CPU slot.
	StressNum   int
	KeyspaceNum int

	Bus      events.Bus
	Metrics  *metrics.StressMetrics // optional
	Reporter *Reporter
	Logger   *zap.Logger
}

// Orchestrator drives stress invocations through their lifecycle:
// translate, provision, run under the timeout policy, report. Each
// invocation is independent; any number of them run concurrently.
type Orchestrator struct {
	cfg    Config
	runner *Runner
	logger *zap.Logger
}

// New validates the config and builds an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Translator == nil {
		return nil, errors.New("stress: translator is required")
	}
	if cfg.Image == "" {
		return nil, errors.New("stress: container image is required")
	}
	if cfg.StressCmd == "" {
		return nil, errors.New("stress: stress command is required")
	}
	if cfg.Policy.Soft <= 0 {
		return nil, errors.New("stress: soft timeout must be positive")
	}
	if cfg.Bus == nil {
		return nil, errors.New("stress: event bus is required")
	}
	if cfg.Reporter == nil {
		return nil, errors.New("stress: reporter is required")
	}
	if cfg.StressNum < 1 {
		cfg.StressNum = 1
	}
	if cfg.KeyspaceNum < 1 {
		cfg.KeyspaceNum = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, runner: NewRunner(cfg.Logger), logger: cfg.Logger}, nil
}

// RunStressInvocation runs one invocation to completion and always
// returns the full triple: the invocation, the run result (nil on
// failure) and the event carrying the outcome. Errors never escape;
// the harness inspects the event to distinguish success from failure.
func (o *Orchestrator) RunStressInvocation(ctx context.Context, host LoaderHost, id InvocationID) (*Invocation, *RunResult, *events.StressEvent) {
	inv := newInvocation(id, host.Loader, o.cfg.StressCmd)
	inv.advance(StateTranslating, o.logger)

	event, err := o.translate(ctx, inv, host)
	if err != nil {
		inv.advance(StateFailed, o.logger)
		inv.advance(StateReporting, o.logger)
		o.cfg.Reporter.Report(ctx, inv, nil, err, event)
		inv.advance(StateDone, o.logger)
		return inv, nil, event
	}
	event.Begin(ctx)

	if o.cfg.Metrics != nil {
		exporter := metrics.NewStressExporter(host.Loader.String(), o.cfg.Metrics,
			inv.Operation, inv.LogPath, id.LoaderIdx, id.CPUIdx, o.logger)
		exporter.Start(ctx)
		defer exporter.Stop()
	}

	result, runErr := o.provisionAndRun(ctx, host, inv, event)
	if runErr != nil {
		inv.advance(StateFailed, o.logger)
	}
	inv.advance(StateReporting, o.logger)
	o.cfg.Reporter.Report(ctx, inv, result, runErr, event)
	inv.advance(StateDone, o.logger)

	return inv, result, event
}

// translate prepares the command, the log destination and the event
// scope. The returned event exists even when translation fails, so the
// failure still reaches the harness.
func (o *Orchestrator) translate(_ context.Context, inv *Invocation, host LoaderHost) (*events.StressEvent, error) {
	op, err := CommandOperation(o.cfg.StressCmd)
	if err != nil {
		return events.NewStressEvent(o.cfg.Bus, host.Loader.String(), o.cfg.StressCmd, ""), &ExecutionError{Kind: KindExec, Cause: err}
	}
	inv.Operation = op
	inv.Command = o.cfg.Translator.Translate(o.cfg.StressCmd, TranslateInput{
		KeyspaceIdx:  inv.ID.KeyspaceIdx,
		LoaderRegion: host.Loader.Region,
	})

	if err := os.MkdirAll(host.Loader.LogDir, 0o750); err != nil {
		return events.NewStressEvent(o.cfg.Bus, host.Loader.String(), o.cfg.StressCmd, ""),
			&ExecutionError{Kind: KindExec, Cause: fmt.Errorf("create log dir %s: %w", host.Loader.LogDir, err)}
	}
	inv.LogPath = host.Loader.LogPath(LogFileName(op, inv.ID, inv.Marker))

	o.logger.Info("stress command translated",
		zap.String("invocation", inv.ID.String()),
		zap.String("command", inv.Command),
		zap.String("log", inv.LogPath))

	return events.NewStressEvent(o.cfg.Bus, host.Loader.String(), o.cfg.StressCmd, inv.LogPath), nil
}

// provisionAndRun owns the container for the duration of the run. The
// deferred release runs on every exit path, so cleanup is complete
// before reporting starts.
func (o *Orchestrator) provisionAndRun(ctx context.Context, host LoaderHost, inv *Invocation, event *events.StressEvent) (result *RunResult, runErr error) {
	inv.advance(StateProvisioning, o.logger)

	spec := sandbox.ContainerSpec{Image: o.cfg.Image, Marker: inv.Marker}
	if o.cfg.StressNum > 1 {
		spec.CPUSet = strconv.Itoa(inv.ID.CPUIdx)
	}

	container, err := host.Docker.Acquire(ctx, spec)
	if err != nil {
		return nil, &ExecutionError{Kind: KindProvisioning, Cause: err}
	}
	defer func() {
		// Release even when the surrounding context is already done.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()
		if err := container.Release(releaseCtx); err != nil {
			o.logger.Error("container release failed, escalating to kill by marker",
				zap.String("invocation", inv.ID.String()),
				zap.Error(err))
			if err := host.Docker.KillByMarker(releaseCtx, inv.Marker); err != nil {
				o.logger.Error("kill by marker failed",
					zap.String("marker", inv.Marker),
					zap.Error(err))
			}
		}
	}()

	inv.advance(StateRunning, o.logger)
	return o.runner.Run(ctx, RunSpec{
		Container: container,
		Command:   o.nodeCommand(inv),
		Policy:    o.cfg.Policy,
		LogPath:   inv.LogPath,
		OnSoftTimeout: func(ctx context.Context) {
			event.SoftTimeout(ctx, o.cfg.Policy.Soft)
		},
	})
}

// nodeCommand builds the shell line executed inside the container: the
// correlation tag first, then the marker export for process discovery,
// then the translated command, CPU-pinned when slots are shared.
func (o *Orchestrator) nodeCommand(inv *Invocation) string {
	cmd := inv.Command
	if o.cfg.StressNum > 1 {
		cmd = fmt.Sprintf("taskset -c %d %s", inv.ID.CPUIdx, cmd)
	}
	return fmt.Sprintf("echo %s; STRESS_TEST_MARKER=%s; %s", inv.ID.Tag(), inv.Marker, cmd)
}

// Outcome is the triple the harness receives for each invocation.
type Outcome struct {
	Invocation *Invocation
	Result     *RunResult
	Event      *events.StressEvent
}

// Failed reports whether this invocation ended in failure.
func (out Outcome) Failed() bool {
	return out.Event.Failed()
}

// RunAll fans the configured command out over loaders, CPU slots and
// keyspaces and runs all invocations concurrently. Keyspace indexes are
// one-based to match keyspace1..keyspaceN naming.
func (o *Orchestrator) RunAll(ctx context.Context, hosts []LoaderHost) []Outcome {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes []Outcome
	)

	for loaderIdx, host := range hosts {
		for cpuIdx := 0; cpuIdx < o.cfg.StressNum; cpuIdx++ {
			for keyspaceIdx := 1; keyspaceIdx <= o.cfg.KeyspaceNum; keyspaceIdx++ {
				id := InvocationID{LoaderIdx: loaderIdx, CPUIdx: cpuIdx, KeyspaceIdx: keyspaceIdx}
				wg.Add(1)
				go func(host LoaderHost, id InvocationID) {
					defer wg.Done()
					inv, result, event := o.RunStressInvocation(ctx, host, id)
					mu.Lock()
					outcomes = append(outcomes, Outcome{Invocation: inv, Result: result, Event: event})
					mu.Unlock()
				}(host, id)
			}
		}
	}

	wg.Wait()
	return outcomes
}
