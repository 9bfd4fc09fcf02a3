package events

import (
	"context"
	"sync"
	"time"
)

// StressEvent tracks one stress invocation from start to finish. It emits
// a started event on Begin and exactly one terminal event on End: failed
// when a failure was recorded, finished otherwise. The recorded cause is
// kept as-is for the harness to inspect.
type StressEvent struct {
	bus       Bus
	node      string
	stressCmd string
	logFile   string

	mu      sync.Mutex
	started time.Time
	failure error
	ended   bool
}

// NewStressEvent creates the per-invocation event scope.
func NewStressEvent(bus Bus, node, stressCmd, logFile string) *StressEvent {
	return &StressEvent{bus: bus, node: node, stressCmd: stressCmd, logFile: logFile}
}

// Begin marks the invocation as running.
func (e *StressEvent) Begin(ctx context.Context) {
	e.mu.Lock()
	e.started = time.Now()
	e.mu.Unlock()

	_ = e.bus.Publish(ctx, e.event(StressStarted, SeverityNormal))
}

// RecordFailure attaches the original cause to the event. The first
// recorded failure wins; later ones are appended to the error list only.
func (e *StressEvent) RecordFailure(cause error) {
	if cause == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failure == nil {
		e.failure = cause
	}
}

// SoftTimeout emits a warning that the soft timeout checkpoint fired.
func (e *StressEvent) SoftTimeout(ctx context.Context, soft time.Duration) {
	ev := e.event(StressSoftTimeout, SeverityWarning)
	ev.Duration = soft
	_ = e.bus.Publish(ctx, ev)
}

// End emits the terminal event. Exactly one terminal event is published
// per invocation regardless of how many times End is called.
func (e *StressEvent) End(ctx context.Context) {
	e.mu.Lock()
	if e.ended {
		e.mu.Unlock()
		return
	}
	e.ended = true
	failure := e.failure
	started := e.started
	e.mu.Unlock()

	var ev Event
	if failure != nil {
		ev = e.event(StressFailed, SeverityCritical)
		ev.Errors = []string{failure.Error()}
	} else {
		ev = e.event(StressFinished, SeverityNormal)
	}
	if !started.IsZero() {
		ev.Duration = time.Since(started)
	}
	_ = e.bus.Publish(ctx, ev)
}

// Failure returns the recorded cause, nil when the run succeeded.
func (e *StressEvent) Failure() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failure
}

// Failed reports whether a failure was recorded.
func (e *StressEvent) Failed() bool {
	return e.Failure() != nil
}

// Node returns the loader the invocation ran on.
func (e *StressEvent) Node() string { return e.node }

// StressCmd returns the original, untranslated command.
func (e *StressEvent) StressCmd() string { return e.stressCmd }

// LogFile returns the invocation's log path.
func (e *StressEvent) LogFile() string { return e.logFile }

func (e *StressEvent) event(t EventType, s Severity) Event {
	return Event{
		Type:      t,
		Severity:  s,
		Node:      e.node,
		StressCmd: e.stressCmd,
		LogFile:   e.logFile,
	}
}
