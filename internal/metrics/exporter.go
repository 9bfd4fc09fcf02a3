package metrics

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// StressExporter follows one invocation's log file and publishes the
// values it finds. Lifetime is scoped to the run: Start before the
// stress command, Stop when it returns.
type StressExporter struct {
	instanceName string
	operation    string
	logPath      string
	loaderIdx    int
	cpuIdx       int

	metrics *StressMetrics
	logger  *zap.Logger

	offset int64
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStressExporter creates an exporter for one invocation.
func NewStressExporter(instanceName string, metrics *StressMetrics, operation, logPath string,
	loaderIdx, cpuIdx int, logger *zap.Logger) *StressExporter {
	return &StressExporter{
		instanceName: instanceName,
		operation:    operation,
		logPath:      logPath,
		loaderIdx:    loaderIdx,
		cpuIdx:       cpuIdx,
		metrics:      metrics,
		logger:       logger,
	}
}

// Start begins tailing the log file in the background. The file may not
// exist yet; the tailer picks it up once the stress process creates it.
func (e *StressExporter) Start(ctx context.Context) {
	tailCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.tail(tailCtx)
	}()
}

// Stop ends tailing, drains what is left in the file and removes the
// invocation's series from the registry.
func (e *StressExporter) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.drain()
	e.metrics.delete(e.instanceName, e.loaderIdx, e.cpuIdx, e.operation)
}

// tail wakes on filesystem events for the log directory, with a ticker
// fallback and a rate limiter so a chatty stress process cannot turn
// every write into a read.
func (e *StressExporter) tail(ctx context.Context) {
	var watch chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer func() { _ = watcher.Close() }()
		if err := watcher.Add(filepath.Dir(e.logPath)); err == nil {
			watch = make(chan fsnotify.Event)
			go func() {
				for ev := range watcher.Events {
					if ev.Name == e.logPath {
						select {
						case watch <- ev:
						default:
						}
					}
				}
			}()
		}
	} else {
		e.logger.Debug("log watcher unavailable, polling only", zap.Error(err))
	}

	limiter := rate.NewLimiter(rate.Every(200*time.Millisecond), 1)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-watch:
		case <-ticker.C:
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		e.drain()
	}
}

// drain reads lines appended since the last read and publishes them.
func (e *StressExporter) drain() {
	f, err := os.Open(e.logPath)
	if err != nil {
		return // not created yet
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(e.offset, io.SeekStart); err != nil {
		return
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		e.offset += int64(len(scanner.Bytes())) + 1
		e.publish(scanner.Text())
	}
}

func (e *StressExporter) publish(line string) {
	sample, ok := ParseLine(line)
	if !ok {
		return
	}
	if sample.HasOps {
		e.metrics.set(e.instanceName, e.loaderIdx, e.cpuIdx, e.operation, TypeOps, sample.Ops)
	}
	if sample.HasLatMean {
		e.metrics.set(e.instanceName, e.loaderIdx, e.cpuIdx, e.operation, TypeLatMean, sample.LatMean)
	}
	if sample.HasLatP99 {
		e.metrics.set(e.instanceName, e.loaderIdx, e.cpuIdx, e.operation, TypeLatP99, sample.LatP99)
	}
	if sample.HasErrors {
		e.metrics.set(e.instanceName, e.loaderIdx, e.cpuIdx, e.operation, TypeErrors, sample.Errors)
	}
}
