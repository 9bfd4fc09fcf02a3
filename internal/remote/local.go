package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// LocalRunner runs commands on the host the harness itself runs on. Used
// for single-host setups and in tests.
type LocalRunner struct {
	shell  string
	logger *zap.Logger
}

// NewLocalRunner creates a runner that executes through /bin/bash.
func NewLocalRunner(logger *zap.Logger) *LocalRunner {
	return &LocalRunner{shell: "/bin/bash", logger: logger}
}

// Target implements CommandRunner.
func (r *LocalRunner) Target() string { return "localhost" }

// Run implements CommandRunner.
func (r *LocalRunner) Run(ctx context.Context, command string, opts Options) (*ExecResult, error) {
	out := opts.Output
	if out == nil {
		out = io.Discard
	}

	cmd := exec.CommandContext(ctx, r.shell, "-c", command)
	cmd.Stdout = out
	cmd.Stderr = out

	start := time.Now()
	err := cmd.Run()
	result := &ExecResult{Duration: time.Since(start)}

	if err == nil {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("local run: %w", ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	return nil, fmt.Errorf("local run: %w", err)
}
