// Package remote executes shell commands on loader hosts. The stress core
// only sees the CommandRunner contract; SSH and local process execution
// are the two transports behind it.
package remote

import (
	"context"
	"io"
	"time"
)

// ExecResult is the outcome of a completed command.
type ExecResult struct {
	ExitCode int
	Duration time.Duration
}

// Ok reports whether the command exited zero.
func (r *ExecResult) Ok() bool {
	return r != nil && r.ExitCode == 0
}

// Options configures a single command execution.
type Options struct {
	// Output receives combined stdout and stderr as it is produced.
	// Nil discards the output.
	Output io.Writer
}

// CommandRunner runs one shell command to completion. A transport fault or
// context cancellation is an error; a non-zero exit is a valid ExecResult
// and the caller's concern. Implementations must stream to Options.Output
// rather than buffering the full output.
type CommandRunner interface {
	// Target identifies the host commands run on, for logs and metrics.
	Target() string
	Run(ctx context.Context, command string, opts Options) (*ExecResult, error)
}
