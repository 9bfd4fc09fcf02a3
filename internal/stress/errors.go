package stress

import (
	"errors"
	"fmt"
)

// FailureKind classifies how an invocation failed.
type FailureKind string

const (
	// KindProvisioning means the container could not be started.
	KindProvisioning FailureKind = "provisioning"
	// KindTimeout means the hard timeout terminated the run.
	KindTimeout FailureKind = "timeout"
	// KindExec means a transport fault or unexpected non-zero exit.
	KindExec FailureKind = "execution"
)

// ExecutionError wraps the original cause of a failed invocation with
// its taxonomy kind. The cause is never replaced; Unwrap exposes it.
type ExecutionError struct {
	Kind  FailureKind
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("stress %s failure: %v", e.Kind, e.Cause)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// FailureKindOf returns the kind of a failure, or "" for nil and
// untyped errors.
func FailureKindOf(err error) FailureKind {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Kind
	}
	return ""
}
