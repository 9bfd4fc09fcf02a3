// Package stress runs cql-stress-cassandra-stress invocations on remote
// loaders: it rewrites legacy cassandra-stress commands into the
// cql-stress dialect, provisions an isolated container per invocation,
// runs the command under a soft/hard timeout policy and reports a
// structured outcome for every run.
package stress

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ToolName is the stress tool binary both dialects invoke.
const ToolName = "cql-stress-cassandra-stress"

// InvocationID identifies one concurrent stress execution: which loader
// it runs on, which CPU slot it is pinned to and which keyspace it
// targets. Immutable once assigned.
type InvocationID struct {
	LoaderIdx   int
	CPUIdx      int
	KeyspaceIdx int
}

func (id InvocationID) String() string {
	return fmt.Sprintf("l%d-c%d-k%d", id.LoaderIdx, id.CPUIdx, id.KeyspaceIdx)
}

// Tag is the correlation line echoed into the remote shell so the
// process can be found in the container and matched to its log.
func (id InvocationID) Tag() string {
	return fmt.Sprintf("TAG: loader_idx:%d-cpu_idx:%d-keyspace_idx:%d",
		id.LoaderIdx, id.CPUIdx, id.KeyspaceIdx)
}

// LogFileName derives the deterministic log file name for an invocation.
func LogFileName(operation string, id InvocationID, marker string) string {
	return fmt.Sprintf("%s-%s-%s-%s.log", ToolName, operation, id, shortMarker(marker))
}

// NewMarker returns a fresh unique marker for container labelling and
// remote process discovery.
func NewMarker() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

func shortMarker(marker string) string {
	if len(marker) > 8 {
		return marker[:8]
	}
	return marker
}

// CommandOperation extracts the subcommand (write, read, mixed, ...)
// that follows the tool name.
func CommandOperation(cmd string) (string, error) {
	_, rest, found := strings.Cut(cmd, ToolName)
	if !found {
		return "", fmt.Errorf("stress: command does not invoke %s: %q", ToolName, cmd)
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", fmt.Errorf("stress: command has no operation after %s: %q", ToolName, cmd)
	}
	return fields[0], nil
}
