// Package sandbox provisions isolated docker containers on loader hosts
// for stress processes. A container is acquired right before a run and
// released exactly once on every exit path.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/muzarski/scylla-cluster-tests/internal/remote"
)

// MarkerLabel is the docker label that tags every stress container with
// its invocation marker, so stray containers can be audited and killed.
const MarkerLabel = "shell_marker"

// ContainerSpec describes the isolated environment for one stress run.
type ContainerSpec struct {
	Image string
	// CPUSet pins the container to specific CPUs, e.g. "2". Empty means
	// no pinning.
	CPUSet string
	// Marker is the unique per-invocation tag set as a container label.
	Marker string
}

// Validate checks the container spec.
func (s *ContainerSpec) Validate() error {
	if s.Image == "" {
		return errors.New("sandbox: container image is required")
	}
	if s.Marker == "" {
		return errors.New("sandbox: container marker is required")
	}
	return nil
}

// Docker provisions containers through a loader's command runner.
type Docker struct {
	runner remote.CommandRunner
	logger *zap.Logger
}

// NewDocker creates a provisioner bound to one loader host.
func NewDocker(runner remote.CommandRunner, logger *zap.Logger) *Docker {
	return &Docker{runner: runner, logger: logger}
}

// Acquire starts an idle container from the given spec and hands back an
// exclusively-owned handle. The container runs with host networking so
// the stress tool reaches cluster nodes directly, and idles on tail so
// commands can be exec'd into it.
func (d *Docker) Acquire(ctx context.Context, spec ContainerSpec) (*Container, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	args := []string{"docker", "run", "-d"}
	if spec.CPUSet != "" {
		args = append(args, fmt.Sprintf("--cpuset-cpus=%q", spec.CPUSet))
	}
	args = append(args,
		"--network=host",
		fmt.Sprintf("--label %s=%s", MarkerLabel, spec.Marker),
		"--entrypoint /bin/bash",
		spec.Image,
		"-c 'tail -f /dev/null'",
	)

	var out strings.Builder
	result, err := d.runner.Run(ctx, strings.Join(args, " "), remote.Options{Output: &out})
	if err != nil {
		return nil, fmt.Errorf("sandbox: start container on %s: %w", d.runner.Target(), err)
	}
	if !result.Ok() {
		return nil, fmt.Errorf("sandbox: docker run exited %d on %s: %s",
			result.ExitCode, d.runner.Target(), strings.TrimSpace(out.String()))
	}

	id := strings.TrimSpace(out.String())
	if id == "" {
		return nil, fmt.Errorf("sandbox: docker run on %s returned no container id", d.runner.Target())
	}

	d.logger.Debug("container acquired",
		zap.String("loader", d.runner.Target()),
		zap.String("container_id", shortID(id)),
		zap.String("marker", spec.Marker))

	return &Container{id: id, spec: spec, docker: d}, nil
}

// KillByMarker force-removes every container carrying the marker label.
// Escalation path for when the owning handle's release fails.
func (d *Docker) KillByMarker(ctx context.Context, marker string) error {
	cmd := fmt.Sprintf("docker ps -q --filter label=%s=%s | xargs --no-run-if-empty docker rm -f", MarkerLabel, marker)
	result, err := d.runner.Run(ctx, cmd, remote.Options{})
	if err != nil {
		return fmt.Errorf("sandbox: kill by marker %s: %w", marker, err)
	}
	if !result.Ok() {
		return fmt.Errorf("sandbox: kill by marker %s exited %d", marker, result.ExitCode)
	}
	return nil
}

// Container is an exclusively-owned handle to a provisioned environment.
type Container struct {
	id     string
	spec   ContainerSpec
	docker *Docker

	releaseOnce sync.Once
	releaseErr  error
}

// ID returns the full container id.
func (c *Container) ID() string { return c.id }

// Marker returns the invocation marker the container is labelled with.
func (c *Container) Marker() string { return c.spec.Marker }

// Exec runs a shell command inside the container, streaming combined
// output to w. Cancellation of ctx terminates the exec'd process.
func (c *Container) Exec(ctx context.Context, command string, w io.Writer) (*remote.ExecResult, error) {
	cmd := fmt.Sprintf("docker exec %s /bin/bash -c %s", shortID(c.id), shellQuote(command))
	return c.docker.runner.Run(ctx, cmd, remote.Options{Output: w})
}

// Release destroys the container. Safe to call more than once; only the
// first call does work and later calls return its result.
func (c *Container) Release(ctx context.Context) error {
	c.releaseOnce.Do(func() {
		cmd := fmt.Sprintf("docker rm -f %s", shortID(c.id))
		result, err := c.docker.runner.Run(ctx, cmd, remote.Options{})
		switch {
		case err != nil:
			c.releaseErr = fmt.Errorf("sandbox: remove container %s: %w", shortID(c.id), err)
		case !result.Ok():
			c.releaseErr = fmt.Errorf("sandbox: remove container %s exited %d", shortID(c.id), result.ExitCode)
		}
		c.docker.logger.Debug("container released",
			zap.String("container_id", shortID(c.id)),
			zap.Error(c.releaseErr))
	})
	return c.releaseErr
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// shellQuote single-quotes a command for safe nesting inside bash -c.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
