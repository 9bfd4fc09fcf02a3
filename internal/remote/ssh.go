package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// SSHConfig describes how to reach a loader over SSH.
type SSHConfig struct {
	Host           string
	Port           int
	User           string
	PrivateKeyPath string
	ConnectTimeout time.Duration
}

// SSHRunner runs commands on a remote loader over SSH. Each Run opens its
// own session so concurrent invocations on the same loader do not share
// channel state.
type SSHRunner struct {
	cfg    SSHConfig
	client *ssh.Client
	logger *zap.Logger
}

// NewSSHRunner dials the loader and returns a runner bound to it.
func NewSSHRunner(cfg SSHConfig, logger *zap.Logger) (*SSHRunner, error) {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}

	key, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key %s: %w", cfg.PrivateKeyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", cfg.PrivateKeyPath, err)
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // loaders are ephemeral test hosts
		Timeout:         cfg.ConnectTimeout,
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}

	logger.Info("ssh runner connected", zap.String("addr", addr), zap.String("user", cfg.User))
	return &SSHRunner{cfg: cfg, client: client, logger: logger}, nil
}

// Target implements CommandRunner.
func (r *SSHRunner) Target() string { return r.cfg.Host }

// Run implements CommandRunner. The session is force-closed when ctx
// expires, which tears down the remote process group.
func (r *SSHRunner) Run(ctx context.Context, command string, opts Options) (*ExecResult, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh session on %s: %w", r.cfg.Host, err)
	}
	defer func() { _ = session.Close() }()

	out := opts.Output
	if out == nil {
		out = io.Discard
	}
	session.Stdout = out
	session.Stderr = out

	start := time.Now()
	if err := session.Start(command); err != nil {
		return nil, fmt.Errorf("ssh start on %s: %w", r.cfg.Host, err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		// Closing the session kills the remote command; the Wait result
		// is no longer interesting.
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return nil, fmt.Errorf("ssh run on %s: %w", r.cfg.Host, ctx.Err())
	case err := <-done:
		result := &ExecResult{Duration: time.Since(start)}
		if err == nil {
			return result, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return nil, fmt.Errorf("ssh wait on %s: %w", r.cfg.Host, err)
	}
}

// Close tears down the underlying SSH connection.
func (r *SSHRunner) Close() error {
	return r.client.Close()
}
