// cmd/sct-stress/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/muzarski/scylla-cluster-tests/internal/api"
	"github.com/muzarski/scylla-cluster-tests/internal/archive"
	"github.com/muzarski/scylla-cluster-tests/internal/cluster"
	"github.com/muzarski/scylla-cluster-tests/internal/config"
	"github.com/muzarski/scylla-cluster-tests/internal/events"
	"github.com/muzarski/scylla-cluster-tests/internal/logger"
	"github.com/muzarski/scylla-cluster-tests/internal/metrics"
	"github.com/muzarski/scylla-cluster-tests/internal/remote"
	"github.com/muzarski/scylla-cluster-tests/internal/results"
	"github.com/muzarski/scylla-cluster-tests/internal/sandbox"
	"github.com/muzarski/scylla-cluster-tests/internal/stress"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)

	log, err := logger.New(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("stress run failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	if cfg.Stress.Command == "" {
		return fmt.Errorf("no stress command configured (stress.command or SCT_STRESS_CMD)")
	}
	if len(cfg.Loaders) == 0 {
		cfg.Loaders = []cluster.Loader{{Name: "local", LogDir: os.TempDir()}}
		log.Info("no loaders configured, running on the local host")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := prometheus.NewRegistry()
	stressMetrics, err := metrics.NewStressMetrics(registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	bus := events.NewSimpleBus()

	store, err := buildStore(cfg, log)
	if err != nil {
		return err
	}
	archiver, err := buildArchiver(ctx, cfg, log)
	if err != nil {
		return err
	}

	hosts, err := buildHosts(cfg, log)
	if err != nil {
		return err
	}

	orch, err := stress.New(stress.Config{
		Translator: &stress.CQLStressTranslator{
			KeyspaceName:       cfg.Stress.KeyspaceName,
			CompactionStrategy: cfg.Stress.CompactionStrategy,
			Nodes:              cfg.Nodes,
			MultiRegion:        cfg.Stress.MultiRegion,
			Topology:           cluster.NewStaticTopology(cfg.Nodes),
			Logger:             log,
		},
		Image:       cfg.Stress.Image,
		StressCmd:   cfg.Stress.Command,
		Policy:      stress.TimeoutPolicy{Soft: cfg.Stress.Timeout},
		StressNum:   cfg.Stress.StressNum,
		KeyspaceNum: cfg.Stress.KeyspaceNum,
		Bus:         bus,
		Metrics:     stressMetrics,
		Reporter:    stress.NewReporter(store, archiver, log),
		Logger:      log,
	})
	if err != nil {
		return err
	}

	server := api.NewServer(cfg.Server.Port, registry, store, bus, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Error("status server failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("status server shutdown failed", zap.Error(err))
		}
	}()

	log.Info("starting stress run",
		zap.String("command", cfg.Stress.Command),
		zap.Int("loaders", len(hosts)),
		zap.Int("stress_num", cfg.Stress.StressNum),
		zap.Int("keyspace_num", cfg.Stress.KeyspaceNum),
		zap.Duration("timeout", cfg.Stress.Timeout))

	outcomes := orch.RunAll(ctx, hosts)

	failed := 0
	for _, out := range outcomes {
		if out.Failed() {
			failed++
			log.Error("invocation failed",
				zap.String("invocation", out.Invocation.ID.String()),
				zap.String("loader", out.Invocation.Loader.String()),
				zap.Error(out.Event.Failure()))
		}
	}
	log.Info("stress run finished",
		zap.Int("invocations", len(outcomes)),
		zap.Int("failed", failed))

	if failed > 0 {
		return fmt.Errorf("%d of %d invocations failed", failed, len(outcomes))
	}
	return nil
}

// buildHosts binds each loader to a command runner: SSH when the loader
// has an address, the local shell otherwise.
func buildHosts(cfg *config.Config, log *zap.Logger) ([]stress.LoaderHost, error) {
	keyPath := config.GetEnvOrDefault("SCT_SSH_KEY_PATH",
		os.ExpandEnv("$HOME/.ssh/id_rsa"))

	hosts := make([]stress.LoaderHost, 0, len(cfg.Loaders))
	for _, loader := range cfg.Loaders {
		var runner remote.CommandRunner
		if loader.IPAddress == "" {
			runner = remote.NewLocalRunner(log)
		} else {
			sshRunner, err := remote.NewSSHRunner(remote.SSHConfig{
				Host:           loader.IPAddress,
				User:           loader.SSHUser,
				PrivateKeyPath: keyPath,
			}, log)
			if err != nil {
				return nil, fmt.Errorf("connecting to loader %s: %w", loader.String(), err)
			}
			runner = sshRunner
		}
		hosts = append(hosts, stress.LoaderHost{
			Loader: loader,
			Docker: sandbox.NewDocker(runner, log),
		})
	}
	return hosts, nil
}

func buildStore(cfg *config.Config, log *zap.Logger) (results.Store, error) {
	if !cfg.Results.Enabled {
		return results.NewMemoryStore(), nil
	}
	store, err := results.NewPostgresStore(cfg.Results.DSN, log)
	if err != nil {
		return nil, fmt.Errorf("connecting to results store: %w", err)
	}
	return store, nil
}

func buildArchiver(ctx context.Context, cfg *config.Config, log *zap.Logger) (*archive.Archiver, error) {
	if !cfg.Archive.Enabled {
		return nil, nil
	}
	uploader, err := archive.NewS3Uploader(ctx, archive.S3Options{
		Bucket:    cfg.Archive.Bucket,
		Region:    cfg.Archive.Region,
		Endpoint:  cfg.Archive.Endpoint,
		AccessKey: cfg.Archive.AccessKey,
		SecretKey: cfg.Archive.SecretKey,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("creating log uploader: %w", err)
	}
	return archive.NewArchiver(uploader, cfg.Archive.Prefix, log), nil
}
