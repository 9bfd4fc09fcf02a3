// Package config holds the harness configuration, loaded from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/muzarski/scylla-cluster-tests/internal/cluster"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Stress  StressConfig  `yaml:"stress"`
	Archive ArchiveConfig `yaml:"archive"`
	Results ResultsConfig `yaml:"results"`

	Nodes   []cluster.Node   `yaml:"nodes"`
	Loaders []cluster.Loader `yaml:"loaders"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

type StressConfig struct {
	// Image is the cql-stress-cassandra-stress container image.
	Image string `yaml:"image"`
	// Command is the stress invocation in the legacy dialect.
	Command string `yaml:"command"`
	// Timeout is the soft timeout per invocation. The hard timeout is
	// derived from it and is not configurable.
	Timeout time.Duration `yaml:"timeout"`
	// StressNum is the number of stress processes per loader; each gets
	// its own CPU slot when greater than one.
	StressNum int `yaml:"stress_num"`
	// KeyspaceNum fans one command out over keyspace1..keyspaceN.
	KeyspaceNum        int    `yaml:"keyspace_num"`
	KeyspaceName       string `yaml:"keyspace_name"`
	CompactionStrategy string `yaml:"compaction_strategy"`
	// MultiRegion enables datacenter qualification of the -node list.
	MultiRegion bool `yaml:"multi_region"`
}

type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

type ResultsConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// Default returns a config with working defaults for a single loader.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8080,
			LogLevel: "info",
		},
		Stress: StressConfig{
			Image:       "scylladb/cql-stress-cassandra-stress:latest",
			Timeout:     4 * time.Hour,
			StressNum:   1,
			KeyspaceNum: 1,
		},
	}
}

// Load reads a YAML config file on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the parts every run needs.
func (c *Config) Validate() error {
	if c.Stress.Image == "" {
		return fmt.Errorf("config: stress.image is required")
	}
	if c.Stress.Timeout <= 0 {
		return fmt.Errorf("config: stress.timeout must be positive")
	}
	if c.Stress.StressNum < 1 {
		return fmt.Errorf("config: stress.stress_num must be at least 1")
	}
	if c.Stress.KeyspaceNum < 1 {
		return fmt.Errorf("config: stress.keyspace_num must be at least 1")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("config: archive.bucket is required when archiving is enabled")
	}
	if c.Results.Enabled && c.Results.DSN == "" {
		return fmt.Errorf("config: results.dsn is required when the results store is enabled")
	}
	return nil
}
