package config

import (
	"os"
	"strconv"
	"time"
)

// LoadFromEnv applies SCT_* environment overrides on top of a config.
func LoadFromEnv(cfg *Config) {
	if port := os.Getenv("SCT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if level := os.Getenv("SCT_LOG_LEVEL"); level != "" {
		cfg.Server.LogLevel = level
	}

	if image := os.Getenv("SCT_STRESS_IMAGE"); image != "" {
		cfg.Stress.Image = image
	}
	if cmd := os.Getenv("SCT_STRESS_CMD"); cmd != "" {
		cfg.Stress.Command = cmd
	}
	if timeout := os.Getenv("SCT_STRESS_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			cfg.Stress.Timeout = d
		}
	}

	// Archive credentials come from the environment in CI.
	if key := os.Getenv("SCT_ARCHIVE_ACCESS_KEY"); key != "" {
		cfg.Archive.AccessKey = key
	}
	if secret := os.Getenv("SCT_ARCHIVE_SECRET_KEY"); secret != "" {
		cfg.Archive.SecretKey = secret
	}
	if dsn := os.Getenv("SCT_RESULTS_DSN"); dsn != "" {
		cfg.Results.DSN = dsn
	}
}

// GetEnvOrDefault returns an environment variable or a default value.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
