// Package config loads server configuration from the environment and an
// optional YAML policy file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all server settings, populated from environment variables.
type Config struct {
	Addr     string `env:"TOKENGATE_ADDR" envDefault:":8080"`
	LogLevel string `env:"TOKENGATE_LOG_LEVEL" envDefault:"info"`

	// Default admission policy for buckets created without explicit config
	DefaultCapacity   int64   `env:"TOKENGATE_DEFAULT_CAPACITY" envDefault:"100"`
	DefaultRefillRate float64 `env:"TOKENGATE_DEFAULT_REFILL_RATE" envDefault:"10"`

	// PolicyFile points at a YAML file with per-key-prefix overrides
	PolicyFile string `env:"TOKENGATE_POLICY_FILE"`

	// Redis snapshot persistence; disabled when RedisAddr is empty
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	SnapshotTTL   time.Duration `env:"TOKENGATE_SNAPSHOT_TTL" envDefault:"1h"`

	// Janitor maintenance; CleanupAge 0 disables idle eviction
	JanitorSchedule string        `env:"TOKENGATE_JANITOR_SCHEDULE" envDefault:"@every 1m"`
	CleanupAge      time.Duration `env:"TOKENGATE_CLEANUP_AGE" envDefault:"0"`

	ShutdownTimeout time.Duration `env:"TOKENGATE_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	// A missing .env is fine; explicit environment always wins
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the loaded settings.
func (c *Config) Validate() error {
	if c.DefaultCapacity <= 0 {
		return fmt.Errorf("default capacity must be positive, got %d", c.DefaultCapacity)
	}
	if c.DefaultRefillRate < 0 {
		return fmt.Errorf("default refill rate cannot be negative, got %g", c.DefaultRefillRate)
	}
	if c.SnapshotTTL < 0 {
		return fmt.Errorf("snapshot TTL cannot be negative, got %s", c.SnapshotTTL)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}
