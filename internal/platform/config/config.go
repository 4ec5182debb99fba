// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the runtime configuration of admitlog. Command-line flags
// override these values.
type Config struct {
	// DBPath is the SQLite database file.
	DBPath string `env:"ADMITLOG_DB" envDefault:"admitlog.db"`

	// Workers is the number of events processed in parallel by ingest.
	Workers int `env:"ADMITLOG_WORKERS" envDefault:"4"`

	// MaxAttempts bounds retries of an event after a storage conflict.
	MaxAttempts int `env:"ADMITLOG_MAX_ATTEMPTS" envDefault:"5"`

	// RetryBackoff is the first retry delay; it doubles per attempt.
	RetryBackoff time.Duration `env:"ADMITLOG_RETRY_BACKOFF" envDefault:"10ms"`

	// BusyTimeout bounds the wait on a locked SQLite database.
	BusyTimeout time.Duration `env:"ADMITLOG_BUSY_TIMEOUT" envDefault:"5s"`

	// LockTimeout bounds the wait for per-key locks.
	LockTimeout time.Duration `env:"ADMITLOG_LOCK_TIMEOUT" envDefault:"30s"`

	// RedisURL selects Redis leases for per-key locks. Empty uses
	// in-process locks.
	RedisURL string        `env:"ADMITLOG_REDIS_URL"`
	LockTTL  time.Duration `env:"ADMITLOG_LOCK_TTL" envDefault:"30s"`

	// MetricsAddr serves Prometheus metrics when set.
	MetricsAddr string `env:"ADMITLOG_METRICS_ADDR"`

	// OTelEndpoint enables OTLP/HTTP trace export when set.
	OTelEndpoint string `env:"ADMITLOG_OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"ADMITLOG_OTEL_ENABLED" envDefault:"true"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates Config.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts))
	}
	if c.RetryBackoff < 0 {
		errs = append(errs, errors.New("retry backoff must not be negative"))
	}
	if c.BusyTimeout <= 0 {
		errs = append(errs, errors.New("busy timeout must be positive"))
	}
	if c.LockTimeout <= 0 {
		errs = append(errs, errors.New("lock timeout must be positive"))
	}
	if c.RedisURL != "" && c.LockTTL <= 0 {
		errs = append(errs, errors.New("lock ttl must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
