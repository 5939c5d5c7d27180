// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures the runtime settings for the loan engine.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	DBPath   string `env:"DB_PATH" envDefault:"loanengine.db"`
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`

	RateLimitPerMin float64 `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`
	RateLimitBurst  int     `env:"RATE_LIMIT_BURST" envDefault:"20"`

	DefaultAfterDays int           `env:"DEFAULT_AFTER_DAYS" envDefault:"90"`
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
	TreasuryAddress  string        `env:"TREASURY_ADDRESS"`

	SnapshotSeed   string        `env:"SNAPSHOT_SEED" envDefault:"testdata/collateral_snapshots.json"`
	SnapshotMaxAge time.Duration `env:"SNAPSHOT_MAX_AGE" envDefault:"0s"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.TreasuryAddress = strings.TrimSpace(cfg.TreasuryAddress)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate performs sanity checks on the configuration.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Port) == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("DB_PATH must not be empty"))
	}
	if c.RateLimitPerMin <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_MIN must be positive"))
	}
	if c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_BURST must be positive"))
	}
	if c.DefaultAfterDays <= 0 {
		errs = append(errs, errors.New("DEFAULT_AFTER_DAYS must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.SnapshotMaxAge < 0 {
		errs = append(errs, errors.New("SNAPSHOT_MAX_AGE must not be negative"))
	}
	if c.IsProduction() && c.TreasuryAddress == "" {
		errs = append(errs, errors.New("TREASURY_ADDRESS is required in production"))
	}
	return errors.Join(errs...)
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.AppEnv), "production")
}
