// Package config loads process configuration for the workflow core
// from TOML, the way the portal's ingestion side already does.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
)

// Limits holds the execution limits from spec §6. Zero values are
// replaced with the documented defaults by Defaults().
type Limits struct {
	MaxSteps       int           `toml:"max_steps"`
	MaxDuration    time.Duration `toml:"max_duration"`
	MaxInputChars  int           `toml:"max_input_chars"`
	ApprovalTTL    time.Duration `toml:"approval_ttl"`
}

// Defaults returns the spec-mandated execution limits.
func Defaults() Limits {
	return Limits{
		MaxSteps:      50,
		MaxDuration:   300 * time.Second,
		MaxInputChars: 50000,
		ApprovalTTL:   5 * time.Minute,
	}
}

// ProviderConfig holds credentials/endpoints for one language-model
// provider.
type ProviderConfig struct {
	Kind     string `toml:"kind"`
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"`
	Model    string `toml:"model"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver string `toml:"driver"` // "memory", "sqlite", "mysql"
	DSN    string `toml:"dsn"`
}

// Config is the top-level process configuration.
type Config struct {
	Limits    Limits           `toml:"limits"`
	Providers []ProviderConfig `toml:"providers"`
	Store     StoreConfig      `toml:"store"`
	RedisAddr string           `toml:"redis_addr"`
	SlackWebhook string        `toml:"slack_webhook"`
}

// Load reads and decodes a TOML config file, filling unset limits with
// defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Limits.MaxSteps == 0 {
		cfg.Limits.MaxSteps = d.MaxSteps
	}
	if cfg.Limits.MaxDuration == 0 {
		cfg.Limits.MaxDuration = d.MaxDuration
	}
	if cfg.Limits.MaxInputChars == 0 {
		cfg.Limits.MaxInputChars = d.MaxInputChars
	}
	if cfg.Limits.ApprovalTTL == 0 {
		cfg.Limits.ApprovalTTL = d.ApprovalTTL
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
}
