package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents <cache-dir>/config.toml. Durations are expressed in
// milliseconds in the file; zero or missing values take the defaults below.
type Config struct {
	OutboxPollMS          int     `toml:"outbox_poll_ms"`
	BackoffBaseMS         int     `toml:"backoff_base_ms"`
	BackoffCapMS          int     `toml:"backoff_cap_ms"`
	BackoffJitter         float64 `toml:"backoff_jitter"`
	MaxRetries            int     `toml:"max_retries"`
	PageSize              int     `toml:"page_size"`
	MaintenanceIntervalMS int     `toml:"maintenance_interval_ms"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		OutboxPollMS:          500,
		BackoffBaseMS:         2000,
		BackoffCapMS:          300_000,
		BackoffJitter:         0.2,
		MaxRetries:            8,
		PageSize:              50,
		MaintenanceIntervalMS: 900_000,
	}
}

// Load reads config from the given path. A missing file yields the defaults;
// present-but-partial files have defaults applied field by field.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	var fileCfg Config
	if _, err := toml.DecodeFile(path, &fileCfg); err != nil {
		return nil, err
	}
	merge(cfg, &fileCfg)
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// OutboxPoll returns the outbox drain interval.
func (c *Config) OutboxPoll() time.Duration {
	return time.Duration(c.OutboxPollMS) * time.Millisecond
}

// BackoffBase returns the first retry delay.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
}

// BackoffCap returns the retry delay ceiling.
func (c *Config) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapMS) * time.Millisecond
}

// MaintenanceInterval returns the idle-window maintenance period.
func (c *Config) MaintenanceInterval() time.Duration {
	return time.Duration(c.MaintenanceIntervalMS) * time.Millisecond
}

func merge(dst, src *Config) {
	if src.OutboxPollMS > 0 {
		dst.OutboxPollMS = src.OutboxPollMS
	}
	if src.BackoffBaseMS > 0 {
		dst.BackoffBaseMS = src.BackoffBaseMS
	}
	if src.BackoffCapMS > 0 {
		dst.BackoffCapMS = src.BackoffCapMS
	}
	if src.BackoffJitter > 0 {
		dst.BackoffJitter = src.BackoffJitter
	}
	if src.MaxRetries > 0 {
		dst.MaxRetries = src.MaxRetries
	}
	if src.PageSize > 0 {
		dst.PageSize = src.PageSize
	}
	if src.MaintenanceIntervalMS > 0 {
		dst.MaintenanceIntervalMS = src.MaintenanceIntervalMS
	}
}
