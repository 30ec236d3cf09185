package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatal(err)
	}
	def := Default()
	if *cfg != *def {
		t.Errorf("got %+v, want defaults %+v", cfg, def)
	}
}

func TestLoadPartialFileMergesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("page_size = 25\nmax_retries = 3\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PageSize != 25 {
		t.Errorf("page_size = %d, want 25", cfg.PageSize)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("max_retries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.OutboxPollMS != Default().OutboxPollMS {
		t.Errorf("outbox_poll_ms = %d, want default %d", cfg.OutboxPollMS, Default().OutboxPollMS)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("page_size = \"not a number\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed config")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	want := &Config{
		OutboxPollMS:          250,
		BackoffBaseMS:         1000,
		BackoffCapMS:          60_000,
		BackoffJitter:         0.1,
		MaxRetries:            5,
		PageSize:              20,
		MaintenanceIntervalMS: 600_000,
	}
	if err := Save(path, want); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if *got != *want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := Default()
	if cfg.OutboxPoll() != 500*time.Millisecond {
		t.Errorf("OutboxPoll = %v", cfg.OutboxPoll())
	}
	if cfg.BackoffBase() != 2*time.Second {
		t.Errorf("BackoffBase = %v", cfg.BackoffBase())
	}
	if cfg.BackoffCap() != 5*time.Minute {
		t.Errorf("BackoffCap = %v", cfg.BackoffCap())
	}
	if cfg.MaintenanceInterval() != 15*time.Minute {
		t.Errorf("MaintenanceInterval = %v", cfg.MaintenanceInterval())
	}
}
