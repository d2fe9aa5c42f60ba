package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"snag/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, _, exists, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if exists {
		t.Fatal("expected missing config file")
	}
	if cfg.Pipeline.Workers != 2 {
		t.Fatalf("expected default workers, got %d", cfg.Pipeline.Workers)
	}
	if cfg.Queue.MaxPending != 64 {
		t.Fatalf("expected default max_pending, got %d", cfg.Queue.MaxPending)
	}
	if !filepath.IsAbs(cfg.Paths.StagingDir) {
		t.Fatalf("staging dir not expanded: %q", cfg.Paths.StagingDir)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
staging_dir = "` + filepath.Join(dir, "staging") + `"
output_dir = "` + filepath.Join(dir, "out") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"

[pipeline]
workers = 5
max_attempts = 4

[queue]
max_pending = 8
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected config at %q, got %q exists=%v", path, resolved, exists)
	}
	if cfg.Pipeline.Workers != 5 || cfg.Pipeline.MaxAttempts != 4 {
		t.Fatalf("pipeline overrides not applied: %+v", cfg.Pipeline)
	}
	if cfg.Queue.MaxPending != 8 {
		t.Fatalf("queue override not applied: %+v", cfg.Queue)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[pipeline]
workers = 0
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, _, _, err := config.Load(path)
	if err == nil {
		t.Fatal("expected validation error for zero workers")
	}
	if !strings.Contains(err.Error(), "pipeline.workers") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsUnknownLogFormat(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Format = "yaml"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported log format")
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("create sample: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample config to exist")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample config should validate: %v", err)
	}
}
