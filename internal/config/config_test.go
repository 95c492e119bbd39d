package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadJSONAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{
		"basic_config": {"server_address": ":9000", "max_part_size": 1024},
		"databases": {"sqlite3": {"dsn": "data/app.db"}}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.BasicConfig.ServerAddress != ":9000" {
		t.Fatalf("server address not read: %q", cfg.BasicConfig.ServerAddress)
	}
	if cfg.BasicConfig.MaxPartSize != 1024 {
		t.Fatalf("max part size not read: %d", cfg.BasicConfig.MaxPartSize)
	}
	if !cfg.BasicConfig.ConflictAvoidance() {
		t.Fatalf("conflict avoidance should default to enabled")
	}
	if cfg.BasicConfig.ProgressIntervalMs != 250 || cfg.BasicConfig.MatchPolicy != "first" {
		t.Fatalf("defaults missing: %+v", cfg.BasicConfig)
	}
	if got, want := cfg.Databases["sqlite3"].DSN, filepath.Join(dir, "data/app.db"); got != want {
		t.Fatalf("sqlite dsn not resolved: want %s got %s", want, got)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
basic_config:
  work_dir: /var/tmp/jetty
  avoid_file_conflicts: false
  match_policy: earliest
  max_nested_depth: -1
redis:
  host: 10.0.0.5
  port: 6380
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.BasicConfig.WorkDir != "/var/tmp/jetty" {
		t.Fatalf("work dir not read: %q", cfg.BasicConfig.WorkDir)
	}
	if cfg.BasicConfig.ConflictAvoidance() {
		t.Fatalf("conflict avoidance should be disabled")
	}
	if cfg.BasicConfig.MatchPolicy != "earliest" {
		t.Fatalf("match policy not read: %q", cfg.BasicConfig.MatchPolicy)
	}
	if cfg.BasicConfig.MaxNestedDepth != 0 {
		t.Fatalf("negative nested depth should disable nesting, got %d", cfg.BasicConfig.MaxNestedDepth)
	}
	if cfg.Redis.Host != "10.0.0.5" || cfg.Redis.Port != 6380 {
		t.Fatalf("redis section not read: %+v", cfg.Redis)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing config")
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
