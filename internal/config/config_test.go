package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	cfg := New()
	if cfg == nil {
		t.Fatal("New() should return non-nil config")
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected default host 0.0.0.0, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("expected default driver sqlite, got %s", cfg.Database.Driver)
	}
}

func TestDSNOrDefault(t *testing.T) {
	cfg := New()
	cfg.Home = "/tmp/kitthome"
	if got, want := cfg.DSNOrDefault(), filepath.Join("/tmp/kitthome", "kitt.db"); got != want {
		t.Fatalf("expected sqlite default dsn %s, got %s", want, got)
	}

	cfg.Database.DSN = "file:custom.db"
	if got := cfg.DSNOrDefault(); got != "file:custom.db" {
		t.Fatalf("expected explicit dsn to win, got %s", got)
	}

	cfg.Database.DSN = ""
	cfg.Database.Driver = "postgres"
	if got := cfg.DSNOrDefault(); got != "" {
		t.Fatalf("expected empty dsn for postgres without explicit dsn, got %s", got)
	}
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "controller.yaml")
	if err := os.WriteFile(path, []byte("server:\n  host: 127.0.0.1\n"), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Fatalf("expected server host override, got %s", cfg.Server.Host)
	}
}

func TestLoadHandlesMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err != nil {
		t.Fatalf("load should ignore missing file: %v", err)
	}
}

func TestHeartbeatIntervalClamped(t *testing.T) {
	cfg := New()
	cfg.Agent.DefaultHeartbeatIntervalS = 1
	cfg.normalize()
	if cfg.Agent.DefaultHeartbeatIntervalS != 10 {
		t.Fatalf("expected clamp to 10, got %d", cfg.Agent.DefaultHeartbeatIntervalS)
	}

	cfg.Agent.DefaultHeartbeatIntervalS = 10000
	cfg.normalize()
	if cfg.Agent.DefaultHeartbeatIntervalS != 300 {
		t.Fatalf("expected clamp to 300, got %d", cfg.Agent.DefaultHeartbeatIntervalS)
	}
}
