package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if cfg.Server.Addr != want.Server.Addr || cfg.Events.MutationPolicy != "member" || !cfg.Availability.RestrictToShared {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadFileKeepsUnsetDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
  read_timeout: 5s
events:
  mutation_policy: Owner
availability:
  restrict_to_shared: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9000" || cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.WriteTimeout != 15*time.Second {
		t.Errorf("write timeout = %v, want the default", cfg.Server.WriteTimeout)
	}
	if cfg.Events.MutationPolicy != "owner" {
		t.Errorf("mutation policy = %q", cfg.Events.MutationPolicy)
	}
	if cfg.Availability.RestrictToShared {
		t.Errorf("restrict_to_shared not applied")
	}
	if cfg.Repair.Spec != "@every 5m" {
		t.Errorf("repair spec = %q", cfg.Repair.Spec)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: \":9000\"\n")
	t.Setenv("CALENDAR_ADDR", ":7000")
	t.Setenv("CALENDAR_AUTH_ENABLED", "true")
	t.Setenv("CALENDAR_JWT_SECRET", "s3cret")
	t.Setenv("CALENDAR_LOG_LEVEL", "DEBUG")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("addr = %q, want env override", cfg.Server.Addr)
	}
	if !cfg.Auth.Enabled || cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("auth = %+v", cfg.Auth)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{name: "unknown policy", body: "events:\n  mutation_policy: anyone\n"},
		{name: "auth without secret", body: "auth:\n  enabled: true\n"},
		{name: "bad yaml", body: "server: [\n"},
		{name: "bad bool", env: map[string]string{"CALENDAR_AUTH_ENABLED": "maybe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Errorf("Load accepted invalid settings")
			}
		})
	}
}

func TestDatabasePath(t *testing.T) {
	s := StorageConfig{DataDir: "/var/lib/calendar"}
	if got := s.DatabasePath(); got != "/var/lib/calendar/calendar.db" {
		t.Errorf("DatabasePath = %q", got)
	}
}
