package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	v := New()
	v.Set("data-dir", dir)

	cfg, err := Load(v, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.File != "" {
		t.Errorf("expected no config file, got %s", cfg.File)
	}
	if cfg.Remote.Table != "user_data" {
		t.Errorf("expected table user_data, got %s", cfg.Remote.Table)
	}
	if cfg.Sync.Interval != 5*time.Minute {
		t.Errorf("expected 5m interval, got %s", cfg.Sync.Interval)
	}
	if cfg.Dashboard.Port != 8080 || cfg.Dashboard.Host != "127.0.0.1" {
		t.Errorf("unexpected dashboard defaults: %+v", cfg.Dashboard)
	}
	if cfg.Telemetry.Enabled {
		t.Error("telemetry should be off by default")
	}
	if got := cfg.DBPath(); got != filepath.Join(dir, "fundsync.db") {
		t.Errorf("unexpected DBPath %s", got)
	}
	if got := cfg.SessionPath(); got != filepath.Join(dir, "session.json") {
		t.Errorf("unexpected SessionPath %s", got)
	}
	if cfg.RemoteClientConfig().Configured() {
		t.Error("remote should not be configured without URL and key")
	}
}

func TestLoadFromDataDirFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
remote:
  url: https://example.supabase.co
  anon-key: public-key
sync:
  interval: 1m
dashboard:
  port: 9000
`)
	v := New()
	v.Set("data-dir", dir)

	cfg, err := Load(v, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.File == "" {
		t.Error("expected config file to be recorded")
	}
	if cfg.Remote.URL != "https://example.supabase.co" || cfg.Remote.AnonKey != "public-key" {
		t.Errorf("unexpected remote config: %+v", cfg.Remote)
	}
	if cfg.Sync.Interval != time.Minute {
		t.Errorf("expected 1m interval, got %s", cfg.Sync.Interval)
	}
	if cfg.Dashboard.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Dashboard.Port)
	}
	if !cfg.RemoteClientConfig().Configured() {
		t.Error("expected remote to be configured")
	}
	if got := cfg.DaemonConfig().SyncInterval; got != time.Minute {
		t.Errorf("daemon interval = %s, want 1m", got)
	}
}

func TestLoadExplicitFileMissing(t *testing.T) {
	v := New()
	v.Set("data-dir", t.TempDir())

	if _, err := Load(v, filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
remote:
  url: https://file.example.com
  anon-key: from-file
`)
	t.Setenv("FUNDSYNC_DATA_DIR", dir)
	t.Setenv("FUNDSYNC_REMOTE_ANON_KEY", "from-env")
	t.Setenv("FUNDSYNC_SYNC_INTERVAL", "30s")

	cfg, err := Load(New(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DataDir != dir {
		t.Errorf("expected data dir from env, got %s", cfg.DataDir)
	}
	if cfg.Remote.URL != "https://file.example.com" {
		t.Errorf("expected URL from file, got %s", cfg.Remote.URL)
	}
	if cfg.Remote.AnonKey != "from-env" {
		t.Errorf("expected anon key from env, got %s", cfg.Remote.AnonKey)
	}
	if cfg.Sync.Interval != 30*time.Second {
		t.Errorf("expected 30s interval from env, got %s", cfg.Sync.Interval)
	}
}

func TestBindFlags(t *testing.T) {
	dir := t.TempDir()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("data-dir", "", "")
	if err := flags.Parse([]string{"--data-dir", dir}); err != nil {
		t.Fatal(err)
	}

	v := New()
	if err := BindFlags(v, flags); err != nil {
		t.Fatalf("BindFlags failed: %v", err)
	}
	cfg, err := Load(v, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DataDir != dir {
		t.Errorf("expected data dir from flag, got %s", cfg.DataDir)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DataDir:   "/tmp/fundsync",
			Remote:    RemoteConfig{Table: "user_data", Timeout: time.Second, MaxTries: 3},
			Sync:      SyncConfig{Interval: time.Minute},
			Dashboard: DashboardConfig{Port: 8080},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "https url", mutate: func(c *Config) { c.Remote.URL = "https://x.supabase.co" }},
		{name: "empty data dir", mutate: func(c *Config) { c.DataDir = "" }, wantErr: "data-dir"},
		{name: "bad url", mutate: func(c *Config) { c.Remote.URL = "ftp://x" }, wantErr: "remote.url"},
		{name: "no host", mutate: func(c *Config) { c.Remote.URL = "https://" }, wantErr: "remote.url"},
		{name: "zero timeout", mutate: func(c *Config) { c.Remote.Timeout = 0 }, wantErr: "remote.timeout"},
		{name: "zero tries", mutate: func(c *Config) { c.Remote.MaxTries = 0 }, wantErr: "max-tries"},
		{name: "tiny interval", mutate: func(c *Config) { c.Sync.Interval = time.Millisecond }, wantErr: "sync.interval"},
		{name: "bad port", mutate: func(c *Config) { c.Dashboard.Port = 70000 }, wantErr: "dashboard.port"},
		{name: "telemetry without endpoint", mutate: func(c *Config) { c.Telemetry.Enabled = true }, wantErr: "telemetry.endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
