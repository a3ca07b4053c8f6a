package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/plugkit/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plugkit.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  port: 9090
  read_timeout: 5s
bundles:
  dir: /var/lib/plugkit/bundles
  watch: false
logging:
  level: debug
  format: json
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 9090 {
		t.Errorf("server = %s:%d, want 0.0.0.0:9090", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("read_timeout = %v, want 5s", cfg.Server.ReadTimeout)
	}
	if cfg.Bundles.Dir != "/var/lib/plugkit/bundles" || cfg.Bundles.Watch {
		t.Errorf("bundles = %+v, want dir set and watch off", cfg.Bundles)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v, want debug/json", cfg.Logging)
	}

	// Unset sections keep defaults.
	if cfg.Registry.DefaultNamespace != "global" {
		t.Errorf("default_namespace = %q, want global", cfg.Registry.DefaultNamespace)
	}
	if cfg.Database.DSN != "plugkit.db" {
		t.Errorf("database.dsn = %q, want plugkit.db", cfg.Database.DSN)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
logging:
  level: info
`)

	t.Setenv(config.EnvServerPort, "7070")
	t.Setenv(config.EnvLogLevel, "warn")
	t.Setenv(config.EnvBundlesDir, "/tmp/bundles")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want env override 7070", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %q, want env override warn", cfg.Logging.Level)
	}
	if cfg.Bundles.Dir != "/tmp/bundles" {
		t.Errorf("bundles.dir = %q, want env override /tmp/bundles", cfg.Bundles.Dir)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad port", "server:\n  port: 99999\n", "out of range"},
		{"bad level", "logging:\n  level: loud\n", "logging.level"},
		{"bad format", "logging:\n  format: xml\n", "logging.format"},
		{"bad driver", "database:\n  driver: postgres\n", "database.driver"},
		{"namespace with slash", "registry:\n  default_namespace: a/b\n", "default_namespace"},
		{"metrics path", "metrics:\n  enabled: true\n  path: metrics\n", "metrics.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := config.Load(path)
			if err == nil {
				t.Fatal("Load() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadWithFallback_MissingFile(t *testing.T) {
	cfg, err := config.LoadWithFallback(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadWithFallback() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want default 8080", cfg.Server.Port)
	}
}

func TestHolder_Reload(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")

	holder, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder() error = %v", err)
	}
	defer holder.Stop()

	var notified *config.Config
	holder.OnChange(func(c *config.Config) { notified = c })

	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if err := holder.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	if got := holder.Get().Logging.Level; got != "debug" {
		t.Errorf("level after reload = %q, want debug", got)
	}
	if notified == nil || notified.Logging.Level != "debug" {
		t.Error("OnChange listener did not receive the new config")
	}
}

func TestHolder_ReloadKeepsOldOnFailure(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")

	holder, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder() error = %v", err)
	}
	defer holder.Stop()

	if err := os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if err := holder.Reload(); err == nil {
		t.Fatal("Reload() of invalid config succeeded, want error")
	}

	if got := holder.Get().Logging.Level; got != "info" {
		t.Errorf("level after failed reload = %q, want info", got)
	}
}
