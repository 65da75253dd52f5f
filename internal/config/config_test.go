package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docflowhq/docflow/internal/dbconn"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docflow.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
servers:
  erp:
    driver: sqlserver
    dsn: "sqlserver://sa:pw@localhost?database=erp"
  web:
    driver: mysql
    dsn: "web:pw@tcp(localhost:3306)/shop"
mappingsDir: /etc/docflow/mappings
counterStore:
  backend: sql
  server: erp
  table: docflow_counters
log:
  level: debug
engine:
  watchdogTimeout: 90s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Servers, 2)
	if cfg.Servers["erp"].Driver != "sqlserver" {
		t.Errorf("erp driver = %q", cfg.Servers["erp"].Driver)
	}
	if cfg.MappingsDir != "/etc/docflow/mappings" {
		t.Errorf("mappingsDir = %q", cfg.MappingsDir)
	}
	if cfg.CounterStore.Backend != "sql" || cfg.CounterStore.Server != "erp" {
		t.Errorf("counterStore = %+v", cfg.CounterStore)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
	if cfg.Engine.WatchdogTimeout != 90*time.Second {
		t.Errorf("watchdogTimeout = %v", cfg.Engine.WatchdogTimeout)
	}
	// Untouched sections keep their defaults.
	if cfg.Engine.SweepInterval != 30*time.Second || cfg.Engine.ReservationTTL != 5*time.Minute {
		t.Errorf("engine defaults = %+v", cfg.Engine)
	}
	if cfg.ExecutionStore.Backend != "memory" {
		t.Errorf("executionStore default = %q", cfg.ExecutionStore.Backend)
	}
	if cfg.Log.MaxSizeMB != 50 || cfg.Log.MaxBackups != 5 {
		t.Errorf("log defaults = %+v", cfg.Log)
	}
}

func TestLoadExplicitPathMustExist(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("explicit config path that does not exist must fail")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Servers: map[string]dbconn.ServerConfig{
				"erp": {Driver: "sqlserver", DSN: "sqlserver://localhost"},
			},
		}
	}

	t.Run("ok", func(t *testing.T) {
		if err := valid().Validate(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := valid()
		cfg.Servers["erp"] = dbconn.ServerConfig{Driver: "oracle", DSN: "x"}
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error for unsupported driver")
		}
	})

	t.Run("missing dsn", func(t *testing.T) {
		cfg := valid()
		cfg.Servers["erp"] = dbconn.ServerConfig{Driver: "mysql"}
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "dsn") {
			t.Fatalf("err = %v, want dsn error", err)
		}
	})

	t.Run("counter store server must exist", func(t *testing.T) {
		cfg := valid()
		cfg.CounterStore = CounterStoreConfig{Backend: "sql", Server: "ghost"}
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "counterStore") {
			t.Fatalf("err = %v, want counterStore error", err)
		}
	})

	t.Run("unknown counter backend", func(t *testing.T) {
		cfg := valid()
		cfg.CounterStore = CounterStoreConfig{Backend: "redis"}
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error for unknown backend")
		}
	})

	t.Run("execution store server must exist", func(t *testing.T) {
		cfg := valid()
		cfg.ExecutionStore = ExecutionStoreConfig{Backend: "sql", Server: "ghost"}
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "executionStore") {
			t.Fatalf("err = %v, want executionStore error", err)
		}
	})
}
