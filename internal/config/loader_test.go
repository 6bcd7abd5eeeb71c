package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.Driver != DriverSQLite {
		t.Fatalf("expected sqlite driver, got %q", cfg.Storage.Driver)
	}
	if cfg.Storage.SQLitePath != "./db/database.sqlite" {
		t.Fatalf("unexpected sqlite path %q", cfg.Storage.SQLitePath)
	}
	if cfg.Server.Addr() != "0.0.0.0:8000" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr())
	}
	if cfg.Samples.HistoryMaxLimit != 200 || cfg.Samples.PreparedOnFutureTolerance != nil {
		t.Fatalf("unexpected samples config: %+v", cfg.Samples)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "http://localhost:3000" {
		t.Fatalf("unexpected origins: %v", cfg.CORS.AllowedOrigins)
	}
	if cfg.Storage.Postgres.DBName != "labframe" {
		t.Fatalf("unexpected postgres defaults: %+v", cfg.Storage.Postgres)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	content := `
server:
  port: 9090
storage:
  driver: postgres
  postgres:
    host: db.internal
    dbname: lab
samples:
  history_max_limit: 50
  prepared_on_future_tolerance: 48h
cors:
  allowed_origins:
    - https://lab.example.com
log:
  level: debug
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LABFRAME_STORAGE_POSTGRES_PASSWORD", "s3cret")
	t.Setenv("LABFRAME_CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Storage.Driver != DriverPostgres {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Storage.Postgres.Host != "db.internal" || cfg.Storage.Postgres.DBName != "lab" || cfg.Storage.Postgres.Port != 5432 {
		t.Fatalf("unexpected postgres config: %+v", cfg.Storage.Postgres)
	}
	if cfg.Storage.Postgres.Password != "s3cret" {
		t.Fatalf("env override not applied")
	}
	if cfg.Samples.HistoryMaxLimit != 50 {
		t.Fatalf("unexpected history limit %d", cfg.Samples.HistoryMaxLimit)
	}
	if cfg.Samples.PreparedOnFutureTolerance == nil || *cfg.Samples.PreparedOnFutureTolerance != 48*time.Hour {
		t.Fatalf("unexpected tolerance %v", cfg.Samples.PreparedOnFutureTolerance)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("unexpected origins: %v", cfg.CORS.AllowedOrigins)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("unexpected log level %q", cfg.Log.Level)
	}
}

func TestLoadDBPathEnv(t *testing.T) {
	t.Setenv("LABFRAME_DB_PATH", "/tmp/labframe/test.sqlite")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.SQLitePath != "/tmp/labframe/test.sqlite" {
		t.Fatalf("expected LABFRAME_DB_PATH to apply, got %q", cfg.Storage.SQLitePath)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("LABFRAME_STORAGE_DRIVER", "mongo")

	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}
