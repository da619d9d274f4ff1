package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "database:\n  dsn: postgres://localhost/newswire\n")

	cfg := Load(path)

	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Pipeline.SourceConcurrency != 4 {
		t.Errorf("source concurrency = %d, want 4", cfg.Pipeline.SourceConcurrency)
	}
	if cfg.Pipeline.ArticleConcurrency != 3 {
		t.Errorf("article concurrency = %d, want 3", cfg.Pipeline.ArticleConcurrency)
	}
	if cfg.Scraper.RSSTimeoutMs != 10000 {
		t.Errorf("rss timeout = %d, want 10000", cfg.Scraper.RSSTimeoutMs)
	}
	if cfg.Database.Pool.MaxConns != 20 {
		t.Errorf("pool max = %d, want 20", cfg.Database.Pool.MaxConns)
	}
	if cfg.Metrics.CacheTTLSeconds != 60 {
		t.Errorf("metrics cache ttl = %d, want 60", cfg.Metrics.CacheTTLSeconds)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
database:
  dsn: postgres://file/db
  pool:
    maxConns: 5
`)
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("DATABASE_POOL_MAX", "40")
	t.Setenv("PORT", "3001")

	cfg := Load(path)

	if cfg.Database.DSN != "postgres://env/db" {
		t.Errorf("dsn = %q, want env value", cfg.Database.DSN)
	}
	if cfg.Database.Pool.MaxConns != 40 {
		t.Errorf("pool max = %d, want 40", cfg.Database.Pool.MaxConns)
	}
	if cfg.Server.Port != 3001 {
		t.Errorf("port = %d, want 3001", cfg.Server.Port)
	}
}

func TestEnvIgnoresMalformedInts(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\ndatabase:\n  dsn: postgres://x\n")
	t.Setenv("PORT", "not-a-number")

	cfg := Load(path)
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want file value 9000", cfg.Server.Port)
	}
}

func TestValidateRejectsPoolInversion(t *testing.T) {
	cfg := &Config{}
	cfg.Database.DSN = "postgres://x"
	cfg.ApplyDefaults()
	cfg.Database.Pool.MinConns = 50

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for minConns > maxConns")
	}
}
