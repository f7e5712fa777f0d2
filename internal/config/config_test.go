package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Ledger.Provider != ProviderMemory {
		t.Fatalf("expected memory ledger, got %q", cfg.Ledger.Provider)
	}
	if cfg.Ledger.FreeGrant != 2 || cfg.Ledger.FreePerRun != 20 || cfg.Ledger.PaidPerRun != 40 {
		t.Fatalf("unexpected ledger tiers: %+v", cfg.Ledger)
	}
	if cfg.Ledger.RefundOnSearchError {
		t.Fatalf("expected refunds disabled by default")
	}
	if cfg.Enrich.Workers != 6 || cfg.Enrich.ChunkSize != 12 || cfg.EnrichDeadline() != 25*time.Second || cfg.SearchTimeout() != 20*time.Second {
		t.Fatalf("unexpected enrich limits: %+v", cfg.Enrich)
	}
	if cfg.Scrape.MaxScrapes != 12 || cfg.ScrapeTimeout() != 5*time.Second {
		t.Fatalf("unexpected scrape limits: %+v", cfg.Scrape)
	}
	if cfg.Places.MaxPages != 3 || cfg.PageDelay() != 2*time.Second || cfg.Places.Language != "ja" {
		t.Fatalf("unexpected places settings: %+v", cfg.Places)
	}
	if cfg.PubSub.Enabled() {
		t.Fatalf("expected pubsub disabled by default")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout_seconds: 40
  cors_origins: ["https://forms.example.com"]
auth:
  admin_secret: s3cret
logging:
  development: true
ledger:
  provider: sqlite
  free_grant: 3
  refund_on_search_error: true
sqlite:
  path: /tmp/ledger.db
places:
  max_pages: 2
  page_delay_ms: 1500
scrape:
  timeout_seconds: 4
  max_scrapes: 8
enrich:
  workers: 3
  deadline_seconds: 20
pubsub:
  project_id: proj
  subscription: funding-sub
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.RequestTimeout() != 40*time.Second {
		t.Fatalf("expected server overrides to apply: %+v", cfg.Server)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "https://forms.example.com" {
		t.Fatalf("expected cors origins to be loaded: %v", cfg.Server.CORSOrigins)
	}
	if cfg.Auth.AdminSecret != "s3cret" || !cfg.Logging.Development {
		t.Fatalf("expected auth and logging overrides to apply")
	}
	if cfg.Ledger.Provider != ProviderSQLite || cfg.SQLite.Path != "/tmp/ledger.db" {
		t.Fatalf("expected sqlite ledger: %+v", cfg.Ledger)
	}
	if cfg.Ledger.FreeGrant != 3 || cfg.Ledger.FreePerRun != 20 || !cfg.Ledger.RefundOnSearchError {
		t.Fatalf("expected partial ledger overrides on top of defaults: %+v", cfg.Ledger)
	}
	if cfg.Places.MaxPages != 2 || cfg.PageDelay() != 1500*time.Millisecond {
		t.Fatalf("expected places overrides: %+v", cfg.Places)
	}
	if cfg.ScrapeTimeout() != 4*time.Second || cfg.Scrape.MaxScrapes != 8 {
		t.Fatalf("expected scrape overrides: %+v", cfg.Scrape)
	}
	if cfg.Enrich.Workers != 3 || cfg.Enrich.ChunkSize != 12 || cfg.EnrichDeadline() != 20*time.Second {
		t.Fatalf("expected enrich overrides: %+v", cfg.Enrich)
	}
	if !cfg.PubSub.Enabled() {
		t.Fatalf("expected pubsub enabled")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LEADFINDER_SERVER_PORT", "7070")
	t.Setenv("LEADFINDER_LEDGER_PROVIDER", "postgres")
	t.Setenv("LEADFINDER_DB_DSN", "postgres://localhost/leadfinder")
	t.Setenv("LEADFINDER_AUTH_ADMIN_SECRET", "from-env")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port, got %d", cfg.Server.Port)
	}
	if cfg.Ledger.Provider != ProviderPostgres || cfg.DB.DSN != "postgres://localhost/leadfinder" {
		t.Fatalf("expected postgres from env: %+v %+v", cfg.Ledger, cfg.DB)
	}
	if cfg.Auth.AdminSecret != "from-env" {
		t.Fatalf("expected admin secret from env")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		Ledger: LedgerConfig{Provider: ProviderMemory, FreeGrant: 2, FreePerRun: 20, PaidPerRun: 40},
		Places: PlacesConfig{MaxPages: 3, TimeoutSeconds: 10},
		Scrape: ScrapeConfig{TimeoutSeconds: 5, MaxScrapes: 12},
		Enrich: EnrichConfig{Workers: 6, ChunkSize: 12, DeadlineSeconds: 25, SearchTimeoutSeconds: 20},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "unknown provider", mutate: func(c *Config) { c.Ledger.Provider = "redis" }, want: "ledger.provider"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Ledger.Provider = ProviderPostgres }, want: "db.dsn"},
		{name: "sqlite without path", mutate: func(c *Config) { c.Ledger.Provider = ProviderSQLite }, want: "sqlite.path"},
		{name: "negative grant", mutate: func(c *Config) { c.Ledger.FreeGrant = -1 }, want: "ledger.free_grant"},
		{name: "zero per run", mutate: func(c *Config) { c.Ledger.PaidPerRun = 0 }, want: "per-run"},
		{name: "zero pages", mutate: func(c *Config) { c.Places.MaxPages = 0 }, want: "places.max_pages"},
		{name: "zero scrape timeout", mutate: func(c *Config) { c.Scrape.TimeoutSeconds = 0 }, want: "scrape.timeout_seconds"},
		{name: "zero workers", mutate: func(c *Config) { c.Enrich.Workers = 0 }, want: "enrich.workers"},
		{name: "zero deadline", mutate: func(c *Config) { c.Enrich.DeadlineSeconds = 0 }, want: "enrich.deadline_seconds"},
		{name: "zero search timeout", mutate: func(c *Config) { c.Enrich.SearchTimeoutSeconds = 0 }, want: "enrich.search_timeout_seconds"},
		{name: "half pubsub", mutate: func(c *Config) { c.PubSub.ProjectID = "proj" }, want: "pubsub"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
