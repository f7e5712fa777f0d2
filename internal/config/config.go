// Package config loads and validates leadfinder configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Ledger store providers.
const (
	ProviderMemory   = "memory"
	ProviderPostgres = "postgres"
	ProviderSQLite   = "sqlite"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Logging LoggingConfig `mapstructure:"logging"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	DB      DBConfig      `mapstructure:"db"`
	SQLite  SQLiteConfig  `mapstructure:"sqlite"`
	Places  PlacesConfig  `mapstructure:"places"`
	Scrape  ScrapeConfig  `mapstructure:"scrape"`
	Enrich  EnrichConfig  `mapstructure:"enrich"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// RequestTimeoutSeconds bounds the non-search API routes. Searches are
	// bounded by enrich.search_timeout_seconds and enrich.deadline_seconds.
	RequestTimeoutSeconds int      `mapstructure:"request_timeout_seconds"`
	CORSOrigins           []string `mapstructure:"cors_origins"`
}

// AuthConfig guards the administrative endpoints. An empty secret disables them.
type AuthConfig struct {
	AdminSecret string `mapstructure:"admin_secret"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// LedgerConfig selects the credit store and its tiers.
type LedgerConfig struct {
	Provider            string `mapstructure:"provider"`
	FreeGrant           int    `mapstructure:"free_grant"`
	FreePerRun          int    `mapstructure:"free_per_run"`
	PaidPerRun          int    `mapstructure:"paid_per_run"`
	RefundOnSearchError bool   `mapstructure:"refund_on_search_error"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// SQLiteConfig points at the embedded database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PlacesConfig tunes the upstream Places client.
type PlacesConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	Language       string  `mapstructure:"language"`
	PageDelayMs    int     `mapstructure:"page_delay_ms"`
	MaxPages       int     `mapstructure:"max_pages"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxRPS         float64 `mapstructure:"max_rps"`
	Burst          int     `mapstructure:"burst"`
	CountryCode    string  `mapstructure:"country_code"`
}

// ScrapeConfig governs homepage fetching.
type ScrapeConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxScrapes     int    `mapstructure:"max_scrapes"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
}

// EnrichConfig bounds the enrichment fan-out.
type EnrichConfig struct {
	Workers              int `mapstructure:"workers"`
	ChunkSize            int `mapstructure:"chunk_size"`
	DeadlineSeconds      int `mapstructure:"deadline_seconds"`
	SearchTimeoutSeconds int `mapstructure:"search_timeout_seconds"`
}

// PubSubConfig enables the funding event subscriber when both fields are set.
type PubSubConfig struct {
	ProjectID    string `mapstructure:"project_id"`
	Subscription string `mapstructure:"subscription"`
}

// Enabled reports whether the subscriber should run.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.Subscription != ""
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEADFINDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("auth.admin_secret", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("ledger.provider", ProviderMemory)
	v.SetDefault("ledger.free_grant", 2)
	v.SetDefault("ledger.free_per_run", 20)
	v.SetDefault("ledger.paid_per_run", 40)
	v.SetDefault("ledger.refund_on_search_error", false)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("sqlite.path", "leadfinder.db")
	v.SetDefault("places.base_url", "https://maps.googleapis.com/maps/api/place")
	v.SetDefault("places.language", "ja")
	v.SetDefault("places.page_delay_ms", 2000)
	v.SetDefault("places.max_pages", 3)
	v.SetDefault("places.timeout_seconds", 10)
	v.SetDefault("places.max_rps", 10.0)
	v.SetDefault("places.burst", 10)
	v.SetDefault("places.country_code", "81")
	v.SetDefault("scrape.user_agent", "leadfinder/1.0 (+contact-enrichment)")
	v.SetDefault("scrape.timeout_seconds", 5)
	v.SetDefault("scrape.max_scrapes", 12)
	v.SetDefault("scrape.max_body_bytes", 2<<20)
	v.SetDefault("scrape.respect_robots", false)
	v.SetDefault("enrich.workers", 6)
	v.SetDefault("enrich.chunk_size", 12)
	v.SetDefault("enrich.deadline_seconds", 25)
	v.SetDefault("enrich.search_timeout_seconds", 20)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.subscription", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Ledger.Provider {
	case ProviderMemory:
	case ProviderPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when ledger.provider is postgres")
		}
	case ProviderSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path must be set when ledger.provider is sqlite")
		}
	default:
		return fmt.Errorf("ledger.provider must be one of memory, postgres, sqlite; got %q", c.Ledger.Provider)
	}
	if c.Ledger.FreeGrant < 0 {
		return fmt.Errorf("ledger.free_grant must be >= 0")
	}
	if c.Ledger.FreePerRun <= 0 || c.Ledger.PaidPerRun <= 0 {
		return fmt.Errorf("ledger per-run limits must be > 0")
	}
	if c.Places.MaxPages <= 0 {
		return fmt.Errorf("places.max_pages must be > 0")
	}
	if c.Places.TimeoutSeconds <= 0 {
		return fmt.Errorf("places.timeout_seconds must be > 0")
	}
	if c.Scrape.TimeoutSeconds <= 0 {
		return fmt.Errorf("scrape.timeout_seconds must be > 0")
	}
	if c.Scrape.MaxScrapes < 0 {
		return fmt.Errorf("scrape.max_scrapes must be >= 0")
	}
	if c.Enrich.Workers <= 0 || c.Enrich.ChunkSize <= 0 {
		return fmt.Errorf("enrich.workers and enrich.chunk_size must be > 0")
	}
	if c.Enrich.DeadlineSeconds <= 0 {
		return fmt.Errorf("enrich.deadline_seconds must be > 0")
	}
	if c.Enrich.SearchTimeoutSeconds <= 0 {
		return fmt.Errorf("enrich.search_timeout_seconds must be > 0")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Subscription == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.subscription must be set together")
	}
	return nil
}

// RequestTimeout is the per-request HTTP budget.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// EnrichDeadline is the wall-clock budget for the enrichment phase.
func (c Config) EnrichDeadline() time.Duration {
	return time.Duration(c.Enrich.DeadlineSeconds) * time.Second
}

// SearchTimeout bounds the paged place search of one run.
func (c Config) SearchTimeout() time.Duration {
	return time.Duration(c.Enrich.SearchTimeoutSeconds) * time.Second
}

// ScrapeTimeout bounds one homepage fetch.
func (c Config) ScrapeTimeout() time.Duration {
	return time.Duration(c.Scrape.TimeoutSeconds) * time.Second
}

// PlacesTimeout bounds one upstream Places request.
func (c Config) PlacesTimeout() time.Duration {
	return time.Duration(c.Places.TimeoutSeconds) * time.Second
}

// PageDelay is the wait before requesting the next search page.
func (c Config) PageDelay() time.Duration {
	return time.Duration(c.Places.PageDelayMs) * time.Millisecond
}
