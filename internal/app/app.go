// Package app builds the long-lived services and runs them, acting as the
// dependency injection container for every command.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadfinder/internal/api"
	"github.com/JakeFAU/leadfinder/internal/clock/system"
	"github.com/JakeFAU/leadfinder/internal/config"
	"github.com/JakeFAU/leadfinder/internal/enrich"
	collyfetcher "github.com/JakeFAU/leadfinder/internal/fetcher/colly"
	"github.com/JakeFAU/leadfinder/internal/funding"
	"github.com/JakeFAU/leadfinder/internal/hash/sha256"
	"github.com/JakeFAU/leadfinder/internal/id/uuid"
	"github.com/JakeFAU/leadfinder/internal/ledger"
	"github.com/JakeFAU/leadfinder/internal/linkclass"
	"github.com/JakeFAU/leadfinder/internal/metrics"
	"github.com/JakeFAU/leadfinder/internal/policy/ratelimit"
	"github.com/JakeFAU/leadfinder/internal/policy/simple"
	"github.com/JakeFAU/leadfinder/internal/scraper"
	"github.com/JakeFAU/leadfinder/internal/storage/memory"
	pgstore "github.com/JakeFAU/leadfinder/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/leadfinder/internal/storage/sqlite"
	"github.com/JakeFAU/leadfinder/pkg/places"
)

// LedgerStore is a credit store that also remembers funding events.
type LedgerStore interface {
	ledger.Store
	funding.EventLog
}

// App contains the application's dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	policy       ledger.Policy
	store        LedgerStore
	orchestrator *enrich.Orchestrator
	funding      *funding.Service
	apiServer    *api.Server
	pubsubClient *pubsub.Client
}

// Build creates the application's dependencies. The ledger store is opened
// here; the Pub/Sub subscriber is only connected by Run.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger, policy: PolicyFrom(cfg)}
	a.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("ledger_provider", cfg.Ledger.Provider),
	)

	store, err := openLedger(ctx, cfg, a.policy, logger)
	if err != nil {
		return nil, err
	}
	a.store = store

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Places.MaxRPS,
		DefaultBurst: cfg.Places.Burst,
	})
	client := places.NewClient(
		places.WithBaseURL(cfg.Places.BaseURL),
		places.WithLanguage(cfg.Places.Language),
		places.WithPageDelay(cfg.PageDelay()),
		places.WithMaxPages(cfg.Places.MaxPages),
		places.WithLimiter(limiter),
		places.WithHTTPClient(&http.Client{Timeout: cfg.PlacesTimeout()}),
	)

	fetchPolicy := simple.New()
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Scrape.UserAgent,
		RespectRobots: cfg.Scrape.RespectRobots,
		Timeout:       cfg.ScrapeTimeout(),
		MaxBodySize:   cfg.Scrape.MaxBodyBytes,
		DialControl:   fetchPolicy.DialControl,
	})
	classifier := linkclass.NewDefault()
	contacts := scraper.New(fetcher, classifier, cfg.ScrapeTimeout(), logger.Named("scraper"),
		scraper.WithPolicy(fetchPolicy))
	a.logger.Info("using colly homepage fetcher",
		zap.String("user_agent", cfg.Scrape.UserAgent),
		zap.Duration("timeout", cfg.ScrapeTimeout()),
	)

	enrichCfg := enrich.Config{
		Workers:             cfg.Enrich.Workers,
		ChunkSize:           cfg.Enrich.ChunkSize,
		Deadline:            cfg.EnrichDeadline(),
		SearchTimeout:       cfg.SearchTimeout(),
		MaxScrapes:          cfg.Scrape.MaxScrapes,
		CountryCode:         cfg.Places.CountryCode,
		RefundOnSearchError: cfg.Ledger.RefundOnSearchError,
	}
	a.logger.Info("enrich config",
		zap.Int("workers", enrichCfg.Workers),
		zap.Int("chunk_size", enrichCfg.ChunkSize),
		zap.Duration("deadline", enrichCfg.Deadline),
		zap.Duration("search_timeout", enrichCfg.SearchTimeout),
		zap.Int("max_scrapes", enrichCfg.MaxScrapes),
		zap.Bool("refund_on_search_error", enrichCfg.RefundOnSearchError),
	)
	a.orchestrator = enrich.New(enrichCfg, store, client, classifier, contacts,
		sha256.New(), uuid.New(), logger.Named("enrich"))
	a.funding = funding.NewService(store, store, logger.Named("funding"))
	a.apiServer = api.NewServer(a.orchestrator, store, a.funding, sha256.New(), a.policy, cfg, logger.Named("api"))

	return a, nil
}

// PolicyFrom reads the credit tiers from cfg.
func PolicyFrom(cfg config.Config) ledger.Policy {
	return ledger.Policy{
		FreeGrant:  cfg.Ledger.FreeGrant,
		FreePerRun: cfg.Ledger.FreePerRun,
		PaidPerRun: cfg.Ledger.PaidPerRun,
	}
}

func openLedger(ctx context.Context, cfg config.Config, policy ledger.Policy, logger *zap.Logger) (LedgerStore, error) {
	clock := system.New()
	switch cfg.Ledger.Provider {
	case config.ProviderPostgres:
		store, err := pgstore.NewLedgerStore(ctx, pgstore.LedgerStoreConfig{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
		}, policy, clock)
		if err != nil {
			return nil, fmt.Errorf("postgres ledger init failed: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("postgres ledger schema: %w", err)
		}
		logger.Info("using postgres ledger")
		return store, nil
	case config.ProviderSQLite:
		store, err := sqlitestore.NewLedgerStore(ctx, cfg.SQLite.Path, policy, clock)
		if err != nil {
			return nil, fmt.Errorf("sqlite ledger init failed: %w", err)
		}
		logger.Info("using sqlite ledger", zap.String("path", cfg.SQLite.Path))
		return store, nil
	case config.ProviderMemory, "":
		logger.Warn("using in-memory ledger; balances are lost on restart")
		return memory.NewLedgerStore(policy, clock), nil
	default:
		return nil, fmt.Errorf("unknown ledger provider %q", cfg.Ledger.Provider)
	}
}

// Orchestrator returns the search pipeline.
func (a *App) Orchestrator() *enrich.Orchestrator {
	return a.orchestrator
}

// Funding returns the top-up service.
func (a *App) Funding() *funding.Service {
	return a.funding
}

// Ledger returns the configured credit store.
func (a *App) Ledger() LedgerStore {
	return a.store
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP, and consumes funding events when Pub/Sub is configured,
// until ctx is cancelled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.cfg.PubSub.Enabled() {
		consumer, err := a.connectConsumer(ctx)
		if err != nil {
			return err
		}
		go func() {
			if err := consumer.Run(ctx); err != nil {
				a.logger.Error("funding consumer error", zap.Error(err))
				stop()
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return a.Close()
}

func (a *App) connectConsumer(ctx context.Context) (*funding.Consumer, error) {
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.logger.Info("Pub/Sub funding subscriber initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("subscription", a.cfg.PubSub.Subscription),
	)
	return funding.NewConsumer(client.Subscription(a.cfg.PubSub.Subscription), a.funding, a.logger.Named("funding_consumer")), nil
}

// Close releases the store and the Pub/Sub client.
func (a *App) Close() error {
	var errs []error
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
			errs = append(errs, err)
		}
		a.pubsubClient = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("ledger store close failed", zap.Error(err))
			errs = append(errs, err)
		}
		a.store = nil
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
