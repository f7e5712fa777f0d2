// Package postgres provides the Postgres-backed credit ledger.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/leadfinder/internal/ledger"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// LedgerStoreConfig controls the Postgres connection pool and table names.
type LedgerStoreConfig struct {
	DSN             string
	AccountsTable   string
	EventsTable     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// LedgerStore implements ledger.Store on Postgres. Reserve locks the account
// row with SELECT ... FOR UPDATE so concurrent runs for one key serialize.
type LedgerStore struct {
	pool     pgxPool
	accounts string
	events   string
	policy   ledger.Policy
	clock    ledger.Clock
}

// NewLedgerStore connects to Postgres using cfg.
func NewLedgerStore(ctx context.Context, cfg LedgerStoreConfig, policy ledger.Policy, clock ledger.Clock) (*LedgerStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewLedgerStoreWithPool(pool, cfg.AccountsTable, cfg.EventsTable, policy, clock)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewLedgerStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewLedgerStoreWithPool(pool pgxPool, accounts, events string, policy ledger.Policy, clock ledger.Clock) (*LedgerStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if accounts == "" {
		accounts = "credit_accounts"
	}
	if events == "" {
		events = "funding_events"
	}
	for _, table := range []string{accounts, events} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &LedgerStore{pool: pool, accounts: accounts, events: events, policy: policy, clock: clock}, nil
}

// EnsureSchema creates the ledger tables when they do not exist.
func (s *LedgerStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	key_hash TEXT PRIMARY KEY,
	free_credits INTEGER NOT NULL DEFAULT 0 CHECK (free_credits >= 0),
	paid_credits INTEGER NOT NULL DEFAULT 0 CHECK (paid_credits >= 0),
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`, s.accounts),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	event_id TEXT PRIMARY KEY,
	received_at TIMESTAMPTZ NOT NULL
)`, s.events),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure ledger schema: %w", err)
		}
	}
	return nil
}

// Reserve implements ledger.Store.
func (s *LedgerStore) Reserve(ctx context.Context, keyHash string) (ledger.Reservation, error) {
	now := s.clock.Now()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ledger.Reservation{}, fmt.Errorf("begin reserve: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	grant := fmt.Sprintf(`
INSERT INTO %s (key_hash, free_credits, paid_credits, created_at, updated_at)
VALUES ($1, $2, 0, $3, $3)
ON CONFLICT (key_hash) DO NOTHING`, s.accounts)
	if _, err := tx.Exec(ctx, grant, keyHash, s.policy.FreeGrant, now); err != nil {
		return ledger.Reservation{}, fmt.Errorf("grant free credits: %w", err)
	}

	var current ledger.Balance
	lock := fmt.Sprintf(`
SELECT free_credits, paid_credits FROM %s
WHERE key_hash = $1
FOR UPDATE`, s.accounts)
	if err := tx.QueryRow(ctx, lock, keyHash).Scan(&current.Free, &current.Paid); err != nil {
		return ledger.Reservation{}, fmt.Errorf("lock account: %w", err)
	}

	res, decideErr := s.policy.Decide(current)
	if decideErr == nil {
		update := fmt.Sprintf(`
UPDATE %s SET free_credits = $2, paid_credits = $3, updated_at = $4
WHERE key_hash = $1`, s.accounts)
		if _, err := tx.Exec(ctx, update, keyHash, res.Remaining.Free, res.Remaining.Paid, now); err != nil {
			return ledger.Reservation{}, fmt.Errorf("consume credit: %w", err)
		}
	}
	// Commit even when empty so the free grant row persists.
	if err := tx.Commit(ctx); err != nil {
		return ledger.Reservation{}, fmt.Errorf("commit reserve: %w", err)
	}
	return res, decideErr
}

// Fund implements ledger.Store.
func (s *LedgerStore) Fund(ctx context.Context, keyHash string, pool ledger.Pool, amount int) (ledger.Balance, error) {
	free, paid, err := ledger.Credit(pool, amount)
	if err != nil {
		return ledger.Balance{}, err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (key_hash, free_credits, paid_credits, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (key_hash) DO UPDATE SET
	free_credits = %s.free_credits + EXCLUDED.free_credits,
	paid_credits = %s.paid_credits + EXCLUDED.paid_credits,
	updated_at = EXCLUDED.updated_at
RETURNING free_credits, paid_credits`, s.accounts, s.accounts, s.accounts)
	var bal ledger.Balance
	if err := s.pool.QueryRow(ctx, query, keyHash, free, paid, s.clock.Now()).Scan(&bal.Free, &bal.Paid); err != nil {
		return ledger.Balance{}, fmt.Errorf("fund account: %w", err)
	}
	return bal, nil
}

// Balance implements ledger.Store.
func (s *LedgerStore) Balance(ctx context.Context, keyHash string) (ledger.Balance, error) {
	query := fmt.Sprintf(`SELECT free_credits, paid_credits FROM %s WHERE key_hash = $1`, s.accounts)
	var bal ledger.Balance
	err := s.pool.QueryRow(ctx, query, keyHash).Scan(&bal.Free, &bal.Paid)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Balance{Free: s.policy.FreeGrant}, nil
	}
	if err != nil {
		return ledger.Balance{}, fmt.Errorf("read balance: %w", err)
	}
	return bal, nil
}

// Claim records eventID, returning false when it was already recorded.
func (s *LedgerStore) Claim(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, fmt.Errorf("event id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (event_id, received_at) VALUES ($1, $2)
ON CONFLICT (event_id) DO NOTHING`, s.events)
	tag, err := s.pool.Exec(ctx, query, eventID, s.clock.Now())
	if err != nil {
		return false, fmt.Errorf("claim funding event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release deletes eventID so a redelivery can be applied.
func (s *LedgerStore) Release(ctx context.Context, eventID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE event_id = $1`, s.events)
	if _, err := s.pool.Exec(ctx, query, eventID); err != nil {
		return fmt.Errorf("release funding event: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *LedgerStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
