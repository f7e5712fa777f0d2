// Package sqlite provides a single-file credit ledger for local and
// single-instance deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/leadfinder/internal/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS credit_accounts (
	key_hash     TEXT PRIMARY KEY,
	free_credits INTEGER NOT NULL DEFAULT 0 CHECK (free_credits >= 0),
	paid_credits INTEGER NOT NULL DEFAULT 0 CHECK (paid_credits >= 0),
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS funding_events (
	event_id    TEXT PRIMARY KEY,
	received_at DATETIME NOT NULL
);
`

// LedgerStore implements ledger.Store on SQLite. The pool is capped at one
// connection so every transaction is serialized.
type LedgerStore struct {
	db     *sql.DB
	policy ledger.Policy
	clock  ledger.Clock
}

// NewLedgerStore opens (or creates) the database at path and applies the schema.
func NewLedgerStore(ctx context.Context, path string, policy ledger.Policy, clock ledger.Clock) (*LedgerStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite.path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: exec %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &LedgerStore{db: db, policy: policy, clock: clock}, nil
}

// Reserve implements ledger.Store.
func (s *LedgerStore) Reserve(ctx context.Context, keyHash string) (ledger.Reservation, error) {
	now := s.clock.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Reservation{}, fmt.Errorf("sqlite: begin reserve: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO credit_accounts (key_hash, free_credits, paid_credits, created_at, updated_at) VALUES (?, ?, 0, ?, ?)`,
		keyHash, s.policy.FreeGrant, now, now,
	); err != nil {
		return ledger.Reservation{}, fmt.Errorf("sqlite: grant free credits: %w", err)
	}

	var current ledger.Balance
	if err := tx.QueryRowContext(ctx,
		`SELECT free_credits, paid_credits FROM credit_accounts WHERE key_hash = ?`, keyHash,
	).Scan(&current.Free, &current.Paid); err != nil {
		return ledger.Reservation{}, fmt.Errorf("sqlite: read account: %w", err)
	}

	res, decideErr := s.policy.Decide(current)
	if decideErr == nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE credit_accounts SET free_credits = ?, paid_credits = ?, updated_at = ? WHERE key_hash = ?`,
			res.Remaining.Free, res.Remaining.Paid, now, keyHash,
		); err != nil {
			return ledger.Reservation{}, fmt.Errorf("sqlite: consume credit: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return ledger.Reservation{}, fmt.Errorf("sqlite: commit reserve: %w", err)
	}
	return res, decideErr
}

// Fund implements ledger.Store.
func (s *LedgerStore) Fund(ctx context.Context, keyHash string, pool ledger.Pool, amount int) (ledger.Balance, error) {
	free, paid, err := ledger.Credit(pool, amount)
	if err != nil {
		return ledger.Balance{}, err
	}
	now := s.clock.Now()
	var bal ledger.Balance
	err = s.db.QueryRowContext(ctx, `
INSERT INTO credit_accounts (key_hash, free_credits, paid_credits, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (key_hash) DO UPDATE SET
	free_credits = free_credits + excluded.free_credits,
	paid_credits = paid_credits + excluded.paid_credits,
	updated_at = excluded.updated_at
RETURNING free_credits, paid_credits`,
		keyHash, free, paid, now, now,
	).Scan(&bal.Free, &bal.Paid)
	if err != nil {
		return ledger.Balance{}, fmt.Errorf("sqlite: fund account: %w", err)
	}
	return bal, nil
}

// Balance implements ledger.Store.
func (s *LedgerStore) Balance(ctx context.Context, keyHash string) (ledger.Balance, error) {
	var bal ledger.Balance
	err := s.db.QueryRowContext(ctx,
		`SELECT free_credits, paid_credits FROM credit_accounts WHERE key_hash = ?`, keyHash,
	).Scan(&bal.Free, &bal.Paid)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Balance{Free: s.policy.FreeGrant}, nil
	}
	if err != nil {
		return ledger.Balance{}, fmt.Errorf("sqlite: read balance: %w", err)
	}
	return bal, nil
}

// Claim records eventID, returning false when it was already recorded.
func (s *LedgerStore) Claim(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, fmt.Errorf("event id is required")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO funding_events (event_id, received_at) VALUES (?, ?)`,
		eventID, s.clock.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: claim funding event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: claim rows affected: %w", err)
	}
	return n == 1, nil
}

// Release deletes eventID so a redelivery can be applied.
func (s *LedgerStore) Release(ctx context.Context, eventID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM funding_events WHERE event_id = ?`, eventID); err != nil {
		return fmt.Errorf("sqlite: release funding event: %w", err)
	}
	return nil
}

// Close implements ledger.Store.
func (s *LedgerStore) Close() error {
	return s.db.Close()
}
