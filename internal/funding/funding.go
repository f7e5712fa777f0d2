// Package funding applies credit top-ups to the ledger. Each event carries an
// identifier so that redelivered or retried top-ups are applied once.
package funding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadfinder/internal/apikey"
	"github.com/JakeFAU/leadfinder/internal/ledger"
	"github.com/JakeFAU/leadfinder/internal/logging"
	"github.com/JakeFAU/leadfinder/internal/metrics"
)

// ErrInvalidEvent marks an event that can never be applied.
var ErrInvalidEvent = errors.New("invalid funding event")

// Event is one top-up request.
type Event struct {
	ID      string `json:"event_id"`
	KeyHash string `json:"key_hash"`
	Pool    string `json:"pool"`
	Amount  int    `json:"amount"`
}

// Result reports what Apply did.
type Result struct {
	Balance   ledger.Balance `json:"balance"`
	Duplicate bool           `json:"duplicate"`
}

// Funder credits an account.
type Funder interface {
	Fund(ctx context.Context, keyHash string, pool ledger.Pool, amount int) (ledger.Balance, error)
}

// EventLog remembers applied event identifiers.
type EventLog interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// Service validates and applies funding events.
type Service struct {
	funder Funder
	events EventLog
	logger *zap.Logger
}

// NewService builds a Service. A nil events log disables deduplication.
func NewService(funder Funder, events EventLog, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{funder: funder, events: events, logger: logger}
}

// Apply credits the event's pool once per event ID. Events without an ID are
// always applied.
func (s *Service) Apply(ctx context.Context, ev Event) (Result, error) {
	pool, err := validate(ev)
	if err != nil {
		metrics.ObserveFundingEvent("invalid")
		return Result{}, err
	}
	logger := s.logger.With(logging.KeyID(ev.KeyHash), zap.String("event_id", ev.ID))

	claimed := false
	if ev.ID != "" && s.events != nil {
		ok, err := s.events.Claim(ctx, ev.ID)
		if err != nil {
			metrics.ObserveFundingEvent("error")
			return Result{}, fmt.Errorf("claim event: %w", err)
		}
		if !ok {
			metrics.ObserveFundingEvent("duplicate")
			logger.Info("funding event already applied")
			return Result{Duplicate: true}, nil
		}
		claimed = true
	}

	bal, err := s.funder.Fund(ctx, ev.KeyHash, pool, ev.Amount)
	if err != nil {
		if claimed {
			if relErr := s.events.Release(context.WithoutCancel(ctx), ev.ID); relErr != nil {
				logger.Error("release funding event", zap.Error(relErr))
			}
		}
		metrics.ObserveFundingEvent("error")
		return Result{}, fmt.Errorf("fund account: %w", err)
	}

	metrics.ObserveFundingEvent("applied")
	logger.Info("account funded",
		zap.String("pool", string(pool)),
		zap.Int("amount", ev.Amount),
		zap.Int("free", bal.Free),
		zap.Int("paid", bal.Paid),
	)
	return Result{Balance: bal}, nil
}

func validate(ev Event) (ledger.Pool, error) {
	if !apikey.ValidHash(ev.KeyHash) {
		return "", fmt.Errorf("%w: key_hash must be 64 lowercase hex characters", ErrInvalidEvent)
	}
	pool, err := ledger.ParsePool(strings.TrimSpace(ev.Pool))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if ev.Amount <= 0 {
		return "", fmt.Errorf("%w: %w", ErrInvalidEvent, ledger.ErrInvalidAmount)
	}
	return pool, nil
}
