// Package ledger defines the per-key credit accounts and the reservation
// policy shared by every storage backend.
//
// An account holds two pools. Free credits are granted once, the first time
// a key is seen; paid credits are added by funding. A reservation consumes a
// single credit, preferring the paid pool, and fixes how many results the run
// may return.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInsufficientCredit is returned when both pools are empty.
	ErrInsufficientCredit = errors.New("insufficient credit")
	// ErrInvalidAmount is returned when a fund amount is not positive.
	ErrInvalidAmount = errors.New("fund amount must be positive")
	// ErrUnknownPool is returned for pool names other than free or paid.
	ErrUnknownPool = errors.New("unknown credit pool")
)

// Pool names a credit pool.
type Pool string

const (
	// PoolFree holds the one-time free grant plus any free top-ups.
	PoolFree Pool = "free"
	// PoolPaid holds purchased credits.
	PoolPaid Pool = "paid"
)

// ParsePool validates a pool name.
func ParsePool(s string) (Pool, error) {
	switch Pool(s) {
	case PoolFree, PoolPaid:
		return Pool(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPool, s)
	}
}

// Balance is a snapshot of both pools.
type Balance struct {
	Free int `json:"free"`
	Paid int `json:"paid"`
}

// Total returns the sum of both pools.
func (b Balance) Total() int {
	return b.Free + b.Paid
}

// Account is a persisted ledger row.
type Account struct {
	KeyHash   string
	Balance   Balance
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Reservation is the outcome of a successful Reserve.
type Reservation struct {
	Pool        Pool
	PerRunLimit int
	Remaining   Balance
}

// Store is implemented by every ledger backend. Reserve and Fund must be
// atomic with respect to each other for the same key hash.
type Store interface {
	// Reserve grants the free allowance to unseen keys, then consumes one
	// credit. It returns ErrInsufficientCredit when nothing is left.
	Reserve(ctx context.Context, keyHash string) (Reservation, error)
	// Fund adds amount credits to pool, creating the account if needed.
	Fund(ctx context.Context, keyHash string, pool Pool, amount int) (Balance, error)
	// Balance reads the current pools. Unseen keys report the free grant
	// without persisting anything.
	Balance(ctx context.Context, keyHash string) (Balance, error)
	// Close releases backend resources.
	Close() error
}

// Clock supplies timestamps for account rows.
type Clock interface {
	Now() time.Time
}

// Policy holds the credit tiers.
type Policy struct {
	FreeGrant  int
	FreePerRun int
	PaidPerRun int
}

// DefaultPolicy returns the standard tiers.
func DefaultPolicy() Policy {
	return Policy{FreeGrant: 2, FreePerRun: 20, PaidPerRun: 40}
}

// PerRun returns the result limit for a pool.
func (p Policy) PerRun(pool Pool) int {
	if pool == PoolPaid {
		return p.PaidPerRun
	}
	return p.FreePerRun
}

// Decide consumes one credit from current, paid first. It is the single
// decision used by every backend inside its own critical section.
func (p Policy) Decide(current Balance) (Reservation, error) {
	next := current
	var pool Pool
	switch {
	case current.Paid > 0:
		next.Paid--
		pool = PoolPaid
	case current.Free > 0:
		next.Free--
		pool = PoolFree
	default:
		return Reservation{Remaining: current}, ErrInsufficientCredit
	}
	return Reservation{Pool: pool, PerRunLimit: p.PerRun(pool), Remaining: next}, nil
}

// Credit returns the per-pool deltas for a fund request.
func Credit(pool Pool, amount int) (free, paid int, err error) {
	if amount <= 0 {
		return 0, 0, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	switch pool {
	case PoolFree:
		return amount, 0, nil
	case PoolPaid:
		return 0, amount, nil
	default:
		return 0, 0, fmt.Errorf("%w: %q", ErrUnknownPool, pool)
	}
}
