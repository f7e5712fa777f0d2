// Package memory stores ledger accounts in-process for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/leadfinder/internal/ledger"
)

// LedgerStore is a mutex-guarded ledger.Store. It also implements the
// funding event log so duplicate deliveries are detected in-process.
type LedgerStore struct {
	mu       sync.Mutex
	accounts map[string]ledger.Account
	events   map[string]time.Time
	policy   ledger.Policy
	clock    ledger.Clock
}

// NewLedgerStore creates an empty in-memory ledger.
func NewLedgerStore(policy ledger.Policy, clock ledger.Clock) *LedgerStore {
	return &LedgerStore{
		accounts: make(map[string]ledger.Account),
		events:   make(map[string]time.Time),
		policy:   policy,
		clock:    clock,
	}
}

// Reserve implements ledger.Store.
func (s *LedgerStore) Reserve(_ context.Context, keyHash string) (ledger.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	acct, ok := s.accounts[keyHash]
	if !ok {
		acct = ledger.Account{
			KeyHash:   keyHash,
			Balance:   ledger.Balance{Free: s.policy.FreeGrant},
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	res, err := s.policy.Decide(acct.Balance)
	if err != nil {
		s.accounts[keyHash] = acct
		return res, err
	}
	acct.Balance = res.Remaining
	acct.UpdatedAt = now
	s.accounts[keyHash] = acct
	return res, nil
}

// Fund implements ledger.Store.
func (s *LedgerStore) Fund(_ context.Context, keyHash string, pool ledger.Pool, amount int) (ledger.Balance, error) {
	free, paid, err := ledger.Credit(pool, amount)
	if err != nil {
		return ledger.Balance{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	acct, ok := s.accounts[keyHash]
	if !ok {
		acct = ledger.Account{KeyHash: keyHash, CreatedAt: now}
	}
	acct.Balance.Free += free
	acct.Balance.Paid += paid
	acct.UpdatedAt = now
	s.accounts[keyHash] = acct
	return acct.Balance, nil
}

// Balance implements ledger.Store.
func (s *LedgerStore) Balance(_ context.Context, keyHash string) (ledger.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acct, ok := s.accounts[keyHash]; ok {
		return acct.Balance, nil
	}
	return ledger.Balance{Free: s.policy.FreeGrant}, nil
}

// Account returns the stored row for keyHash.
func (s *LedgerStore) Account(keyHash string) (ledger.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[keyHash]
	return acct, ok
}

// Claim records eventID, returning false when it was already seen.
func (s *LedgerStore) Claim(_ context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, fmt.Errorf("event id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.events[eventID]; seen {
		return false, nil
	}
	s.events[eventID] = s.clock.Now()
	return true, nil
}

// Release forgets eventID so a redelivery can be applied.
func (s *LedgerStore) Release(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, eventID)
	return nil
}

// Close implements ledger.Store.
func (s *LedgerStore) Close() error {
	return nil
}
