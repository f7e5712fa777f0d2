// Package app_test contains unit tests for the app package.
package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadfinder/internal/apikey"
	"github.com/JakeFAU/leadfinder/internal/app"
	"github.com/JakeFAU/leadfinder/internal/config"
	"github.com/JakeFAU/leadfinder/internal/funding"
	"github.com/JakeFAU/leadfinder/internal/hash/sha256"
	"github.com/JakeFAU/leadfinder/internal/ledger"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.Port = 0
	return cfg
}

func TestBuildWithMemoryLedger(t *testing.T) {
	t.Parallel()

	a, err := app.Build(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.NotNil(t, a.Orchestrator())
	require.NotNil(t, a.Funding())

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/usage", strings.NewReader(`{"apiKey":"abc"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"free":2`)
}

func TestBuildWithSQLiteLedgerPersists(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Ledger.Provider = config.ProviderSQLite
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "ledger.db")
	keyHash, err := apikey.Hash(sha256.New(), "persisted-key")
	require.NoError(t, err)
	ctx := context.Background()

	a, err := app.Build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	_, err = a.Funding().Apply(ctx, funding.Event{ID: "evt-1", KeyHash: keyHash, Pool: "paid", Amount: 7})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	a, err = app.Build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	bal, err := a.Ledger().Balance(ctx, keyHash)
	require.NoError(t, err)
	assert.Equal(t, 7, bal.Paid)

	res, err := a.Funding().Apply(ctx, funding.Event{ID: "evt-1", KeyHash: keyHash, Pool: "paid", Amount: 7})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
}

func TestBuildRejectsUnknownProvider(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Ledger.Provider = "redis"

	_, err := app.Build(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestBuildPostgresRequiresReachableDSN(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Ledger.Provider = config.ProviderPostgres
	cfg.DB.DSN = "not a dsn ::"

	_, err := app.Build(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	t.Parallel()

	a, err := app.Build(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Run(ctx))
}

func TestPolicyFrom(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Ledger.FreeGrant = 5
	assert.Equal(t, ledger.Policy{FreeGrant: 5, FreePerRun: 20, PaidPerRun: 40}, app.PolicyFrom(cfg))
}
