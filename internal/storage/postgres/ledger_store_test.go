package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/leadfinder/internal/ledger"
)

const testHash = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

type fakeClock struct{ now time.Time }

func (f fakeClock) Now() time.Time { return f.now }

var testNow = time.Unix(1700000000, 0).UTC()

func newMockStore(t *testing.T) (*LedgerStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewLedgerStoreWithPool(mock, "", "", ledger.DefaultPolicy(), fakeClock{now: testNow})
	require.NoError(t, err)
	return store, mock
}

func TestReserveConsumesFreeCreditForNewKey(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO credit_accounts").
		WithArgs(testHash, 2, testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT free_credits, paid_credits FROM credit_accounts").
		WithArgs(testHash).
		WillReturnRows(pgxmock.NewRows([]string{"free_credits", "paid_credits"}).AddRow(2, 0))
	mock.ExpectExec("UPDATE credit_accounts SET").
		WithArgs(testHash, 1, 0, testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	res, err := store.Reserve(context.Background(), testHash)
	require.NoError(t, err)
	require.Equal(t, ledger.PoolFree, res.Pool)
	require.Equal(t, 20, res.PerRunLimit)
	require.Equal(t, ledger.Balance{Free: 1}, res.Remaining)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReservePrefersPaidPool(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO credit_accounts").
		WithArgs(testHash, 2, testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("FROM credit_accounts").
		WithArgs(testHash).
		WillReturnRows(pgxmock.NewRows([]string{"free_credits", "paid_credits"}).AddRow(1, 3))
	mock.ExpectExec("UPDATE credit_accounts SET").
		WithArgs(testHash, 1, 2, testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	res, err := store.Reserve(context.Background(), testHash)
	require.NoError(t, err)
	require.Equal(t, ledger.PoolPaid, res.Pool)
	require.Equal(t, 40, res.PerRunLimit)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveInsufficientCreditSkipsUpdate(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO credit_accounts").
		WithArgs(testHash, 2, testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("FROM credit_accounts").
		WithArgs(testHash).
		WillReturnRows(pgxmock.NewRows([]string{"free_credits", "paid_credits"}).AddRow(0, 0))
	mock.ExpectCommit()

	_, err := store.Reserve(context.Background(), testHash)
	require.True(t, errors.Is(err, ledger.ErrInsufficientCredit))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveRollsBackOnLockError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO credit_accounts").
		WithArgs(testHash, 2, testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("FROM credit_accounts").
		WithArgs(testHash).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, err := store.Reserve(context.Background(), testHash)
	require.Error(t, err)
	require.Contains(t, err.Error(), "lock account")
	require.False(t, errors.Is(err, ledger.ErrInsufficientCredit))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveBeginError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	_, err := store.Reserve(context.Background(), testHash)
	require.Error(t, err)
	require.Contains(t, err.Error(), "begin reserve")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFundUpsertsAndReturnsBalance(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO credit_accounts").
		WithArgs(testHash, 0, 10, testNow).
		WillReturnRows(pgxmock.NewRows([]string{"free_credits", "paid_credits"}).AddRow(2, 10))

	bal, err := store.Fund(context.Background(), testHash, ledger.PoolPaid, 10)
	require.NoError(t, err)
	require.Equal(t, ledger.Balance{Free: 2, Paid: 10}, bal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFundRejectsInvalidAmountWithoutQuery(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	_, err := store.Fund(context.Background(), testHash, ledger.PoolPaid, 0)
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceUnseenKeyReportsGrant(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT free_credits, paid_credits FROM credit_accounts").
		WithArgs(testHash).
		WillReturnError(pgx.ErrNoRows)

	bal, err := store.Balance(context.Background(), testHash)
	require.NoError(t, err)
	require.Equal(t, ledger.Balance{Free: 2}, bal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimAndRelease(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO funding_events").
		WithArgs("evt_1", testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO funding_events").
		WithArgs("evt_1", testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec("DELETE FROM funding_events").
		WithArgs("evt_1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	ctx := context.Background()
	claimed, err := store.Claim(ctx, "evt_1")
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = store.Claim(ctx, "evt_1")
	require.NoError(t, err)
	require.False(t, claimed)

	require.NoError(t, store.Release(ctx, "evt_1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS credit_accounts").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS funding_events").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewLedgerStoreWithPoolValidatesTables(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewLedgerStoreWithPool(mock, "bad;table", "", ledger.DefaultPolicy(), fakeClock{})
	require.Error(t, err)

	_, err = NewLedgerStoreWithPool(nil, "", "", ledger.DefaultPolicy(), fakeClock{})
	require.Error(t, err)
}
