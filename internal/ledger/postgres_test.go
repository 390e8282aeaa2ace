package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Deduct(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	engine := NewEngine(NewPostgresStore(db, 2*time.Second))
	ctx := context.Background()

	t.Run("successful deduction", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectQuery("SELECT tokens FROM balances WHERE account_id = \\$1 FOR UPDATE").
			WithArgs("acct-1").
			WillReturnRows(sqlmock.NewRows([]string{"tokens"}).AddRow(5))

		mock.ExpectExec("UPDATE balances SET tokens = \\$1, updated_at = \\$2 WHERE account_id = \\$3").
			WithArgs(4, sqlmock.AnyArg(), "acct-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec("INSERT INTO token_transactions").
			WithArgs(sqlmock.AnyArg(), "acct-1", "consumption", -1, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		ok, remaining, err := engine.Deduct(ctx, "acct-1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(4), remaining)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance rolls back without a record", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectQuery("SELECT tokens FROM balances WHERE account_id = \\$1 FOR UPDATE").
			WithArgs("acct-1").
			WillReturnRows(sqlmock.NewRows([]string{"tokens"}).AddRow(0))

		mock.ExpectRollback()

		ok, remaining, err := engine.Deduct(ctx, "acct-1")
		assert.False(t, ok)
		assert.Equal(t, int64(0), remaining)
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown account", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectQuery("SELECT tokens FROM balances WHERE account_id = \\$1 FOR UPDATE").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"tokens"}))

		mock.ExpectRollback()

		ok, _, err := engine.Deduct(ctx, "ghost")
		assert.False(t, ok)
		assert.ErrorIs(t, err, ErrAccountNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("row lock wait maps to lock timeout", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectQuery("SELECT tokens FROM balances WHERE account_id = \\$1 FOR UPDATE").
			WithArgs("acct-1").
			WillReturnError(&pq.Error{Code: pqLockNotAvailable})

		mock.ExpectRollback()

		ok, _, err := engine.Deduct(ctx, "acct-1")
		assert.False(t, ok)
		assert.ErrorIs(t, err, ErrLockTimeout)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_Grant(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	engine := NewEngine(NewPostgresStore(db, 2*time.Second))
	ctx := context.Background()

	t.Run("credits an existing account", func(t *testing.T) {
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("evt-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectQuery("SELECT tokens FROM balances WHERE account_id = \\$1 FOR UPDATE").
			WithArgs("acct-1").
			WillReturnRows(sqlmock.NewRows([]string{"tokens"}).AddRow(10))

		mock.ExpectExec("UPDATE balances SET tokens = \\$1, updated_at = \\$2 WHERE account_id = \\$3").
			WithArgs(110, sqlmock.AnyArg(), "acct-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec("INSERT INTO token_transactions").
			WithArgs(sqlmock.AnyArg(), "acct-1", "purchase", 100, "evt-1", "pi_1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		ok, balance, err := engine.Grant(ctx, "acct-1", 100, "evt-1", "pi_1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(110), balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("creates the account on first credit", func(t *testing.T) {
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("evt-2").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectQuery("SELECT tokens FROM balances WHERE account_id = \\$1 FOR UPDATE").
			WithArgs("fresh").
			WillReturnRows(sqlmock.NewRows([]string{"tokens"}))

		mock.ExpectExec("INSERT INTO balances").
			WithArgs("fresh", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectQuery("SELECT tokens FROM balances WHERE account_id = \\$1 FOR UPDATE").
			WithArgs("fresh").
			WillReturnRows(sqlmock.NewRows([]string{"tokens"}).AddRow(0))

		mock.ExpectExec("UPDATE balances SET tokens = \\$1, updated_at = \\$2 WHERE account_id = \\$3").
			WithArgs(250, sqlmock.AnyArg(), "fresh").
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec("INSERT INTO token_transactions").
			WithArgs(sqlmock.AnyArg(), "fresh", "purchase", 250, "evt-2", "pi_2", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		ok, balance, err := engine.Grant(ctx, "fresh", 250, "evt-2", "pi_2")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(250), balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redelivered event short-circuits before locking", func(t *testing.T) {
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("evt-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		mock.ExpectQuery("SELECT tokens FROM balances WHERE account_id = \\$1").
			WithArgs("acct-1").
			WillReturnRows(sqlmock.NewRows([]string{"tokens"}).AddRow(110))

		ok, balance, err := engine.Grant(ctx, "acct-1", 100, "evt-1", "pi_1")
		assert.False(t, ok)
		assert.Equal(t, int64(110), balance)
		assert.ErrorIs(t, err, ErrDuplicateEvent)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique index closes the pre-check race", func(t *testing.T) {
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("evt-3").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectQuery("SELECT tokens FROM balances WHERE account_id = \\$1 FOR UPDATE").
			WithArgs("acct-1").
			WillReturnRows(sqlmock.NewRows([]string{"tokens"}).AddRow(110))

		mock.ExpectExec("UPDATE balances SET tokens = \\$1, updated_at = \\$2 WHERE account_id = \\$3").
			WithArgs(210, sqlmock.AnyArg(), "acct-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		// A concurrent delivery committed between the probe and our insert.
		mock.ExpectExec("INSERT INTO token_transactions").
			WithArgs(sqlmock.AnyArg(), "acct-1", "purchase", 100, "evt-3", "pi_3", sqlmock.AnyArg()).
			WillReturnError(&pq.Error{Code: pqUniqueViolation})

		mock.ExpectRollback()

		mock.ExpectQuery("SELECT tokens FROM balances WHERE account_id = \\$1").
			WithArgs("acct-1").
			WillReturnRows(sqlmock.NewRows([]string{"tokens"}).AddRow(210))

		ok, balance, err := engine.Grant(ctx, "acct-1", 100, "evt-3", "pi_3")
		assert.False(t, ok)
		assert.Equal(t, int64(210), balance)
		assert.ErrorIs(t, err, ErrDuplicateEvent)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_Reads(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db, 2*time.Second)
	engine := NewEngine(store)
	ctx := context.Background()

	t.Run("unknown account reads as zero", func(t *testing.T) {
		mock.ExpectQuery("SELECT tokens FROM balances WHERE account_id = \\$1").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"tokens"}))

		balance, err := engine.GetBalance(ctx, "ghost")
		require.NoError(t, err)
		assert.Equal(t, int64(0), balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("transaction history", func(t *testing.T) {
		now := time.Now().UTC()
		mock.ExpectQuery("SELECT id, account_id, kind, token_delta, external_event_id, payment_intent_id, created_at FROM token_transactions").
			WithArgs("acct-1", 50).
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "kind", "token_delta", "external_event_id", "payment_intent_id", "created_at"}).
				AddRow("txn-2", "acct-1", "consumption", -1, nil, nil, now).
				AddRow("txn-1", "acct-1", "purchase", 100, "evt-1", "pi_1", now.Add(-time.Minute)))

		txns, err := engine.ListTransactions(ctx, "acct-1", 0)
		require.NoError(t, err)
		require.Len(t, txns, 2)
		assert.Equal(t, "consumption", txns[0].Kind)
		assert.Empty(t, txns[0].ExternalEventID)
		assert.Equal(t, "evt-1", txns[1].ExternalEventID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
