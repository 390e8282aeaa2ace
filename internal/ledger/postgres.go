package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/agentpay/backend/internal/models"
)

// Postgres error codes the store translates into ledger errors.
const (
	pqUniqueViolation  = "23505"
	pqLockNotAvailable = "55P03"
)

// PostgresStore persists balances and the transaction log in PostgreSQL.
// The per-account lock is a SELECT ... FOR UPDATE on the balance row;
// idempotency is the unique index on token_transactions.external_event_id.
type PostgresStore struct {
	db          *sql.DB
	lockTimeout time.Duration
}

func NewPostgresStore(db *sql.DB, lockTimeout time.Duration) *PostgresStore {
	if lockTimeout <= 0 {
		lockTimeout = 2 * time.Second
	}
	return &PostgresStore{db: db, lockTimeout: lockTimeout}
}

func (s *PostgresStore) ReadBalance(ctx context.Context, accountID string) (int64, bool, error) {
	var tokens int64
	err := s.db.QueryRowContext(ctx, `
		SELECT tokens FROM balances WHERE account_id = $1`, accountID).Scan(&tokens)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read balance: %w", err)
	}
	return tokens, true, nil
}

func (s *PostgresStore) LookupEvent(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM token_transactions WHERE external_event_id = $1
		)`, eventID).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("lookup event: %w", err)
	}
	return seen, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, accountID string, limit int) ([]models.TokenTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, kind, token_delta, external_event_id, payment_intent_id, created_at
		FROM token_transactions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []models.TokenTransaction
	for rows.Next() {
		var txn models.TokenTransaction
		var eventID, intentID sql.NullString
		if err := rows.Scan(&txn.ID, &txn.AccountID, &txn.Kind, &txn.TokenDelta,
			&eventID, &intentID, &txn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txn.ExternalEventID = eventID.String
		txn.PaymentIntentID = intentID.String
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txns, nil
}

func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	// Bound the FOR UPDATE wait so a contended account fails fast with
	// ErrLockTimeout instead of queueing requests indefinitely.
	timeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
	if _, err := tx.ExecContext(ctx, timeout); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("set lock timeout: %w", err)
	}

	return &postgresTx{tx: tx}, nil
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) LockBalance(ctx context.Context, accountID string) (int64, bool, error) {
	var tokens int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT tokens FROM balances WHERE account_id = $1 FOR UPDATE`, accountID).Scan(&tokens)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, translatePQError("lock balance", err)
	}
	return tokens, true, nil
}

func (t *postgresTx) CreateBalance(ctx context.Context, accountID string) error {
	// ON CONFLICT keeps racing first-grants safe: the loser blocks on the
	// winner's insert, then inserts nothing and re-locks the committed row.
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO balances (account_id, tokens, created_at, updated_at)
		VALUES ($1, 0, $2, $2)
		ON CONFLICT (account_id) DO NOTHING`,
		accountID, time.Now().UTC())
	if err != nil {
		return translatePQError("create balance", err)
	}
	return nil
}

func (t *postgresTx) WriteBalance(ctx context.Context, accountID string, tokens int64) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE balances SET tokens = $1, updated_at = $2 WHERE account_id = $3`,
		tokens, time.Now().UTC(), accountID)
	if err != nil {
		return translatePQError("write balance", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("write balance: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("write balance: no row for account %s", accountID)
	}
	return nil
}

func (t *postgresTx) AppendTransaction(ctx context.Context, txn models.TokenTransaction) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO token_transactions (id, account_id, kind, token_delta, external_event_id, payment_intent_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		txn.ID, txn.AccountID, txn.Kind, txn.TokenDelta,
		nullString(txn.ExternalEventID), nullString(txn.PaymentIntentID), txn.CreatedAt)
	if err != nil {
		return translatePQError("append transaction", err)
	}
	return nil
}

func (t *postgresTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return translatePQError("commit", err)
	}
	return nil
}

func (t *postgresTx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func translatePQError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqUniqueViolation:
			return ErrDuplicateEvent
		case pqLockNotAvailable:
			return ErrLockTimeout
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
