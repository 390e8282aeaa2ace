package ledger

import (
	"context"

	"github.com/agentpay/backend/internal/models"
)

// Store is the durable state behind the engine: one balance row per account
// plus an append-only transaction log carrying a uniqueness constraint on
// external event ids. The engine is the only writer.
type Store interface {
	// ReadBalance is a point read of the last committed balance. found is
	// false for an account that has never been granted tokens.
	ReadBalance(ctx context.Context, accountID string) (tokens int64, found bool, err error)

	// LookupEvent reports whether a purchase with the given external event id
	// has already been recorded. This is only a cheap pre-check; the
	// authoritative rejection happens on AppendTransaction.
	LookupEvent(ctx context.Context, eventID string) (bool, error)

	// ListTransactions returns the most recent ledger records for an account,
	// newest first.
	ListTransactions(ctx context.Context, accountID string, limit int) ([]models.TokenTransaction, error)

	// Begin opens a transactional scope for one read-check-write-log unit.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a single atomic ledger mutation. Between LockBalance and Commit no
// other Tx may read or write the same account, so the caller's
// read-check-write span is serialized per account. Rollback after Commit is
// a no-op, which allows the usual deferred-rollback pattern.
type Tx interface {
	// LockBalance reads the balance under the exclusive per-account lock.
	// found is false when no balance row exists yet. Returns ErrLockTimeout
	// when the lock cannot be acquired within the store's bound.
	LockBalance(ctx context.Context, accountID string) (tokens int64, found bool, err error)

	// CreateBalance inserts a zero-token balance row for a new account.
	// Racing creations are resolved by the storage layer; callers re-lock
	// after creating.
	CreateBalance(ctx context.Context, accountID string) error

	// WriteBalance sets the account's token count.
	WriteBalance(ctx context.Context, accountID string, tokens int64) error

	// AppendTransaction appends one immutable record to the ledger log.
	// A duplicate non-empty external event id fails with ErrDuplicateEvent.
	AppendTransaction(ctx context.Context, txn models.TokenTransaction) error

	Commit() error
	Rollback() error
}
