package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentpay/backend/internal/models"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Engine implements the atomic token operations over an injected Store.
// It is the only writer of balances and the transaction log, and it upholds
// three invariants: a balance never goes negative, every balance change is
// paired with exactly one ledger record in the same atomic unit, and a
// credit event is applied at most once per external event id.
type Engine struct {
	store Store
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// Deduct charges one token from the account. It returns the remaining
// balance and ok=true on success. A rejected charge writes no ledger record:
// no tokens moved. Unknown accounts fail with ErrAccountNotFound rather than
// being created, since consumption implies prior entitlement.
func (e *Engine) Deduct(ctx context.Context, accountID string) (ok bool, remaining int64, err error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return false, 0, fmt.Errorf("deduct: %w", err)
	}
	defer tx.Rollback()

	tokens, found, err := tx.LockBalance(ctx, accountID)
	if err != nil {
		return false, 0, deductErr(err)
	}
	if !found {
		return false, 0, ErrAccountNotFound
	}
	if tokens < 1 {
		return false, tokens, ErrInsufficientBalance
	}

	remaining = tokens - 1
	if err := tx.WriteBalance(ctx, accountID, remaining); err != nil {
		return false, 0, deductErr(err)
	}

	record := models.TokenTransaction{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		Kind:       models.KindConsumption,
		TokenDelta: -1,
		CreatedAt:  time.Now().UTC(),
	}
	if err := tx.AppendTransaction(ctx, record); err != nil {
		return false, 0, deductErr(err)
	}
	if err := tx.Commit(); err != nil {
		return false, 0, deductErr(err)
	}

	return true, remaining, nil
}

// Grant credits amount tokens for the given external event id, creating the
// account at zero if it does not exist yet. Redelivery of an already-applied
// event returns ok=false, the unchanged balance, and ErrDuplicateEvent; the
// caller should treat that as an acknowledged no-op. paymentIntentID is an
// optional audit pointer to the provider charge.
func (e *Engine) Grant(ctx context.Context, accountID string, amount int64, eventID, paymentIntentID string) (ok bool, newBalance int64, err error) {
	if amount <= 0 {
		return false, 0, fmt.Errorf("grant: amount must be positive, got %d", amount)
	}
	if eventID == "" {
		return false, 0, fmt.Errorf("grant: external event id is required")
	}

	// Cheap probe before taking the row lock; redelivered events are common
	// under at-least-once webhooks and should not contend for the account.
	// The unique index on external_event_id is what actually closes the race
	// between two concurrent deliveries.
	seen, err := e.store.LookupEvent(ctx, eventID)
	if err != nil {
		return false, 0, fmt.Errorf("grant: %w", err)
	}
	if seen {
		return e.duplicateGrant(ctx, accountID)
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return false, 0, fmt.Errorf("grant: %w", err)
	}
	defer tx.Rollback()

	tokens, found, err := tx.LockBalance(ctx, accountID)
	if err != nil {
		return false, 0, grantErr(err)
	}
	if !found {
		if err := tx.CreateBalance(ctx, accountID); err != nil {
			return false, 0, grantErr(err)
		}
		tokens, found, err = tx.LockBalance(ctx, accountID)
		if err != nil {
			return false, 0, grantErr(err)
		}
		if !found {
			return false, 0, fmt.Errorf("grant: balance row missing after create for %s", accountID)
		}
	}

	newBalance = tokens + amount
	if err := tx.WriteBalance(ctx, accountID, newBalance); err != nil {
		return false, 0, grantErr(err)
	}

	record := models.TokenTransaction{
		ID:              uuid.NewString(),
		AccountID:       accountID,
		Kind:            models.KindPurchase,
		TokenDelta:      amount,
		ExternalEventID: eventID,
		PaymentIntentID: paymentIntentID,
		CreatedAt:       time.Now().UTC(),
	}
	if err := tx.AppendTransaction(ctx, record); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			tx.Rollback()
			return e.duplicateGrant(ctx, accountID)
		}
		return false, 0, grantErr(err)
	}
	if err := tx.Commit(); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			return e.duplicateGrant(ctx, accountID)
		}
		return false, 0, grantErr(err)
	}

	return true, newBalance, nil
}

// GetBalance is a point read of the committed balance; unknown accounts read
// as zero. It never waits on the per-account lock.
func (e *Engine) GetBalance(ctx context.Context, accountID string) (int64, error) {
	tokens, found, err := e.store.ReadBalance(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	if !found {
		return 0, nil
	}
	return tokens, nil
}

// ListTransactions returns the account's audit trail, newest first.
func (e *Engine) ListTransactions(ctx context.Context, accountID string, limit int) ([]models.TokenTransaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	txns, err := e.store.ListTransactions(ctx, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txns, nil
}

// duplicateGrant reports an already-applied event together with the current
// balance so the caller can answer the retry without re-crediting.
func (e *Engine) duplicateGrant(ctx context.Context, accountID string) (bool, int64, error) {
	tokens, _, err := e.store.ReadBalance(ctx, accountID)
	if err != nil {
		return false, 0, fmt.Errorf("grant: %w", err)
	}
	return false, tokens, ErrDuplicateEvent
}

func deductErr(err error) error {
	if isLedgerErr(err) {
		return err
	}
	return fmt.Errorf("deduct: %w", err)
}

func grantErr(err error) error {
	if isLedgerErr(err) {
		return err
	}
	return fmt.Errorf("grant: %w", err)
}

func isLedgerErr(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrDuplicateEvent) ||
		errors.Is(err, ErrLockTimeout)
}
