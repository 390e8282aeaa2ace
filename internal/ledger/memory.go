package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentpay/backend/internal/models"
)

// MemoryStore is an in-process Store used by tests and by the memory storage
// driver in local development. It keeps the same lock domain as the Postgres
// store: one exclusive lock per account, acquired under a bounded wait.
// Nothing is durable; state lives for the life of the process.
type MemoryStore struct {
	mu          sync.RWMutex
	balances    map[string]int64
	log         []models.TokenTransaction
	events      map[string]struct{}
	locks       map[string]chan struct{}
	lockTimeout time.Duration
}

func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	if lockTimeout <= 0 {
		lockTimeout = 2 * time.Second
	}
	return &MemoryStore{
		balances:    make(map[string]int64),
		events:      make(map[string]struct{}),
		locks:       make(map[string]chan struct{}),
		lockTimeout: lockTimeout,
	}
}

func (s *MemoryStore) ReadBalance(ctx context.Context, accountID string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tokens, found := s.balances[accountID]
	return tokens, found, nil
}

func (s *MemoryStore) LookupEvent(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, seen := s.events[eventID]
	return seen, nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, accountID string, limit int) ([]models.TokenTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var txns []models.TokenTransaction
	for _, txn := range s.log {
		if txn.AccountID == accountID {
			txns = append(txns, txn)
		}
	}
	sort.SliceStable(txns, func(i, j int) bool {
		return txns[i].CreatedAt.After(txns[j].CreatedAt)
	})
	if limit > 0 && len(txns) > limit {
		txns = txns[:limit]
	}
	return txns, nil
}

func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	return &memoryTx{
		store:  s,
		staged: make(map[string]int64),
	}, nil
}

// lockFor returns the account's lock channel, creating it on first use.
// A buffered channel of size one acts as a mutex that can be waited on with
// a timeout.
func (s *MemoryStore) lockFor(accountID string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.locks[accountID]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[accountID] = ch
	}
	return ch
}

type memoryTx struct {
	store    *MemoryStore
	held     []string
	staged   map[string]int64
	appended []models.TokenTransaction
	done     bool
}

func (t *memoryTx) LockBalance(ctx context.Context, accountID string) (int64, bool, error) {
	if !t.holds(accountID) {
		ch := t.store.lockFor(accountID)
		timer := time.NewTimer(t.store.lockTimeout)
		defer timer.Stop()

		select {
		case ch <- struct{}{}:
			t.held = append(t.held, accountID)
		case <-timer.C:
			return 0, false, ErrLockTimeout
		case <-ctx.Done():
			return 0, false, ctx.Err()
		}
	}

	if tokens, ok := t.staged[accountID]; ok {
		return tokens, true, nil
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	tokens, found := t.store.balances[accountID]
	return tokens, found, nil
}

func (t *memoryTx) CreateBalance(ctx context.Context, accountID string) error {
	if _, ok := t.staged[accountID]; !ok {
		t.staged[accountID] = 0
	}
	return nil
}

func (t *memoryTx) WriteBalance(ctx context.Context, accountID string, tokens int64) error {
	t.staged[accountID] = tokens
	return nil
}

func (t *memoryTx) AppendTransaction(ctx context.Context, txn models.TokenTransaction) error {
	if txn.ExternalEventID != "" {
		seen, _ := t.store.LookupEvent(ctx, txn.ExternalEventID)
		if seen {
			return ErrDuplicateEvent
		}
		for _, prev := range t.appended {
			if prev.ExternalEventID == txn.ExternalEventID {
				return ErrDuplicateEvent
			}
		}
	}
	t.appended = append(t.appended, txn)
	return nil
}

func (t *memoryTx) Commit() error {
	if t.done {
		return nil
	}

	t.store.mu.Lock()
	// Re-check event uniqueness under the state lock: the per-account lock
	// does not serialize grants for the same event against different
	// accounts.
	for _, txn := range t.appended {
		if txn.ExternalEventID == "" {
			continue
		}
		if _, seen := t.store.events[txn.ExternalEventID]; seen {
			t.store.mu.Unlock()
			t.finish()
			return ErrDuplicateEvent
		}
	}
	for accountID, tokens := range t.staged {
		t.store.balances[accountID] = tokens
	}
	for _, txn := range t.appended {
		t.store.log = append(t.store.log, txn)
		if txn.ExternalEventID != "" {
			t.store.events[txn.ExternalEventID] = struct{}{}
		}
	}
	t.store.mu.Unlock()

	t.finish()
	return nil
}

func (t *memoryTx) Rollback() error {
	if t.done {
		return nil
	}
	t.finish()
	return nil
}

func (t *memoryTx) finish() {
	for _, accountID := range t.held {
		<-t.store.lockFor(accountID)
	}
	t.held = nil
	t.done = true
}

func (t *memoryTx) holds(accountID string) bool {
	for _, held := range t.held {
		if held == accountID {
			return true
		}
	}
	return false
}
