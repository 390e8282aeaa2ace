package ledger

import "errors"

var (
	// ErrAccountNotFound is returned by Deduct for an account that has never
	// been granted tokens. Grant never returns it: a missing account is
	// created with a zero balance on first credit.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientBalance is returned by Deduct when the balance cannot
	// cover the charge. No ledger record is written in that case.
	ErrInsufficientBalance = errors.New("insufficient token balance")

	// ErrDuplicateEvent is returned by Grant when the external event id has
	// already been applied. The previous credit stands; nothing is mutated.
	ErrDuplicateEvent = errors.New("credit event already applied")

	// ErrLockTimeout is returned when the per-account lock cannot be acquired
	// within the configured bound. Safe to retry at the request layer.
	ErrLockTimeout = errors.New("timed out waiting for account lock")
)
