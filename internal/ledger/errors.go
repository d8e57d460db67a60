package ledger

import (
	"errors"
	"fmt"
)

// Ingestion errors
var (
	// ErrMalformedPayload means an adapter could not normalize a payload. Logged, acknowledged, dropped.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrIgnoredEvent means a payload is well formed but not a transaction event.
	ErrIgnoredEvent = errors.New("ignored event")
)

// Resolution errors (non-fatal)
var (
	ErrUnresolvedPocket          = errors.New("unresolved pocket")
	ErrCategorizationUnavailable = errors.New("categorization unavailable")
)

// Credential errors
var (
	// ErrTokenExpired is an upstream 401; recoverable by one refresh.
	ErrTokenExpired = errors.New("provider token expired")
	// ErrExpiredCredential means the refresh failed as well.
	ErrExpiredCredential = errors.New("expired credential")
)

// Commit errors
var (
	ErrDuplicateEvent  = errors.New("duplicate event")
	ErrStorageConflict = errors.New("storage conflict")
	ErrCommitFailure   = errors.New("commit failure")
	ErrBalanceMismatch = errors.New("balance mismatch")
	ErrNotFound        = errors.New("transaction not found")
	ErrPocketNotFound  = errors.New("pocket not found")
)

func malformed(msg string) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, msg)
}

// IsDuplicate reports whether err means the event was already committed
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateEvent) || errors.Is(err, ErrStorageConflict)
}
