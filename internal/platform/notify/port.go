package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Notifier delivers a message. Delivery failures never affect the ledger.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Repository defines the interface for outbox persistence
type Repository interface {
	// Enqueue inserts an outbox row. Called inside the ledger commit transaction.
	Enqueue(ctx context.Context, n *Notification) error

	// ClaimPending leases up to limit undelivered rows with fewer than
	// maxAttempts attempts whose lease has expired. Concurrent dispatchers
	// never receive the same row.
	ClaimPending(ctx context.Context, limit, maxAttempts int, lease time.Duration) ([]*Notification, error)

	// MarkDispatched records a successful delivery
	MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) error

	// MarkFailed increments attempts and records the error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
}
