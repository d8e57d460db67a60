package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kislikjeka/pocketflow/internal/platform/notify"
)

// OutboxRepository implements notify.Repository using PostgreSQL
type OutboxRepository struct {
	txManager
}

// NewOutboxRepository creates a new PostgreSQL outbox repository
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{txManager{pool: pool}}
}

var _ notify.Repository = (*OutboxRepository)(nil)

// Enqueue inserts an outbox row, joining the ledger transaction in ctx
func (r *OutboxRepository) Enqueue(ctx context.Context, n *notify.Notification) error {
	query := `
		INSERT INTO notification_outbox (id, transaction_id, title, body, deep_link, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	if _, err := r.queryer(ctx).Exec(ctx, query,
		n.ID, n.TransactionID, n.Title, n.Body, n.DeepLink, n.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert outbox row: %w", err)
	}
	return nil
}

// ClaimPending leases pending rows. SKIP LOCKED keeps concurrent
// dispatchers from claiming the same row.
func (r *OutboxRepository) ClaimPending(ctx context.Context, limit, maxAttempts int, lease time.Duration) ([]*notify.Notification, error) {
	query := `
		UPDATE notification_outbox
		SET claimed_until = NOW() + $3::bigint * INTERVAL '1 millisecond'
		WHERE id IN (
			SELECT id FROM notification_outbox
			WHERE dispatched_at IS NULL
			  AND attempts < $2
			  AND (claimed_until IS NULL OR claimed_until < NOW())
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, transaction_id, title, body, deep_link, attempts, dispatched_at, last_error, created_at
	`

	rows, err := r.queryer(ctx).Query(ctx, query, limit, maxAttempts, lease.Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox rows: %w", err)
	}

	pending, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*notify.Notification, error) {
		var n notify.Notification
		err := row.Scan(&n.ID, &n.TransactionID, &n.Title, &n.Body, &n.DeepLink,
			&n.Attempts, &n.DispatchedAt, &n.LastError, &n.CreatedAt)
		return &n, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan outbox rows: %w", err)
	}
	return pending, nil
}

// MarkDispatched records a successful delivery
func (r *OutboxRepository) MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE notification_outbox SET dispatched_at = $2, claimed_until = NULL WHERE id = $1`
	if _, err := r.queryer(ctx).Exec(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to mark notification dispatched: %w", err)
	}
	return nil
}

// MarkFailed increments attempts, records the error and releases the lease
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE notification_outbox
		SET attempts = attempts + 1, last_error = $2, claimed_until = NULL
		WHERE id = $1
	`
	if _, err := r.queryer(ctx).Exec(ctx, query, id, errMsg); err != nil {
		return fmt.Errorf("failed to mark notification failed: %w", err)
	}
	return nil
}
