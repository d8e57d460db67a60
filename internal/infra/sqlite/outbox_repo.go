package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kislikjeka/pocketflow/internal/platform/notify"
)

// OutboxRepository implements notify.Repository on SQLite
type OutboxRepository struct {
	txManager
	now func() time.Time
}

// NewOutboxRepository creates a new SQLite outbox repository
func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{
		txManager: txManager{db: db.DB},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var _ notify.Repository = (*OutboxRepository)(nil)

// Enqueue inserts an outbox row, joining the ledger transaction in ctx
func (r *OutboxRepository) Enqueue(ctx context.Context, n *notify.Notification) error {
	query := `
		INSERT INTO notification_outbox (id, transaction_id, title, body, deep_link, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	if _, err := r.queryer(ctx).ExecContext(ctx, query,
		n.ID.String(), n.TransactionID.String(), n.Title, n.Body, n.DeepLink, utc(n.CreatedAt)); err != nil {
		return fmt.Errorf("failed to insert outbox row: %w", err)
	}
	return nil
}

// ClaimPending leases pending rows. The select and the lease update run in
// one write transaction, so two dispatchers never claim the same row.
func (r *OutboxRepository) ClaimPending(ctx context.Context, limit, maxAttempts int, lease time.Duration) (_ []*notify.Notification, err error) {
	if txFromContext(ctx) == nil {
		ctx, err = r.BeginTx(ctx)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err != nil {
				_ = r.RollbackTx(context.WithoutCancel(ctx))
				return
			}
			err = r.CommitTx(ctx)
		}()
	}

	now := r.now()
	query := `
		SELECT id, transaction_id, title, body, deep_link, attempts, dispatched_at, last_error, created_at
		FROM notification_outbox
		WHERE dispatched_at IS NULL
		  AND attempts < ?
		  AND (claimed_until IS NULL OR claimed_until < ?)
		ORDER BY created_at
		LIMIT ?
	`

	rows, err := r.queryer(ctx).QueryContext(ctx, query, maxAttempts, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select outbox rows: %w", err)
	}

	pending := make([]*notify.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		pending = append(pending, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox rows: %w", err)
	}

	if len(pending) == 0 {
		return pending, nil
	}

	placeholders := make([]string, len(pending))
	args := []any{now.Add(lease)}
	for i, n := range pending {
		placeholders[i] = "?"
		args = append(args, n.ID.String())
	}

	update := `UPDATE notification_outbox SET claimed_until = ? WHERE id IN (` + strings.Join(placeholders, ", ") + `)`
	if _, err := r.queryer(ctx).ExecContext(ctx, update, args...); err != nil {
		return nil, fmt.Errorf("failed to lease outbox rows: %w", err)
	}
	return pending, nil
}

func scanNotification(row scanner) (*notify.Notification, error) {
	var n notify.Notification
	var id, txID string
	var dispatchedAt sql.NullTime
	var lastError sql.NullString

	if err := row.Scan(&id, &txID, &n.Title, &n.Body, &n.DeepLink,
		&n.Attempts, &dispatchedAt, &lastError, &n.CreatedAt); err != nil {
		return nil, err
	}

	var err error
	if n.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid notification ID: %w", err)
	}
	if n.TransactionID, err = uuid.Parse(txID); err != nil {
		return nil, fmt.Errorf("invalid transaction ID: %w", err)
	}
	n.DispatchedAt = nullTime(dispatchedAt)
	n.LastError = nullString(lastError)
	n.CreatedAt = n.CreatedAt.UTC()
	return &n, nil
}

// MarkDispatched records a successful delivery
func (r *OutboxRepository) MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE notification_outbox SET dispatched_at = ?, claimed_until = NULL WHERE id = ?`
	if _, err := r.queryer(ctx).ExecContext(ctx, query, utc(at), id.String()); err != nil {
		return fmt.Errorf("failed to mark notification dispatched: %w", err)
	}
	return nil
}

// MarkFailed increments attempts, records the error and releases the lease
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE notification_outbox
		SET attempts = attempts + 1, last_error = ?, claimed_until = NULL
		WHERE id = ?
	`
	if _, err := r.queryer(ctx).ExecContext(ctx, query, errMsg, id.String()); err != nil {
		return fmt.Errorf("failed to mark notification failed: %w", err)
	}
	return nil
}
