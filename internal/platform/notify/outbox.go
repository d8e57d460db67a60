package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kislikjeka/pocketflow/internal/ledger"
)

// Outbox is the notification trigger. It writes the outbox row in the same
// database transaction as the ledger row, so a notification exists if and
// only if the transaction was committed.
type Outbox struct {
	repo Repository
}

// NewOutbox creates an outbox trigger
func NewOutbox(repo Repository) *Outbox {
	return &Outbox{repo: repo}
}

var _ ledger.NotificationQueue = (*Outbox)(nil)

// Enqueue records the notification for a committed transaction
func (o *Outbox) Enqueue(ctx context.Context, tx *ledger.Transaction) error {
	msg := Compose(tx)
	n := &Notification{
		ID:            uuid.New(),
		TransactionID: tx.ID,
		Title:         msg.Title,
		Body:          msg.Body,
		DeepLink:      msg.DeepLink,
		CreatedAt:     time.Now().UTC(),
	}
	if err := o.repo.Enqueue(ctx, n); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}
