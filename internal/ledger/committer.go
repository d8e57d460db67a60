package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// transactionCommitter writes the claim, the balance delta and the outbox row
// as one unit. A claimed key is never visible without its balance delta.
type transactionCommitter struct {
	repo     Repository
	balances *balanceUpdater
	queue    NotificationQueue
}

func newTransactionCommitter(repo Repository, queue NotificationQueue) *transactionCommitter {
	return &transactionCommitter{
		repo:     repo,
		balances: newBalanceUpdater(repo),
		queue:    queue,
	}
}

// commit reports false without error when the claim was lost to an existing row.
func (c *transactionCommitter) commit(ctx context.Context, tx *Transaction) (bool, error) {
	// Begin database transaction for atomicity
	txCtx, err := c.repo.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Roll back on every path that does not commit, including cancellation
	committed := false
	defer func() {
		if !committed {
			_ = c.repo.RollbackTx(context.WithoutCancel(txCtx))
		}
	}()

	// Claim
	inserted, err := c.repo.InsertIfAbsent(txCtx, tx)
	if err != nil {
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}
	if !inserted {
		return false, nil
	}

	// Balance
	if tx.PocketID != nil {
		if err := c.balances.apply(txCtx, *tx.PocketID, tx.SignedAmount()); err != nil {
			return false, fmt.Errorf("failed to apply balance delta: %w", err)
		}
	}

	// Notification
	if c.queue != nil {
		if err := c.queue.Enqueue(txCtx, tx); err != nil {
			return false, fmt.Errorf("failed to enqueue notification: %w", err)
		}
	}

	if err := c.repo.CommitTx(txCtx); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	committed = true
	return true, nil
}

// balanceUpdater is the only writer of pocket balances. It runs inside the
// commit transaction and never on its own.
type balanceUpdater struct {
	repo Repository
}

func newBalanceUpdater(repo Repository) *balanceUpdater {
	return &balanceUpdater{repo: repo}
}

func (b *balanceUpdater) apply(ctx context.Context, pocketID uuid.UUID, delta decimal.Decimal) error {
	// Row lock serializes concurrent deltas to the same pocket
	current, err := b.repo.GetPocketBalanceForUpdate(ctx, pocketID)
	if err != nil {
		return fmt.Errorf("failed to lock pocket balance: %w", err)
	}

	if err := b.repo.SetPocketBalance(ctx, pocketID, current.Add(delta)); err != nil {
		return fmt.Errorf("failed to update pocket balance: %w", err)
	}

	return nil
}
