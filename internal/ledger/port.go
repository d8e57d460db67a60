package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Repository defines the interface for ledger persistence operations.
// Methods called with a context returned by BeginTx run inside that transaction.
type Repository interface {
	// InsertIfAbsent is the claim: it inserts the complete row unless a row
	// with the same (provider, provider_tx_id) exists. It reports whether the
	// row was inserted. It never updates an existing row.
	InsertIfAbsent(ctx context.Context, tx *Transaction) (bool, error)

	GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error)
	GetByProviderTxID(ctx context.Context, provider, providerTxID string) (*Transaction, error)
	ListTransactions(ctx context.Context, filters TransactionFilters) ([]*Transaction, error)

	// Balance operations
	GetPocketBalanceForUpdate(ctx context.Context, pocketID uuid.UUID) (decimal.Decimal, error)
	SetPocketBalance(ctx context.Context, pocketID uuid.UUID, balance decimal.Decimal) error
	GetPocketBalance(ctx context.Context, pocketID uuid.UUID) (decimal.Decimal, error)
	SumPocketTransactions(ctx context.Context, pocketID uuid.UUID) (decimal.Decimal, error)
	ListProfilePocketIDs(ctx context.Context, profile string) ([]uuid.UUID, error)

	// Transaction management
	BeginTx(ctx context.Context) (context.Context, error)
	CommitTx(ctx context.Context) error
	RollbackTx(ctx context.Context) error
}

// PocketResolver maps an external account or pot reference to a pocket.
// A nil id with a nil error means no pocket could be resolved.
type PocketResolver interface {
	Resolve(ctx context.Context, provider string, ref ExternalRef, profile string) (*uuid.UUID, error)
}

// Categorizer assigns a category to a transaction description
type Categorizer interface {
	Categorize(ctx context.Context, description string) (string, error)
}

// NotificationQueue records one pending notification for a committed row.
// It is called inside the commit transaction.
type NotificationQueue interface {
	Enqueue(ctx context.Context, tx *Transaction) error
}
