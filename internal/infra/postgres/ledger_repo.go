package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kislikjeka/pocketflow/internal/ledger"
)

// LedgerRepository implements ledger.Repository using PostgreSQL
type LedgerRepository struct {
	txManager
}

// NewLedgerRepository creates a new PostgreSQL ledger repository
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{txManager{pool: pool}}
}

var _ ledger.Repository = (*LedgerRepository)(nil)

const transactionColumns = `id, provider, provider_tx_id, amount, direction, type, category,
	description, merchant, currency, pocket_id, profile, date, received_via, committed_at`

// InsertIfAbsent inserts the row unless (provider, provider_tx_id) exists.
// A concurrent insert of the same key blocks on the unique index until the
// other transaction ends, then either inserts or returns false.
func (r *LedgerRepository) InsertIfAbsent(ctx context.Context, tx *ledger.Transaction) (bool, error) {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (provider, provider_tx_id) DO NOTHING
		RETURNING id
	`

	var id uuid.UUID
	err := r.queryer(ctx).QueryRow(ctx, query,
		tx.ID,
		tx.Provider,
		tx.ProviderTxID,
		tx.Amount.StringFixed(2),
		string(tx.Direction),
		string(tx.Type),
		tx.Category,
		tx.Description,
		tx.Merchant,
		tx.Currency,
		tx.PocketID,
		tx.Profile,
		tx.Date,
		string(tx.ReceivedVia),
		tx.CommittedAt,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		// Storage conflicts count as a lost claim; the caller rolls back
		if isDuplicateError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}

	return true, nil
}

// GetTransaction retrieves a transaction by ID
func (r *LedgerRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*ledger.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByProviderTxID retrieves a transaction by its provider identity
func (r *LedgerRepository) GetByProviderTxID(ctx context.Context, provider, providerTxID string) (*ledger.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE provider = $1 AND provider_tx_id = $2`
	return r.getOne(ctx, query, provider, providerTxID)
}

func (r *LedgerRepository) getOne(ctx context.Context, query string, args ...any) (*ledger.Transaction, error) {
	tx, err := scanTransaction(r.queryer(ctx).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// ListTransactions lists transactions with filters, newest first
func (r *LedgerRepository) ListTransactions(ctx context.Context, filters ledger.TransactionFilters) ([]*ledger.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE 1=1`

	args := make([]any, 0)
	argPos := 1

	if filters.Profile != "" {
		query += fmt.Sprintf(" AND profile = $%d", argPos)
		args = append(args, filters.Profile)
		argPos++
	}

	if filters.Provider != "" {
		query += fmt.Sprintf(" AND provider = $%d", argPos)
		args = append(args, filters.Provider)
		argPos++
	}

	if filters.PocketID != nil {
		query += fmt.Sprintf(" AND pocket_id = $%d", argPos)
		args = append(args, *filters.PocketID)
		argPos++
	}

	if filters.Type != nil {
		query += fmt.Sprintf(" AND type = $%d", argPos)
		args = append(args, string(*filters.Type))
		argPos++
	}

	if filters.From != nil {
		query += fmt.Sprintf(" AND date >= $%d", argPos)
		args = append(args, *filters.From)
		argPos++
	}

	if filters.To != nil {
		query += fmt.Sprintf(" AND date < $%d", argPos)
		args = append(args, *filters.To)
		argPos++
	}

	query += " ORDER BY date DESC, id"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, filters.Limit)
		argPos++
	}

	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argPos)
		args = append(args, filters.Offset)
	}

	rows, err := r.queryer(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	transactions := make([]*ledger.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

func scanTransaction(row pgx.Row) (*ledger.Transaction, error) {
	var tx ledger.Transaction
	var amount string
	var pocketID sql.NullString

	err := row.Scan(
		&tx.ID,
		&tx.Provider,
		&tx.ProviderTxID,
		&amount,
		&tx.Direction,
		&tx.Type,
		&tx.Category,
		&tx.Description,
		&tx.Merchant,
		&tx.Currency,
		&pocketID,
		&tx.Profile,
		&tx.Date,
		&tx.ReceivedVia,
		&tx.CommittedAt,
	)
	if err != nil {
		return nil, err
	}

	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("failed to parse amount %q: %w", amount, err)
	}

	if pocketID.Valid {
		id, err := uuid.Parse(pocketID.String)
		if err != nil {
			return nil, fmt.Errorf("invalid pocket ID: %w", err)
		}
		tx.PocketID = &id
	}

	return &tx, nil
}

// Balance operations

// GetPocketBalanceForUpdate reads a pocket balance with a row lock.
// Must be called within a transaction.
func (r *LedgerRepository) GetPocketBalanceForUpdate(ctx context.Context, pocketID uuid.UUID) (decimal.Decimal, error) {
	if txFromContext(ctx) == nil {
		return decimal.Zero, fmt.Errorf("row lock requires a transaction")
	}
	return r.pocketBalance(ctx, pocketID, true)
}

// GetPocketBalance reads a pocket balance without locking
func (r *LedgerRepository) GetPocketBalance(ctx context.Context, pocketID uuid.UUID) (decimal.Decimal, error) {
	return r.pocketBalance(ctx, pocketID, false)
}

func (r *LedgerRepository) pocketBalance(ctx context.Context, pocketID uuid.UUID, forUpdate bool) (decimal.Decimal, error) {
	query := `SELECT balance FROM pockets WHERE id = $1`
	if forUpdate {
		// NO KEY UPDATE does not conflict with the KEY SHARE lock the
		// transactions.pocket_id foreign key takes on insert
		query += " FOR NO KEY UPDATE"
	}

	var balance string
	if err := r.queryer(ctx).QueryRow(ctx, query, pocketID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ledger.ErrPocketNotFound
		}
		return decimal.Zero, fmt.Errorf("failed to get pocket balance: %w", err)
	}

	return decimal.NewFromString(balance)
}

// SetPocketBalance writes a pocket balance
func (r *LedgerRepository) SetPocketBalance(ctx context.Context, pocketID uuid.UUID, balance decimal.Decimal) error {
	query := `UPDATE pockets SET balance = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.queryer(ctx).Exec(ctx, query, pocketID, balance.StringFixed(2))
	if err != nil {
		return fmt.Errorf("failed to update pocket balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrPocketNotFound
	}

	return nil
}

// SumPocketTransactions recomputes a pocket balance from its rows
func (r *LedgerRepository) SumPocketTransactions(ctx context.Context, pocketID uuid.UUID) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(CASE WHEN direction = 'out' THEN -amount ELSE amount END), 0)::text
		FROM transactions
		WHERE pocket_id = $1
	`

	var sum string
	if err := r.queryer(ctx).QueryRow(ctx, query, pocketID).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum pocket transactions: %w", err)
	}

	return decimal.NewFromString(sum)
}

// ListProfilePocketIDs lists the IDs of a profile's pockets
func (r *LedgerRepository) ListProfilePocketIDs(ctx context.Context, profile string) ([]uuid.UUID, error) {
	rows, err := r.queryer(ctx).Query(ctx, `SELECT id FROM pockets WHERE profile = $1 ORDER BY created_at, id`, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to list pockets: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("failed to scan pocket ids: %w", err)
	}
	return ids, nil
}
