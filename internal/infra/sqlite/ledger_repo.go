package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kislikjeka/pocketflow/internal/ledger"
	"github.com/kislikjeka/pocketflow/pkg/money"
)

// LedgerRepository implements ledger.Repository on SQLite. Amounts are
// stored as integer minor units so sums stay exact.
type LedgerRepository struct {
	txManager
}

// NewLedgerRepository creates a new SQLite ledger repository
func NewLedgerRepository(db *DB) *LedgerRepository {
	return &LedgerRepository{txManager{db: db.DB}}
}

var _ ledger.Repository = (*LedgerRepository)(nil)

const transactionColumns = `id, provider, provider_tx_id, amount_minor, direction, type, category,
	description, merchant, currency, pocket_id, profile, date, received_via, committed_at`

// InsertIfAbsent inserts the row unless (provider, provider_tx_id) exists
func (r *LedgerRepository) InsertIfAbsent(ctx context.Context, tx *ledger.Transaction) (bool, error) {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_tx_id) DO NOTHING
	`

	res, err := r.queryer(ctx).ExecContext(ctx, query,
		tx.ID.String(),
		tx.Provider,
		tx.ProviderTxID,
		money.ToMinorUnits(tx.Amount),
		string(tx.Direction),
		string(tx.Type),
		tx.Category,
		tx.Description,
		tx.Merchant,
		tx.Currency,
		uuidOrNil(tx.PocketID),
		tx.Profile,
		utc(tx.Date),
		string(tx.ReceivedVia),
		utc(tx.CommittedAt),
	)
	if err != nil {
		if isDuplicateError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// GetTransaction retrieves a transaction by ID
func (r *LedgerRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*ledger.Transaction, error) {
	return r.getOne(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id.String())
}

// GetByProviderTxID retrieves a transaction by its provider identity
func (r *LedgerRepository) GetByProviderTxID(ctx context.Context, provider, providerTxID string) (*ledger.Transaction, error) {
	return r.getOne(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE provider = ? AND provider_tx_id = ?`,
		provider, providerTxID)
}

func (r *LedgerRepository) getOne(ctx context.Context, query string, args ...any) (*ledger.Transaction, error) {
	tx, err := scanTransaction(r.queryer(ctx).QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// ListTransactions lists transactions with filters, newest first
func (r *LedgerRepository) ListTransactions(ctx context.Context, filters ledger.TransactionFilters) ([]*ledger.Transaction, error) {
	var where []string
	var args []any

	if filters.Profile != "" {
		where = append(where, "profile = ?")
		args = append(args, filters.Profile)
	}
	if filters.Provider != "" {
		where = append(where, "provider = ?")
		args = append(args, filters.Provider)
	}
	if filters.PocketID != nil {
		where = append(where, "pocket_id = ?")
		args = append(args, filters.PocketID.String())
	}
	if filters.Type != nil {
		where = append(where, "type = ?")
		args = append(args, string(*filters.Type))
	}
	if filters.From != nil {
		where = append(where, "date >= ?")
		args = append(args, utc(*filters.From))
	}
	if filters.To != nil {
		where = append(where, "date < ?")
		args = append(args, utc(*filters.To))
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date DESC, id"

	if filters.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filters.Limit)
		if filters.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filters.Offset)
		}
	}

	rows, err := r.queryer(ctx).QueryContext(ctx, query, args...)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*ledger.Transaction, error) {
	var tx ledger.Transaction
	var id string
	var amountMinor int64
	var pocketID sql.NullString

	err := row.Scan(
		&id,
		&tx.Provider,
		&tx.ProviderTxID,
		&amountMinor,
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

	if tx.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid transaction ID: %w", err)
	}
	tx.Amount = money.FromMinorUnits(amountMinor)
	tx.Date = tx.Date.UTC()
	tx.CommittedAt = tx.CommittedAt.UTC()

	if pocketID.Valid {
		pid, err := uuid.Parse(pocketID.String)
		if err != nil {
			return nil, fmt.Errorf("invalid pocket ID: %w", err)
		}
		tx.PocketID = &pid
	}

	return &tx, nil
}

// Balance operations

// GetPocketBalanceForUpdate reads a pocket balance inside the commit
// transaction. SQLite transactions are opened IMMEDIATE, which already holds
// the database write lock.
func (r *LedgerRepository) GetPocketBalanceForUpdate(ctx context.Context, pocketID uuid.UUID) (decimal.Decimal, error) {
	if txFromContext(ctx) == nil {
		return decimal.Zero, fmt.Errorf("row lock requires a transaction")
	}
	return r.GetPocketBalance(ctx, pocketID)
}

// GetPocketBalance reads a pocket balance
func (r *LedgerRepository) GetPocketBalance(ctx context.Context, pocketID uuid.UUID) (decimal.Decimal, error) {
	var minor int64
	err := r.queryer(ctx).QueryRowContext(ctx,
		`SELECT balance_minor FROM pockets WHERE id = ?`, pocketID.String()).Scan(&minor)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, ledger.ErrPocketNotFound
		}
		return decimal.Zero, fmt.Errorf("failed to get pocket balance: %w", err)
	}
	return money.FromMinorUnits(minor), nil
}

// SetPocketBalance writes a pocket balance
func (r *LedgerRepository) SetPocketBalance(ctx context.Context, pocketID uuid.UUID, balance decimal.Decimal) error {
	res, err := r.queryer(ctx).ExecContext(ctx,
		`UPDATE pockets SET balance_minor = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		money.ToMinorUnits(balance), pocketID.String())
	if err != nil {
		return fmt.Errorf("failed to update pocket balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrPocketNotFound
	}
	return nil
}

// SumPocketTransactions recomputes a pocket balance from its rows
func (r *LedgerRepository) SumPocketTransactions(ctx context.Context, pocketID uuid.UUID) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(CASE WHEN direction = 'out' THEN -amount_minor ELSE amount_minor END), 0)
		FROM transactions
		WHERE pocket_id = ?
	`

	var minor int64
	if err := r.queryer(ctx).QueryRowContext(ctx, query, pocketID.String()).Scan(&minor); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum pocket transactions: %w", err)
	}
	return money.FromMinorUnits(minor), nil
}

// ListProfilePocketIDs lists the IDs of a profile's pockets
func (r *LedgerRepository) ListProfilePocketIDs(ctx context.Context, profile string) ([]uuid.UUID, error) {
	rows, err := r.queryer(ctx).QueryContext(ctx,
		`SELECT id FROM pockets WHERE profile = ? ORDER BY created_at, id`, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to list pockets: %w", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan pocket id: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid pocket ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func uuidOrNil(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}
