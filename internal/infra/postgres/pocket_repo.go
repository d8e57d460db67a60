package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kislikjeka/pocketflow/internal/platform/pocket"
)

// PocketRepository implements pocket.Repository using PostgreSQL
type PocketRepository struct {
	txManager
}

// NewPocketRepository creates a new PostgreSQL pocket repository
func NewPocketRepository(pool *pgxpool.Pool) *PocketRepository {
	return &PocketRepository{txManager{pool: pool}}
}

var _ pocket.Repository = (*PocketRepository)(nil)

const pocketColumns = `id, name, profile, type, balance, external_ref, created_at, updated_at`

// Create creates a new pocket
func (r *PocketRepository) Create(ctx context.Context, p *pocket.Pocket) error {
	query := `
		INSERT INTO pockets (` + pocketColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.queryer(ctx).Exec(ctx, query,
		p.ID,
		p.Name,
		p.Profile,
		string(p.Type),
		p.Balance.StringFixed(2),
		p.ExternalRef,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return pocketConstraintError(err, "failed to create pocket")
	}

	return nil
}

// GetByID retrieves a pocket by ID
func (r *PocketRepository) GetByID(ctx context.Context, id uuid.UUID) (*pocket.Pocket, error) {
	return r.getOne(ctx, `SELECT `+pocketColumns+` FROM pockets WHERE id = $1`, id)
}

// ListByProfile retrieves all pockets of a profile
func (r *PocketRepository) ListByProfile(ctx context.Context, profile string) ([]*pocket.Pocket, error) {
	rows, err := r.queryer(ctx).Query(ctx,
		`SELECT `+pocketColumns+` FROM pockets WHERE profile = $1 ORDER BY name`, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to list pockets: %w", err)
	}
	defer rows.Close()

	pockets := make([]*pocket.Pocket, 0)
	for rows.Next() {
		p, err := scanPocket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pocket: %w", err)
		}
		pockets = append(pockets, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pockets: %w", err)
	}

	return pockets, nil
}

// FindByExternalRef finds the profile's pocket carrying ref
func (r *PocketRepository) FindByExternalRef(ctx context.Context, profile, ref string) (*pocket.Pocket, error) {
	return r.getOne(ctx,
		`SELECT `+pocketColumns+` FROM pockets WHERE profile = $1 AND external_ref = $2`, profile, ref)
}

// FindByName finds the profile's pocket by name, case-insensitively
func (r *PocketRepository) FindByName(ctx context.Context, profile, name string) (*pocket.Pocket, error) {
	return r.getOne(ctx,
		`SELECT `+pocketColumns+` FROM pockets WHERE profile = $1 AND LOWER(name) = LOWER($2)`, profile, name)
}

func (r *PocketRepository) getOne(ctx context.Context, query string, args ...any) (*pocket.Pocket, error) {
	p, err := scanPocket(r.queryer(ctx).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pocket.ErrPocketNotFound
		}
		return nil, fmt.Errorf("failed to get pocket: %w", err)
	}
	return p, nil
}

func scanPocket(row pgx.Row) (*pocket.Pocket, error) {
	var p pocket.Pocket
	var balance string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Profile,
		&p.Type,
		&balance,
		&p.ExternalRef,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if p.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("failed to parse balance %q: %w", balance, err)
	}

	return &p, nil
}

// SetExternalRef sets or clears a pocket's external ref
func (r *PocketRepository) SetExternalRef(ctx context.Context, id uuid.UUID, ref *string) error {
	tag, err := r.queryer(ctx).Exec(ctx,
		`UPDATE pockets SET external_ref = $2, updated_at = NOW() WHERE id = $1`, id, ref)
	if err != nil {
		return pocketConstraintError(err, "failed to set external ref")
	}
	if tag.RowsAffected() == 0 {
		return pocket.ErrPocketNotFound
	}
	return nil
}

// Pot mappings

// FindPotMapping looks up the secondary pot table
func (r *PocketRepository) FindPotMapping(ctx context.Context, provider, potRef, profile string) (*pocket.PotMapping, error) {
	query := `
		SELECT provider, pot_ref, profile, pocket_id, created_at
		FROM pot_mappings
		WHERE provider = $1 AND pot_ref = $2 AND profile = $3
	`

	var m pocket.PotMapping
	err := r.queryer(ctx).QueryRow(ctx, query, provider, potRef, profile).Scan(
		&m.Provider, &m.PotRef, &m.Profile, &m.PocketID, &m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pocket.ErrMappingNotFound
		}
		return nil, fmt.Errorf("failed to get pot mapping: %w", err)
	}
	return &m, nil
}

// UpsertPotMapping creates or repoints a pot mapping
func (r *PocketRepository) UpsertPotMapping(ctx context.Context, m *pocket.PotMapping) error {
	query := `
		INSERT INTO pot_mappings (provider, pot_ref, profile, pocket_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, pot_ref, profile)
		DO UPDATE SET pocket_id = EXCLUDED.pocket_id
	`

	if _, err := r.queryer(ctx).Exec(ctx, query, m.Provider, m.PotRef, m.Profile, m.PocketID, m.CreatedAt); err != nil {
		return fmt.Errorf("failed to upsert pot mapping: %w", err)
	}
	return nil
}

// ListPotMappings lists a profile's pot mappings
func (r *PocketRepository) ListPotMappings(ctx context.Context, profile string) ([]*pocket.PotMapping, error) {
	query := `
		SELECT provider, pot_ref, profile, pocket_id, created_at
		FROM pot_mappings
		WHERE profile = $1
		ORDER BY provider, pot_ref
	`

	rows, err := r.queryer(ctx).Query(ctx, query, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to list pot mappings: %w", err)
	}

	mappings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*pocket.PotMapping, error) {
		var m pocket.PotMapping
		err := row.Scan(&m.Provider, &m.PotRef, &m.Profile, &m.PocketID, &m.CreatedAt)
		return &m, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan pot mappings: %w", err)
	}
	return mappings, nil
}

// Remediation signals

// RecordUnresolved upserts the remediation signal for a ref
func (r *PocketRepository) RecordUnresolved(ctx context.Context, provider, ref, profile string, seenAt time.Time) error {
	query := `
		INSERT INTO unresolved_refs (provider, external_ref, profile, first_seen_at, last_seen_at, occurrences)
		VALUES ($1, $2, $3, $4, $4, 1)
		ON CONFLICT (provider, external_ref, profile)
		DO UPDATE SET
			last_seen_at = EXCLUDED.last_seen_at,
			occurrences = unresolved_refs.occurrences + 1
	`

	if _, err := r.queryer(ctx).Exec(ctx, query, provider, ref, profile, seenAt); err != nil {
		return fmt.Errorf("failed to record unresolved ref: %w", err)
	}
	return nil
}

// ListUnresolved lists a profile's unresolved refs, most recent first
func (r *PocketRepository) ListUnresolved(ctx context.Context, profile string) ([]*pocket.UnresolvedRef, error) {
	query := `
		SELECT provider, external_ref, profile, first_seen_at, last_seen_at, occurrences
		FROM unresolved_refs
		WHERE profile = $1
		ORDER BY last_seen_at DESC
	`

	rows, err := r.queryer(ctx).Query(ctx, query, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved refs: %w", err)
	}

	refs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*pocket.UnresolvedRef, error) {
		var u pocket.UnresolvedRef
		err := row.Scan(&u.Provider, &u.ExternalRef, &u.Profile, &u.FirstSeenAt, &u.LastSeenAt, &u.Occurrences)
		return &u, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan unresolved refs: %w", err)
	}
	return refs, nil
}

// ClearUnresolved removes the signal once a ref has been mapped
func (r *PocketRepository) ClearUnresolved(ctx context.Context, ref, profile string) error {
	if _, err := r.queryer(ctx).Exec(ctx,
		`DELETE FROM unresolved_refs WHERE external_ref = $1 AND profile = $2`, ref, profile); err != nil {
		return fmt.Errorf("failed to clear unresolved ref: %w", err)
	}
	return nil
}

// Tracked accounts

// UpsertTrackedAccount registers an account for polling
func (r *PocketRepository) UpsertTrackedAccount(ctx context.Context, a *pocket.TrackedAccount) error {
	query := `
		INSERT INTO tracked_accounts (provider, account_ref, profile, display_name, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider, account_ref, profile)
		DO UPDATE SET
			display_name = EXCLUDED.display_name,
			enabled = EXCLUDED.enabled
	`

	if _, err := r.queryer(ctx).Exec(ctx, query,
		a.Provider, a.AccountRef, a.Profile, a.DisplayName, a.Enabled, a.CreatedAt); err != nil {
		return fmt.Errorf("failed to upsert tracked account: %w", err)
	}
	return nil
}

// ListTrackedAccounts lists tracked accounts matching the filter
func (r *PocketRepository) ListTrackedAccounts(ctx context.Context, filter pocket.TrackedFilter) ([]*pocket.TrackedAccount, error) {
	query := `
		SELECT provider, account_ref, profile, display_name, enabled, created_at
		FROM tracked_accounts
		WHERE 1=1
	`

	args := make([]any, 0)
	argPos := 1

	if filter.Profile != "" {
		query += fmt.Sprintf(" AND profile = $%d", argPos)
		args = append(args, filter.Profile)
		argPos++
	}

	if filter.Provider != "" {
		query += fmt.Sprintf(" AND provider = $%d", argPos)
		args = append(args, filter.Provider)
	}

	if filter.EnabledOnly {
		query += " AND enabled"
	}

	query += " ORDER BY profile, provider, account_ref"

	rows, err := r.queryer(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked accounts: %w", err)
	}

	accounts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*pocket.TrackedAccount, error) {
		var a pocket.TrackedAccount
		err := row.Scan(&a.Provider, &a.AccountRef, &a.Profile, &a.DisplayName, &a.Enabled, &a.CreatedAt)
		return &a, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan tracked accounts: %w", err)
	}
	return accounts, nil
}

// pocketConstraintError maps unique violations to domain errors
func pocketConstraintError(err error, msg string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "idx_pockets_profile_name":
			return pocket.ErrDuplicateName
		case "idx_pockets_profile_ref":
			return pocket.ErrRefInUse
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}
