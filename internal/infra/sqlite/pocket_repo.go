package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/kislikjeka/pocketflow/internal/platform/pocket"
	"github.com/kislikjeka/pocketflow/pkg/money"
)

// PocketRepository implements pocket.Repository on SQLite
type PocketRepository struct {
	txManager
}

// NewPocketRepository creates a new SQLite pocket repository
func NewPocketRepository(db *DB) *PocketRepository {
	return &PocketRepository{txManager{db: db.DB}}
}

var _ pocket.Repository = (*PocketRepository)(nil)

const pocketColumns = `id, name, profile, type, balance_minor, external_ref, created_at, updated_at`

// Create creates a new pocket
func (r *PocketRepository) Create(ctx context.Context, p *pocket.Pocket) error {
	query := `INSERT INTO pockets (` + pocketColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.queryer(ctx).ExecContext(ctx, query,
		p.ID.String(),
		p.Name,
		p.Profile,
		string(p.Type),
		money.ToMinorUnits(p.Balance),
		p.ExternalRef,
		utc(p.CreatedAt),
		utc(p.UpdatedAt),
	)
	if err != nil {
		return pocketConstraintError(err, "failed to create pocket")
	}
	return nil
}

// GetByID retrieves a pocket by ID
func (r *PocketRepository) GetByID(ctx context.Context, id uuid.UUID) (*pocket.Pocket, error) {
	return r.getOne(ctx, `SELECT `+pocketColumns+` FROM pockets WHERE id = ?`, id.String())
}

// ListByProfile retrieves all pockets of a profile
func (r *PocketRepository) ListByProfile(ctx context.Context, profile string) ([]*pocket.Pocket, error) {
	rows, err := r.queryer(ctx).QueryContext(ctx,
		`SELECT `+pocketColumns+` FROM pockets WHERE profile = ? ORDER BY name`, profile)
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
	return pockets, rows.Err()
}

// FindByExternalRef finds the profile's pocket carrying ref
func (r *PocketRepository) FindByExternalRef(ctx context.Context, profile, ref string) (*pocket.Pocket, error) {
	return r.getOne(ctx,
		`SELECT `+pocketColumns+` FROM pockets WHERE profile = ? AND external_ref = ?`, profile, ref)
}

// FindByName finds the profile's pocket by name, case-insensitively
func (r *PocketRepository) FindByName(ctx context.Context, profile, name string) (*pocket.Pocket, error) {
	return r.getOne(ctx,
		`SELECT `+pocketColumns+` FROM pockets WHERE profile = ? AND name = ? COLLATE NOCASE`, profile, name)
}

func (r *PocketRepository) getOne(ctx context.Context, query string, args ...any) (*pocket.Pocket, error) {
	p, err := scanPocket(r.queryer(ctx).QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, pocket.ErrPocketNotFound
		}
		return nil, fmt.Errorf("failed to get pocket: %w", err)
	}
	return p, nil
}

func scanPocket(row scanner) (*pocket.Pocket, error) {
	var p pocket.Pocket
	var id string
	var balanceMinor int64
	var ref sql.NullString

	err := row.Scan(&id, &p.Name, &p.Profile, &p.Type, &balanceMinor, &ref, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid pocket ID: %w", err)
	}
	p.Balance = money.FromMinorUnits(balanceMinor)
	p.ExternalRef = nullString(ref)
	return &p, nil
}

// SetExternalRef sets or clears a pocket's external ref
func (r *PocketRepository) SetExternalRef(ctx context.Context, id uuid.UUID, ref *string) error {
	res, err := r.queryer(ctx).ExecContext(ctx,
		`UPDATE pockets SET external_ref = ?, updated_at = ? WHERE id = ?`,
		ref, utc(time.Now()), id.String())
	if err != nil {
		return pocketConstraintError(err, "failed to set external ref")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pocket.ErrPocketNotFound
	}
	return nil
}

// FindPotMapping looks up the secondary pot table
func (r *PocketRepository) FindPotMapping(ctx context.Context, provider, potRef, profile string) (*pocket.PotMapping, error) {
	query := `
		SELECT provider, pot_ref, profile, pocket_id, created_at
		FROM pot_mappings
		WHERE provider = ? AND pot_ref = ? AND profile = ?
	`

	m, err := scanPotMapping(r.queryer(ctx).QueryRowContext(ctx, query, provider, potRef, profile))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, pocket.ErrMappingNotFound
		}
		return nil, fmt.Errorf("failed to get pot mapping: %w", err)
	}
	return m, nil
}

func scanPotMapping(row scanner) (*pocket.PotMapping, error) {
	var m pocket.PotMapping
	var pocketID string
	if err := row.Scan(&m.Provider, &m.PotRef, &m.Profile, &pocketID, &m.CreatedAt); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(pocketID)
	if err != nil {
		return nil, fmt.Errorf("invalid pocket ID: %w", err)
	}
	m.PocketID = id
	return &m, nil
}

// UpsertPotMapping creates or repoints a pot mapping
func (r *PocketRepository) UpsertPotMapping(ctx context.Context, m *pocket.PotMapping) error {
	query := `
		INSERT INTO pot_mappings (provider, pot_ref, profile, pocket_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (provider, pot_ref, profile) DO UPDATE SET pocket_id = excluded.pocket_id
	`

	if _, err := r.queryer(ctx).ExecContext(ctx, query,
		m.Provider, m.PotRef, m.Profile, m.PocketID.String(), utc(m.CreatedAt)); err != nil {
		return fmt.Errorf("failed to upsert pot mapping: %w", err)
	}
	return nil
}

// ListPotMappings lists a profile's pot mappings
func (r *PocketRepository) ListPotMappings(ctx context.Context, profile string) ([]*pocket.PotMapping, error) {
	rows, err := r.queryer(ctx).QueryContext(ctx, `
		SELECT provider, pot_ref, profile, pocket_id, created_at
		FROM pot_mappings
		WHERE profile = ?
		ORDER BY provider, pot_ref
	`, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to list pot mappings: %w", err)
	}
	defer rows.Close()

	mappings := make([]*pocket.PotMapping, 0)
	for rows.Next() {
		m, err := scanPotMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pot mapping: %w", err)
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// RecordUnresolved upserts the remediation signal for a ref
func (r *PocketRepository) RecordUnresolved(ctx context.Context, provider, ref, profile string, seenAt time.Time) error {
	query := `
		INSERT INTO unresolved_refs (provider, external_ref, profile, first_seen_at, last_seen_at, occurrences)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT (provider, external_ref, profile) DO UPDATE SET
			last_seen_at = excluded.last_seen_at,
			occurrences = unresolved_refs.occurrences + 1
	`

	if _, err := r.queryer(ctx).ExecContext(ctx, query, provider, ref, profile, utc(seenAt), utc(seenAt)); err != nil {
		return fmt.Errorf("failed to record unresolved ref: %w", err)
	}
	return nil
}

// ListUnresolved lists a profile's unresolved refs, most recent first
func (r *PocketRepository) ListUnresolved(ctx context.Context, profile string) ([]*pocket.UnresolvedRef, error) {
	rows, err := r.queryer(ctx).QueryContext(ctx, `
		SELECT provider, external_ref, profile, first_seen_at, last_seen_at, occurrences
		FROM unresolved_refs
		WHERE profile = ?
		ORDER BY last_seen_at DESC
	`, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved refs: %w", err)
	}
	defer rows.Close()

	refs := make([]*pocket.UnresolvedRef, 0)
	for rows.Next() {
		var u pocket.UnresolvedRef
		if err := rows.Scan(&u.Provider, &u.ExternalRef, &u.Profile, &u.FirstSeenAt, &u.LastSeenAt, &u.Occurrences); err != nil {
			return nil, fmt.Errorf("failed to scan unresolved ref: %w", err)
		}
		u.FirstSeenAt = u.FirstSeenAt.UTC()
		u.LastSeenAt = u.LastSeenAt.UTC()
		refs = append(refs, &u)
	}
	return refs, rows.Err()
}

// ClearUnresolved removes the signal once a ref has been mapped
func (r *PocketRepository) ClearUnresolved(ctx context.Context, ref, profile string) error {
	if _, err := r.queryer(ctx).ExecContext(ctx,
		`DELETE FROM unresolved_refs WHERE external_ref = ? AND profile = ?`, ref, profile); err != nil {
		return fmt.Errorf("failed to clear unresolved ref: %w", err)
	}
	return nil
}

// UpsertTrackedAccount registers an account for polling
func (r *PocketRepository) UpsertTrackedAccount(ctx context.Context, a *pocket.TrackedAccount) error {
	query := `
		INSERT INTO tracked_accounts (provider, account_ref, profile, display_name, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, account_ref, profile) DO UPDATE SET
			display_name = excluded.display_name,
			enabled = excluded.enabled
	`

	if _, err := r.queryer(ctx).ExecContext(ctx, query,
		a.Provider, a.AccountRef, a.Profile, a.DisplayName, a.Enabled, utc(a.CreatedAt)); err != nil {
		return fmt.Errorf("failed to upsert tracked account: %w", err)
	}
	return nil
}

// ListTrackedAccounts lists tracked accounts matching the filter
func (r *PocketRepository) ListTrackedAccounts(ctx context.Context, filter pocket.TrackedFilter) ([]*pocket.TrackedAccount, error) {
	var where []string
	var args []any

	if filter.Profile != "" {
		where = append(where, "profile = ?")
		args = append(args, filter.Profile)
	}
	if filter.Provider != "" {
		where = append(where, "provider = ?")
		args = append(args, filter.Provider)
	}
	if filter.EnabledOnly {
		where = append(where, "enabled = 1")
	}

	query := `SELECT provider, account_ref, profile, display_name, enabled, created_at FROM tracked_accounts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY profile, provider, account_ref"

	rows, err := r.queryer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]*pocket.TrackedAccount, 0)
	for rows.Next() {
		var a pocket.TrackedAccount
		if err := rows.Scan(&a.Provider, &a.AccountRef, &a.Profile, &a.DisplayName, &a.Enabled, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tracked account: %w", err)
		}
		accounts = append(accounts, &a)
	}
	return accounts, rows.Err()
}

// pocketConstraintError maps unique violations to domain errors. SQLite
// names the violated columns rather than the index.
func pocketConstraintError(err error, msg string) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		text := sqliteErr.Error()
		switch {
		case strings.Contains(text, "pockets.name"):
			return pocket.ErrDuplicateName
		case strings.Contains(text, "pockets.external_ref"):
			return pocket.ErrRefInUse
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}
