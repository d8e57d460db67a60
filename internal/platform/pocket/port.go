package pocket

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for pocket directory data access
type Repository interface {
	// Create creates a new pocket
	Create(ctx context.Context, p *Pocket) error

	// GetByID retrieves a pocket by ID
	GetByID(ctx context.Context, id uuid.UUID) (*Pocket, error)

	// ListByProfile retrieves all pockets of a profile
	ListByProfile(ctx context.Context, profile string) ([]*Pocket, error)

	// FindByExternalRef finds the profile's pocket carrying ref
	FindByExternalRef(ctx context.Context, profile, ref string) (*Pocket, error)

	// FindByName finds the profile's pocket by name, case-insensitively
	FindByName(ctx context.Context, profile, name string) (*Pocket, error)

	// SetExternalRef sets or clears a pocket's external ref
	SetExternalRef(ctx context.Context, id uuid.UUID, ref *string) error

	// FindPotMapping looks up the secondary pot table
	FindPotMapping(ctx context.Context, provider, potRef, profile string) (*PotMapping, error)

	// UpsertPotMapping creates or repoints a pot mapping
	UpsertPotMapping(ctx context.Context, m *PotMapping) error

	// ListPotMappings lists a profile's pot mappings
	ListPotMappings(ctx context.Context, profile string) ([]*PotMapping, error)

	// RecordUnresolved upserts the remediation signal for a ref
	RecordUnresolved(ctx context.Context, provider, ref, profile string, seenAt time.Time) error

	// ListUnresolved lists a profile's unresolved refs
	ListUnresolved(ctx context.Context, profile string) ([]*UnresolvedRef, error)

	// ClearUnresolved removes the signal once a ref has been mapped
	ClearUnresolved(ctx context.Context, ref, profile string) error

	// UpsertTrackedAccount registers an account for polling
	UpsertTrackedAccount(ctx context.Context, a *TrackedAccount) error

	// ListTrackedAccounts lists tracked accounts matching the filter
	ListTrackedAccounts(ctx context.Context, filter TrackedFilter) ([]*TrackedAccount, error)
}

// Cache holds positive resolutions (explicit ref and pot mapping hits).
// Implementations must treat errors as misses.
type Cache interface {
	Get(ctx context.Context, key string) (uuid.UUID, bool, error)
	Set(ctx context.Context, key string, pocketID uuid.UUID) error
	InvalidateProfile(ctx context.Context, profile string) error
}
