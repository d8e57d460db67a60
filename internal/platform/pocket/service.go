package pocket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service provides pocket and mapping management for a profile.
// Every mapping mutation is idempotent and invalidates cached resolutions.
type Service struct {
	repo      Repository
	directory *Directory
}

// NewService creates a new pocket service
func NewService(repo Repository, directory *Directory) *Service {
	return &Service{repo: repo, directory: directory}
}

// Create creates a new pocket with a zero balance
func (s *Service) Create(ctx context.Context, p *Pocket) (*Pocket, error) {
	if err := p.ValidateCreate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	if _, err := s.repo.FindByName(ctx, p.Profile, p.Name); err == nil {
		return nil, ErrDuplicateName
	} else if !errors.Is(err, ErrPocketNotFound) {
		return nil, fmt.Errorf("failed to check pocket name: %w", err)
	}

	if p.ExternalRef != nil {
		if err := s.ensureRefFree(ctx, p.Profile, *p.ExternalRef, uuid.Nil); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	p.ID = uuid.New()
	p.Balance = decimal.Zero
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create pocket: %w", err)
	}

	s.directory.Invalidate(ctx, p.Profile)
	return p, nil
}

// Get retrieves a pocket and verifies it belongs to the profile
func (s *Service) Get(ctx context.Context, id uuid.UUID, profile string) (*Pocket, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Profile != profile {
		return nil, ErrWrongProfile
	}
	return p, nil
}

// List retrieves all pockets of a profile
func (s *Service) List(ctx context.Context, profile string) ([]*Pocket, error) {
	pockets, err := s.repo.ListByProfile(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to list pockets: %w", err)
	}
	return pockets, nil
}

// MapExternalRef points ref at a pocket. Mapping a ref to the pocket that
// already carries it is a no-op.
func (s *Service) MapExternalRef(ctx context.Context, profile string, pocketID uuid.UUID, ref string) (*Pocket, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrMissingRef
	}

	p, err := s.Get(ctx, pocketID, profile)
	if err != nil {
		return nil, err
	}

	if p.ExternalRef != nil && *p.ExternalRef == ref {
		return p, nil
	}

	if err := s.ensureRefFree(ctx, profile, ref, pocketID); err != nil {
		return nil, err
	}

	if err := s.repo.SetExternalRef(ctx, pocketID, &ref); err != nil {
		return nil, fmt.Errorf("failed to set external ref: %w", err)
	}
	p.ExternalRef = &ref

	s.afterMapping(ctx, ref, profile)
	return p, nil
}

// MapPot routes a provider pot to a pocket via the pot mapping table
func (s *Service) MapPot(ctx context.Context, provider, potRef, profile string, pocketID uuid.UUID) (*PotMapping, error) {
	potRef = strings.TrimSpace(potRef)
	if potRef == "" {
		return nil, ErrMissingRef
	}

	if _, err := s.Get(ctx, pocketID, profile); err != nil {
		return nil, err
	}

	m := &PotMapping{
		Provider:  provider,
		PotRef:    potRef,
		Profile:   profile,
		PocketID:  pocketID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.UpsertPotMapping(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to upsert pot mapping: %w", err)
	}

	s.afterMapping(ctx, potRef, profile)
	return m, nil
}

// Mappings is the diagnostic view of a profile's directory
type Mappings struct {
	Profile    string            `json:"profile"`
	Pockets    []*Pocket         `json:"pockets"`
	Pots       []*PotMapping     `json:"pot_mappings"`
	Accounts   []*TrackedAccount `json:"tracked_accounts"`
	Unresolved []*UnresolvedRef  `json:"unresolved_refs"`
}

// Inspect returns everything the directory knows about a profile
func (s *Service) Inspect(ctx context.Context, profile string) (*Mappings, error) {
	pockets, err := s.repo.ListByProfile(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to list pockets: %w", err)
	}

	pots, err := s.repo.ListPotMappings(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to list pot mappings: %w", err)
	}

	accounts, err := s.repo.ListTrackedAccounts(ctx, TrackedFilter{Profile: profile})
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked accounts: %w", err)
	}

	unresolved, err := s.repo.ListUnresolved(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved refs: %w", err)
	}

	return &Mappings{
		Profile:    profile,
		Pockets:    pockets,
		Pots:       pots,
		Accounts:   accounts,
		Unresolved: unresolved,
	}, nil
}

// TrackAccount registers a provider account for polling
func (s *Service) TrackAccount(ctx context.Context, a *TrackedAccount) error {
	if a.Profile == "" {
		return ErrMissingProfile
	}
	if a.AccountRef == "" {
		return ErrMissingRef
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return s.repo.UpsertTrackedAccount(ctx, a)
}

// TrackedAccounts lists tracked accounts matching the filter
func (s *Service) TrackedAccounts(ctx context.Context, filter TrackedFilter) ([]*TrackedAccount, error) {
	return s.repo.ListTrackedAccounts(ctx, filter)
}

func (s *Service) ensureRefFree(ctx context.Context, profile, ref string, owner uuid.UUID) error {
	existing, err := s.repo.FindByExternalRef(ctx, profile, ref)
	switch {
	case errors.Is(err, ErrPocketNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("failed to check external ref: %w", err)
	case existing.ID != owner:
		return ErrRefInUse
	}
	return nil
}

func (s *Service) afterMapping(ctx context.Context, ref, profile string) {
	if err := s.repo.ClearUnresolved(ctx, ref, profile); err != nil {
		s.directory.logger.Warn("failed to clear unresolved ref", "error", err, "external_ref", ref)
	}
	s.directory.Invalidate(ctx, profile)
}
