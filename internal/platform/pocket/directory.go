package pocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kislikjeka/pocketflow/internal/ledger"
)

// Directory resolves external account and pot refs to pockets.
//
// Rules, first match wins:
// 1. the profile's pocket whose external ref equals the ref
// 2. for pots, the pot mapping table
// 3. the profile's configured default pocket, then its pocket named "General"
// 4. no pocket; the ref is recorded as unresolved
type Directory struct {
	repo     Repository
	cache    Cache
	defaults map[string]uuid.UUID
	logger   *slog.Logger
	now      func() time.Time
}

// NewDirectory creates a directory. cache may be nil. defaults maps a profile
// to an explicit fallback pocket tried before the name match.
func NewDirectory(repo Repository, cache Cache, defaults map[string]uuid.UUID, logger *slog.Logger) *Directory {
	if defaults == nil {
		defaults = map[string]uuid.UUID{}
	}
	return &Directory{
		repo:     repo,
		cache:    cache,
		defaults: defaults,
		logger:   logger.With("component", "pocket_directory"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var _ ledger.PocketResolver = (*Directory)(nil)

// CacheKey is the cache key of a ref resolution. It starts with the profile
// so a profile's entries can be invalidated together.
func CacheKey(profile, provider string, ref ledger.ExternalRef) string {
	return fmt.Sprintf("%s:%s:%s:%s", profile, provider, ref.Kind, ref.ID)
}

// Resolve maps a ref to a pocket id. A nil id with a nil error is a valid
// terminal state: the transaction is committed without a pocket.
func (d *Directory) Resolve(ctx context.Context, provider string, ref ledger.ExternalRef, profile string) (*uuid.UUID, error) {
	if ref.ID != "" {
		id, err := d.resolveExplicit(ctx, provider, ref, profile)
		if err != nil {
			return nil, err
		}
		if id != nil {
			return id, nil
		}
	}

	// Rule 3a: configured default
	if id, ok := d.defaults[profile]; ok {
		p, err := d.repo.GetByID(ctx, id)
		switch {
		case err == nil && p.Profile == profile:
			return &p.ID, nil
		case err == nil || errors.Is(err, ErrPocketNotFound):
			d.logger.Warn("configured default pocket unusable", "profile", profile, "pocket_id", id)
		default:
			return nil, fmt.Errorf("failed to load default pocket: %w", err)
		}
	}

	// Rule 3: fallback by name
	p, err := d.repo.FindByName(ctx, profile, FallbackName)
	switch {
	case err == nil:
		return &p.ID, nil
	case !errors.Is(err, ErrPocketNotFound):
		return nil, fmt.Errorf("failed to find fallback pocket: %w", err)
	}

	// Rule 4: unresolved
	d.raiseUnresolved(ctx, provider, ref, profile)
	return nil, nil
}

// resolveExplicit applies rules 1 and 2, serving hits from the cache.
func (d *Directory) resolveExplicit(ctx context.Context, provider string, ref ledger.ExternalRef, profile string) (*uuid.UUID, error) {
	key := CacheKey(profile, provider, ref)
	if d.cache != nil {
		id, ok, err := d.cache.Get(ctx, key)
		if err != nil {
			d.logger.Debug("directory cache read failed", "error", err)
		} else if ok {
			return &id, nil
		}
	}

	// Rule 1: explicit external ref
	p, err := d.repo.FindByExternalRef(ctx, profile, ref.ID)
	switch {
	case err == nil:
		d.remember(ctx, key, p.ID)
		return &p.ID, nil
	case !errors.Is(err, ErrPocketNotFound):
		return nil, fmt.Errorf("failed to find pocket by external ref: %w", err)
	}

	// Rule 2: pot mapping
	if ref.Kind == ledger.RefKindPot {
		m, err := d.repo.FindPotMapping(ctx, provider, ref.ID, profile)
		switch {
		case err == nil:
			d.remember(ctx, key, m.PocketID)
			return &m.PocketID, nil
		case !errors.Is(err, ErrMappingNotFound):
			return nil, fmt.Errorf("failed to find pot mapping: %w", err)
		}
	}

	return nil, nil
}

func (d *Directory) remember(ctx context.Context, key string, id uuid.UUID) {
	if d.cache == nil {
		return
	}
	if err := d.cache.Set(ctx, key, id); err != nil {
		d.logger.Debug("directory cache write failed", "error", err)
	}
}

// raiseUnresolved records the remediation signal. Failing to record it never
// fails resolution.
func (d *Directory) raiseUnresolved(ctx context.Context, provider string, ref ledger.ExternalRef, profile string) {
	d.logger.Warn("unresolved pocket",
		"error", ledger.ErrUnresolvedPocket,
		"provider", provider,
		"external_ref", ref.ID,
		"ref_kind", ref.Kind,
		"profile", profile,
	)

	if err := d.repo.RecordUnresolved(ctx, provider, ref.ID, profile, d.now()); err != nil {
		d.logger.Error("failed to record unresolved ref", "error", err, "provider", provider, "external_ref", ref.ID)
	}
}

// Invalidate drops cached resolutions for a profile after a mapping change.
func (d *Directory) Invalidate(ctx context.Context, profile string) {
	if d.cache == nil {
		return
	}
	if err := d.cache.InvalidateProfile(ctx, profile); err != nil {
		d.logger.Warn("directory cache invalidation failed", "error", err, "profile", profile)
	}
}
