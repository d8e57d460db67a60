package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kislikjeka/pocketflow/internal/ledger"
	"github.com/kislikjeka/pocketflow/internal/platform/pocket"
	"github.com/kislikjeka/pocketflow/internal/platform/sync"
)

// Service runs the operator commands. Every command is idempotent.
type Service struct {
	pockets    Pockets
	syncer     Syncer
	tokens     sync.TokenSource
	balances   BalanceVerifier
	watermarks WatermarkLister
	baseURL    string
	logger     *slog.Logger
}

// NewService creates the admin service. watermarks may be nil.
func NewService(
	pockets Pockets,
	syncer Syncer,
	tokens sync.TokenSource,
	balances BalanceVerifier,
	watermarks WatermarkLister,
	publicBaseURL string,
	logger *slog.Logger,
) *Service {
	return &Service{
		pockets:    pockets,
		syncer:     syncer,
		tokens:     tokens,
		balances:   balances,
		watermarks: watermarks,
		baseURL:    strings.TrimRight(publicBaseURL, "/"),
		logger:     logger.With("service", "admin"),
	}
}

// Inspection is the operator view of a profile's directory and poll state
type Inspection struct {
	*pocket.Mappings
	Watermarks []*sync.Watermark `json:"watermarks"`
}

// InspectMappings returns pockets with refs, pot mappings, tracked
// accounts, unresolved refs and watermarks of a profile
func (s *Service) InspectMappings(ctx context.Context, profile string) (*Inspection, error) {
	m, err := s.pockets.Inspect(ctx, profile)
	if err != nil {
		return nil, err
	}

	out := &Inspection{Mappings: m, Watermarks: []*sync.Watermark{}}
	if s.watermarks != nil {
		if out.Watermarks, err = s.watermarks.ListWatermarks(ctx, profile); err != nil {
			return nil, fmt.Errorf("failed to list watermarks: %w", err)
		}
	}
	return out, nil
}

// CreatePocket creates a pocket, optionally carrying an external ref
func (s *Service) CreatePocket(ctx context.Context, profile, name string, pocketType pocket.Type, ref string) (*pocket.Pocket, error) {
	p := &pocket.Pocket{Profile: profile, Name: strings.TrimSpace(name), Type: pocketType}
	if ref = strings.TrimSpace(ref); ref != "" {
		p.ExternalRef = &ref
	}

	created, err := s.pockets.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	s.logger.Info("pocket created", "profile", profile, "pocket_id", created.ID, "name", created.Name)
	return created, nil
}

// MapExternalRef points a provider account ref at a pocket
func (s *Service) MapExternalRef(ctx context.Context, profile string, pocketID uuid.UUID, ref string) (*pocket.Pocket, error) {
	p, err := s.pockets.MapExternalRef(ctx, profile, pocketID, ref)
	if err != nil {
		return nil, err
	}
	s.logger.Info("external ref mapped", "profile", profile, "pocket_id", pocketID, "external_ref", ref)
	return p, nil
}

// MapPot routes a provider pot to a pocket
func (s *Service) MapPot(ctx context.Context, profile, provider, potRef string, pocketID uuid.UUID) (*pocket.PotMapping, error) {
	m, err := s.pockets.MapPot(ctx, provider, potRef, profile, pocketID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("pot mapped", "profile", profile, "provider", provider, "pot_ref", potRef, "pocket_id", pocketID)
	return m, nil
}

// SeedReport summarizes a SeedAccounts run
type SeedReport struct {
	Provider       string   `json:"provider"`
	Profile        string   `json:"profile"`
	Tracked        []string `json:"tracked"`
	PocketsCreated []string `json:"pockets_created"`
	PotsMapped     []string `json:"pots_mapped"`
	Skipped        []string `json:"skipped"`
}

// SeedAccounts tracks every open provider account for polling and gives
// each unmapped pot a pocket named after it
func (s *Service) SeedAccounts(ctx context.Context, profile, provider string) (*SeedReport, error) {
	client, err := s.syncer.Client(provider)
	if err != nil {
		return nil, err
	}

	var accounts []sync.ProviderAccount
	err = s.withToken(ctx, provider, profile, func(token string) error {
		var err error
		accounts, err = client.ListAccounts(ctx, token)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list provider accounts: %w", err)
	}

	current, err := s.pockets.Inspect(ctx, profile)
	if err != nil {
		return nil, err
	}
	known := knownRefs(current)
	names := make(map[string]bool, len(current.Pockets))
	for _, p := range current.Pockets {
		names[strings.ToLower(p.Name)] = true
	}

	report := &SeedReport{
		Provider:       provider,
		Profile:        profile,
		Tracked:        []string{},
		PocketsCreated: []string{},
		PotsMapped:     []string{},
		Skipped:        []string{},
	}

	for _, a := range accounts {
		if a.Closed {
			report.Skipped = append(report.Skipped, a.Ref.ID)
			continue
		}

		switch a.Ref.Kind {
		case ledger.RefKindPot:
			if known[a.Ref.ID] {
				report.Skipped = append(report.Skipped, a.Ref.ID)
				continue
			}
			name := pocketName(a.Name, provider, names)
			p, err := s.pockets.Create(ctx, &pocket.Pocket{Profile: profile, Name: name, Type: pocket.TypeSavings})
			if err != nil {
				return report, fmt.Errorf("failed to create pocket for pot %s: %w", a.Ref.ID, err)
			}
			names[strings.ToLower(name)] = true
			report.PocketsCreated = append(report.PocketsCreated, name)

			if _, err := s.pockets.MapPot(ctx, provider, a.Ref.ID, profile, p.ID); err != nil {
				return report, fmt.Errorf("failed to map pot %s: %w", a.Ref.ID, err)
			}
			report.PotsMapped = append(report.PotsMapped, a.Ref.ID)

		default:
			if err := s.pockets.TrackAccount(ctx, &pocket.TrackedAccount{
				Provider:    provider,
				AccountRef:  a.Ref.ID,
				Profile:     profile,
				DisplayName: a.Name,
				Enabled:     true,
			}); err != nil {
				return report, fmt.Errorf("failed to track account %s: %w", a.Ref.ID, err)
			}
			report.Tracked = append(report.Tracked, a.Ref.ID)
		}
	}

	s.logger.Info("accounts seeded",
		"profile", profile,
		"provider", provider,
		"tracked", len(report.Tracked),
		"pockets_created", len(report.PocketsCreated))
	return report, nil
}

func knownRefs(m *pocket.Mappings) map[string]bool {
	known := make(map[string]bool)
	for _, p := range m.Pockets {
		if p.ExternalRef != nil {
			known[*p.ExternalRef] = true
		}
	}
	for _, pm := range m.Pots {
		known[pm.PotRef] = true
	}
	return known
}

// pocketName picks a free pocket name for a pot
func pocketName(potName, provider string, taken map[string]bool) string {
	name := strings.TrimSpace(potName)
	if name == "" {
		name = "Pot"
	}
	if !taken[strings.ToLower(name)] {
		return name
	}
	candidate := fmt.Sprintf("%s (%s)", name, provider)
	for i := 2; taken[strings.ToLower(candidate)]; i++ {
		candidate = fmt.Sprintf("%s (%s %d)", name, provider, i)
	}
	return candidate
}

// WebhookReport summarizes a RegisterWebhooks run
type WebhookReport struct {
	Provider    string   `json:"provider"`
	Profile     string   `json:"profile"`
	URL         string   `json:"url"`
	Registered  []string `json:"registered"`
	Unsupported bool     `json:"unsupported"`
}

// WebhookURL is the endpoint a provider delivers a profile's events to
func (s *Service) WebhookURL(provider, profile string) string {
	return fmt.Sprintf("%s/webhooks/%s/%s", s.baseURL, url.PathEscape(provider), url.PathEscape(profile))
}

// RegisterWebhooks registers the webhook endpoint for every tracked account
func (s *Service) RegisterWebhooks(ctx context.Context, profile, provider string) (*WebhookReport, error) {
	client, err := s.syncer.Client(provider)
	if err != nil {
		return nil, err
	}

	accounts, err := s.pockets.TrackedAccounts(ctx, pocket.TrackedFilter{Profile: profile, Provider: provider, EnabledOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", sync.ErrNoTrackedAccounts, profile, provider)
	}

	report := &WebhookReport{Provider: provider, Profile: profile, URL: s.WebhookURL(provider, profile), Registered: []string{}}
	for _, a := range accounts {
		err := s.withToken(ctx, provider, profile, func(token string) error {
			return client.RegisterWebhook(ctx, token, a.AccountRef, report.URL)
		})
		if errors.Is(err, sync.ErrWebhooksUnsupported) {
			report.Unsupported = true
			return report, nil
		}
		if err != nil {
			return report, fmt.Errorf("failed to register webhook for %s: %w", a.AccountRef, err)
		}
		report.Registered = append(report.Registered, a.AccountRef)
	}

	s.logger.Info("webhooks registered", "profile", profile, "provider", provider, "accounts", len(report.Registered))
	return report, nil
}

// ReplayWindow re-ingests [from, to) through the reconciler
func (s *Service) ReplayWindow(ctx context.Context, profile, provider string, from, to time.Time) (*sync.SyncReport, error) {
	return s.syncer.Replay(ctx, profile, provider, from, to)
}

// BalanceReport is the result of VerifyBalances
type BalanceReport struct {
	Profile    string                `json:"profile"`
	Checks     []ledger.BalanceCheck `json:"checks"`
	Mismatches int                   `json:"mismatches"`
}

// VerifyBalances compares every pocket balance with the sum of its rows.
// Mismatches are reported, not returned as an error.
func (s *Service) VerifyBalances(ctx context.Context, profile string) (*BalanceReport, error) {
	checks, err := s.balances.VerifyProfileBalances(ctx, profile)
	if err != nil && !errors.Is(err, ledger.ErrBalanceMismatch) {
		return nil, err
	}

	report := &BalanceReport{Profile: profile, Checks: checks}
	for _, c := range checks {
		if !c.Matches() {
			report.Mismatches++
		}
	}
	if report.Mismatches > 0 {
		s.logger.Error("pocket balance mismatch", "profile", profile, "mismatches", report.Mismatches)
	}
	return report, nil
}

// withToken runs fn with a valid token, refreshing once if it is rejected
func (s *Service) withToken(ctx context.Context, provider, profile string, fn func(token string) error) error {
	token, err := s.tokens.Token(ctx, provider, profile)
	if err != nil {
		return err
	}

	err = fn(token)
	if !errors.Is(err, ledger.ErrTokenExpired) {
		return err
	}

	token, err = s.tokens.Refresh(ctx, provider, profile)
	if err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrExpiredCredential, err)
	}
	return fn(token)
}
