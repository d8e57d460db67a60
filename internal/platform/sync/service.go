package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kislikjeka/pocketflow/internal/ledger"
	"github.com/kislikjeka/pocketflow/internal/platform/ingest"
	"github.com/kislikjeka/pocketflow/internal/platform/pocket"
)

var (
	// ErrUnknownProvider is returned for providers without a registered client
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrNoTrackedAccounts is returned when a profile tracks no account at the provider
	ErrNoTrackedAccounts = errors.New("no tracked accounts")
	// ErrInvalidWindow is returned when a replay window is empty
	ErrInvalidWindow = errors.New("invalid replay window")
	// ErrAccountBusy is reported for an account another sync is already fetching
	ErrAccountBusy = errors.New("account sync already in progress")
	// ErrWebhooksUnsupported is returned by clients of poll-only providers
	ErrWebhooksUnsupported = errors.New("provider does not support webhooks")
)

// ItemFailure is one non-blocking failure in a sync report
type ItemFailure struct {
	AccountRef   string `json:"account_ref"`
	ProviderTxID string `json:"provider_tx_id,omitempty"`
	Error        string `json:"error"`
}

// SyncReport summarizes a manual sync or a replay
type SyncReport struct {
	Provider   string        `json:"provider"`
	Profile    string        `json:"profile"`
	Accounts   int           `json:"accounts"`
	Inserted   int           `json:"inserted"`
	Duplicates int           `json:"duplicates"`
	Failures   []ItemFailure `json:"failures"`
}

func (r *SyncReport) add(accountRef string, result *ingest.Result) {
	ins, dup, _ := result.Counts()
	r.Inserted += ins
	r.Duplicates += dup
	for _, it := range result.Items {
		if it.Status == ledger.StatusError {
			r.Failures = append(r.Failures, ItemFailure{AccountRef: accountRef, ProviderTxID: it.ProviderTxID, Error: it.Error})
		}
	}
}

// Service polls bank providers and runs manual syncs and replays
type Service struct {
	config     *Config
	clients    map[string]ProviderClient
	tokens     TokenSource
	accounts   AccountRepository
	watermarks WatermarkRepository
	ingester   Ingester
	logger     *slog.Logger
	now        func() time.Time

	wg       sync.WaitGroup
	stopCh   chan struct{}
	mu       sync.Mutex
	running  bool

	flightMu sync.Mutex
	inFlight map[string]struct{}
}

// NewService creates a new sync service
func NewService(
	config *Config,
	clients []ProviderClient,
	tokens TokenSource,
	accounts AccountRepository,
	watermarks WatermarkRepository,
	ingester Ingester,
	logger *slog.Logger,
) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	_ = config.Validate()

	byProvider := make(map[string]ProviderClient, len(clients))
	for _, c := range clients {
		byProvider[c.Provider()] = c
	}

	return &Service{
		config:     config,
		clients:    byProvider,
		tokens:     tokens,
		accounts:   accounts,
		watermarks: watermarks,
		ingester:   ingester,
		logger:     logger.With("service", "sync"),
		now:        func() time.Time { return time.Now().UTC() },
		stopCh:     make(chan struct{}),
		inFlight:   make(map[string]struct{}),
	}
}

// Client returns the provider client
func (s *Service) Client(provider string) (ProviderClient, error) {
	c, ok := s.clients[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return c, nil
}

// Providers lists providers with a registered client
func (s *Service) Providers() []string {
	out := make([]string, 0, len(s.clients))
	for p := range s.clients {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Run starts the background polling loop
func (s *Service) Run(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info("sync service is disabled")
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting sync service",
		"poll_interval", s.config.PollInterval,
		"concurrent_accounts", s.config.ConcurrentAccounts,
		"providers", s.Providers())

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	// Do an initial poll immediately
	s.PollAll(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync service stopping (context done)")
			s.Stop()
			return
		case <-s.stopCh:
			s.logger.Info("sync service stopping (stop signal)")
			return
		case <-ticker.C:
			s.PollAll(ctx)
		}
	}
}

// Stop stops the polling loop and waits for in-flight accounts
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	close(s.stopCh)
	s.wg.Wait()
	s.running = false
}

// PollAll polls every enabled tracked account once. One account's failure
// never stops the others.
func (s *Service) PollAll(ctx context.Context) {
	accounts, err := s.accounts.ListTrackedAccounts(ctx, pocket.TrackedFilter{EnabledOnly: true})
	if err != nil {
		s.logger.Error("failed to list tracked accounts", "error", err)
		return
	}

	if len(accounts) == 0 {
		s.logger.Debug("no tracked accounts to poll")
		return
	}

	s.logger.Info("polling accounts", "count", len(accounts))

	// Use semaphore for concurrency control
	sem := make(chan struct{}, s.config.ConcurrentAccounts)
	var cycle sync.WaitGroup

	for _, a := range accounts {
		select {
		case <-ctx.Done():
			cycle.Wait()
			return
		case sem <- struct{}{}:
		}

		s.wg.Add(1)
		cycle.Add(1)
		go func(a *pocket.TrackedAccount) {
			defer s.wg.Done()
			defer cycle.Done()
			defer func() { <-sem }()

			if err := s.PollAccount(ctx, a); err != nil {
				s.logger.Error("failed to poll account",
					"provider", a.Provider,
					"account_ref", a.AccountRef,
					"profile", a.Profile,
					"error", err)
			}
		}(a)
	}

	cycle.Wait()
}

// PollAccount runs one poll cycle for an account. The watermark advances to
// the cycle start only when the fetch succeeded and every event committed.
func (s *Service) PollAccount(ctx context.Context, a *pocket.TrackedAccount) error {
	key := flightKey(a)
	if !s.claim(key) {
		s.logger.Debug("account already being polled, skipping", "account_ref", a.AccountRef)
		return nil
	}
	defer s.release(key)

	client, err := s.Client(a.Provider)
	if err != nil {
		return err
	}

	cycleStart := s.now()
	since := cycleStart.Add(-s.config.InitialLookback)

	wm, err := s.watermarks.GetWatermark(ctx, a.Provider, a.AccountRef, a.Profile)
	if err != nil {
		return fmt.Errorf("failed to load watermark: %w", err)
	}
	if wm != nil {
		since = wm.Watermark.Add(-s.config.Overlap)
	}

	events, err := s.fetch(ctx, client, a, since, cycleStart)
	if err != nil {
		s.recordError(ctx, a, err)
		return fmt.Errorf("failed to fetch events: %w", err)
	}

	result := s.ingester.IngestEvents(ctx, prepare(events, a.Profile, ledger.SourcePoll))
	ins, dup, failed := result.Counts()

	if result.CommitFailed() {
		err := fmt.Errorf("%w: %d of %d events not committed", ledger.ErrCommitFailure, failed, len(events))
		s.recordError(ctx, a, err)
		return err
	}

	if err := s.watermarks.AdvanceWatermark(ctx, a.Provider, a.AccountRef, a.Profile, cycleStart); err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}

	s.logger.Info("account poll completed",
		"provider", a.Provider,
		"account_ref", a.AccountRef,
		"profile", a.Profile,
		"fetched", len(events),
		"inserted", ins,
		"duplicates", dup,
		"failed", failed,
		"watermark", cycleStart)

	return nil
}

// SyncNow fetches the last ManualLookback of every tracked account of the
// profile at the provider. Failures are reported, never fatal.
func (s *Service) SyncNow(ctx context.Context, profile, provider string) (*SyncReport, error) {
	until := s.now()
	return s.window(ctx, profile, provider, until.Add(-s.config.ManualLookback), until, ledger.SourceManual)
}

// Replay re-ingests [from, to) for the profile's accounts at the provider
func (s *Service) Replay(ctx context.Context, profile, provider string, from, to time.Time) (*SyncReport, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", ErrInvalidWindow)
	}
	return s.window(ctx, profile, provider, from, to, ledger.SourceReplay)
}

func (s *Service) window(ctx context.Context, profile, provider string, since, until time.Time, source ledger.Source) (*SyncReport, error) {
	client, err := s.Client(provider)
	if err != nil {
		return nil, err
	}

	accounts, err := s.accounts.ListTrackedAccounts(ctx, pocket.TrackedFilter{
		Profile:     profile,
		Provider:    provider,
		EnabledOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoTrackedAccounts, profile, provider)
	}

	report := &SyncReport{Provider: provider, Profile: profile, Accounts: len(accounts), Failures: []ItemFailure{}}

	for _, a := range accounts {
		s.windowAccount(ctx, client, a, since, until, source, report)
	}

	s.logger.Info("sync completed",
		"provider", provider,
		"profile", profile,
		"source", source,
		"inserted", report.Inserted,
		"duplicates", report.Duplicates,
		"failures", len(report.Failures))

	return report, nil
}

// windowAccount fetches one account for a manual sync or replay and adds
// the outcome to report. An account another sync holds is reported busy.
func (s *Service) windowAccount(ctx context.Context, client ProviderClient, a *pocket.TrackedAccount, since, until time.Time, source ledger.Source, report *SyncReport) {
	key := flightKey(a)
	if !s.claim(key) {
		s.logger.Info("account already being synced, skipping", "account_ref", a.AccountRef, "source", source)
		report.Failures = append(report.Failures, ItemFailure{AccountRef: a.AccountRef, Error: ErrAccountBusy.Error()})
		return
	}
	defer s.release(key)

	events, err := s.fetch(ctx, client, a, since, until)
	if err != nil {
		s.logger.Warn("sync fetch failed",
			"provider", a.Provider,
			"account_ref", a.AccountRef,
			"profile", a.Profile,
			"source", source,
			"error", err)
		report.Failures = append(report.Failures, ItemFailure{AccountRef: a.AccountRef, Error: err.Error()})
		return
	}

	report.add(a.AccountRef, s.ingester.IngestEvents(ctx, prepare(events, report.Profile, source)))
}

// fetch lists events with retry. A rejected token is refreshed once and the
// fetch retried once more.
func (s *Service) fetch(ctx context.Context, client ProviderClient, a *pocket.TrackedAccount, since, until time.Time) ([]ledger.Event, error) {
	token, err := s.tokens.Token(ctx, a.Provider, a.Profile)
	if err != nil {
		return nil, err
	}

	list := func(token string) ([]ledger.Event, error) {
		var events []ledger.Event
		err := WithRetry(ctx, s.config.Retry, func(ctx context.Context) error {
			var err error
			events, err = client.ListEvents(ctx, token, a.AccountRef, since, until)
			return err
		})
		return events, err
	}

	events, err := list(token)
	if !errors.Is(err, ledger.ErrTokenExpired) {
		return events, err
	}

	s.logger.Info("access token rejected, refreshing", "provider", a.Provider, "profile", a.Profile)
	token, err = s.tokens.Refresh(ctx, a.Provider, a.Profile)
	if err != nil {
		return nil, err
	}

	events, err = list(token)
	if errors.Is(err, ledger.ErrTokenExpired) {
		return nil, fmt.Errorf("%w: token rejected after refresh", ledger.ErrExpiredCredential)
	}
	return events, err
}

func (s *Service) recordError(ctx context.Context, a *pocket.TrackedAccount, cause error) {
	if err := s.watermarks.RecordError(ctx, a.Provider, a.AccountRef, a.Profile, cause.Error()); err != nil {
		s.logger.Error("failed to record poll error", "account_ref", a.AccountRef, "error", err)
	}
}

func flightKey(a *pocket.TrackedAccount) string {
	return a.Provider + ":" + a.Profile + ":" + a.AccountRef
}

// claim marks an account as being fetched. Polls, manual syncs and replays
// share the set, so an account is never fetched twice at once.
func (s *Service) claim(key string) bool {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()
	if _, busy := s.inFlight[key]; busy {
		return false
	}
	s.inFlight[key] = struct{}{}
	return true
}

func (s *Service) release(key string) {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()
	delete(s.inFlight, key)
}

// prepare stamps the adapter source and profile on fetched events
func prepare(events []ledger.Event, profile string, source ledger.Source) []ledger.Event {
	for i := range events {
		events[i].ReceivedVia = source
		if events[i].Profile == "" {
			events[i].Profile = profile
		}
	}
	return events
}
