package sync_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/kislikjeka/pocketflow/internal/ledger"
	"github.com/kislikjeka/pocketflow/internal/platform/ingest"
	"github.com/kislikjeka/pocketflow/internal/platform/pocket"
	pkgsync "github.com/kislikjeka/pocketflow/internal/platform/sync"
	"github.com/kislikjeka/pocketflow/pkg/logger"
)

// =============================================================================
// Mock ProviderClient
// =============================================================================

type MockProviderClient struct {
	mock.Mock
	provider string
}

func (m *MockProviderClient) Provider() string { return m.provider }

func (m *MockProviderClient) ListEvents(ctx context.Context, token, account string, since, until time.Time) ([]ledger.Event, error) {
	args := m.Called(ctx, token, account, since, until)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ledger.Event), args.Error(1)
}

func (m *MockProviderClient) ListAccounts(ctx context.Context, token string) ([]pkgsync.ProviderAccount, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]pkgsync.ProviderAccount), args.Error(1)
}

func (m *MockProviderClient) RegisterWebhook(ctx context.Context, token, account, url string) error {
	return m.Called(ctx, token, account, url).Error(0)
}

// =============================================================================
// Mock TokenSource
// =============================================================================

type MockTokenSource struct {
	mock.Mock
}

func (m *MockTokenSource) Token(ctx context.Context, provider, profile string) (string, error) {
	args := m.Called(ctx, provider, profile)
	return args.String(0), args.Error(1)
}

func (m *MockTokenSource) Refresh(ctx context.Context, provider, profile string) (string, error) {
	args := m.Called(ctx, provider, profile)
	return args.String(0), args.Error(1)
}

// =============================================================================
// Mock repositories
// =============================================================================

type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) ListTrackedAccounts(ctx context.Context, filter pocket.TrackedFilter) ([]*pocket.TrackedAccount, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*pocket.TrackedAccount), args.Error(1)
}

type MockWatermarkRepository struct {
	mock.Mock
}

func (m *MockWatermarkRepository) GetWatermark(ctx context.Context, provider, accountRef, profile string) (*pkgsync.Watermark, error) {
	args := m.Called(ctx, provider, accountRef, profile)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pkgsync.Watermark), args.Error(1)
}

func (m *MockWatermarkRepository) AdvanceWatermark(ctx context.Context, provider, accountRef, profile string, watermark time.Time) error {
	return m.Called(ctx, provider, accountRef, profile, watermark).Error(0)
}

func (m *MockWatermarkRepository) RecordError(ctx context.Context, provider, accountRef, profile, errMsg string) error {
	return m.Called(ctx, provider, accountRef, profile, errMsg).Error(0)
}

// =============================================================================
// Mock Reconciler
// =============================================================================

type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) Reconcile(ctx context.Context, ev ledger.Event) ledger.Outcome {
	return m.Called(ctx, ev).Get(0).(ledger.Outcome)
}

var (
	_ pkgsync.ProviderClient      = (*MockProviderClient)(nil)
	_ pkgsync.TokenSource         = (*MockTokenSource)(nil)
	_ pkgsync.AccountRepository   = (*MockAccountRepository)(nil)
	_ pkgsync.WatermarkRepository = (*MockWatermarkRepository)(nil)
	_ ingest.Reconciler           = (*MockReconciler)(nil)
)

// =============================================================================
// Test Helpers
// =============================================================================

type fixture struct {
	client     *MockProviderClient
	tokens     *MockTokenSource
	accounts   *MockAccountRepository
	watermarks *MockWatermarkRepository
	reconciler *MockReconciler
	svc        *pkgsync.Service
}

func newFixture() *fixture {
	f := &fixture{
		client:     &MockProviderClient{provider: "monzo"},
		tokens:     new(MockTokenSource),
		accounts:   new(MockAccountRepository),
		watermarks: new(MockWatermarkRepository),
		reconciler: new(MockReconciler),
	}

	log := logger.Discard().Logger
	config := pkgsync.DefaultConfig()
	config.Retry = pkgsync.RetryOptions{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

	ingester := ingest.NewService(ingest.NewRegistry(), f.reconciler, log)
	f.svc = pkgsync.NewService(config, []pkgsync.ProviderClient{f.client}, f.tokens, f.accounts, f.watermarks, ingester, log)
	return f
}

func trackedAccount(ref, profile string) *pocket.TrackedAccount {
	return &pocket.TrackedAccount{Provider: "monzo", AccountRef: ref, Profile: profile, Enabled: true}
}

func bankEvent(id string) ledger.Event {
	return ledger.Event{
		Provider:         "monzo",
		ProviderTxID:     id,
		RawAmount:        -184,
		Currency:         "GBP",
		Description:      "TESCO STORES",
		OccurredAt:       time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		SourceAccountRef: ledger.ExternalRef{ID: "acc_1", Kind: ledger.RefKindAccount},
	}
}

func hasTxID(id string) any {
	return mock.MatchedBy(func(ev ledger.Event) bool { return ev.ProviderTxID == id })
}
