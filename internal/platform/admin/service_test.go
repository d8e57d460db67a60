package admin_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kislikjeka/pocketflow/internal/ledger"
	"github.com/kislikjeka/pocketflow/internal/platform/admin"
	"github.com/kislikjeka/pocketflow/internal/platform/pocket"
	pkgsync "github.com/kislikjeka/pocketflow/internal/platform/sync"
	"github.com/kislikjeka/pocketflow/pkg/logger"
)

// =============================================================================
// Mocks
// =============================================================================

type MockPockets struct {
	mock.Mock
}

func (m *MockPockets) Create(ctx context.Context, p *pocket.Pocket) (*pocket.Pocket, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pocket.Pocket), args.Error(1)
}

func (m *MockPockets) MapExternalRef(ctx context.Context, profile string, pocketID uuid.UUID, ref string) (*pocket.Pocket, error) {
	args := m.Called(ctx, profile, pocketID, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pocket.Pocket), args.Error(1)
}

func (m *MockPockets) MapPot(ctx context.Context, provider, potRef, profile string, pocketID uuid.UUID) (*pocket.PotMapping, error) {
	args := m.Called(ctx, provider, potRef, profile, pocketID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pocket.PotMapping), args.Error(1)
}

func (m *MockPockets) Inspect(ctx context.Context, profile string) (*pocket.Mappings, error) {
	args := m.Called(ctx, profile)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pocket.Mappings), args.Error(1)
}

func (m *MockPockets) TrackAccount(ctx context.Context, a *pocket.TrackedAccount) error {
	return m.Called(ctx, a).Error(0)
}

func (m *MockPockets) TrackedAccounts(ctx context.Context, filter pocket.TrackedFilter) ([]*pocket.TrackedAccount, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*pocket.TrackedAccount), args.Error(1)
}

type MockSyncer struct {
	mock.Mock
}

func (m *MockSyncer) Client(provider string) (pkgsync.ProviderClient, error) {
	args := m.Called(provider)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pkgsync.ProviderClient), args.Error(1)
}

func (m *MockSyncer) Replay(ctx context.Context, profile, provider string, from, to time.Time) (*pkgsync.SyncReport, error) {
	args := m.Called(ctx, profile, provider, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pkgsync.SyncReport), args.Error(1)
}

type MockProviderClient struct {
	mock.Mock
}

func (m *MockProviderClient) Provider() string { return "monzo" }

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

type MockBalances struct {
	mock.Mock
}

func (m *MockBalances) VerifyProfileBalances(ctx context.Context, profile string) ([]ledger.BalanceCheck, error) {
	args := m.Called(ctx, profile)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ledger.BalanceCheck), args.Error(1)
}

type MockWatermarks struct {
	mock.Mock
}

func (m *MockWatermarks) ListWatermarks(ctx context.Context, profile string) ([]*pkgsync.Watermark, error) {
	args := m.Called(ctx, profile)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*pkgsync.Watermark), args.Error(1)
}

type fixture struct {
	pockets    *MockPockets
	syncer     *MockSyncer
	client     *MockProviderClient
	tokens     *MockTokenSource
	balances   *MockBalances
	watermarks *MockWatermarks
	svc        *admin.Service
}

func newFixture() *fixture {
	f := &fixture{
		pockets:    new(MockPockets),
		syncer:     new(MockSyncer),
		client:     new(MockProviderClient),
		tokens:     new(MockTokenSource),
		balances:   new(MockBalances),
		watermarks: new(MockWatermarks),
	}
	f.svc = admin.NewService(f.pockets, f.syncer, f.tokens, f.balances, f.watermarks,
		"https://budget.example.com/", logger.Discard().Logger)
	return f
}

func emptyMappings(profile string) *pocket.Mappings {
	return &pocket.Mappings{Profile: profile}
}

// =============================================================================
// SeedAccounts
// =============================================================================

func TestSeedAccounts_TracksAccountsAndCreatesPotPockets(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	potPocket := &pocket.Pocket{ID: uuid.New(), Name: "Holiday", Profile: "personal", Type: pocket.TypeSavings}

	f.syncer.On("Client", "monzo").Return(f.client, nil)
	f.tokens.On("Token", ctx, "monzo", "personal").Return("tok", nil)
	f.client.On("ListAccounts", ctx, "tok").Return([]pkgsync.ProviderAccount{
		{Ref: ledger.ExternalRef{ID: "acc_X", Kind: ledger.RefKindAccount}, Name: "Current account"},
		{Ref: ledger.ExternalRef{ID: "acc_old", Kind: ledger.RefKindAccount}, Name: "Old", Closed: true},
		{Ref: ledger.ExternalRef{ID: "pot_1", Kind: ledger.RefKindPot}, Name: "Holiday"},
	}, nil)
	f.pockets.On("Inspect", ctx, "personal").Return(emptyMappings("personal"), nil)
	f.pockets.On("TrackAccount", ctx, mock.MatchedBy(func(a *pocket.TrackedAccount) bool {
		return a.AccountRef == "acc_X" && a.Provider == "monzo" && a.Enabled
	})).Return(nil)
	f.pockets.On("Create", ctx, mock.MatchedBy(func(p *pocket.Pocket) bool {
		return p.Name == "Holiday" && p.Type == pocket.TypeSavings
	})).Return(potPocket, nil)
	f.pockets.On("MapPot", ctx, "monzo", "pot_1", "personal", potPocket.ID).
		Return(&pocket.PotMapping{PotRef: "pot_1", PocketID: potPocket.ID}, nil)

	report, err := f.svc.SeedAccounts(ctx, "personal", "monzo")

	require.NoError(t, err)
	assert.Equal(t, []string{"acc_X"}, report.Tracked)
	assert.Equal(t, []string{"Holiday"}, report.PocketsCreated)
	assert.Equal(t, []string{"pot_1"}, report.PotsMapped)
	assert.Equal(t, []string{"acc_old"}, report.Skipped)
	f.pockets.AssertExpectations(t)
}

func TestSeedAccounts_SkipsMappedPotsAndAvoidsNameClash(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	mapped := &pocket.Mappings{
		Profile: "personal",
		Pockets: []*pocket.Pocket{{ID: uuid.New(), Name: "Bills"}},
		Pots:    []*pocket.PotMapping{{Provider: "monzo", PotRef: "pot_1"}},
	}

	f.syncer.On("Client", "monzo").Return(f.client, nil)
	f.tokens.On("Token", ctx, "monzo", "personal").Return("tok", nil)
	f.client.On("ListAccounts", ctx, "tok").Return([]pkgsync.ProviderAccount{
		{Ref: ledger.ExternalRef{ID: "pot_1", Kind: ledger.RefKindPot}, Name: "Holiday"},
		{Ref: ledger.ExternalRef{ID: "pot_2", Kind: ledger.RefKindPot}, Name: "bills"},
	}, nil)
	f.pockets.On("Inspect", ctx, "personal").Return(mapped, nil)
	created := &pocket.Pocket{ID: uuid.New(), Name: "bills (monzo)"}
	f.pockets.On("Create", ctx, mock.MatchedBy(func(p *pocket.Pocket) bool {
		return p.Name == "bills (monzo)"
	})).Return(created, nil)
	f.pockets.On("MapPot", ctx, "monzo", "pot_2", "personal", created.ID).Return(&pocket.PotMapping{}, nil)

	report, err := f.svc.SeedAccounts(ctx, "personal", "monzo")

	require.NoError(t, err)
	assert.Equal(t, []string{"pot_1"}, report.Skipped)
	assert.Equal(t, []string{"bills (monzo)"}, report.PocketsCreated)
	f.pockets.AssertNotCalled(t, "MapPot", ctx, "monzo", "pot_1", mock.Anything, mock.Anything)
}

func TestSeedAccounts_RefreshesExpiredTokenOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	f.syncer.On("Client", "monzo").Return(f.client, nil)
	f.tokens.On("Token", ctx, "monzo", "personal").Return("old", nil)
	f.tokens.On("Refresh", ctx, "monzo", "personal").Return("new", nil)
	f.client.On("ListAccounts", ctx, "old").Return(nil, ledger.ErrTokenExpired)
	f.client.On("ListAccounts", ctx, "new").Return([]pkgsync.ProviderAccount{}, nil)
	f.pockets.On("Inspect", ctx, "personal").Return(emptyMappings("personal"), nil)

	report, err := f.svc.SeedAccounts(ctx, "personal", "monzo")

	require.NoError(t, err)
	assert.Empty(t, report.Tracked)
	f.tokens.AssertNumberOfCalls(t, "Refresh", 1)
}

func TestSeedAccounts_RefreshFailureIsExpiredCredential(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	f.syncer.On("Client", "monzo").Return(f.client, nil)
	f.tokens.On("Token", ctx, "monzo", "personal").Return("old", nil)
	f.tokens.On("Refresh", ctx, "monzo", "personal").Return("", fmt.Errorf("invalid_grant"))
	f.client.On("ListAccounts", ctx, "old").Return(nil, ledger.ErrTokenExpired)

	_, err := f.svc.SeedAccounts(ctx, "personal", "monzo")

	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrExpiredCredential)
}

func TestSeedAccounts_UnknownProvider(t *testing.T) {
	f := newFixture()
	f.syncer.On("Client", "revolut").Return(nil, pkgsync.ErrUnknownProvider)

	_, err := f.svc.SeedAccounts(context.Background(), "personal", "revolut")

	assert.ErrorIs(t, err, pkgsync.ErrUnknownProvider)
}

// =============================================================================
// RegisterWebhooks
// =============================================================================

func TestRegisterWebhooks_RegistersEveryTrackedAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	url := "https://budget.example.com/webhooks/monzo/personal"

	f.syncer.On("Client", "monzo").Return(f.client, nil)
	f.pockets.On("TrackedAccounts", ctx, pocket.TrackedFilter{Profile: "personal", Provider: "monzo", EnabledOnly: true}).
		Return([]*pocket.TrackedAccount{{AccountRef: "acc_X"}, {AccountRef: "acc_Y"}}, nil)
	f.tokens.On("Token", ctx, "monzo", "personal").Return("tok", nil)
	f.client.On("RegisterWebhook", ctx, "tok", "acc_X", url).Return(nil)
	f.client.On("RegisterWebhook", ctx, "tok", "acc_Y", url).Return(nil)

	report, err := f.svc.RegisterWebhooks(ctx, "personal", "monzo")

	require.NoError(t, err)
	assert.Equal(t, url, report.URL)
	assert.Equal(t, []string{"acc_X", "acc_Y"}, report.Registered)
	assert.False(t, report.Unsupported)
}

func TestRegisterWebhooks_UnsupportedProvider(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	f.syncer.On("Client", "plaid").Return(f.client, nil)
	f.pockets.On("TrackedAccounts", ctx, mock.Anything).Return([]*pocket.TrackedAccount{{AccountRef: "acc_P"}}, nil)
	f.tokens.On("Token", ctx, "plaid", "personal").Return("tok", nil)
	f.client.On("RegisterWebhook", ctx, "tok", "acc_P", mock.Anything).Return(pkgsync.ErrWebhooksUnsupported)

	report, err := f.svc.RegisterWebhooks(ctx, "personal", "plaid")

	require.NoError(t, err)
	assert.True(t, report.Unsupported)
	assert.Empty(t, report.Registered)
}

func TestRegisterWebhooks_NoTrackedAccounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	f.syncer.On("Client", "monzo").Return(f.client, nil)
	f.pockets.On("TrackedAccounts", ctx, mock.Anything).Return([]*pocket.TrackedAccount{}, nil)

	_, err := f.svc.RegisterWebhooks(ctx, "personal", "monzo")

	assert.ErrorIs(t, err, pkgsync.ErrNoTrackedAccounts)
}

func TestWebhookURL_EscapesSegments(t *testing.T) {
	f := newFixture()
	assert.Equal(t, "https://budget.example.com/webhooks/monzo/joint%20account", f.svc.WebhookURL("monzo", "joint account"))
}

// =============================================================================
// VerifyBalances / InspectMappings / ReplayWindow
// =============================================================================

func TestVerifyBalances_ReportsMismatchWithoutError(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	checks := []ledger.BalanceCheck{
		{PocketID: uuid.New(), Stored: decimal.RequireFromString("10.00"), Computed: decimal.RequireFromString("10.00")},
		{PocketID: uuid.New(), Stored: decimal.RequireFromString("5.00"), Computed: decimal.RequireFromString("4.00")},
	}
	f.balances.On("VerifyProfileBalances", ctx, "personal").
		Return(checks, fmt.Errorf("%w: 1 of 2 pockets", ledger.ErrBalanceMismatch))

	report, err := f.svc.VerifyBalances(ctx, "personal")

	require.NoError(t, err)
	assert.Equal(t, 1, report.Mismatches)
	assert.Len(t, report.Checks, 2)
}

func TestVerifyBalances_StorageErrorIsReturned(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.balances.On("VerifyProfileBalances", ctx, "personal").Return(nil, fmt.Errorf("connection refused"))

	_, err := f.svc.VerifyBalances(ctx, "personal")

	assert.Error(t, err)
}

func TestInspectMappings_IncludesWatermarks(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	wm := []*pkgsync.Watermark{{Provider: "monzo", AccountRef: "acc_X", Profile: "personal"}}

	f.pockets.On("Inspect", ctx, "personal").Return(emptyMappings("personal"), nil)
	f.watermarks.On("ListWatermarks", ctx, "personal").Return(wm, nil)

	out, err := f.svc.InspectMappings(ctx, "personal")

	require.NoError(t, err)
	assert.Equal(t, "personal", out.Profile)
	assert.Equal(t, wm, out.Watermarks)
}

func TestReplayWindow_DelegatesToSyncer(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(48 * time.Hour)
	want := &pkgsync.SyncReport{Provider: "monzo", Profile: "personal"}

	f.syncer.On("Replay", ctx, "personal", "monzo", from, to).Return(want, nil)

	got, err := f.svc.ReplayWindow(ctx, "personal", "monzo", from, to)

	require.NoError(t, err)
	assert.Same(t, want, got)
}
