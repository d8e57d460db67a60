package ledger_test

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/kislikjeka/pocketflow/internal/ledger"
)

// =============================================================================
// Mock Repository
// =============================================================================

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) InsertIfAbsent(ctx context.Context, tx *ledger.Transaction) (bool, error) {
	args := m.Called(ctx, tx)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*ledger.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Transaction), args.Error(1)
}

func (m *MockRepository) GetByProviderTxID(ctx context.Context, provider, providerTxID string) (*ledger.Transaction, error) {
	args := m.Called(ctx, provider, providerTxID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Transaction), args.Error(1)
}

func (m *MockRepository) ListTransactions(ctx context.Context, filters ledger.TransactionFilters) ([]*ledger.Transaction, error) {
	args := m.Called(ctx, filters)
	return args.Get(0).([]*ledger.Transaction), args.Error(1)
}

func (m *MockRepository) GetPocketBalanceForUpdate(ctx context.Context, pocketID uuid.UUID) (decimal.Decimal, error) {
	args := m.Called(ctx, pocketID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockRepository) SetPocketBalance(ctx context.Context, pocketID uuid.UUID, balance decimal.Decimal) error {
	args := m.Called(ctx, pocketID, balance)
	return args.Error(0)
}

func (m *MockRepository) GetPocketBalance(ctx context.Context, pocketID uuid.UUID) (decimal.Decimal, error) {
	args := m.Called(ctx, pocketID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockRepository) SumPocketTransactions(ctx context.Context, pocketID uuid.UUID) (decimal.Decimal, error) {
	args := m.Called(ctx, pocketID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockRepository) ListProfilePocketIDs(ctx context.Context, profile string) ([]uuid.UUID, error) {
	args := m.Called(ctx, profile)
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockRepository) BeginTx(ctx context.Context) (context.Context, error) {
	args := m.Called(ctx)
	return ctx, args.Error(0)
}

func (m *MockRepository) CommitTx(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRepository) RollbackTx(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// =============================================================================
// Mock Collaborators
// =============================================================================

type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, provider string, ref ledger.ExternalRef, profile string) (*uuid.UUID, error) {
	args := m.Called(ctx, provider, ref, profile)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*uuid.UUID), args.Error(1)
}

type MockCategorizer struct {
	mock.Mock
}

func (m *MockCategorizer) Categorize(ctx context.Context, description string) (string, error) {
	args := m.Called(ctx, description)
	return args.String(0), args.Error(1)
}

type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ctx context.Context, tx *ledger.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

// Ensure mocks implement the interfaces
var _ ledger.Repository = (*MockRepository)(nil)
var _ ledger.PocketResolver = (*MockResolver)(nil)
var _ ledger.Categorizer = (*MockCategorizer)(nil)
var _ ledger.NotificationQueue = (*MockQueue)(nil)

var errBoom = errors.New("boom")

func decimalEq(want string) interface{} {
	expected := decimal.RequireFromString(want)
	return mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(expected) })
}
