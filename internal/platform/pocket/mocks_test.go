package pocket_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/kislikjeka/pocketflow/internal/platform/pocket"
)

// =============================================================================
// Mock Repository
// =============================================================================

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, p *pocket.Pocket) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockRepository) GetByID(ctx context.Context, id uuid.UUID) (*pocket.Pocket, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pocket.Pocket), args.Error(1)
}

func (m *MockRepository) ListByProfile(ctx context.Context, profile string) ([]*pocket.Pocket, error) {
	args := m.Called(ctx, profile)
	return args.Get(0).([]*pocket.Pocket), args.Error(1)
}

func (m *MockRepository) FindByExternalRef(ctx context.Context, profile, ref string) (*pocket.Pocket, error) {
	args := m.Called(ctx, profile, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pocket.Pocket), args.Error(1)
}

func (m *MockRepository) FindByName(ctx context.Context, profile, name string) (*pocket.Pocket, error) {
	args := m.Called(ctx, profile, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pocket.Pocket), args.Error(1)
}

func (m *MockRepository) SetExternalRef(ctx context.Context, id uuid.UUID, ref *string) error {
	return m.Called(ctx, id, ref).Error(0)
}

func (m *MockRepository) FindPotMapping(ctx context.Context, provider, potRef, profile string) (*pocket.PotMapping, error) {
	args := m.Called(ctx, provider, potRef, profile)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pocket.PotMapping), args.Error(1)
}

func (m *MockRepository) UpsertPotMapping(ctx context.Context, pm *pocket.PotMapping) error {
	return m.Called(ctx, pm).Error(0)
}

func (m *MockRepository) ListPotMappings(ctx context.Context, profile string) ([]*pocket.PotMapping, error) {
	args := m.Called(ctx, profile)
	return args.Get(0).([]*pocket.PotMapping), args.Error(1)
}

func (m *MockRepository) RecordUnresolved(ctx context.Context, provider, ref, profile string, seenAt time.Time) error {
	return m.Called(ctx, provider, ref, profile, seenAt).Error(0)
}

func (m *MockRepository) ListUnresolved(ctx context.Context, profile string) ([]*pocket.UnresolvedRef, error) {
	args := m.Called(ctx, profile)
	return args.Get(0).([]*pocket.UnresolvedRef), args.Error(1)
}

func (m *MockRepository) ClearUnresolved(ctx context.Context, ref, profile string) error {
	return m.Called(ctx, ref, profile).Error(0)
}

func (m *MockRepository) UpsertTrackedAccount(ctx context.Context, a *pocket.TrackedAccount) error {
	return m.Called(ctx, a).Error(0)
}

func (m *MockRepository) ListTrackedAccounts(ctx context.Context, filter pocket.TrackedFilter) ([]*pocket.TrackedAccount, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]*pocket.TrackedAccount), args.Error(1)
}

// =============================================================================
// Mock Cache
// =============================================================================

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string) (uuid.UUID, bool, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(uuid.UUID), args.Bool(1), args.Error(2)
}

func (m *MockCache) Set(ctx context.Context, key string, pocketID uuid.UUID) error {
	return m.Called(ctx, key, pocketID).Error(0)
}

func (m *MockCache) InvalidateProfile(ctx context.Context, profile string) error {
	return m.Called(ctx, profile).Error(0)
}

// Ensure mocks implement the interfaces
var _ pocket.Repository = (*MockRepository)(nil)
var _ pocket.Cache = (*MockCache)(nil)

func newPocket(profile, name string) *pocket.Pocket {
	return &pocket.Pocket{
		ID:        uuid.New(),
		Name:      name,
		Profile:   profile,
		Type:      pocket.TypeSpending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}
