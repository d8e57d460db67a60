package pocket_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kislikjeka/pocketflow/internal/ledger"
	"github.com/kislikjeka/pocketflow/internal/platform/pocket"
	"github.com/kislikjeka/pocketflow/pkg/logger"
)

var (
	accountRef = ledger.ExternalRef{ID: "acc_X", Kind: ledger.RefKindAccount}
	potRef     = ledger.ExternalRef{ID: "pot_1", Kind: ledger.RefKindPot}
)

func TestResolve_ExplicitRef(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	p := newPocket("personal", "Groceries")

	repo.On("FindByExternalRef", mock.Anything, "personal", "acc_X").Return(p, nil)

	dir := pocket.NewDirectory(repo, nil, nil, logger.Discard().Logger)
	id, err := dir.Resolve(ctx, "monzo", accountRef, "personal")

	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, p.ID, *id)
	repo.AssertNotCalled(t, "FindByName", mock.Anything, mock.Anything, mock.Anything)
}

func TestResolve_PotMapping(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	target := uuid.New()

	repo.On("FindByExternalRef", mock.Anything, "personal", "pot_1").Return(nil, pocket.ErrPocketNotFound)
	repo.On("FindPotMapping", mock.Anything, "monzo", "pot_1", "personal").
		Return(&pocket.PotMapping{PocketID: target}, nil)

	dir := pocket.NewDirectory(repo, nil, nil, logger.Discard().Logger)
	id, err := dir.Resolve(ctx, "monzo", potRef, "personal")

	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, target, *id)
}

func TestResolve_AccountRefSkipsPotTable(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	general := newPocket("personal", "general")

	repo.On("FindByExternalRef", mock.Anything, "personal", "acc_X").Return(nil, pocket.ErrPocketNotFound)
	repo.On("FindByName", mock.Anything, "personal", pocket.FallbackName).Return(general, nil)

	dir := pocket.NewDirectory(repo, nil, nil, logger.Discard().Logger)
	id, err := dir.Resolve(ctx, "monzo", accountRef, "personal")

	require.NoError(t, err)
	assert.Equal(t, general.ID, *id)
	repo.AssertNotCalled(t, "FindPotMapping", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestResolve_ConfiguredDefaultBeforeName(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	def := newPocket("personal", "Everyday")

	repo.On("FindByExternalRef", mock.Anything, "personal", "acc_X").Return(nil, pocket.ErrPocketNotFound)
	repo.On("GetByID", mock.Anything, def.ID).Return(def, nil)

	dir := pocket.NewDirectory(repo, nil, map[string]uuid.UUID{"personal": def.ID}, logger.Discard().Logger)
	id, err := dir.Resolve(ctx, "monzo", accountRef, "personal")

	require.NoError(t, err)
	assert.Equal(t, def.ID, *id)
	repo.AssertNotCalled(t, "FindByName", mock.Anything, mock.Anything, mock.Anything)
}

func TestResolve_DefaultFromOtherProfileIgnored(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	foreign := newPocket("business", "Everyday")
	general := newPocket("personal", "General")

	repo.On("FindByExternalRef", mock.Anything, "personal", "acc_X").Return(nil, pocket.ErrPocketNotFound)
	repo.On("GetByID", mock.Anything, foreign.ID).Return(foreign, nil)
	repo.On("FindByName", mock.Anything, "personal", pocket.FallbackName).Return(general, nil)

	dir := pocket.NewDirectory(repo, nil, map[string]uuid.UUID{"personal": foreign.ID}, logger.Discard().Logger)
	id, err := dir.Resolve(ctx, "monzo", accountRef, "personal")

	require.NoError(t, err)
	assert.Equal(t, general.ID, *id)
}

func TestResolve_NoMatchRecordsUnresolved(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)

	repo.On("FindByExternalRef", mock.Anything, "personal", "acc_X").Return(nil, pocket.ErrPocketNotFound)
	repo.On("FindByName", mock.Anything, "personal", pocket.FallbackName).Return(nil, pocket.ErrPocketNotFound)
	repo.On("RecordUnresolved", mock.Anything, "monzo", "acc_X", "personal", mock.Anything).Return(nil)

	dir := pocket.NewDirectory(repo, nil, nil, logger.Discard().Logger)
	id, err := dir.Resolve(ctx, "monzo", accountRef, "personal")

	require.NoError(t, err)
	assert.Nil(t, id)
	repo.AssertExpectations(t)
}

func TestResolve_SignalFailureDoesNotFail(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)

	repo.On("FindByExternalRef", mock.Anything, mock.Anything, mock.Anything).Return(nil, pocket.ErrPocketNotFound)
	repo.On("FindByName", mock.Anything, mock.Anything, mock.Anything).Return(nil, pocket.ErrPocketNotFound)
	repo.On("RecordUnresolved", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("disk full"))

	dir := pocket.NewDirectory(repo, nil, nil, logger.Discard().Logger)
	id, err := dir.Resolve(ctx, "monzo", accountRef, "personal")

	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestResolve_StoreErrorPropagates(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	boom := errors.New("connection refused")

	repo.On("FindByExternalRef", mock.Anything, mock.Anything, mock.Anything).Return(nil, boom)

	dir := pocket.NewDirectory(repo, nil, nil, logger.Discard().Logger)
	_, err := dir.Resolve(ctx, "monzo", accountRef, "personal")

	assert.ErrorIs(t, err, boom)
}

func TestResolve_CacheHitSkipsStore(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	cache := new(MockCache)
	cached := uuid.New()

	cache.On("Get", mock.Anything, pocket.CacheKey("personal", "monzo", accountRef)).Return(cached, true, nil)

	dir := pocket.NewDirectory(repo, cache, nil, logger.Discard().Logger)
	id, err := dir.Resolve(ctx, "monzo", accountRef, "personal")

	require.NoError(t, err)
	assert.Equal(t, cached, *id)
	repo.AssertNotCalled(t, "FindByExternalRef", mock.Anything, mock.Anything, mock.Anything)
}

func TestResolve_CacheErrorFallsThrough(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	cache := new(MockCache)
	p := newPocket("personal", "Groceries")
	key := pocket.CacheKey("personal", "monzo", accountRef)

	cache.On("Get", mock.Anything, key).Return(uuid.Nil, false, errors.New("redis down"))
	cache.On("Set", mock.Anything, key, p.ID).Return(errors.New("redis down"))
	repo.On("FindByExternalRef", mock.Anything, "personal", "acc_X").Return(p, nil)

	dir := pocket.NewDirectory(repo, cache, nil, logger.Discard().Logger)
	id, err := dir.Resolve(ctx, "monzo", accountRef, "personal")

	require.NoError(t, err)
	assert.Equal(t, p.ID, *id)
	cache.AssertExpectations(t)
}

func TestResolve_FallbackNotCached(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	cache := new(MockCache)
	general := newPocket("personal", "General")

	cache.On("Get", mock.Anything, mock.Anything).Return(uuid.Nil, false, nil)
	repo.On("FindByExternalRef", mock.Anything, mock.Anything, mock.Anything).Return(nil, pocket.ErrPocketNotFound)
	repo.On("FindByName", mock.Anything, "personal", pocket.FallbackName).Return(general, nil)

	dir := pocket.NewDirectory(repo, cache, nil, logger.Discard().Logger)
	_, err := dir.Resolve(ctx, "monzo", accountRef, "personal")

	require.NoError(t, err)
	cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything)
}
