package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kislikjeka/pocketflow/internal/ledger"
	"github.com/kislikjeka/pocketflow/pkg/logger"
)

type fixture struct {
	repo        *MockRepository
	resolver    *MockResolver
	categorizer *MockCategorizer
	queue       *MockQueue
	svc         *ledger.Service
}

func newFixture() *fixture {
	f := &fixture{
		repo:        new(MockRepository),
		resolver:    new(MockResolver),
		categorizer: new(MockCategorizer),
		queue:       new(MockQueue),
	}
	f.svc = ledger.NewService(f.repo, f.resolver, f.categorizer, f.queue, logger.Discard().Logger)
	return f
}

func tescoEvent() ledger.Event {
	return ledger.Event{
		Provider:         "bankA",
		ProviderTxID:     "tx_1",
		RawAmount:        -184,
		Currency:         "GBP",
		Description:      "TESCO STORES",
		OccurredAt:       time.Date(2026, 3, 14, 12, 30, 0, 0, time.UTC),
		SourceAccountRef: ledger.ExternalRef{ID: "acc_X", Kind: ledger.RefKindAccount},
		Profile:          "personal",
		ReceivedVia:      ledger.SourceWebhook,
	}
}

// expectCommit wires the happy-path commit for a resolved pocket
func (f *fixture) expectCommit(pocketID uuid.UUID, current, next string) {
	f.repo.On("BeginTx", mock.Anything).Return(nil)
	f.repo.On("InsertIfAbsent", mock.Anything, mock.AnythingOfType("*ledger.Transaction")).Return(true, nil)
	f.repo.On("GetPocketBalanceForUpdate", mock.Anything, pocketID).Return(decimal.RequireFromString(current), nil)
	f.repo.On("SetPocketBalance", mock.Anything, pocketID, decimalEq(next)).Return(nil)
	f.queue.On("Enqueue", mock.Anything, mock.AnythingOfType("*ledger.Transaction")).Return(nil)
	f.repo.On("CommitTx", mock.Anything).Return(nil)
}

// =============================================================================
// Reconcile Tests
// =============================================================================

func TestReconcile_InsertsSpend(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	pocketID := uuid.New()
	ev := tescoEvent()

	f.repo.On("GetByProviderTxID", mock.Anything, "bankA", "tx_1").Return(nil, ledger.ErrNotFound)
	f.categorizer.On("Categorize", mock.Anything, "TESCO STORES").Return("groceries", nil)
	f.resolver.On("Resolve", mock.Anything, "bankA", ev.SourceAccountRef, "personal").Return(&pocketID, nil)
	f.expectCommit(pocketID, "50.00", "48.16")

	out := f.svc.Reconcile(ctx, ev)

	require.Equal(t, ledger.StatusInserted, out.Status)
	tx := out.Transaction
	assert.True(t, tx.Amount.Equal(decimal.RequireFromString("1.84")))
	assert.Equal(t, ledger.DirectionOut, tx.Direction)
	assert.Equal(t, ledger.TxTypeSpend, tx.Type)
	assert.Equal(t, "groceries", tx.Category)
	assert.Equal(t, &pocketID, tx.PocketID)
	assert.Equal(t, ledger.SourceWebhook, tx.ReceivedVia)
	assert.Equal(t, "GBP", tx.Currency)
	assert.NotEqual(t, uuid.Nil, tx.ID)

	id, ok := out.TransactionID()
	assert.True(t, ok)
	assert.Equal(t, tx.ID, id)

	f.repo.AssertNotCalled(t, "RollbackTx", mock.Anything)
	f.repo.AssertExpectations(t)
	f.queue.AssertExpectations(t)
}

func TestReconcile_FastPathDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	existing := &ledger.Transaction{ID: uuid.New()}

	f.repo.On("GetByProviderTxID", mock.Anything, "bankA", "tx_1").Return(existing, nil)

	out := f.svc.Reconcile(ctx, tescoEvent())

	assert.Equal(t, ledger.StatusDuplicate, out.Status)
	assert.Equal(t, existing.ID, out.ExistingID)
	f.categorizer.AssertNotCalled(t, "Categorize", mock.Anything, mock.Anything)
	f.repo.AssertNotCalled(t, "BeginTx", mock.Anything)
}

func TestReconcile_LostClaimReturnsWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	winner := &ledger.Transaction{ID: uuid.New()}

	// Pre-check misses, then a concurrent writer commits first
	f.repo.On("GetByProviderTxID", mock.Anything, "bankA", "tx_1").Return(nil, ledger.ErrNotFound).Once()
	f.repo.On("GetByProviderTxID", mock.Anything, "bankA", "tx_1").Return(winner, nil).Once()
	f.categorizer.On("Categorize", mock.Anything, mock.Anything).Return("groceries", nil)
	f.resolver.On("Resolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	f.repo.On("BeginTx", mock.Anything).Return(nil)
	f.repo.On("InsertIfAbsent", mock.Anything, mock.Anything).Return(false, nil)
	f.repo.On("RollbackTx", mock.Anything).Return(nil)

	out := f.svc.Reconcile(ctx, tescoEvent())

	assert.Equal(t, ledger.StatusDuplicate, out.Status)
	assert.Equal(t, winner.ID, out.ExistingID)
	f.repo.AssertCalled(t, "RollbackTx", mock.Anything)
	f.repo.AssertNotCalled(t, "GetPocketBalanceForUpdate", mock.Anything, mock.Anything)
	f.queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestReconcile_MalformedEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	ev := tescoEvent()
	ev.ProviderTxID = ""

	out := f.svc.Reconcile(ctx, ev)

	assert.Equal(t, ledger.StatusError, out.Status)
	assert.ErrorIs(t, out.Err, ledger.ErrMalformedPayload)
	f.repo.AssertNotCalled(t, "GetByProviderTxID", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcile_CategorizerFailureUsesDefault(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	f.repo.On("GetByProviderTxID", mock.Anything, mock.Anything, mock.Anything).Return(nil, ledger.ErrNotFound)
	f.categorizer.On("Categorize", mock.Anything, "TESCO STORES").Return("", ledger.ErrCategorizationUnavailable)
	f.resolver.On("Resolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	f.repo.On("BeginTx", mock.Anything).Return(nil)
	f.repo.On("InsertIfAbsent", mock.Anything, mock.Anything).Return(true, nil)
	f.queue.On("Enqueue", mock.Anything, mock.Anything).Return(nil)
	f.repo.On("CommitTx", mock.Anything).Return(nil)

	out := f.svc.Reconcile(ctx, tescoEvent())

	require.Equal(t, ledger.StatusInserted, out.Status)
	assert.Equal(t, ledger.DefaultCategory, out.Transaction.Category)
}

func TestReconcile_ProviderCategorySkipsCategorizer(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	ev := tescoEvent()
	ev.ProviderCategory = "groceries"

	f.repo.On("GetByProviderTxID", mock.Anything, mock.Anything, mock.Anything).Return(nil, ledger.ErrNotFound)
	f.resolver.On("Resolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	f.repo.On("BeginTx", mock.Anything).Return(nil)
	f.repo.On("InsertIfAbsent", mock.Anything, mock.Anything).Return(true, nil)
	f.queue.On("Enqueue", mock.Anything, mock.Anything).Return(nil)
	f.repo.On("CommitTx", mock.Anything).Return(nil)

	out := f.svc.Reconcile(ctx, ev)

	require.Equal(t, ledger.StatusInserted, out.Status)
	assert.Equal(t, "groceries", out.Transaction.Category)
	f.categorizer.AssertNotCalled(t, "Categorize", mock.Anything, mock.Anything)
}

func TestReconcile_UnresolvedPocketSkipsBalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	f.repo.On("GetByProviderTxID", mock.Anything, mock.Anything, mock.Anything).Return(nil, ledger.ErrNotFound)
	f.categorizer.On("Categorize", mock.Anything, mock.Anything).Return("groceries", nil)
	f.resolver.On("Resolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errBoom)
	f.repo.On("BeginTx", mock.Anything).Return(nil)
	f.repo.On("InsertIfAbsent", mock.Anything, mock.Anything).Return(true, nil)
	f.queue.On("Enqueue", mock.Anything, mock.Anything).Return(nil)
	f.repo.On("CommitTx", mock.Anything).Return(nil)

	out := f.svc.Reconcile(ctx, tescoEvent())

	require.Equal(t, ledger.StatusInserted, out.Status)
	assert.Nil(t, out.Transaction.PocketID)
	f.repo.AssertNotCalled(t, "GetPocketBalanceForUpdate", mock.Anything, mock.Anything)
	f.repo.AssertNotCalled(t, "SetPocketBalance", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcile_BalanceFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	pocketID := uuid.New()

	f.repo.On("GetByProviderTxID", mock.Anything, mock.Anything, mock.Anything).Return(nil, ledger.ErrNotFound)
	f.categorizer.On("Categorize", mock.Anything, mock.Anything).Return("groceries", nil)
	f.resolver.On("Resolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(&pocketID, nil)
	f.repo.On("BeginTx", mock.Anything).Return(nil)
	f.repo.On("InsertIfAbsent", mock.Anything, mock.Anything).Return(true, nil)
	f.repo.On("GetPocketBalanceForUpdate", mock.Anything, pocketID).Return(decimal.Zero, errBoom)
	f.repo.On("RollbackTx", mock.Anything).Return(nil)

	out := f.svc.Reconcile(ctx, tescoEvent())

	assert.Equal(t, ledger.StatusError, out.Status)
	assert.ErrorIs(t, out.Err, ledger.ErrCommitFailure)
	assert.ErrorIs(t, out.Err, errBoom)
	f.repo.AssertCalled(t, "RollbackTx", mock.Anything)
	f.repo.AssertNotCalled(t, "CommitTx", mock.Anything)
	f.queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestReconcile_OutboxFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	f.repo.On("GetByProviderTxID", mock.Anything, mock.Anything, mock.Anything).Return(nil, ledger.ErrNotFound)
	f.categorizer.On("Categorize", mock.Anything, mock.Anything).Return("groceries", nil)
	f.resolver.On("Resolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	f.repo.On("BeginTx", mock.Anything).Return(nil)
	f.repo.On("InsertIfAbsent", mock.Anything, mock.Anything).Return(true, nil)
	f.queue.On("Enqueue", mock.Anything, mock.Anything).Return(errBoom)
	f.repo.On("RollbackTx", mock.Anything).Return(nil)

	out := f.svc.Reconcile(ctx, tescoEvent())

	assert.Equal(t, ledger.StatusError, out.Status)
	assert.ErrorIs(t, out.Err, ledger.ErrCommitFailure)
	f.repo.AssertCalled(t, "RollbackTx", mock.Anything)
}

func TestReconcile_CancelledAfterClaimRollsBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture()

	f.repo.On("GetByProviderTxID", mock.Anything, mock.Anything, mock.Anything).Return(nil, ledger.ErrNotFound)
	f.categorizer.On("Categorize", mock.Anything, mock.Anything).Return("groceries", nil)
	f.resolver.On("Resolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	f.repo.On("BeginTx", mock.Anything).Return(nil)
	f.repo.On("InsertIfAbsent", mock.Anything, mock.Anything).Return(true, nil)
	f.queue.On("Enqueue", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(context.Canceled)
	f.repo.On("RollbackTx", mock.MatchedBy(func(c context.Context) bool { return c.Err() == nil })).Return(nil)

	out := f.svc.Reconcile(ctx, tescoEvent())

	assert.Equal(t, ledger.StatusError, out.Status)
	assert.ErrorIs(t, out.Err, ledger.ErrCommitFailure)
	assert.ErrorIs(t, out.Err, context.Canceled)
	f.repo.AssertCalled(t, "RollbackTx", mock.Anything)
	f.repo.AssertNotCalled(t, "CommitTx", mock.Anything)
}

func TestReconcile_CommitErrorIsFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	f.repo.On("GetByProviderTxID", mock.Anything, mock.Anything, mock.Anything).Return(nil, ledger.ErrNotFound)
	f.categorizer.On("Categorize", mock.Anything, mock.Anything).Return("groceries", nil)
	f.resolver.On("Resolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	f.repo.On("BeginTx", mock.Anything).Return(nil)
	f.repo.On("InsertIfAbsent", mock.Anything, mock.Anything).Return(true, nil)
	f.queue.On("Enqueue", mock.Anything, mock.Anything).Return(nil)
	f.repo.On("CommitTx", mock.Anything).Return(errors.New("connection reset"))
	f.repo.On("RollbackTx", mock.Anything).Return(nil)

	out := f.svc.Reconcile(ctx, tescoEvent())

	assert.Equal(t, ledger.StatusError, out.Status)
	assert.ErrorIs(t, out.Err, ledger.ErrCommitFailure)
	_, ok := out.TransactionID()
	assert.False(t, ok)
}

// =============================================================================
// Normalization Tests
// =============================================================================

func TestReconcile_Normalization(t *testing.T) {
	tests := []struct {
		name       string
		raw        int64
		transfer   bool
		wantAmount string
		wantDir    ledger.Direction
		wantType   ledger.TransactionType
	}{
		{"spend", -184, false, "1.84", ledger.DirectionOut, ledger.TxTypeSpend},
		{"income", 250000, false, "2500", ledger.DirectionIn, ledger.TxTypeIncome},
		{"transfer out", -5000, true, "50", ledger.DirectionOut, ledger.TxTypeTransfer},
		{"transfer in", 5000, true, "50", ledger.DirectionIn, ledger.TxTypeTransfer},
		{"zero", 0, false, "0", ledger.DirectionIn, ledger.TxTypeIncome},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			ev := tescoEvent()
			ev.RawAmount = tt.raw
			ev.IsTransfer = tt.transfer
			ev.Currency = ""

			f.repo.On("GetByProviderTxID", mock.Anything, mock.Anything, mock.Anything).Return(nil, ledger.ErrNotFound)
			f.categorizer.On("Categorize", mock.Anything, mock.Anything).Return("misc", nil)
			f.resolver.On("Resolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
			f.repo.On("BeginTx", mock.Anything).Return(nil)
			f.repo.On("InsertIfAbsent", mock.Anything, mock.Anything).Return(true, nil)
			f.queue.On("Enqueue", mock.Anything, mock.Anything).Return(nil)
			f.repo.On("CommitTx", mock.Anything).Return(nil)

			out := f.svc.Reconcile(context.Background(), ev)

			require.Equal(t, ledger.StatusInserted, out.Status)
			tx := out.Transaction
			assert.True(t, tx.Amount.Equal(decimal.RequireFromString(tt.wantAmount)), "amount %s", tx.Amount)
			assert.Equal(t, tt.wantDir, tx.Direction)
			assert.Equal(t, tt.wantType, tx.Type)
			assert.Equal(t, ledger.DefaultCurrency, tx.Currency)
			assert.False(t, tx.Amount.IsNegative())
		})
	}
}

// =============================================================================
// Balance Verification Tests
// =============================================================================

func TestVerifyPocketBalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ok, bad := uuid.New(), uuid.New()

	f.repo.On("GetPocketBalance", mock.Anything, ok).Return(decimal.RequireFromString("-1.84"), nil)
	f.repo.On("SumPocketTransactions", mock.Anything, ok).Return(decimal.RequireFromString("-1.840"), nil)
	f.repo.On("GetPocketBalance", mock.Anything, bad).Return(decimal.RequireFromString("10"), nil)
	f.repo.On("SumPocketTransactions", mock.Anything, bad).Return(decimal.RequireFromString("8.16"), nil)

	check, err := f.svc.VerifyPocketBalance(ctx, ok)
	require.NoError(t, err)
	assert.True(t, check.Matches())

	check, err = f.svc.VerifyPocketBalance(ctx, bad)
	assert.ErrorIs(t, err, ledger.ErrBalanceMismatch)
	require.NotNil(t, check)
	assert.False(t, check.Matches())
}

func TestVerifyProfileBalances_ReportsAllPockets(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ok, bad := uuid.New(), uuid.New()

	f.repo.On("ListProfilePocketIDs", mock.Anything, "personal").Return([]uuid.UUID{ok, bad}, nil)
	f.repo.On("GetPocketBalance", mock.Anything, ok).Return(decimal.Zero, nil)
	f.repo.On("SumPocketTransactions", mock.Anything, ok).Return(decimal.Zero, nil)
	f.repo.On("GetPocketBalance", mock.Anything, bad).Return(decimal.NewFromInt(3), nil)
	f.repo.On("SumPocketTransactions", mock.Anything, bad).Return(decimal.Zero, nil)

	checks, err := f.svc.VerifyProfileBalances(ctx, "personal")

	assert.ErrorIs(t, err, ledger.ErrBalanceMismatch)
	assert.Len(t, checks, 2)
}

func TestListTransactions_ClampsLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	f.repo.On("ListTransactions", mock.Anything, mock.MatchedBy(func(fl ledger.TransactionFilters) bool {
		return fl.Limit == 100 && fl.Offset == 0 && fl.Profile == "personal"
	})).Return([]*ledger.Transaction{}, nil)

	_, err := f.svc.ListTransactions(ctx, ledger.TransactionFilters{Profile: "personal", Limit: 10000, Offset: -5})
	require.NoError(t, err)
	f.repo.AssertExpectations(t)
}
