package ledger_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/kislikjeka/pocketflow/internal/ledger"
)

func TestEvent_Validate(t *testing.T) {
	valid := ledger.Event{
		Provider:     "monzo",
		ProviderTxID: "tx_00009",
		Profile:      "personal",
		OccurredAt:   time.Now(),
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(e *ledger.Event)
	}{
		{"missing provider", func(e *ledger.Event) { e.Provider = "" }},
		{"missing id", func(e *ledger.Event) { e.ProviderTxID = "  " }},
		{"missing profile", func(e *ledger.Event) { e.Profile = "" }},
		{"zero time", func(e *ledger.Event) { e.OccurredAt = time.Time{} }},
		{"bad currency", func(e *ledger.Event) { e.Currency = "POUND" }},
		{"bad ref kind", func(e *ledger.Event) { e.SourceAccountRef.Kind = "card" }},
		{"bad source", func(e *ledger.Event) { e.ReceivedVia = "fax" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)
			assert.ErrorIs(t, e.Validate(), ledger.ErrMalformedPayload)
		})
	}
}

func TestTransaction_SignedAmount(t *testing.T) {
	out := &ledger.Transaction{Amount: decimal.RequireFromString("1.84"), Direction: ledger.DirectionOut}
	in := &ledger.Transaction{Amount: decimal.RequireFromString("1.84"), Direction: ledger.DirectionIn}

	assert.Equal(t, "-1.84", out.SignedAmount().String())
	assert.Equal(t, "1.84", in.SignedAmount().String())
}

func TestOutcome_TransactionID(t *testing.T) {
	tx := &ledger.Transaction{ID: uuid.New()}

	id, ok := ledger.Inserted(tx).TransactionID()
	assert.True(t, ok)
	assert.Equal(t, tx.ID, id)

	existing := uuid.New()
	id, ok = ledger.Duplicate(existing).TransactionID()
	assert.True(t, ok)
	assert.Equal(t, existing, id)

	_, ok = ledger.Duplicate(uuid.Nil).TransactionID()
	assert.False(t, ok)

	_, ok = ledger.Failed(ledger.ErrCommitFailure).TransactionID()
	assert.False(t, ok)
}

func TestIsDuplicate(t *testing.T) {
	assert.True(t, ledger.IsDuplicate(ledger.ErrDuplicateEvent))
	assert.True(t, ledger.IsDuplicate(ledger.ErrStorageConflict))
	assert.False(t, ledger.IsDuplicate(ledger.ErrCommitFailure))
}

func TestTransactionType_IsValid(t *testing.T) {
	for _, tt := range []ledger.TransactionType{ledger.TxTypeSpend, ledger.TxTypeIncome, ledger.TxTypeTransfer} {
		assert.True(t, tt.IsValid(), "expected %s to be valid", tt)
	}
	assert.False(t, ledger.TransactionType("swap").IsValid())
}
