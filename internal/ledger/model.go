package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultCategory is used when neither the provider nor the categorizer supplies one.
const DefaultCategory = "uncategorized"

// DefaultCurrency is assumed for events that carry no currency code.
const DefaultCurrency = "GBP"

// RefKind distinguishes primary accounts from sub-accounts (pots)
type RefKind string

const (
	RefKindAccount RefKind = "account"
	RefKindPot     RefKind = "pot"
)

// IsValid checks if the ref kind is valid
func (k RefKind) IsValid() bool {
	return k == RefKindAccount || k == RefKindPot
}

// ExternalRef is a provider-assigned account or pot identifier
type ExternalRef struct {
	ID   string  `json:"id"`
	Kind RefKind `json:"kind"`
}

// Source identifies the ingestion adapter an event arrived through
type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
	SourceManual  Source = "manual"
	SourceRelay   Source = "relay"
	SourceReplay  Source = "replay"
)

// IsValid checks if the source is valid
func (s Source) IsValid() bool {
	switch s {
	case SourceWebhook, SourcePoll, SourceManual, SourceRelay, SourceReplay:
		return true
	}
	return false
}

// Event is the canonical, provider-independent transaction event produced by
// an ingestion adapter. (Provider, ProviderTxID) is its identity.
type Event struct {
	Provider         string
	ProviderTxID     string
	RawAmount        int64 // signed minor units; negative is money out
	Currency         string
	Description      string
	Merchant         string
	ProviderCategory string
	OccurredAt       time.Time
	SourceAccountRef ExternalRef
	Profile          string
	ReceivedVia      Source
	IsTransfer       bool
}

// Validate checks the fields every event must carry
func (e *Event) Validate() error {
	if strings.TrimSpace(e.Provider) == "" {
		return malformed("provider is required")
	}
	if strings.TrimSpace(e.ProviderTxID) == "" {
		return malformed("provider transaction id is required")
	}
	if strings.TrimSpace(e.Profile) == "" {
		return malformed("profile is required")
	}
	if e.OccurredAt.IsZero() {
		return malformed("occurred_at is required")
	}
	if e.Currency != "" && len(e.Currency) != 3 {
		return malformed("currency must be an ISO 4217 code")
	}
	if e.SourceAccountRef.Kind != "" && !e.SourceAccountRef.Kind.IsValid() {
		return malformed("invalid external ref kind")
	}
	if e.ReceivedVia != "" && !e.ReceivedVia.IsValid() {
		return malformed("invalid source")
	}
	return nil
}

// Direction is the sign of a committed transaction
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// TransactionType classifies a committed transaction for aggregates
type TransactionType string

const (
	TxTypeSpend    TransactionType = "spend"
	TxTypeIncome   TransactionType = "income"
	TxTypeTransfer TransactionType = "transfer"
)

// IsValid checks if the transaction type is valid
func (t TransactionType) IsValid() bool {
	switch t {
	case TxTypeSpend, TxTypeIncome, TxTypeTransfer:
		return true
	}
	return false
}

// Transaction is an immutable committed ledger row.
// At most one exists per (Provider, ProviderTxID).
type Transaction struct {
	ID           uuid.UUID       `json:"id"`
	Provider     string          `json:"provider"`
	ProviderTxID string          `json:"provider_tx_id"`
	Amount       decimal.Decimal `json:"amount"` // unsigned, major units, 2dp
	Direction    Direction       `json:"direction"`
	Type         TransactionType `json:"type"`
	Category     string          `json:"category"`
	Description  string          `json:"description"`
	Merchant     string          `json:"merchant,omitempty"`
	Currency     string          `json:"currency"`
	PocketID     *uuid.UUID      `json:"pocket_id"`
	Profile      string          `json:"profile"`
	Date         time.Time       `json:"date"`
	ReceivedVia  Source          `json:"received_via"`
	CommittedAt  time.Time       `json:"committed_at"`
}

// SignedAmount returns the amount with the direction applied
func (t *Transaction) SignedAmount() decimal.Decimal {
	if t.Direction == DirectionOut {
		return t.Amount.Neg()
	}
	return t.Amount
}

// TransactionFilters defines filters for listing transactions
type TransactionFilters struct {
	Profile  string
	Provider string
	PocketID *uuid.UUID
	Type     *TransactionType
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

// Status is the kind of a reconciliation outcome
type Status string

const (
	StatusInserted  Status = "inserted"
	StatusDuplicate Status = "duplicate"
	StatusError     Status = "error"
)

// Outcome is the tagged result of reconciling one event. Exactly one of
// Transaction, ExistingID or Err is meaningful, depending on Status.
type Outcome struct {
	Status      Status
	Transaction *Transaction
	ExistingID  uuid.UUID
	Err         error
}

// Inserted builds an outcome for a newly committed row
func Inserted(tx *Transaction) Outcome {
	return Outcome{Status: StatusInserted, Transaction: tx}
}

// Duplicate builds an outcome for an event whose key was already committed
func Duplicate(existingID uuid.UUID) Outcome {
	return Outcome{Status: StatusDuplicate, ExistingID: existingID}
}

// Failed builds an outcome for an event that could not be committed
func Failed(err error) Outcome {
	return Outcome{Status: StatusError, Err: err}
}

// TransactionID returns the id of the inserted or existing row, if any
func (o Outcome) TransactionID() (uuid.UUID, bool) {
	switch o.Status {
	case StatusInserted:
		return o.Transaction.ID, true
	case StatusDuplicate:
		return o.ExistingID, o.ExistingID != uuid.Nil
	}
	return uuid.Nil, false
}

// BalanceCheck compares a pocket's stored balance with the sum of its rows
type BalanceCheck struct {
	PocketID uuid.UUID       `json:"pocket_id"`
	Stored   decimal.Decimal `json:"stored"`
	Computed decimal.Decimal `json:"computed"`
}

// Matches reports whether the stored balance equals the computed sum
func (b BalanceCheck) Matches() bool {
	return b.Stored.Equal(b.Computed)
}
