package monzo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kislikjeka/pocketflow/internal/ledger"
	"github.com/kislikjeka/pocketflow/internal/platform/ingest"
)

// Provider is the provider name of Monzo events
const Provider = "monzo"

// ToEvent converts a Monzo transaction into a canonical event.
// Pot transfers are attributed to the pot: a deposit debits the current
// account, so the pot sees the negated amount.
func ToEvent(tx *Transaction, profile string, via ledger.Source) ledger.Event {
	ev := ledger.Event{
		Provider:         Provider,
		ProviderTxID:     tx.ID,
		RawAmount:        tx.Amount,
		Currency:         strings.ToUpper(tx.Currency),
		Description:      strings.TrimSpace(tx.Description),
		ProviderCategory: tx.Category,
		OccurredAt:       tx.Created.UTC(),
		SourceAccountRef: ledger.ExternalRef{ID: tx.AccountID, Kind: ledger.RefKindAccount},
		Profile:          profile,
		ReceivedVia:      via,
	}

	if tx.Merchant != nil && tx.Merchant.Name != "" {
		ev.Merchant = tx.Merchant.Name
	}

	if pot := tx.PotID(); pot != "" {
		ev.SourceAccountRef = ledger.ExternalRef{ID: pot, Kind: ledger.RefKindPot}
		ev.RawAmount = -tx.Amount
		ev.IsTransfer = true
		ev.Description = "Pot transfer"
	}

	return ev
}

// Codec decodes Monzo webhook deliveries
type Codec struct{}

// NewCodec creates the Monzo webhook codec
func NewCodec() *Codec {
	return &Codec{}
}

var _ ingest.Codec = (*Codec)(nil)

// Provider returns the Monzo provider name
func (c *Codec) Provider() string {
	return Provider
}

// Decode turns a transaction.created delivery into one event
func (c *Codec) Decode(_ context.Context, profile string, payload []byte) ([]ledger.Event, error) {
	var env WebhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrMalformedPayload, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing webhook type", ledger.ErrMalformedPayload)
	}
	if env.Type != WebhookTypeTransactionCreated {
		return nil, fmt.Errorf("%w: webhook type %s", ledger.ErrIgnoredEvent, env.Type)
	}

	var tx Transaction
	if err := json.Unmarshal(env.Data, &tx); err != nil {
		return nil, fmt.Errorf("%w: transaction: %w", ledger.ErrMalformedPayload, err)
	}

	switch {
	case tx.ID == "":
		return nil, fmt.Errorf("%w: missing transaction id", ledger.ErrMalformedPayload)
	case tx.AccountID == "":
		return nil, fmt.Errorf("%w: missing account id", ledger.ErrMalformedPayload)
	case tx.Created.IsZero():
		return nil, fmt.Errorf("%w: missing created time", ledger.ErrMalformedPayload)
	case tx.IsDeclined():
		return nil, fmt.Errorf("%w: declined transaction %s", ledger.ErrIgnoredEvent, tx.ID)
	}

	return []ledger.Event{ToEvent(&tx, profile, ledger.SourceWebhook)}, nil
}
