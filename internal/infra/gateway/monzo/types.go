package monzo

import (
	"bytes"
	"encoding/json"
	"time"
)

// WebhookTypeTransactionCreated is the only webhook type turned into events
const WebhookTypeTransactionCreated = "transaction.created"

// potScheme marks transfers between the current account and a pot
const potScheme = "uk_retail_pot"

// WebhookEnvelope is the body of a Monzo webhook delivery
type WebhookEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Transaction is a Monzo transaction as returned by the API and webhooks
type Transaction struct {
	ID            string            `json:"id"`
	AccountID     string            `json:"account_id"`
	Amount        int64             `json:"amount"` // minor units, negative for debits
	Currency      string            `json:"currency"`
	Created       time.Time         `json:"created"`
	Settled       string            `json:"settled"`
	Description   string            `json:"description"`
	Category      string            `json:"category"`
	Scheme        string            `json:"scheme"`
	DeclineReason string            `json:"decline_reason"`
	Merchant      *Merchant         `json:"merchant"`
	Metadata      map[string]string `json:"metadata"`
}

// IsDeclined reports whether the card payment was declined
func (t *Transaction) IsDeclined() bool {
	return t.DeclineReason != ""
}

// PotID returns the pot a pot transfer moved money to or from
func (t *Transaction) PotID() string {
	if id := t.Metadata["pot_id"]; id != "" {
		return id
	}
	if t.Scheme == potScheme {
		return t.Description
	}
	return ""
}

// Merchant is the merchant of a card transaction. Unexpanded API responses
// carry only the merchant id as a string.
type Merchant struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// UnmarshalJSON accepts a merchant object, a merchant id string or null
func (m *Merchant) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &m.ID)
	}
	type plain Merchant
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = Merchant(p)
	return nil
}

// TransactionsResponse is the body of GET /transactions
type TransactionsResponse struct {
	Transactions []Transaction `json:"transactions"`
}

// Account is a Monzo account
type Account struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Type        string    `json:"type"`
	Currency    string    `json:"currency"`
	Closed      bool      `json:"closed"`
	Created     time.Time `json:"created"`
}

// AccountsResponse is the body of GET /accounts
type AccountsResponse struct {
	Accounts []Account `json:"accounts"`
}

// Pot is a Monzo savings pot
type Pot struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Balance int64  `json:"balance"`
	Deleted bool   `json:"deleted"`
}

// PotsResponse is the body of GET /pots
type PotsResponse struct {
	Pots []Pot `json:"pots"`
}

// Webhook is a registered webhook
type Webhook struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	URL       string `json:"url"`
}

// WebhooksResponse is the body of GET /webhooks
type WebhooksResponse struct {
	Webhooks []Webhook `json:"webhooks"`
}

// APIError is the error body Monzo returns with non-2xx responses
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
