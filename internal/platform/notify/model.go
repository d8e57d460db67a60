package notify

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kislikjeka/pocketflow/internal/ledger"
	"github.com/kislikjeka/pocketflow/pkg/money"
)

// DeepLinkScheme is the app URL scheme for transaction deep links
const DeepLinkScheme = "pocketflow"

// Message is what a Notifier delivers
type Message struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	DeepLink string `json:"deep_link"`
}

// Notification is an outbox row. Exactly one exists per committed transaction.
type Notification struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	TransactionID uuid.UUID  `json:"transaction_id" db:"transaction_id"`
	Title         string     `json:"title" db:"title"`
	Body          string     `json:"body" db:"body"`
	DeepLink      string     `json:"deep_link" db:"deep_link"`
	Attempts      int        `json:"attempts" db:"attempts"`
	DispatchedAt  *time.Time `json:"dispatched_at,omitempty" db:"dispatched_at"`
	LastError     *string    `json:"last_error,omitempty" db:"last_error"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// Message returns the deliverable part of the row
func (n *Notification) Message() Message {
	return Message{Title: n.Title, Body: n.Body, DeepLink: n.DeepLink}
}

// DeepLink builds the deep link of a transaction
func DeepLink(id uuid.UUID) string {
	return fmt.Sprintf("%s://transactions/%s", DeepLinkScheme, id)
}

// Compose builds the message for a committed transaction.
// "£1.84 at TESCO STORES", "+£2500.00 from ACME LTD", "£50.00 moved between pockets"
func Compose(tx *ledger.Transaction) Message {
	amount := money.Format(tx.Amount, tx.Currency)
	counterparty := tx.Merchant
	if counterparty == "" {
		counterparty = tx.Description
	}

	var title string
	switch tx.Type {
	case ledger.TxTypeTransfer:
		title = fmt.Sprintf("%s moved between pockets", amount)
	case ledger.TxTypeIncome:
		title = fmt.Sprintf("+%s from %s", amount, counterparty)
	default:
		title = fmt.Sprintf("%s at %s", amount, counterparty)
	}

	body := fmt.Sprintf("Categorised as %s", tx.Category)
	if tx.PocketID == nil {
		body += ". Not assigned to a pocket"
	}

	return Message{Title: title, Body: body, DeepLink: DeepLink(tx.ID)}
}
