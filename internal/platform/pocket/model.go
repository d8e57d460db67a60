package pocket

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FallbackName is the pocket name used when no mapping exists for a ref.
const FallbackName = "General"

// Type is the budgeting role of a pocket
type Type string

const (
	TypeSpending Type = "spending"
	TypeSavings  Type = "savings"
	TypeBills    Type = "bills"
	TypeIncome   Type = "income"
)

// IsValid checks if the pocket type is valid
func (t Type) IsValid() bool {
	switch t {
	case TypeSpending, TypeSavings, TypeBills, TypeIncome:
		return true
	}
	return false
}

// Pocket is a named budget bucket with its own running balance.
// Balance is written only by the ledger commit.
type Pocket struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Profile     string          `json:"profile" db:"profile"`
	Type        Type            `json:"type" db:"type"`
	Balance     decimal.Decimal `json:"balance" db:"balance"`
	ExternalRef *string         `json:"external_ref,omitempty" db:"external_ref"` // provider account or pot id
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// ValidateCreate validates pocket fields for creation
func (p *Pocket) ValidateCreate() error {
	if strings.TrimSpace(p.Profile) == "" {
		return ErrMissingProfile
	}
	if strings.TrimSpace(p.Name) == "" {
		return ErrMissingName
	}
	if len(p.Name) > 100 {
		return ErrNameTooLong
	}
	if p.Type == "" {
		p.Type = TypeSpending
	}
	if !p.Type.IsValid() {
		return ErrInvalidType
	}
	if p.ExternalRef != nil && strings.TrimSpace(*p.ExternalRef) == "" {
		p.ExternalRef = nil
	}
	return nil
}

// PotMapping routes a provider pot to a pocket when the pocket itself does
// not carry the pot id as its external ref.
type PotMapping struct {
	Provider  string    `json:"provider" db:"provider"`
	PotRef    string    `json:"pot_ref" db:"pot_ref"`
	Profile   string    `json:"profile" db:"profile"`
	PocketID  uuid.UUID `json:"pocket_id" db:"pocket_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TrackedAccount is a provider account the poller fetches for a profile
type TrackedAccount struct {
	Provider    string    `json:"provider" db:"provider"`
	AccountRef  string    `json:"account_ref" db:"account_ref"`
	Profile     string    `json:"profile" db:"profile"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Enabled     bool      `json:"enabled" db:"enabled"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// TrackedFilter selects tracked accounts. Empty fields match everything.
type TrackedFilter struct {
	Profile     string
	Provider    string
	EnabledOnly bool
}

// UnresolvedRef is the remediation signal for refs no rule could map
type UnresolvedRef struct {
	Provider    string    `json:"provider" db:"provider"`
	ExternalRef string    `json:"external_ref" db:"external_ref"`
	Profile     string    `json:"profile" db:"profile"`
	FirstSeenAt time.Time `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at" db:"last_seen_at"`
	Occurrences int       `json:"occurrences" db:"occurrences"`
}
