package sync

import (
	"context"
	"time"

	"github.com/kislikjeka/pocketflow/internal/ledger"
	"github.com/kislikjeka/pocketflow/internal/platform/ingest"
	"github.com/kislikjeka/pocketflow/internal/platform/pocket"
)

// ProviderAccount is an account or pot listed by a provider
type ProviderAccount struct {
	Ref    ledger.ExternalRef
	Name   string
	Closed bool
}

// ProviderClient fetches a bank provider's transactions. ListEvents returns
// ledger.ErrTokenExpired when the access token is rejected and wraps
// ErrUpstreamUnavailable around transient failures.
type ProviderClient interface {
	Provider() string
	ListEvents(ctx context.Context, token, account string, since, until time.Time) ([]ledger.Event, error)
	ListAccounts(ctx context.Context, token string) ([]ProviderAccount, error)
	RegisterWebhook(ctx context.Context, token, account, url string) error
}

// TokenSource supplies provider access tokens per profile
type TokenSource interface {
	Token(ctx context.Context, provider, profile string) (string, error)
	Refresh(ctx context.Context, provider, profile string) (string, error)
}

// AccountRepository lists the accounts the poller fetches
type AccountRepository interface {
	ListTrackedAccounts(ctx context.Context, filter pocket.TrackedFilter) ([]*pocket.TrackedAccount, error)
}

// Ingester reconciles canonical events
type Ingester interface {
	IngestEvents(ctx context.Context, events []ledger.Event) *ingest.Result
}

// Watermark is the per-account poll position
type Watermark struct {
	Provider      string     `json:"provider" db:"provider"`
	AccountRef    string     `json:"account_ref" db:"account_ref"`
	Profile       string     `json:"profile" db:"profile"`
	Watermark     time.Time  `json:"watermark" db:"watermark"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty" db:"last_success_at"`
	LastError     *string    `json:"last_error,omitempty" db:"last_error"`
}

// WatermarkRepository persists poll watermarks
type WatermarkRepository interface {
	// GetWatermark returns nil when the account was never polled successfully
	GetWatermark(ctx context.Context, provider, accountRef, profile string) (*Watermark, error)

	// AdvanceWatermark moves the watermark and clears the last error
	AdvanceWatermark(ctx context.Context, provider, accountRef, profile string, watermark time.Time) error

	// RecordError keeps the watermark and records why the cycle failed
	RecordError(ctx context.Context, provider, accountRef, profile, errMsg string) error
}
