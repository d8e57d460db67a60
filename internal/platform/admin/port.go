package admin

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kislikjeka/pocketflow/internal/ledger"
	"github.com/kislikjeka/pocketflow/internal/platform/pocket"
	"github.com/kislikjeka/pocketflow/internal/platform/sync"
)

// Pockets manages the pocket directory
type Pockets interface {
	Create(ctx context.Context, p *pocket.Pocket) (*pocket.Pocket, error)
	MapExternalRef(ctx context.Context, profile string, pocketID uuid.UUID, ref string) (*pocket.Pocket, error)
	MapPot(ctx context.Context, provider, potRef, profile string, pocketID uuid.UUID) (*pocket.PotMapping, error)
	Inspect(ctx context.Context, profile string) (*pocket.Mappings, error)
	TrackAccount(ctx context.Context, a *pocket.TrackedAccount) error
	TrackedAccounts(ctx context.Context, filter pocket.TrackedFilter) ([]*pocket.TrackedAccount, error)
}

// Syncer exposes provider clients and replays
type Syncer interface {
	Client(provider string) (sync.ProviderClient, error)
	Replay(ctx context.Context, profile, provider string, from, to time.Time) (*sync.SyncReport, error)
}

// BalanceVerifier recomputes pocket balances from ledger rows
type BalanceVerifier interface {
	VerifyProfileBalances(ctx context.Context, profile string) ([]ledger.BalanceCheck, error)
}

// WatermarkLister lists the poll state of a profile
type WatermarkLister interface {
	ListWatermarks(ctx context.Context, profile string) ([]*sync.Watermark, error)
}
