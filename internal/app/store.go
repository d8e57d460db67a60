package app

import (
	"context"
	"fmt"

	"github.com/kislikjeka/pocketflow/internal/infra/postgres"
	"github.com/kislikjeka/pocketflow/internal/infra/sqlite"
	"github.com/kislikjeka/pocketflow/internal/ledger"
	"github.com/kislikjeka/pocketflow/internal/platform/admin"
	"github.com/kislikjeka/pocketflow/internal/platform/notify"
	"github.com/kislikjeka/pocketflow/internal/platform/pocket"
	"github.com/kislikjeka/pocketflow/internal/platform/sync"
	"github.com/kislikjeka/pocketflow/pkg/config"
)

// WatermarkStore persists and lists poll watermarks
type WatermarkStore interface {
	sync.WatermarkRepository
	admin.WatermarkLister
}

// Store is one storage backend. All repositories share the backend's
// transaction context, so a claim, its balance delta and its outbox row
// commit together.
type Store struct {
	Ledger     ledger.Repository
	Pockets    pocket.Repository
	Outbox     notify.Repository
	Watermarks WatermarkStore
	Ping       func(ctx context.Context) error
	Close      func()
}

// OpenStore opens the backend selected by cfg.Store
func OpenStore(ctx context.Context, cfg *config.Config) (*Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		db, err := postgres.NewPool(ctx, postgres.Config{URL: cfg.DatabaseURL})
		if err != nil {
			return nil, err
		}
		return &Store{
			Ledger:     postgres.NewLedgerRepository(db.Pool),
			Pockets:    postgres.NewPocketRepository(db.Pool),
			Outbox:     postgres.NewOutboxRepository(db.Pool),
			Watermarks: postgres.NewWatermarkRepository(db.Pool),
			Ping:       db.Health,
			Close:      db.Close,
		}, nil

	case config.StoreSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Store{
			Ledger:     sqlite.NewLedgerRepository(db),
			Pockets:    sqlite.NewPocketRepository(db),
			Outbox:     sqlite.NewOutboxRepository(db),
			Watermarks: sqlite.NewWatermarkRepository(db),
			Ping:       db.Health,
			Close:      func() { _ = db.Close() },
		}, nil
	}
	return nil, fmt.Errorf("unsupported store %q", cfg.Store)
}
