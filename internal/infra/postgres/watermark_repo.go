package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kislikjeka/pocketflow/internal/platform/sync"
)

// WatermarkRepository implements sync.WatermarkRepository using PostgreSQL
type WatermarkRepository struct {
	txManager
}

// NewWatermarkRepository creates a new PostgreSQL watermark repository
func NewWatermarkRepository(pool *pgxpool.Pool) *WatermarkRepository {
	return &WatermarkRepository{txManager{pool: pool}}
}

var _ sync.WatermarkRepository = (*WatermarkRepository)(nil)

// GetWatermark returns nil when the account has no successful poll yet
func (r *WatermarkRepository) GetWatermark(ctx context.Context, provider, accountRef, profile string) (*sync.Watermark, error) {
	query := `
		SELECT provider, account_ref, profile, watermark, last_success_at, last_error
		FROM poll_watermarks
		WHERE provider = $1 AND account_ref = $2 AND profile = $3 AND watermark IS NOT NULL
	`

	var wm sync.Watermark
	err := r.queryer(ctx).QueryRow(ctx, query, provider, accountRef, profile).Scan(
		&wm.Provider, &wm.AccountRef, &wm.Profile, &wm.Watermark, &wm.LastSuccessAt, &wm.LastError,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get watermark: %w", err)
	}
	return &wm, nil
}

// AdvanceWatermark moves the watermark forward and clears the last error
func (r *WatermarkRepository) AdvanceWatermark(ctx context.Context, provider, accountRef, profile string, watermark time.Time) error {
	query := `
		INSERT INTO poll_watermarks (provider, account_ref, profile, watermark, last_success_at, last_error, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NULL, NOW())
		ON CONFLICT (provider, account_ref, profile)
		DO UPDATE SET
			watermark = GREATEST(COALESCE(poll_watermarks.watermark, EXCLUDED.watermark), EXCLUDED.watermark),
			last_success_at = NOW(),
			last_error = NULL,
			updated_at = NOW()
	`

	if _, err := r.queryer(ctx).Exec(ctx, query, provider, accountRef, profile, watermark); err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	return nil
}

// RecordError keeps the watermark and records the failure
func (r *WatermarkRepository) RecordError(ctx context.Context, provider, accountRef, profile, errMsg string) error {
	query := `
		INSERT INTO poll_watermarks (provider, account_ref, profile, last_error, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (provider, account_ref, profile)
		DO UPDATE SET last_error = EXCLUDED.last_error, updated_at = NOW()
	`

	if _, err := r.queryer(ctx).Exec(ctx, query, provider, accountRef, profile, errMsg); err != nil {
		return fmt.Errorf("failed to record poll error: %w", err)
	}
	return nil
}

// ListWatermarks lists the poll state of a profile's accounts
func (r *WatermarkRepository) ListWatermarks(ctx context.Context, profile string) ([]*sync.Watermark, error) {
	query := `
		SELECT provider, account_ref, profile, COALESCE(watermark, 'epoch'::timestamptz), last_success_at, last_error
		FROM poll_watermarks
		WHERE profile = $1
		ORDER BY provider, account_ref
	`

	rows, err := r.queryer(ctx).Query(ctx, query, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to list watermarks: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*sync.Watermark, error) {
		var wm sync.Watermark
		err := row.Scan(&wm.Provider, &wm.AccountRef, &wm.Profile, &wm.Watermark, &wm.LastSuccessAt, &wm.LastError)
		return &wm, err
	})
}
