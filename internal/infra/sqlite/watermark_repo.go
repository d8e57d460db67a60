package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kislikjeka/pocketflow/internal/platform/sync"
)

// WatermarkRepository implements sync.WatermarkRepository on SQLite
type WatermarkRepository struct {
	txManager
	now func() time.Time
}

// NewWatermarkRepository creates a new SQLite watermark repository
func NewWatermarkRepository(db *DB) *WatermarkRepository {
	return &WatermarkRepository{
		txManager: txManager{db: db.DB},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var _ sync.WatermarkRepository = (*WatermarkRepository)(nil)

const watermarkColumns = `provider, account_ref, profile, watermark, last_success_at, last_error`

// GetWatermark returns nil when the account has no successful poll yet
func (r *WatermarkRepository) GetWatermark(ctx context.Context, provider, accountRef, profile string) (*sync.Watermark, error) {
	query := `SELECT ` + watermarkColumns + ` FROM poll_watermarks
		WHERE provider = ? AND account_ref = ? AND profile = ? AND watermark IS NOT NULL`

	wm, err := scanWatermark(r.queryer(ctx).QueryRowContext(ctx, query, provider, accountRef, profile))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get watermark: %w", err)
	}
	return wm, nil
}

func scanWatermark(row scanner) (*sync.Watermark, error) {
	var wm sync.Watermark
	var watermark, lastSuccess sql.NullTime
	var lastError sql.NullString

	if err := row.Scan(&wm.Provider, &wm.AccountRef, &wm.Profile, &watermark, &lastSuccess, &lastError); err != nil {
		return nil, err
	}
	if watermark.Valid {
		wm.Watermark = watermark.Time.UTC()
	}
	wm.LastSuccessAt = nullTime(lastSuccess)
	wm.LastError = nullString(lastError)
	return &wm, nil
}

// AdvanceWatermark moves the watermark forward and clears the last error.
// The watermark never moves backwards.
func (r *WatermarkRepository) AdvanceWatermark(ctx context.Context, provider, accountRef, profile string, watermark time.Time) error {
	now := r.now()
	query := `
		INSERT INTO poll_watermarks (provider, account_ref, profile, watermark, last_success_at, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, NULL, ?)
		ON CONFLICT (provider, account_ref, profile) DO UPDATE SET
			watermark = CASE
				WHEN poll_watermarks.watermark IS NULL OR poll_watermarks.watermark < excluded.watermark
				THEN excluded.watermark
				ELSE poll_watermarks.watermark
			END,
			last_success_at = excluded.last_success_at,
			last_error = NULL,
			updated_at = excluded.updated_at
	`

	if _, err := r.queryer(ctx).ExecContext(ctx, query,
		provider, accountRef, profile, utc(watermark), now, now); err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	return nil
}

// RecordError keeps the watermark and records the failure
func (r *WatermarkRepository) RecordError(ctx context.Context, provider, accountRef, profile, errMsg string) error {
	query := `
		INSERT INTO poll_watermarks (provider, account_ref, profile, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (provider, account_ref, profile) DO UPDATE SET
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`

	if _, err := r.queryer(ctx).ExecContext(ctx, query, provider, accountRef, profile, errMsg, r.now()); err != nil {
		return fmt.Errorf("failed to record poll error: %w", err)
	}
	return nil
}

// ListWatermarks lists the poll state of a profile's accounts
func (r *WatermarkRepository) ListWatermarks(ctx context.Context, profile string) ([]*sync.Watermark, error) {
	rows, err := r.queryer(ctx).QueryContext(ctx,
		`SELECT `+watermarkColumns+` FROM poll_watermarks WHERE profile = ? ORDER BY provider, account_ref`, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to list watermarks: %w", err)
	}
	defer rows.Close()

	marks := make([]*sync.Watermark, 0)
	for rows.Next() {
		wm, err := scanWatermark(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan watermark: %w", err)
		}
		marks = append(marks, wm)
	}
	return marks, rows.Err()
}
