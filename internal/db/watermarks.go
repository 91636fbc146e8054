package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetWatermark returns the highest ingested UID for (account, folder). The
// second return value is false when the folder has never been synced.
func (s *Store) GetWatermark(ctx context.Context, accountID, folderName string) (uint32, bool, error) {
	var lastUID int64

	err := s.pool.QueryRow(ctx, `
		SELECT last_uid
		FROM folder_watermarks
		WHERE account_id = $1 AND folder_name = $2
	`, accountID, folderName).Scan(&lastUID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get watermark: %w", err)
	}

	return uint32(lastUID), true, nil
}

// SetWatermark advances the watermark for (account, folder). GREATEST keeps
// the stored value monotonically non-decreasing even if a stale writer
// arrives late.
func (s *Store) SetWatermark(ctx context.Context, accountID, folderName string, uid uint32) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO folder_watermarks (account_id, folder_name, last_uid, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (account_id, folder_name) DO UPDATE SET
			last_uid = GREATEST(folder_watermarks.last_uid, EXCLUDED.last_uid),
			updated_at = now()
	`, accountID, folderName, int64(uid))
	if err != nil {
		return fmt.Errorf("failed to set watermark: %w", err)
	}

	return nil
}
