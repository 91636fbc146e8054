package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/covecrm/mailengine/internal/deadletter"
)

// DeadLetters is the Postgres-backed dead-letter store.
type DeadLetters struct {
	pool *pgxpool.Pool
}

func NewDeadLetters(pool *pgxpool.Pool) *DeadLetters {
	return &DeadLetters{pool: pool}
}

func (d *DeadLetters) Add(ctx context.Context, entry *deadletter.Entry) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO dead_letters (
			id, campaign_id, account_id, recipient, reason, final_error,
			retry_count, needs_manual_review, payload, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		entry.ID,
		entry.CampaignID,
		entry.AccountID,
		entry.Recipient,
		entry.Reason,
		entry.FinalError,
		entry.RetryCount,
		entry.NeedsManualReview,
		entry.Payload,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add dead letter: %w", err)
	}

	return nil
}

func (d *DeadLetters) List(ctx context.Context, campaignID string) ([]*deadletter.Entry, error) {
	query := `
		SELECT id, campaign_id, account_id, recipient, reason, final_error,
			retry_count, needs_manual_review, payload, created_at
		FROM dead_letters
	`
	args := []any{}
	if campaignID != "" {
		query += ` WHERE campaign_id = $1`
		args = append(args, campaignID)
	}
	query += ` ORDER BY created_at`

	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var entries []*deadletter.Entry
	for rows.Next() {
		var entry deadletter.Entry
		if err := rows.Scan(
			&entry.ID,
			&entry.CampaignID,
			&entry.AccountID,
			&entry.Recipient,
			&entry.Reason,
			&entry.FinalError,
			&entry.RetryCount,
			&entry.NeedsManualReview,
			&entry.Payload,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dead letters: %w", err)
	}

	return entries, nil
}

func (d *DeadLetters) Remove(ctx context.Context, id string) error {
	_, err := d.pool.Exec(ctx, `DELETE FROM dead_letters WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to remove dead letter: %w", err)
	}

	return nil
}
