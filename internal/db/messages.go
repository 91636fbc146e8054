package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/covecrm/mailengine/internal/models"
)

// ErrMessageNotFound is returned when a requested message cannot be found.
var ErrMessageNotFound = errors.New("message not found")

const upsertMessageSQL = `
	INSERT INTO messages (
		account_id,
		company_id,
		remote_id,
		folder_name,
		uid,
		direction,
		from_address,
		to_addresses,
		cc_addresses,
		subject,
		body_text,
		body_html,
		sent_at,
		received_at,
		is_read
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (account_id, remote_id) DO UPDATE SET
		folder_name = EXCLUDED.folder_name,
		uid = EXCLUDED.uid,
		direction = EXCLUDED.direction,
		from_address = EXCLUDED.from_address,
		to_addresses = EXCLUDED.to_addresses,
		cc_addresses = EXCLUDED.cc_addresses,
		subject = EXCLUDED.subject,
		body_text = COALESCE(NULLIF(EXCLUDED.body_text, ''), messages.body_text),
		body_html = COALESCE(NULLIF(EXCLUDED.body_html, ''), messages.body_html),
		sent_at = EXCLUDED.sent_at,
		received_at = EXCLUDED.received_at,
		is_read = EXCLUDED.is_read
`

// BulkUpsertMessages writes a batch of ingested messages. The conflict target
// (account_id, remote_id) makes re-ingestion of an already-seen message a
// no-op update rather than a duplicate.
func (s *Store) BulkUpsertMessages(ctx context.Context, messages []*models.EmailMessage) error {
	if len(messages) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, msg := range messages {
		batch.Queue(upsertMessageSQL,
			msg.AccountID,
			msg.CompanyID,
			msg.RemoteID,
			msg.FolderName,
			int64(msg.UID),
			msg.Direction,
			msg.FromAddress,
			msg.ToAddresses,
			msg.CCAddresses,
			msg.Subject,
			msg.BodyText,
			msg.BodyHTML,
			msg.SentAt,
			msg.ReceivedAt,
			msg.IsRead,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer func() {
		_ = results.Close()
	}()

	for range messages {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert message batch: %w", err)
		}
	}

	return nil
}

// GetMessageByRemoteID returns one message by its idempotency key.
func (s *Store) GetMessageByRemoteID(ctx context.Context, accountID, remoteID string) (*models.EmailMessage, error) {
	var msg models.EmailMessage
	var uid int64

	err := s.pool.QueryRow(ctx, `
		SELECT
			id,
			account_id,
			company_id,
			remote_id,
			folder_name,
			uid,
			direction,
			from_address,
			to_addresses,
			cc_addresses,
			subject,
			body_text,
			body_html,
			sent_at,
			received_at,
			is_read
		FROM messages
		WHERE account_id = $1 AND remote_id = $2
	`, accountID, remoteID).Scan(
		&msg.ID,
		&msg.AccountID,
		&msg.CompanyID,
		&msg.RemoteID,
		&msg.FolderName,
		&uid,
		&msg.Direction,
		&msg.FromAddress,
		&msg.ToAddresses,
		&msg.CCAddresses,
		&msg.Subject,
		&msg.BodyText,
		&msg.BodyHTML,
		&msg.SentAt,
		&msg.ReceivedAt,
		&msg.IsRead,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	msg.UID = uint32(uid)
	return &msg, nil
}

// CountMessagesForAccount returns the number of ingested messages, optionally
// restricted to one folder.
func (s *Store) CountMessagesForAccount(ctx context.Context, accountID, folderName string) (int, error) {
	var count int
	var err error

	if folderName == "" {
		err = s.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM messages WHERE account_id = $1`, accountID).Scan(&count)
	} else {
		err = s.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM messages WHERE account_id = $1 AND folder_name = $2`,
			accountID, folderName).Scan(&count)
	}

	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}

	return count, nil
}
