package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/covecrm/mailengine/internal/models"
)

// ErrAccountNotFound is returned when a requested account cannot be found.
var ErrAccountNotFound = errors.New("account not found")

// CreateAccount inserts a newly connected account.
func (s *Store) CreateAccount(ctx context.Context, account *models.Account) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (user_id, company_id, email_address, provider, credential_ref)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`,
		account.UserID,
		account.CompanyID,
		account.EmailAddress,
		account.Provider,
		account.CredentialRef,
	).Scan(&account.ID)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

// GetAccount returns one account by id.
func (s *Store) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	var account models.Account

	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, company_id, email_address, provider, credential_ref, last_sync_at
		FROM accounts
		WHERE id = $1
	`, accountID).Scan(
		&account.ID,
		&account.UserID,
		&account.CompanyID,
		&account.EmailAddress,
		&account.Provider,
		&account.CredentialRef,
		&account.LastSyncAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &account, nil
}

// ListAccounts returns all accounts, for the background sweep.
func (s *Store) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, company_id, email_address, provider, credential_ref, last_sync_at
		FROM accounts
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		var account models.Account
		if err := rows.Scan(
			&account.ID,
			&account.UserID,
			&account.CompanyID,
			&account.EmailAddress,
			&account.Provider,
			&account.CredentialRef,
			&account.LastSyncAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, &account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// UpdateAccountLastSync records a completed sync pass.
func (s *Store) UpdateAccountLastSync(ctx context.Context, accountID string, syncedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE accounts SET last_sync_at = $2 WHERE id = $1
	`, accountID, syncedAt)
	if err != nil {
		return fmt.Errorf("failed to update account last sync: %w", err)
	}

	return nil
}
