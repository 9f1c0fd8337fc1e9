package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/maheshrc27/campaignflow/internal/apperrors"
	"github.com/maheshrc27/campaignflow/internal/models"
)

type accountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(ctx context.Context, a *models.Account) (int64, error) {
	query := `
		INSERT INTO accounts (user_id, platform, handle, access_token, refresh_token, token_expires_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	status := a.Status
	if status == "" {
		status = models.AccountStatusActive
	}

	var id int64
	err := r.db.QueryRowContext(ctx, query, a.UserID, a.Platform, a.Handle,
		a.AccessToken, a.RefreshToken, a.TokenExpiresAt, status).Scan(&id)
	if err != nil {
		return 0, apperrors.Infrastructure("create account", err)
	}
	return id, nil
}

func (r *accountRepository) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	query := `
		SELECT id, user_id, platform, handle, access_token, refresh_token, token_expires_at, status, created_at, updated_at
		FROM accounts WHERE id = $1
	`

	var a models.Account
	err := r.db.QueryRowContext(ctx, query, id).Scan(&a.ID, &a.UserID, &a.Platform, &a.Handle,
		&a.AccessToken, &a.RefreshToken, &a.TokenExpiresAt, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperrors.Infrastructure("get account", err)
	}
	return &a, nil
}

func (r *accountRepository) SetToken(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt, now time.Time) error {
	query := `
		UPDATE accounts
		SET access_token = $1,
			refresh_token = $2,
			token_expires_at = $3,
			updated_at = $4
		WHERE id = $5
	`
	if _, err := r.db.ExecContext(ctx, query, accessToken, refreshToken, expiresAt, now, id); err != nil {
		return apperrors.Infrastructure("set account token", err)
	}
	return nil
}

func (r *accountRepository) SetStatus(ctx context.Context, id int64, status string, now time.Time) error {
	query := `UPDATE accounts SET status = $1, updated_at = $2 WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, status, now, id); err != nil {
		return apperrors.Infrastructure("set account status", err)
	}
	return nil
}

func (r *accountRepository) ListByUser(ctx context.Context, userID int64) ([]*models.Account, error) {
	query := `
		SELECT id, user_id, platform, handle, access_token, refresh_token, token_expires_at, status, created_at, updated_at
		FROM accounts WHERE user_id = $1 ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, apperrors.Infrastructure("list accounts", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.Platform, &a.Handle, &a.AccessToken, &a.RefreshToken,
			&a.TokenExpiresAt, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, apperrors.Infrastructure("scan account", err)
		}
		accounts = append(accounts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Infrastructure("list accounts", err)
	}
	return accounts, nil
}
