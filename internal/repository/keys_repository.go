package repository

import (
	"context"
	"database/sql"

	"github.com/maheshrc27/campaignflow/internal/apperrors"
	"github.com/maheshrc27/campaignflow/internal/models"
)

type apiKeyRepository struct {
	db *sql.DB
}

func NewApiKeyRepository(db *sql.DB) ApiKeyRepository {
	return &apiKeyRepository{db: db}
}

func (r *apiKeyRepository) GetUserID(ctx context.Context, keyHash string) (int64, bool, error) {
	var userID int64
	query := "SELECT user_id FROM api_keys WHERE key_hash = $1"
	err := r.db.QueryRowContext(ctx, query, keyHash).Scan(&userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, apperrors.Infrastructure("get api key", err)
	}
	return userID, true, nil
}

func (r *apiKeyRepository) GetByUserID(ctx context.Context, userID int64) ([]*models.ApiKey, error) {
	query := `SELECT id, user_id, prefix, key_hash, created_at FROM api_keys WHERE user_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, apperrors.Infrastructure("list api keys", err)
	}
	defer rows.Close()

	var apiKeys []*models.ApiKey
	for rows.Next() {
		var k models.ApiKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Prefix, &k.KeyHash, &k.CreatedAt); err != nil {
			return nil, apperrors.Infrastructure("scan api key", err)
		}
		apiKeys = append(apiKeys, &k)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Infrastructure("list api keys", err)
	}
	return apiKeys, nil
}

func (r *apiKeyRepository) Create(ctx context.Context, k *models.ApiKey) (int64, error) {
	query := "INSERT INTO api_keys (user_id, prefix, key_hash) VALUES ($1, $2, $3) RETURNING id"
	var id int64
	if err := r.db.QueryRowContext(ctx, query, k.UserID, k.Prefix, k.KeyHash).Scan(&id); err != nil {
		return 0, apperrors.Infrastructure("create api key", err)
	}
	return id, nil
}

func (r *apiKeyRepository) Remove(ctx context.Context, id, userID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, apperrors.Infrastructure("remove api key", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.Infrastructure("remove api key", err)
	}
	return n > 0, nil
}
