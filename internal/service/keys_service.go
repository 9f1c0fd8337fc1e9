package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/maheshrc27/campaignflow/internal/apperrors"
	"github.com/maheshrc27/campaignflow/internal/models"
	"github.com/maheshrc27/campaignflow/internal/repository"
	"github.com/maheshrc27/campaignflow/pkg/utils"
	"go.uber.org/zap"
)

const maxApiKeys = 5

var ErrUnknownApiKey = errors.New("api key does not exist")

type ApiKeyService interface {
	// Create returns the new key. It cannot be recovered later.
	Create(ctx context.Context, userID int64) (string, error)
	List(ctx context.Context, userID int64) ([]*models.ApiKey, error)
	GetUserID(ctx context.Context, apiKey string) (int64, error)
	RemoveAPIKey(ctx context.Context, userID, keyID int64) error
}

type apiKeyService struct {
	k   repository.ApiKeyRepository
	log *zap.Logger
}

func NewApiKeyService(k repository.ApiKeyRepository, log *zap.Logger) ApiKeyService {
	return &apiKeyService{k: k, log: log}
}

func (s *apiKeyService) Create(ctx context.Context, userID int64) (string, error) {
	keys, err := s.k.GetByUserID(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(keys) >= maxApiKeys {
		return "", apperrors.Validationf("create api key", "only %d api keys can be created", maxApiKeys)
	}

	key, err := utils.NewAPIKey()
	if err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	apiKey := &models.ApiKey{
		UserID:  userID,
		Prefix:  key[:8],
		KeyHash: utils.HashAPIKey(key),
	}
	id, err := s.k.Create(ctx, apiKey)
	if err != nil {
		return "", err
	}
	s.log.Info("api key created", zap.Int64("user_id", userID), zap.Int64("key_id", id))
	return key, nil
}

func (s *apiKeyService) GetUserID(ctx context.Context, apiKey string) (int64, error) {
	userID, ok, err := s.k.GetUserID(ctx, utils.HashAPIKey(apiKey))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrUnknownApiKey
	}
	return userID, nil
}

func (s *apiKeyService) List(ctx context.Context, userID int64) ([]*models.ApiKey, error) {
	return s.k.GetByUserID(ctx, userID)
}

func (s *apiKeyService) RemoveAPIKey(ctx context.Context, userID, keyID int64) error {
	if keyID <= 0 {
		return apperrors.Validationf("remove api key", "key id is not valid")
	}
	ok, err := s.k.Remove(ctx, keyID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("api key %d: %w", keyID, apperrors.ErrNotFound)
	}
	return nil
}
