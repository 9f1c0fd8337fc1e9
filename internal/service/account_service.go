package service

import (
	"context"
	"strings"
	"time"

	"github.com/maheshrc27/campaignflow/internal/apperrors"
	"github.com/maheshrc27/campaignflow/internal/models"
	"github.com/maheshrc27/campaignflow/internal/repository"
	"github.com/maheshrc27/campaignflow/pkg/utils"
	"go.uber.org/zap"
)

// AccountRegistration carries the OAuth tokens of a platform account in
// plain text. They are sealed before they reach the store.
type AccountRegistration struct {
	Platform     string
	Handle       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

type AccountService interface {
	Register(ctx context.Context, userID int64, req AccountRegistration) (*models.Account, error)
	List(ctx context.Context, userID int64) ([]*models.Account, error)
}

type accountService struct {
	accounts  repository.AccountRepository
	secretKey []byte
	log       *zap.Logger
	now       func() time.Time
}

func NewAccountService(accounts repository.AccountRepository, secretKey string, log *zap.Logger) AccountService {
	return &accountService{accounts: accounts, secretKey: []byte(secretKey), log: log, now: time.Now}
}

func (s *accountService) Register(ctx context.Context, userID int64, req AccountRegistration) (*models.Account, error) {
	req.Platform = strings.TrimSpace(req.Platform)
	req.Handle = strings.TrimSpace(req.Handle)
	if req.Platform == "" || req.Handle == "" {
		return nil, apperrors.Validationf("register account", "platform and handle are required")
	}
	if req.AccessToken == "" {
		return nil, apperrors.Validationf("register account", "access token is required")
	}

	access, err := utils.Seal(req.AccessToken, s.secretKey)
	if err != nil {
		return nil, err
	}
	refresh := ""
	if req.RefreshToken != "" {
		if refresh, err = utils.Seal(req.RefreshToken, s.secretKey); err != nil {
			return nil, err
		}
	}

	now := s.now()
	a := &models.Account{
		UserID:         userID,
		Platform:       req.Platform,
		Handle:         req.Handle,
		AccessToken:    access,
		RefreshToken:   refresh,
		TokenExpiresAt: req.ExpiresAt,
		Status:         models.AccountStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	id, err := s.accounts.Create(ctx, a)
	if err != nil {
		return nil, err
	}
	s.log.Info("account registered", zap.Int64("account_id", id), zap.String("platform", a.Platform), zap.String("handle", a.Handle))
	return s.accounts.GetByID(ctx, id)
}

func (s *accountService) List(ctx context.Context, userID int64) ([]*models.Account, error) {
	return s.accounts.ListByUser(ctx, userID)
}
