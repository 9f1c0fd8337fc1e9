package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/maheshrc27/campaignflow/internal/models"
)

// Lookups return (nil, nil) when the row does not exist. Conditional writes
// report whether a row matched instead of failing.

type CampaignRepository interface {
	Create(ctx context.Context, c *models.Campaign) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Campaign, error)
	SetStatus(ctx context.Context, id int64, status string, pausedAt *time.Time, now time.Time) error
	ListExpired(ctx context.Context, endedBefore time.Time, limit int) ([]*models.Campaign, error)
	// Delete removes the campaign, its posts and their snapshots together.
	Delete(ctx context.Context, id int64) error
}

type PostRepository interface {
	// CreateBatch inserts all posts or none and fills in their IDs.
	CreateBatch(ctx context.Context, posts []*models.ScheduledPost) error
	GetByID(ctx context.Context, id int64) (*models.ScheduledPost, error)
	ListByCampaign(ctx context.Context, campaignID int64, status string) ([]*models.ScheduledPost, error)
	ListTargetTimes(ctx context.Context, campaignID int64) ([]time.Time, error)
	CountByStatus(ctx context.Context, campaignID int64) (map[string]int, error)

	// Transition moves a post whose status is one of from to status to.
	Transition(ctx context.Context, id int64, from []string, to string, now time.Time) (bool, error)
	// Requeue moves a post whose status is one of from to queued with a new not-before.
	Requeue(ctx context.Context, id int64, from []string, notBefore, now time.Time) (bool, error)
	// Fail moves an unclaimed post whose status is one of from to failed.
	Fail(ctx context.Context, id int64, from []string, lastErr string, now time.Time) (bool, error)
	Cancel(ctx context.Context, id int64, reason string, now time.Time) (bool, error)
	CancelByCampaign(ctx context.Context, campaignID int64, reason string, now time.Time) ([]*models.ScheduledPost, error)
	// Reactivate returns posts cancelled with reason and targeted after the
	// given time to pending, shifting their target by shift.
	Reactivate(ctx context.Context, campaignID int64, reason string, after time.Time, shift time.Duration, now time.Time) ([]*models.ScheduledPost, error)
	// ResetFailed puts a failed post back in the queue with a fresh retry budget.
	ResetFailed(ctx context.Context, id int64, now time.Time) (bool, error)

	// Claim moves a claimable post whose not-before has passed to posting
	// under token. It returns nil when the post is not claimable.
	Claim(ctx context.Context, id int64, token string, now time.Time) (*models.ScheduledPost, error)
	CompleteClaim(ctx context.Context, id int64, token, externalID string, at time.Time) (bool, error)
	RetryClaim(ctx context.Context, id int64, token string, retryCount int, lastErr string, notBefore, now time.Time) (bool, error)
	FailClaim(ctx context.Context, id int64, token string, retryCount int, lastErr string, now time.Time) (bool, error)
	CancelClaim(ctx context.Context, id int64, token, reason string, now time.Time) (bool, error)
	RequeueClaim(ctx context.Context, id int64, token string, now time.Time) (bool, error)

	ListStuck(ctx context.Context, claimedBefore time.Time, limit int) ([]*models.ScheduledPost, error)
	ListDue(ctx context.Context, statuses []string, notBeforeBefore time.Time, limit int) ([]*models.ScheduledPost, error)
	// PurgeFinished deletes up to limit delivered posts delivered before the
	// cutoff and failed posts last touched before it, with their snapshots.
	PurgeFinished(ctx context.Context, before time.Time, limit int) (int, error)
}

type AnalyticsRepository interface {
	Insert(ctx context.Context, s *models.AnalyticsSnapshot) (int64, error)
	ListByPost(ctx context.Context, postID int64) ([]*models.AnalyticsSnapshot, error)
	// LatestByCampaign returns the newest snapshot of every post in the campaign.
	LatestByCampaign(ctx context.Context, campaignID int64) ([]*models.AnalyticsSnapshot, error)
	// ListRefreshGaps returns delivered posts, delivered after deliveredAfter,
	// whose newest snapshot (or delivery, if none) is older than staleBefore.
	ListRefreshGaps(ctx context.Context, deliveredAfter, staleBefore time.Time, limit int) ([]int64, error)
}

type AccountRepository interface {
	Create(ctx context.Context, a *models.Account) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Account, error)
	SetToken(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt, now time.Time) error
	SetStatus(ctx context.Context, id int64, status string, now time.Time) error
	ListByUser(ctx context.Context, userID int64) ([]*models.Account, error)
}

type ApiKeyRepository interface {
	// GetUserID resolves the owner of the key with the given hash.
	GetUserID(ctx context.Context, keyHash string) (int64, bool, error)
	GetByUserID(ctx context.Context, userID int64) ([]*models.ApiKey, error)
	Create(ctx context.Context, k *models.ApiKey) (int64, error)
	// Remove deletes the key when it belongs to userID.
	Remove(ctx context.Context, id, userID int64) (bool, error)
}

// Store bundles the repositories of one backend.
type Store struct {
	Campaigns CampaignRepository
	Posts     PostRepository
	Analytics AnalyticsRepository
	Accounts  AccountRepository
	Keys      ApiKeyRepository
}

func NewPostgresStore(db *sql.DB) *Store {
	return &Store{
		Campaigns: NewCampaignRepository(db),
		Posts:     NewPostRepository(db),
		Analytics: NewAnalyticsRepository(db),
		Accounts:  NewAccountRepository(db),
		Keys:      NewApiKeyRepository(db),
	}
}
