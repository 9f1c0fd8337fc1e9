package service

import (
	"context"
	"errors"
	"time"

	config "github.com/maheshrc27/campaignflow/configs"
	"github.com/maheshrc27/campaignflow/internal/apperrors"
	"github.com/maheshrc27/campaignflow/internal/models"
	"github.com/maheshrc27/campaignflow/internal/queue"
	"github.com/maheshrc27/campaignflow/internal/repository"
	"go.uber.org/zap"
)

type AnalyticsService interface {
	// Refresh takes one metrics reading for the post named by t and queues
	// the next one.
	Refresh(ctx context.Context, t queue.Task) error
	Snapshots(ctx context.Context, postID int64) ([]*models.AnalyticsSnapshot, error)
}

type analyticsService struct {
	store   *repository.Store
	queue   queue.Enqueuer
	metrics MetricsClient
	limiter RateLimiter
	cfg     config.AnalyticsConfig
	backoff *Backoff
	log     *zap.Logger
	now     func() time.Time
}

func NewAnalyticsService(
	store *repository.Store,
	q queue.Enqueuer,
	metrics MetricsClient,
	limiter RateLimiter,
	cfg config.AnalyticsConfig,
	seed int64,
	log *zap.Logger,
) AnalyticsService {
	return &analyticsService{
		store:   store,
		queue:   q,
		metrics: metrics,
		limiter: limiter,
		cfg:     cfg,
		backoff: NewBackoff(cfg.Retry, seed),
		log:     log,
		now:     time.Now,
	}
}

func (s *analyticsService) Snapshots(ctx context.Context, postID int64) ([]*models.AnalyticsSnapshot, error) {
	return s.store.Analytics.ListByPost(ctx, postID)
}

func (s *analyticsService) Refresh(ctx context.Context, t queue.Task) error {
	log := s.log.With(zap.Int64("post_id", t.TargetID), zap.Int("step", t.Step), zap.Int("attempt", t.Attempt))

	post, err := s.store.Posts.GetByID(ctx, t.TargetID)
	if err != nil {
		return err
	}
	if post == nil || post.Status != models.PostStatusDelivered || post.DeliveredAt == nil {
		log.Debug("post has no delivery to measure")
		return nil
	}
	deliveredAt := *post.DeliveredAt
	now := s.now()
	if now.After(deliveredAt.Add(s.cfg.Horizon)) {
		log.Debug("post is past its observation horizon")
		return nil
	}

	campaign, err := s.store.Campaigns.GetByID(ctx, post.CampaignID)
	if err != nil {
		return err
	}
	if campaign == nil {
		return nil
	}
	account, err := s.store.Accounts.GetByID(ctx, campaign.AccountID)
	if err != nil {
		return err
	}
	if account == nil || account.Status != models.AccountStatusActive {
		log.Info("account unavailable, analytics stopped", zap.Int64("account_id", campaign.AccountID))
		return nil
	}

	if err := s.limiter.Acquire(ctx, account.RateKey()); err != nil {
		s.retry(ctx, log, t, post, err)
		return nil
	}

	m, err := s.metrics.Metrics(ctx, account, post.ExternalID)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrNotFound):
		log.Info("post no longer exists on the platform, analytics stopped")
		return nil
	case apperrors.KindOf(err) == apperrors.KindPermanent:
		log.Warn("metrics query rejected, analytics stopped", zap.Error(err))
		return nil
	default:
		s.retry(ctx, log, t, post, err)
		return nil
	}

	snap := &models.AnalyticsSnapshot{
		PostID:      post.ID,
		CampaignID:  post.CampaignID,
		Likes:       m.Likes,
		Reshares:    m.Reshares,
		Replies:     m.Replies,
		Impressions: m.Impressions,
		CapturedAt:  now,
	}
	if _, err := s.store.Analytics.Insert(ctx, snap); err != nil {
		return err
	}
	log.Debug("analytics snapshot stored", zap.Int64("impressions", snap.Impressions))

	s.scheduleStep(ctx, log, post, t.Step+1)
	return nil
}

// retry reschedules the same step with backoff. Once the retry budget is
// spent the step is given up and the next one is scheduled instead.
func (s *analyticsService) retry(ctx context.Context, log *zap.Logger, t queue.Task, post *models.ScheduledPost, cause error) {
	attempt := t.Attempt + 1
	if attempt >= s.backoff.Policy().MaxRetries {
		log.Warn("metrics query failed, skipping step", zap.Error(cause))
		s.scheduleStep(ctx, log, post, t.Step+1)
		return
	}

	hint, _ := apperrors.RetryHint(cause)
	next := t
	next.Attempt = attempt
	next.NotBefore = s.now().Add(s.backoff.Delay(t.Attempt, hint))
	if next.NotBefore.After(post.DeliveredAt.Add(s.cfg.Horizon)) {
		log.Warn("metrics query failed at the end of the horizon", zap.Error(cause))
		return
	}
	log.Info("metrics query failed, retrying", zap.Time("not_before", next.NotBefore), zap.Error(cause))
	if err := s.queue.Enqueue(ctx, next); err != nil {
		log.Warn("enqueue analytics retry", zap.Error(err))
	}
}

func (s *analyticsService) scheduleStep(ctx context.Context, log *zap.Logger, post *models.ScheduledPost, step int) {
	if step >= len(s.cfg.Cadence) {
		log.Debug("analytics cadence complete")
		return
	}
	deliveredAt := *post.DeliveredAt
	at := deliveredAt.Add(s.cfg.Cadence[step])
	if now := s.now(); at.Before(now) {
		at = now
	}
	if at.After(deliveredAt.Add(s.cfg.Horizon)) {
		log.Debug("next refresh falls past the horizon")
		return
	}

	task := queue.Task{Kind: queue.KindRefreshAnalytics, TargetID: post.ID, NotBefore: at, Step: step}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		log.Warn("enqueue analytics refresh", zap.Error(err))
	}
}
