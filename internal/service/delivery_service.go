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
	"github.com/maheshrc27/campaignflow/pkg/utils"
	"go.uber.org/zap"
)

// RateLimiter takes one token from the bucket of key, waiting or failing
// with apperrors.ErrRateLimited.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) error
}

type DeliveryService interface {
	// Deliver runs one delivery attempt for the post named by t.
	Deliver(ctx context.Context, t queue.Task) error
	SetRetryPolicy(p config.RetryPolicy)
}

type deliveryService struct {
	store     *repository.Store
	queue     queue.Enqueuer
	publisher Publisher
	limiter   RateLimiter
	notifier  Notifier
	backoff   *Backoff
	cadence   []time.Duration
	log       *zap.Logger
	now       func() time.Time
}

func NewDeliveryService(
	store *repository.Store,
	q queue.Enqueuer,
	publisher Publisher,
	limiter RateLimiter,
	notifier Notifier,
	backoff *Backoff,
	cadence []time.Duration,
	log *zap.Logger,
) DeliveryService {
	return &deliveryService{
		store:     store,
		queue:     q,
		publisher: publisher,
		limiter:   limiter,
		notifier:  notifier,
		backoff:   backoff,
		cadence:   cadence,
		log:       log,
		now:       time.Now,
	}
}

func (s *deliveryService) SetRetryPolicy(p config.RetryPolicy) {
	s.backoff.SetPolicy(p)
}

// claim is a post held in posting under token by this worker.
type claim struct {
	post     *models.ScheduledPost
	token    string
	campaign *models.Campaign
	log      *zap.Logger
}

func (s *deliveryService) Deliver(ctx context.Context, t queue.Task) error {
	token, err := utils.NewClaimToken()
	if err != nil {
		return err
	}

	post, err := s.store.Posts.Claim(ctx, t.TargetID, token, s.now())
	if err != nil {
		return err
	}
	if post == nil {
		s.log.Debug("post not claimable", zap.Int64("post_id", t.TargetID), zap.Int("attempt", t.Attempt))
		return nil
	}

	c := &claim{
		post:  post,
		token: token,
		log:   s.log.With(zap.Int64("post_id", post.ID), zap.Int64("campaign_id", post.CampaignID)),
	}

	// Results are written even when the worker is shutting down.
	wctx := context.WithoutCancel(ctx)

	c.campaign, err = s.store.Campaigns.GetByID(ctx, post.CampaignID)
	if err != nil {
		return err
	}
	if c.campaign == nil || c.campaign.Status != models.CampaignStatusActive {
		reason := models.CancelReasonUser
		if c.campaign != nil {
			reason = campaignCancelReason(c.campaign.Status)
		}
		s.cancel(wctx, c, reason)
		return nil
	}

	account, err := s.store.Accounts.GetByID(ctx, c.campaign.AccountID)
	if err != nil {
		return err
	}
	if account == nil || account.Status != models.AccountStatusActive {
		s.fail(wctx, c, post.RetryCount, models.LastErrorCredential)
		return nil
	}

	if err := s.limiter.Acquire(ctx, account.RateKey()); err != nil {
		if ctx.Err() != nil {
			return s.release(wctx, c, err)
		}
		s.retryOrFail(wctx, c, err)
		return nil
	}

	externalID, err := s.publisher.Publish(ctx, account, PublishRequest{
		Content:        post.Content,
		IdempotencyKey: post.IdempotencyKey,
	})
	if errors.Is(err, apperrors.ErrAlreadyExists) {
		if externalID == "" {
			externalID, err = s.lookupExisting(ctx, account, post)
		} else {
			err = nil
		}
	}

	switch {
	case err == nil:
		s.complete(wctx, c, externalID)
	case apperrors.KindOf(err) == apperrors.KindPermanent:
		if errors.Is(err, apperrors.ErrCredentialRevoked) {
			s.revokeAccount(wctx, account)
		}
		s.fail(wctx, c, post.RetryCount+1, err.Error())
	default:
		s.retryOrFail(wctx, c, err)
	}
	return nil
}

func (s *deliveryService) lookupExisting(ctx context.Context, account *models.Account, post *models.ScheduledPost) (string, error) {
	id, found, err := s.publisher.Lookup(ctx, account, post.IdempotencyKey)
	if err != nil {
		return "", err
	}
	if !found {
		return "", apperrors.Transient("publish", errors.New("platform reported a duplicate it cannot find"))
	}
	return id, nil
}

func (s *deliveryService) complete(ctx context.Context, c *claim, externalID string) {
	at := s.now()
	ok, err := s.store.Posts.CompleteClaim(ctx, c.post.ID, c.token, externalID, at)
	if err != nil {
		c.log.Error("record delivery", zap.String("external_id", externalID), zap.Error(err))
		return
	}
	if !ok {
		c.log.Warn("claim lost before delivery was recorded", zap.String("external_id", externalID))
		return
	}
	c.log.Info("post delivered", zap.String("external_id", externalID), zap.Int("retry_count", c.post.RetryCount))
	scheduleFirstRefresh(ctx, s.queue, s.cadence, c.post.ID, at, c.log)
}

// release hands an unattempted claim back as queued without spending a
// retry, and returns an error so the broker delivers the task again.
func (s *deliveryService) release(ctx context.Context, c *claim, cause error) error {
	ok, err := s.store.Posts.RequeueClaim(ctx, c.post.ID, c.token, s.now())
	if err != nil {
		c.log.Error("release claim", zap.Error(err))
	} else if ok {
		c.log.Info("delivery interrupted before publishing, claim released", zap.Error(cause))
	}
	return apperrors.Transient("deliver", cause)
}

func (s *deliveryService) retryOrFail(ctx context.Context, c *claim, cause error) {
	retries := c.post.RetryCount + 1
	policy := s.backoff.Policy()
	if retries >= policy.MaxRetries {
		s.fail(ctx, c, retries, cause.Error())
		return
	}

	hint, _ := apperrors.RetryHint(cause)
	now := s.now()
	notBefore := now.Add(s.backoff.Delay(c.post.RetryCount, hint))

	ok, err := s.store.Posts.RetryClaim(ctx, c.post.ID, c.token, retries, cause.Error(), notBefore, now)
	if err != nil {
		c.log.Error("record retry", zap.Error(err))
		return
	}
	if !ok {
		c.log.Warn("claim lost before retry was recorded", zap.Error(cause))
		return
	}
	c.log.Warn("delivery attempt failed, retrying",
		zap.Int("retry_count", retries),
		zap.Time("not_before", notBefore),
		zap.Error(cause),
	)

	task := queue.Task{Kind: queue.KindDeliver, TargetID: c.post.ID, NotBefore: notBefore, Attempt: retries}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		c.log.Warn("enqueue retry, leaving it to the sweeper", zap.Error(err))
	}
}

func (s *deliveryService) fail(ctx context.Context, c *claim, retries int, reason string) {
	ok, err := s.store.Posts.FailClaim(ctx, c.post.ID, c.token, retries, reason, s.now())
	if err != nil {
		c.log.Error("record failure", zap.Error(err))
		return
	}
	if !ok {
		c.log.Warn("claim lost before failure was recorded", zap.String("reason", reason))
		return
	}
	c.log.Error("post delivery failed", zap.Int("retry_count", retries), zap.String("reason", reason))

	failed := *c.post
	failed.Status = models.PostStatusFailed
	failed.RetryCount = retries
	failed.LastError = reason
	s.notifier.PostFailed(ctx, c.campaign, &failed, reason)
}

func (s *deliveryService) cancel(ctx context.Context, c *claim, reason string) {
	ok, err := s.store.Posts.CancelClaim(ctx, c.post.ID, c.token, reason, s.now())
	if err != nil {
		c.log.Error("record cancellation", zap.Error(err))
		return
	}
	if ok {
		c.log.Info("post cancelled before delivery", zap.String("reason", reason))
	}
}

func (s *deliveryService) revokeAccount(ctx context.Context, account *models.Account) {
	if err := s.store.Accounts.SetStatus(ctx, account.ID, models.AccountStatusRevoked, s.now()); err != nil {
		s.log.Error("mark account revoked", zap.Int64("account_id", account.ID), zap.Error(err))
		return
	}
	s.log.Warn("account credentials revoked", zap.Int64("account_id", account.ID), zap.String("handle", account.Handle))
}

func campaignCancelReason(status string) string {
	switch status {
	case models.CampaignStatusPaused:
		return models.CancelReasonPaused
	case models.CampaignStatusEnded:
		return models.CancelReasonEnded
	default:
		return models.CancelReasonUser
	}
}

// scheduleFirstRefresh queues the first analytics refresh of a post
// delivered at deliveredAt.
func scheduleFirstRefresh(ctx context.Context, q queue.Enqueuer, cadence []time.Duration, postID int64, deliveredAt time.Time, log *zap.Logger) {
	if len(cadence) == 0 {
		return
	}
	task := queue.Task{
		Kind:      queue.KindRefreshAnalytics,
		TargetID:  postID,
		NotBefore: deliveredAt.Add(cadence[0]),
	}
	if err := q.Enqueue(ctx, task); err != nil {
		log.Warn("enqueue first analytics refresh", zap.Error(err))
	}
}
