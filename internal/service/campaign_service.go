package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/maheshrc27/campaignflow/internal/apperrors"
	"github.com/maheshrc27/campaignflow/internal/models"
	"github.com/maheshrc27/campaignflow/internal/queue"
	"github.com/maheshrc27/campaignflow/internal/repository"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

type CampaignService interface {
	Create(ctx context.Context, c *models.Campaign) (int64, error)
	Get(ctx context.Context, userID, campaignID int64) (*models.Campaign, error)
	Summary(ctx context.Context, userID, campaignID int64) (*models.CampaignSummary, error)
	Schedule(ctx context.Context, userID int64, req ScheduleRequest) (*ScheduleResult, error)
	SchedulePost(ctx context.Context, userID int64, req PostRequest) (*models.ScheduledPost, error)
	Pause(ctx context.Context, userID, campaignID int64) (int, error)
	Resume(ctx context.Context, userID, campaignID int64, reschedule bool) (int, error)
	// Cancel stops every post of the campaign that has not gone out yet.
	Cancel(ctx context.Context, userID, campaignID int64) (int, error)
	End(ctx context.Context, userID, campaignID int64) error
	Delete(ctx context.Context, userID, campaignID int64) error

	ListPosts(ctx context.Context, userID, campaignID int64, status string) ([]*models.ScheduledPost, error)
	RetryPost(ctx context.Context, userID, postID int64) (*models.ScheduledPost, error)
	CancelPost(ctx context.Context, userID, postID int64) error
	PostSnapshots(ctx context.Context, userID, postID int64) ([]*models.AnalyticsSnapshot, error)
}

type campaignService struct {
	store     *repository.Store
	queue     queue.Enqueuer
	scheduler SchedulerService
	archiver  ReportArchiver
	log       *zap.Logger
	now       func() time.Time
}

func NewCampaignService(store *repository.Store, q queue.Enqueuer, scheduler SchedulerService, archiver ReportArchiver, log *zap.Logger) CampaignService {
	return &campaignService{
		store:     store,
		queue:     q,
		scheduler: scheduler,
		archiver:  archiver,
		log:       log,
		now:       time.Now,
	}
}

// ParseDateRange turns inclusive calendar dates into the half-open range
// [start 00:00 UTC, end+1 day 00:00 UTC).
func ParseDateRange(startDate, endDate string) (time.Time, time.Time, error) {
	start, err := time.Parse(dateLayout, strings.TrimSpace(startDate))
	if err != nil {
		return time.Time{}, time.Time{}, apperrors.Validationf("parse dates", "invalid start date %q", startDate)
	}
	end, err := time.Parse(dateLayout, strings.TrimSpace(endDate))
	if err != nil {
		return time.Time{}, time.Time{}, apperrors.Validationf("parse dates", "invalid end date %q", endDate)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, apperrors.Validationf("parse dates", "end date %s is before start date %s", endDate, startDate)
	}
	return start, end.Add(day), nil
}

func (s *campaignService) Create(ctx context.Context, c *models.Campaign) (int64, error) {
	if strings.TrimSpace(c.Name) == "" {
		return 0, apperrors.Validationf("create campaign", "name is required")
	}
	if c.PostsPerDay <= 0 {
		return 0, apperrors.Validationf("create campaign", "posts per day must be positive")
	}
	if c.EndDate.Before(c.StartDate) {
		return 0, apperrors.Validationf("create campaign", "end date is before start date")
	}

	account, err := s.store.Accounts.GetByID(ctx, c.AccountID)
	if err != nil {
		return 0, err
	}
	if account == nil || account.UserID != c.UserID {
		return 0, apperrors.Validationf("create campaign", "account %d not found", c.AccountID)
	}

	now := s.now()
	c.Status = models.CampaignStatusActive
	c.CreatedAt = now
	c.UpdatedAt = now
	id, err := s.store.Campaigns.Create(ctx, c)
	if err != nil {
		return 0, err
	}
	s.log.Info("campaign created", zap.Int64("campaign_id", id), zap.Int64("user_id", c.UserID))
	return id, nil
}

// Get returns the campaign when it belongs to userID.
func (s *campaignService) Get(ctx context.Context, userID, campaignID int64) (*models.Campaign, error) {
	c, err := s.store.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c == nil || c.UserID != userID {
		return nil, fmt.Errorf("campaign %d: %w", campaignID, apperrors.ErrNotFound)
	}
	return c, nil
}

func (s *campaignService) ownedPost(ctx context.Context, userID, postID int64) (*models.ScheduledPost, *models.Campaign, error) {
	p, err := s.store.Posts.GetByID(ctx, postID)
	if err != nil {
		return nil, nil, err
	}
	if p == nil {
		return nil, nil, fmt.Errorf("post %d: %w", postID, apperrors.ErrNotFound)
	}
	c, err := s.Get(ctx, userID, p.CampaignID)
	if err != nil {
		return nil, nil, fmt.Errorf("post %d: %w", postID, apperrors.ErrNotFound)
	}
	return p, c, nil
}

func (s *campaignService) Summary(ctx context.Context, userID, campaignID int64) (*models.CampaignSummary, error) {
	if _, err := s.Get(ctx, userID, campaignID); err != nil {
		return nil, err
	}
	return BuildSummary(ctx, s.store, campaignID, s.now())
}

func (s *campaignService) Schedule(ctx context.Context, userID int64, req ScheduleRequest) (*ScheduleResult, error) {
	if _, err := s.Get(ctx, userID, req.CampaignID); err != nil {
		return nil, err
	}
	return s.scheduler.Schedule(ctx, req)
}

func (s *campaignService) SchedulePost(ctx context.Context, userID int64, req PostRequest) (*models.ScheduledPost, error) {
	if _, err := s.Get(ctx, userID, req.CampaignID); err != nil {
		return nil, err
	}
	return s.scheduler.SchedulePost(ctx, req)
}

// Pause stops the campaign and cancels every post that is not in flight or
// finished. Resume brings them back.
func (s *campaignService) Pause(ctx context.Context, userID, campaignID int64) (int, error) {
	c, err := s.Get(ctx, userID, campaignID)
	if err != nil {
		return 0, err
	}
	if c.Status != models.CampaignStatusActive {
		return 0, apperrors.Validationf("pause campaign", "campaign is %s", c.Status)
	}

	now := s.now()
	if err := s.store.Campaigns.SetStatus(ctx, c.ID, models.CampaignStatusPaused, &now, now); err != nil {
		return 0, err
	}
	cancelled, err := s.store.Posts.CancelByCampaign(ctx, c.ID, models.CancelReasonPaused, now)
	if err != nil {
		return 0, err
	}
	for _, p := range cancelled {
		cancelDelivery(ctx, s.queue, s.log, p)
	}

	s.log.Info("campaign paused", zap.Int64("campaign_id", c.ID), zap.Int("cancelled", len(cancelled)))
	return len(cancelled), nil
}

// Resume reactivates the posts cancelled by Pause. Posts keep their original
// times and those whose time passed during the pause stay cancelled, unless
// reschedule is set, in which case every post moves later by the length of
// the pause.
func (s *campaignService) Resume(ctx context.Context, userID, campaignID int64, reschedule bool) (int, error) {
	c, err := s.Get(ctx, userID, campaignID)
	if err != nil {
		return 0, err
	}
	if c.Status != models.CampaignStatusPaused {
		return 0, apperrors.Validationf("resume campaign", "campaign is %s", c.Status)
	}

	now := s.now()
	after, shift := now, time.Duration(0)
	if reschedule && c.PausedAt != nil {
		after, shift = time.Time{}, now.Sub(*c.PausedAt)
	}

	if err := s.store.Campaigns.SetStatus(ctx, c.ID, models.CampaignStatusActive, nil, now); err != nil {
		return 0, err
	}
	posts, err := s.store.Posts.Reactivate(ctx, c.ID, models.CancelReasonPaused, after, shift, now)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, p := range posts {
		if enqueueDelivery(ctx, s.store.Posts, s.queue, s.log, p, []string{models.PostStatusPending}, p.NotBefore, queue.PriorityNormal, now) {
			enqueued++
		}
	}

	s.log.Info("campaign resumed",
		zap.Int64("campaign_id", c.ID),
		zap.Bool("reschedule", reschedule),
		zap.Duration("shift", shift),
		zap.Int("reactivated", len(posts)),
		zap.Int("enqueued", enqueued),
	)
	return len(posts), nil
}

func (s *campaignService) Cancel(ctx context.Context, userID, campaignID int64) (int, error) {
	c, err := s.Get(ctx, userID, campaignID)
	if err != nil {
		return 0, err
	}
	cancelled, err := s.store.Posts.CancelByCampaign(ctx, c.ID, models.CancelReasonUser, s.now())
	if err != nil {
		return 0, err
	}
	for _, p := range cancelled {
		cancelDelivery(ctx, s.queue, s.log, p)
	}
	s.log.Info("campaign posts cancelled", zap.Int64("campaign_id", c.ID), zap.Int("cancelled", len(cancelled)))
	return len(cancelled), nil
}

// End closes the campaign now, cancels what has not gone out and archives
// the report.
func (s *campaignService) End(ctx context.Context, userID, campaignID int64) error {
	c, err := s.Get(ctx, userID, campaignID)
	if err != nil {
		return err
	}
	if c.Status == models.CampaignStatusEnded {
		return nil
	}

	now := s.now()
	if err := s.store.Campaigns.SetStatus(ctx, c.ID, models.CampaignStatusEnded, nil, now); err != nil {
		return err
	}
	cancelled, err := s.store.Posts.CancelByCampaign(ctx, c.ID, models.CancelReasonEnded, now)
	if err != nil {
		return err
	}
	for _, p := range cancelled {
		cancelDelivery(ctx, s.queue, s.log, p)
	}

	c.Status = models.CampaignStatusEnded
	if _, err := s.archiver.Archive(ctx, c); err != nil {
		s.log.Warn("archive campaign report", zap.Int64("campaign_id", c.ID), zap.Error(err))
	}
	s.log.Info("campaign ended", zap.Int64("campaign_id", c.ID), zap.Int("cancelled", len(cancelled)))
	return nil
}

// Delete removes the campaign with its posts and snapshots. Tasks still in
// the broker find no post and are dropped by the workers.
func (s *campaignService) Delete(ctx context.Context, userID, campaignID int64) error {
	c, err := s.Get(ctx, userID, campaignID)
	if err != nil {
		return err
	}
	posts, err := s.store.Posts.ListByCampaign(ctx, c.ID, "")
	if err != nil {
		return err
	}
	for _, p := range posts {
		if p.Status == models.PostStatusPosting {
			return apperrors.Validationf("delete campaign", "post %d is being delivered, try again shortly", p.ID)
		}
	}

	if err := s.store.Campaigns.Delete(ctx, c.ID); err != nil {
		return err
	}
	for _, p := range posts {
		if !models.IsTerminal(p.Status) {
			cancelDelivery(ctx, s.queue, s.log, p)
		}
	}
	s.log.Info("campaign deleted", zap.Int64("campaign_id", c.ID), zap.Int("posts", len(posts)))
	return nil
}

func (s *campaignService) ListPosts(ctx context.Context, userID, campaignID int64, status string) ([]*models.ScheduledPost, error) {
	if status != "" && !isPostStatus(status) {
		return nil, apperrors.Validationf("list posts", "unknown status %q", status)
	}
	if _, err := s.Get(ctx, userID, campaignID); err != nil {
		return nil, err
	}
	return s.store.Posts.ListByCampaign(ctx, campaignID, status)
}

// RetryPost gives a failed post a fresh retry budget and queues it ahead of
// regular deliveries. It is the only way a failed post is attempted again.
func (s *campaignService) RetryPost(ctx context.Context, userID, postID int64) (*models.ScheduledPost, error) {
	p, c, err := s.ownedPost(ctx, userID, postID)
	if err != nil {
		return nil, err
	}
	if p.Status != models.PostStatusFailed {
		return nil, apperrors.Validationf("retry post", "post is %s, only failed posts can be retried", p.Status)
	}
	if c.Status != models.CampaignStatusActive {
		return nil, apperrors.Validationf("retry post", "campaign is %s", c.Status)
	}

	now := s.now()
	ok, err := s.store.Posts.ResetFailed(ctx, p.ID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.Validationf("retry post", "post is no longer failed")
	}

	task := queue.Task{Kind: queue.KindDeliver, TargetID: p.ID, NotBefore: now, Priority: queue.PriorityHigh}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		s.log.Warn("enqueue manual retry", zap.Int64("post_id", p.ID), zap.Error(err))
	}
	s.log.Info("failed post queued for retry", zap.Int64("post_id", p.ID))
	return s.store.Posts.GetByID(ctx, p.ID)
}

func (s *campaignService) CancelPost(ctx context.Context, userID, postID int64) error {
	p, _, err := s.ownedPost(ctx, userID, postID)
	if err != nil {
		return err
	}
	ok, err := s.store.Posts.Cancel(ctx, p.ID, models.CancelReasonUser, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Validationf("cancel post", "post is %s and cannot be cancelled", p.Status)
	}
	cancelDelivery(ctx, s.queue, s.log, p)
	return nil
}

func (s *campaignService) PostSnapshots(ctx context.Context, userID, postID int64) ([]*models.AnalyticsSnapshot, error) {
	p, _, err := s.ownedPost(ctx, userID, postID)
	if err != nil {
		return nil, err
	}
	return s.store.Analytics.ListByPost(ctx, p.ID)
}

func isPostStatus(status string) bool {
	for _, s := range models.PostStatuses {
		if s == status {
			return true
		}
	}
	return false
}
