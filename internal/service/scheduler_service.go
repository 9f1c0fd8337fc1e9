package service

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/maheshrc27/campaignflow/internal/apperrors"
	"github.com/maheshrc27/campaignflow/internal/models"
	"github.com/maheshrc27/campaignflow/internal/queue"
	"github.com/maheshrc27/campaignflow/internal/repository"
	"github.com/maheshrc27/campaignflow/pkg/utils"
	"go.uber.org/zap"
)

const (
	day               = 24 * time.Hour
	maxPostsPerDay    = 24 * 60 * 60
	collisionNudge    = time.Second
	scheduleOperation = "schedule campaign"
)

// ScheduleRequest asks for PostsPerDay posts on every day of [Start, End).
type ScheduleRequest struct {
	CampaignID  int64
	Start       time.Time
	End         time.Time
	PostsPerDay int
}

type ScheduleResult struct {
	Created  int
	Enqueued int
	// Posts are the rows as inserted, before they were queued.
	Posts []*models.ScheduledPost
}

// PostRequest asks for one hand-written post at At.
type PostRequest struct {
	CampaignID int64
	Content    string
	At         time.Time
}

type SchedulerService interface {
	Schedule(ctx context.Context, req ScheduleRequest) (*ScheduleResult, error)
	SchedulePost(ctx context.Context, req PostRequest) (*models.ScheduledPost, error)
}

type schedulerService struct {
	store   *repository.Store
	queue   queue.Enqueuer
	content ContentGenerator
	budget  int
	log     *zap.Logger
	now     func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSchedulerService(store *repository.Store, q queue.Enqueuer, content ContentGenerator, budget int, seed int64, log *zap.Logger) SchedulerService {
	if budget <= 0 {
		budget = DefaultCharacterBudget
	}
	return &schedulerService{
		store:   store,
		queue:   q,
		content: content,
		budget:  budget,
		log:     log,
		now:     time.Now,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

func (s *schedulerService) Schedule(ctx context.Context, req ScheduleRequest) (*ScheduleResult, error) {
	if req.PostsPerDay <= 0 {
		return nil, apperrors.Validationf(scheduleOperation, "posts per day must be positive, got %d", req.PostsPerDay)
	}
	if req.PostsPerDay > maxPostsPerDay {
		return nil, apperrors.Validationf(scheduleOperation, "posts per day must be at most %d", maxPostsPerDay)
	}
	if !req.End.After(req.Start) {
		return nil, apperrors.Validationf(scheduleOperation, "end %s is not after start %s",
			req.End.Format(time.RFC3339), req.Start.Format(time.RFC3339))
	}

	campaign, err := s.store.Campaigns.GetByID(ctx, req.CampaignID)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, fmt.Errorf("campaign %d: %w", req.CampaignID, apperrors.ErrNotFound)
	}
	if campaign.Status != models.CampaignStatusActive {
		return nil, apperrors.Validationf(scheduleOperation, "campaign is %s", campaign.Status)
	}

	now := s.now()
	existing, err := s.store.Posts.ListTargetTimes(ctx, campaign.ID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	slots := planTargets(req.Start, req.End, req.PostsPerDay, now, s.rng)
	s.mu.Unlock()
	if len(slots) == 0 {
		return nil, apperrors.Validationf(scheduleOperation, "no delivery window left between %s and %s",
			req.Start.Format(time.RFC3339), req.End.Format(time.RFC3339))
	}
	targets, err := spreadCollisions(slots, existing)
	if err != nil {
		return nil, err
	}

	items, err := s.content.Generate(ctx, ContentRequestFor(campaign, s.budget, len(targets)))
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindUnknown {
			err = apperrors.Transient("generate content", err)
		}
		return nil, err
	}
	items = FitContent(items, s.budget)
	if len(items) < len(targets) {
		return nil, &apperrors.InsufficientContentError{Needed: len(targets), Got: len(items)}
	}

	posts := make([]*models.ScheduledPost, len(targets))
	for i, target := range targets {
		posts[i] = &models.ScheduledPost{
			CampaignID:     campaign.ID,
			Content:        items[i],
			ScheduledAt:    target,
			NotBefore:      target,
			Status:         models.PostStatusPending,
			IdempotencyKey: utils.IdempotencyKey(campaign.ID, target, items[i]),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	}
	if err := s.store.Posts.CreateBatch(ctx, posts); err != nil {
		return nil, err
	}

	result := &ScheduleResult{Created: len(posts), Posts: make([]*models.ScheduledPost, len(posts))}
	for i, p := range posts {
		cp := *p
		result.Posts[i] = &cp
	}

	for _, p := range posts {
		if s.enqueuePending(ctx, p, queue.PriorityNormal) {
			result.Enqueued++
		}
	}

	s.log.Info("campaign scheduled",
		zap.Int64("campaign_id", campaign.ID),
		zap.Int("created", result.Created),
		zap.Int("enqueued", result.Enqueued),
	)
	return result, nil
}

// SchedulePost stores one post with the given text and target. Text over the
// character budget is rejected rather than cut.
func (s *schedulerService) SchedulePost(ctx context.Context, req PostRequest) (*models.ScheduledPost, error) {
	const op = "schedule post"
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, apperrors.Validationf(op, "content is empty")
	}
	if n := utf8.RuneCountInString(content); n > s.budget {
		return nil, apperrors.Validationf(op, "content is %d characters, the limit is %d", n, s.budget)
	}
	now := s.now()
	at := req.At.UTC().Truncate(time.Second)
	if !at.After(now) {
		return nil, apperrors.Validationf(op, "scheduled time %s is not in the future", at.Format(time.RFC3339))
	}

	campaign, err := s.store.Campaigns.GetByID(ctx, req.CampaignID)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, fmt.Errorf("campaign %d: %w", req.CampaignID, apperrors.ErrNotFound)
	}
	if campaign.Status != models.CampaignStatusActive {
		return nil, apperrors.Validationf(op, "campaign is %s", campaign.Status)
	}

	existing, err := s.store.Posts.ListTargetTimes(ctx, campaign.ID)
	if err != nil {
		return nil, err
	}
	for _, t := range existing {
		if t.Equal(at) {
			return nil, apperrors.Validationf(op, "a post is already scheduled at %s", at.Format(time.RFC3339))
		}
	}

	p := &models.ScheduledPost{
		CampaignID:     campaign.ID,
		Content:        content,
		ScheduledAt:    at,
		NotBefore:      at,
		Status:         models.PostStatusPending,
		IdempotencyKey: utils.IdempotencyKey(campaign.ID, at, content),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Posts.CreateBatch(ctx, []*models.ScheduledPost{p}); err != nil {
		return nil, err
	}
	s.enqueuePending(ctx, p, queue.PriorityNormal)
	s.log.Info("post scheduled",
		zap.Int64("campaign_id", campaign.ID),
		zap.Int64("post_id", p.ID),
		zap.Time("at", at),
	)
	return s.store.Posts.GetByID(ctx, p.ID)
}

// enqueuePending moves a pending post to queued and hands its delivery task
// to the broker. On a broker error the post is put back to pending for the
// sweeper to retry.
func (s *schedulerService) enqueuePending(ctx context.Context, p *models.ScheduledPost, prio queue.Priority) bool {
	return enqueueDelivery(ctx, s.store.Posts, s.queue, s.log, p, []string{models.PostStatusPending}, p.NotBefore, prio, s.now())
}

// slot is a placed target and the range [lo, hi) it may move within.
type slot struct {
	at, lo, hi time.Time
}

// planTargets places k posts per day in [start, end). Each day is cut into k
// equal windows and every post lands on a whole second inside its window.
// Windows that do not fit before end, or that are already over at now, are
// left out.
func planTargets(start, end time.Time, k int, now time.Time, rng *rand.Rand) []slot {
	windowSecs := int64(maxPostsPerDay / k)
	window := time.Duration(windowSecs) * time.Second

	var slots []slot
	for dayStart := start; dayStart.Before(end); dayStart = dayStart.Add(day) {
		for i := 0; i < k; i++ {
			ws := dayStart.Add(time.Duration(i) * window)
			we := ws.Add(window)
			if we.After(end) {
				break
			}
			if !we.After(now) {
				continue
			}

			var lo int64
			if now.After(ws) {
				lo = int64((now.Sub(ws) + time.Second - 1) / time.Second)
				if lo >= windowSecs {
					continue
				}
			}
			offset := lo + rng.Int63n(windowSecs-lo)
			slots = append(slots, slot{
				at: ws.Add(time.Duration(offset) * time.Second),
				lo: ws.Add(time.Duration(lo) * time.Second),
				hi: we,
			})
		}
	}
	return slots
}

// spreadCollisions nudges every target that equals an existing one, or one
// earlier in the batch, until it is unique. A target never leaves its
// window; a window with no free second fails the whole batch.
func spreadCollisions(slots []slot, existing []time.Time) ([]time.Time, error) {
	taken := make(map[int64]bool, len(slots)+len(existing))
	for _, t := range existing {
		taken[t.UnixNano()] = true
	}
	out := make([]time.Time, len(slots))
	for i, sl := range slots {
		at, ok := nudge(sl, taken)
		if !ok {
			return nil, apperrors.Validationf(scheduleOperation, "window %s to %s has no free second left",
				sl.lo.Format(time.RFC3339), sl.hi.Format(time.RFC3339))
		}
		out[i] = at
		taken[at.UnixNano()] = true
	}
	return out, nil
}

// nudge moves sl.at forward past taken seconds, then backward from sl.at
// once the window end is reached.
func nudge(sl slot, taken map[int64]bool) (time.Time, bool) {
	for t := sl.at; t.Before(sl.hi); t = t.Add(collisionNudge) {
		if !taken[t.UnixNano()] {
			return t, true
		}
	}
	for t := sl.at.Add(-collisionNudge); !t.Before(sl.lo); t = t.Add(-collisionNudge) {
		if !taken[t.UnixNano()] {
			return t, true
		}
	}
	return time.Time{}, false
}
