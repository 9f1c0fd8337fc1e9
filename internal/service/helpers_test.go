package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	config "github.com/maheshrc27/campaignflow/configs"
	"github.com/maheshrc27/campaignflow/internal/apperrors"
	"github.com/maheshrc27/campaignflow/internal/models"
	"github.com/maheshrc27/campaignflow/internal/queue"
	"github.com/maheshrc27/campaignflow/internal/repository"
	"github.com/maheshrc27/campaignflow/internal/transfer"
	"github.com/maheshrc27/campaignflow/pkg/utils"
	"go.uber.org/zap"
)

var errFlaky = apperrors.Transient("publish", errors.New("platform timed out"))

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type recordingQueue struct {
	mu        sync.Mutex
	tasks     []queue.Task
	cancelled []queue.Task
	err       error
}

func (q *recordingQueue) Enqueue(_ context.Context, t queue.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, t)
	return nil
}

func (q *recordingQueue) Cancel(_ context.Context, t queue.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, t)
	return nil
}

func (q *recordingQueue) of(kind queue.Kind) []queue.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []queue.Task
	for _, t := range q.tasks {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// fakePublisher returns errs on successive calls, then always. Published
// posts are remembered by idempotency key for Lookup.
type fakePublisher struct {
	mu        sync.Mutex
	errs      []error
	always    error
	hideID    bool
	delay     time.Duration
	calls     int
	published map[string]string
}

func (p *fakePublisher) Publish(_ context.Context, _ *models.Account, req PublishRequest) (string, error) {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	err := p.always
	if p.calls <= len(p.errs) {
		err = p.errs[p.calls-1]
	}
	if p.published == nil {
		p.published = make(map[string]string)
	}
	if err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) && !p.hideID {
			return p.published[req.IdempotencyKey], err
		}
		return "", err
	}
	id := fmt.Sprintf("ext-%d", p.calls)
	p.published[req.IdempotencyKey] = id
	return id, nil
}

func (p *fakePublisher) Lookup(_ context.Context, _ *models.Account, key string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.published[key]
	return id, ok, nil
}

func (p *fakePublisher) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeMetrics struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (m *fakeMetrics) Metrics(_ context.Context, _ *models.Account, _ string) (*transfer.PlatformMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= len(m.errs) && m.errs[m.calls-1] != nil {
		return nil, m.errs[m.calls-1]
	}
	n := int64(m.calls)
	return &transfer.PlatformMetrics{Likes: 10 * n, Reshares: n, Replies: 2 * n, Impressions: 100 * n}, nil
}

type fakeLimiter struct{ err error }

func (l fakeLimiter) Acquire(context.Context, string) error { return l.err }

type recordingNotifier struct {
	mu     sync.Mutex
	failed []*models.ScheduledPost
}

func (n *recordingNotifier) PostFailed(_ context.Context, _ *models.Campaign, post *models.ScheduledPost, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, post)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.failed)
}

type recordingArchiver struct {
	mu       sync.Mutex
	archived []int64
}

func (a *recordingArchiver) Archive(_ context.Context, c *models.Campaign) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archived = append(a.archived, c.ID)
	return fmt.Sprintf("reports/campaign-%d.json", c.ID), nil
}

// fixedContent returns its items whatever the request asks for.
type fixedContent []string

func (f fixedContent) Generate(context.Context, ContentRequest) ([]string, error) {
	return append([]string(nil), f...), nil
}

var testStart = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

type fixture struct {
	ctx      context.Context
	store    *repository.Store
	queue    *recordingQueue
	clock    *fakeClock
	notifier *recordingNotifier
	account  *models.Account
	campaign *models.Campaign
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:      context.Background(),
		store:    repository.NewMemoryStore(),
		queue:    &recordingQueue{},
		clock:    &fakeClock{t: testStart.Add(-24 * time.Hour)},
		notifier: &recordingNotifier{},
	}

	accountID, err := f.store.Accounts.Create(f.ctx, &models.Account{
		UserID:   1,
		Platform: "gateway",
		Handle:   "brand",
		Status:   models.AccountStatusActive,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.account, _ = f.store.Accounts.GetByID(f.ctx, accountID)

	campaignID, err := f.store.Campaigns.Create(f.ctx, &models.Campaign{
		UserID:      1,
		AccountID:   accountID,
		Name:        "spring launch",
		Keywords:    []string{"launch"},
		Hashtags:    []string{"#spring"},
		Audience:    "runners",
		StartDate:   testStart,
		EndDate:     testStart.Add(6 * day),
		PostsPerDay: 3,
		Status:      models.CampaignStatusActive,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.campaign, _ = f.store.Campaigns.GetByID(f.ctx, campaignID)
	return f
}

// addPost inserts a post of the fixture campaign targeted at at.
func (f *fixture) addPost(t *testing.T, at time.Time, status string) *models.ScheduledPost {
	t.Helper()
	content := fmt.Sprintf("post for %s", at.Format(time.RFC3339))
	p := &models.ScheduledPost{
		CampaignID:     f.campaign.ID,
		Content:        content,
		ScheduledAt:    at,
		NotBefore:      at,
		Status:         status,
		IdempotencyKey: utils.IdempotencyKey(f.campaign.ID, at, content),
		CreatedAt:      f.clock.Now(),
	}
	if err := f.store.Posts.CreateBatch(f.ctx, []*models.ScheduledPost{p}); err != nil {
		t.Fatal(err)
	}
	return f.post(t, p.ID)
}

func (f *fixture) post(t *testing.T, id int64) *models.ScheduledPost {
	t.Helper()
	p, err := f.store.Posts.GetByID(f.ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if p == nil {
		t.Fatalf("post %d not found", id)
	}
	return p
}

func testRetryPolicy(maxRetries int) config.RetryPolicy {
	return config.RetryPolicy{
		BaseDelay:  time.Minute,
		Multiplier: 2,
		MaxDelay:   time.Hour,
		MaxRetries: maxRetries,
	}
}

var testCadence = []time.Duration{5 * time.Minute, time.Hour, 24 * time.Hour}

func (f *fixture) delivery(pub Publisher, limiter RateLimiter, maxRetries int) *deliveryService {
	svc := NewDeliveryService(f.store, f.queue, pub, limiter, f.notifier,
		NewBackoff(testRetryPolicy(maxRetries), 1), testCadence, zap.NewNop()).(*deliveryService)
	svc.now = f.clock.Now
	return svc
}

func deliverTask(postID int64, attempt int) queue.Task {
	return queue.Task{Kind: queue.KindDeliver, TargetID: postID, Attempt: attempt}
}
