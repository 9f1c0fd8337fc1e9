package service

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/maheshrc27/campaignflow/internal/apperrors"
	"github.com/maheshrc27/campaignflow/internal/models"
	"github.com/maheshrc27/campaignflow/internal/queue"
	"go.uber.org/zap"
)

func (f *fixture) scheduler(content ContentGenerator) *schedulerService {
	svc := NewSchedulerService(f.store, f.queue, content, 280, 7, zap.NewNop()).(*schedulerService)
	svc.now = f.clock.Now
	return svc
}

func TestScheduleTwoDaysThreePerDay(t *testing.T) {
	f := newFixture(t)
	svc := f.scheduler(StaticContent{"one", "two", "three", "four", "five", "six"})

	res, err := svc.Schedule(f.ctx, ScheduleRequest{
		CampaignID:  f.campaign.ID,
		Start:       testStart,
		End:         testStart.Add(2 * day),
		PostsPerDay: 3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 6 || res.Enqueued != 6 || len(res.Posts) != 6 {
		t.Fatalf("result = created %d enqueued %d posts %d, want 6/6/6", res.Created, res.Enqueued, len(res.Posts))
	}

	seen := make(map[time.Time]bool)
	window := 8 * time.Hour
	for i, p := range res.Posts {
		if p.Status != models.PostStatusPending {
			t.Errorf("post %d created as %s", p.ID, p.Status)
		}
		if seen[p.ScheduledAt] {
			t.Errorf("duplicate target %s", p.ScheduledAt)
		}
		seen[p.ScheduledAt] = true

		ws := testStart.Add(time.Duration(i) * window)
		if p.ScheduledAt.Before(ws) || !p.ScheduledAt.Before(ws.Add(window)) {
			t.Errorf("post %d at %s outside window starting %s", i, p.ScheduledAt, ws)
		}
		if p.ScheduledAt.Nanosecond() != 0 {
			t.Errorf("target %s is not on a whole second", p.ScheduledAt)
		}
		if p.IdempotencyKey == "" {
			t.Errorf("post %d has no idempotency key", p.ID)
		}
	}

	stored, _ := f.store.Posts.ListByCampaign(f.ctx, f.campaign.ID, models.PostStatusQueued)
	if len(stored) != 6 {
		t.Fatalf("%d posts queued in the store, want 6", len(stored))
	}
	tasks := f.queue.of(queue.KindDeliver)
	if len(tasks) != 6 {
		t.Fatalf("%d delivery tasks, want 6", len(tasks))
	}
	for i, task := range tasks {
		if !task.NotBefore.Equal(res.Posts[i].ScheduledAt) {
			t.Errorf("task %d not before %s, want %s", i, task.NotBefore, res.Posts[i].ScheduledAt)
		}
	}
}

func TestSchedulePartialFinalDay(t *testing.T) {
	f := newFixture(t)
	svc := f.scheduler(StaticContent{"a", "b", "c"})

	res, err := svc.Schedule(f.ctx, ScheduleRequest{
		CampaignID:  f.campaign.ID,
		Start:       testStart,
		End:         testStart.Add(day + 12*time.Hour),
		PostsPerDay: 4,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 6 {
		t.Fatalf("created %d, want 6", res.Created)
	}
	last := res.Posts[len(res.Posts)-1].ScheduledAt
	if !last.Before(testStart.Add(day + 12*time.Hour)) {
		t.Fatalf("last post %s is past the end of the range", last)
	}
}

func TestScheduleSkipsElapsedWindows(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(testStart.Add(13 * time.Hour))
	svc := f.scheduler(StaticContent{"a"})

	res, err := svc.Schedule(f.ctx, ScheduleRequest{
		CampaignID:  f.campaign.ID,
		Start:       testStart,
		End:         testStart.Add(day),
		PostsPerDay: 4,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 2 {
		t.Fatalf("created %d, want the 2 windows still open", res.Created)
	}
	for _, p := range res.Posts {
		if p.ScheduledAt.Before(f.clock.Now()) {
			t.Fatalf("post targeted at %s, before now", p.ScheduledAt)
		}
	}
}

func TestScheduleRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)
	svc := f.scheduler(StaticContent{"a"})

	tests := []struct {
		name string
		req  ScheduleRequest
	}{
		{"zero per day", ScheduleRequest{CampaignID: f.campaign.ID, Start: testStart, End: testStart.Add(day), PostsPerDay: 0}},
		{"negative per day", ScheduleRequest{CampaignID: f.campaign.ID, Start: testStart, End: testStart.Add(day), PostsPerDay: -2}},
		{"end before start", ScheduleRequest{CampaignID: f.campaign.ID, Start: testStart, End: testStart.Add(-day), PostsPerDay: 2}},
		{"all windows elapsed", ScheduleRequest{CampaignID: f.campaign.ID, Start: testStart.Add(-3 * day), End: testStart.Add(-2 * day), PostsPerDay: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Schedule(f.ctx, tt.req)
			if apperrors.KindOf(err) != apperrors.KindValidation {
				t.Fatalf("err = %v, want a validation error", err)
			}
		})
	}

	posts, _ := f.store.Posts.ListByCampaign(f.ctx, f.campaign.ID, "")
	if len(posts) != 0 {
		t.Fatalf("%d posts created by rejected requests", len(posts))
	}
}

func TestScheduleInsufficientContentCommitsNothing(t *testing.T) {
	f := newFixture(t)
	svc := f.scheduler(fixedContent{"only one", "", "  ", "two"})

	_, err := svc.Schedule(f.ctx, ScheduleRequest{
		CampaignID:  f.campaign.ID,
		Start:       testStart,
		End:         testStart.Add(2 * day),
		PostsPerDay: 3,
	})

	var ice *apperrors.InsufficientContentError
	if !errors.As(err, &ice) {
		t.Fatalf("err = %v, want InsufficientContentError", err)
	}
	if ice.Needed != 6 || ice.Got != 2 {
		t.Fatalf("needed %d got %d, want 6 and 2", ice.Needed, ice.Got)
	}
	if apperrors.KindOf(err) != apperrors.KindValidation {
		t.Fatalf("kind = %s", apperrors.KindOf(err))
	}

	posts, _ := f.store.Posts.ListByCampaign(f.ctx, f.campaign.ID, "")
	if len(posts) != 0 {
		t.Fatalf("%d posts committed", len(posts))
	}
	if n := len(f.queue.of(queue.KindDeliver)); n != 0 {
		t.Fatalf("%d tasks enqueued", n)
	}
}

func TestScheduleRejectsPausedCampaign(t *testing.T) {
	f := newFixture(t)
	_ = f.store.Campaigns.SetStatus(f.ctx, f.campaign.ID, models.CampaignStatusPaused, nil, f.clock.Now())
	svc := f.scheduler(StaticContent{"a"})

	_, err := svc.Schedule(f.ctx, ScheduleRequest{CampaignID: f.campaign.ID, Start: testStart, End: testStart.Add(day), PostsPerDay: 1})
	if apperrors.KindOf(err) != apperrors.KindValidation {
		t.Fatalf("err = %v, want a validation error", err)
	}

	_, err = svc.Schedule(f.ctx, ScheduleRequest{CampaignID: 999, Start: testStart, End: testStart.Add(day), PostsPerDay: 1})
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestScheduleBrokerFailureLeavesPostsPending(t *testing.T) {
	f := newFixture(t)
	f.queue.err = errors.New("redis down")
	svc := f.scheduler(StaticContent{"a"})

	res, err := svc.Schedule(f.ctx, ScheduleRequest{CampaignID: f.campaign.ID, Start: testStart, End: testStart.Add(day), PostsPerDay: 2})
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 2 || res.Enqueued != 0 {
		t.Fatalf("created %d enqueued %d, want 2 and 0", res.Created, res.Enqueued)
	}
	pending, _ := f.store.Posts.ListByCampaign(f.ctx, f.campaign.ID, models.PostStatusPending)
	if len(pending) != 2 {
		t.Fatalf("%d posts pending, want 2", len(pending))
	}
}

func TestScheduleAvoidsExistingTargets(t *testing.T) {
	f := newFixture(t)
	svc := f.scheduler(StaticContent{"a"})
	req := ScheduleRequest{CampaignID: f.campaign.ID, Start: testStart, End: testStart.Add(day), PostsPerDay: 24}

	if _, err := svc.Schedule(f.ctx, req); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Schedule(f.ctx, req); err != nil {
		t.Fatal(err)
	}

	times, _ := f.store.Posts.ListTargetTimes(f.ctx, f.campaign.ID)
	seen := make(map[time.Time]bool)
	for _, at := range times {
		if seen[at] {
			t.Fatalf("duplicate target %s", at)
		}
		seen[at] = true
	}
	if len(times) != 48 {
		t.Fatalf("%d posts, want 48", len(times))
	}
}

func TestPlanTargetsWithinWindows(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	targets := planTargets(testStart, testStart.Add(3*day), 5, testStart.Add(-time.Hour), rng)
	if len(targets) != 15 {
		t.Fatalf("%d targets, want 15", len(targets))
	}
	window := time.Duration(86400/5) * time.Second
	for i, sl := range targets {
		at := sl.at
		d := i / 5
		ws := testStart.Add(time.Duration(d) * day).Add(time.Duration(i%5) * window)
		if at.Before(ws) || !at.Before(ws.Add(window)) {
			t.Fatalf("target %d at %s outside [%s, %s)", i, at, ws, ws.Add(window))
		}
	}
}

func TestNudgeStaysInsideWindow(t *testing.T) {
	sl := slot{at: testStart.Add(8 * time.Second), lo: testStart, hi: testStart.Add(10 * time.Second)}
	taken := map[int64]bool{
		testStart.Add(8 * time.Second).UnixNano(): true,
		testStart.Add(9 * time.Second).UnixNano(): true,
		testStart.Add(7 * time.Second).UnixNano(): true,
	}
	got, ok := nudge(sl, taken)
	if !ok || !got.Equal(testStart.Add(6*time.Second)) {
		t.Fatalf("nudge = %s %v, want start+6s", got, ok)
	}

	forward, ok := nudge(slot{at: testStart, lo: testStart, hi: testStart.Add(10 * time.Second)},
		map[int64]bool{testStart.UnixNano(): true, testStart.Add(time.Second).UnixNano(): true})
	if !ok || !forward.Equal(testStart.Add(2*time.Second)) {
		t.Fatalf("nudge = %s %v, want start+2s", forward, ok)
	}

	full := map[int64]bool{testStart.UnixNano(): true, testStart.Add(time.Second).UnixNano(): true}
	if _, ok := nudge(slot{at: testStart, lo: testStart, hi: testStart.Add(2 * time.Second)}, full); ok {
		t.Fatal("nudge found a second in a full window")
	}

	out, err := spreadCollisions([]slot{sl, sl}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out[0].Equal(out[1]) {
		t.Fatal("colliding targets in one batch were not spread")
	}
}

func TestScheduleDenseRangeTwiceStaysInRange(t *testing.T) {
	f := newFixture(t)
	svc := f.scheduler(KeywordContent{})
	req := ScheduleRequest{
		CampaignID:  f.campaign.ID,
		Start:       testStart,
		End:         testStart.Add(time.Hour),
		PostsPerDay: maxPostsPerDay / 2,
	}

	for i := 0; i < 2; i++ {
		res, err := svc.Schedule(f.ctx, req)
		if err != nil {
			t.Fatalf("Schedule #%d: %v", i+1, err)
		}
		if res.Created != 1800 {
			t.Fatalf("Schedule #%d created %d, want 1800", i+1, res.Created)
		}
	}

	times, _ := f.store.Posts.ListTargetTimes(f.ctx, f.campaign.ID)
	if len(times) != 3600 {
		t.Fatalf("%d posts, want 3600", len(times))
	}
	seen := make(map[time.Time]bool, len(times))
	for _, at := range times {
		if at.Before(req.Start) || !at.Before(req.End) {
			t.Fatalf("target %s outside [%s, %s)", at, req.Start, req.End)
		}
		if seen[at] {
			t.Fatalf("duplicate target %s", at)
		}
		seen[at] = true
	}

	_, err := svc.Schedule(f.ctx, req)
	if apperrors.KindOf(err) != apperrors.KindValidation {
		t.Fatalf("third schedule err = %v, want a validation error", err)
	}
	if times, _ := f.store.Posts.ListTargetTimes(f.ctx, f.campaign.ID); len(times) != 3600 {
		t.Fatalf("full range grew to %d posts", len(times))
	}
}

func TestSchedulePostQueuesDelivery(t *testing.T) {
	f := newFixture(t)
	svc := f.scheduler(StaticContent{"unused"})
	at := testStart.Add(90*time.Minute + 300*time.Millisecond)

	post, err := svc.SchedulePost(f.ctx, PostRequest{CampaignID: f.campaign.ID, Content: "  launch day is here  ", At: at})
	if err != nil {
		t.Fatal(err)
	}
	if post.Status != models.PostStatusQueued {
		t.Fatalf("status = %s, want queued", post.Status)
	}
	if post.Content != "launch day is here" {
		t.Fatalf("content = %q, want trimmed", post.Content)
	}
	if !post.ScheduledAt.Equal(testStart.Add(90 * time.Minute)) {
		t.Fatalf("scheduled at %s, want the whole second", post.ScheduledAt)
	}
	tasks := f.queue.of(queue.KindDeliver)
	if len(tasks) != 1 || tasks[0].TargetID != post.ID || !tasks[0].NotBefore.Equal(post.ScheduledAt) {
		t.Fatalf("delivery tasks = %+v", tasks)
	}
}

func TestSchedulePostRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)
	svc := f.scheduler(StaticContent{"unused"})
	at := testStart.Add(time.Hour)
	if _, err := svc.SchedulePost(f.ctx, PostRequest{CampaignID: f.campaign.ID, Content: "first", At: at}); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		req  PostRequest
	}{
		{"empty", PostRequest{CampaignID: f.campaign.ID, Content: "   ", At: at.Add(time.Minute)}},
		{"over limit", PostRequest{CampaignID: f.campaign.ID, Content: strings.Repeat("x", 281), At: at.Add(time.Minute)}},
		{"in the past", PostRequest{CampaignID: f.campaign.ID, Content: "late", At: f.clock.Now().Add(-time.Minute)}},
		{"same second", PostRequest{CampaignID: f.campaign.ID, Content: "second", At: at.Add(400 * time.Millisecond)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SchedulePost(f.ctx, tc.req)
			if apperrors.KindOf(err) != apperrors.KindValidation {
				t.Fatalf("err = %v, want a validation error", err)
			}
		})
	}

	if _, err := svc.SchedulePost(f.ctx, PostRequest{CampaignID: f.campaign.ID, Content: strings.Repeat("é", 280), At: at.Add(time.Minute)}); err != nil {
		t.Fatalf("280 characters rejected: %v", err)
	}
	if _, err := svc.SchedulePost(f.ctx, PostRequest{CampaignID: 999, Content: "x", At: at.Add(2 * time.Minute)}); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	times, _ := f.store.Posts.ListTargetTimes(f.ctx, f.campaign.ID)
	if len(times) != 2 {
		t.Fatalf("%d posts stored, want 2", len(times))
	}
}
