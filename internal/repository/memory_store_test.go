package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maheshrc27/campaignflow/internal/models"
)

var t0 = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func seedPost(t *testing.T, s *Store, campaignID int64, status string, notBefore time.Time) *models.ScheduledPost {
	t.Helper()
	p := &models.ScheduledPost{
		CampaignID:     campaignID,
		Content:        "hello",
		ScheduledAt:    notBefore,
		NotBefore:      notBefore,
		Status:         status,
		IdempotencyKey: fmt.Sprintf("key-%d", notBefore.UnixNano()),
		CreatedAt:      t0,
	}
	if err := s.Posts.CreateBatch(context.Background(), []*models.ScheduledPost{p}); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	return p
}

func mustGet(t *testing.T, s *Store, id int64) *models.ScheduledPost {
	t.Helper()
	p, err := s.Posts.GetByID(context.Background(), id)
	if err != nil || p == nil {
		t.Fatalf("GetByID(%d) = %v, %v", id, p, err)
	}
	return p
}

func TestClaimIsExclusiveUnderConcurrency(t *testing.T) {
	s := NewMemoryStore()
	p := seedPost(t, s, 1, models.PostStatusQueued, t0)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := s.Posts.Claim(context.Background(), p.ID, fmt.Sprintf("token-%d", i), t0)
			if err != nil {
				t.Errorf("Claim: %v", err)
				return
			}
			if got != nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if n := wins.Load(); n != 1 {
		t.Fatalf("%d claims won, want exactly 1", n)
	}
	if got := mustGet(t, s, p.ID); got.Status != models.PostStatusPosting || got.ClaimedAt == nil {
		t.Fatalf("post = %+v", got)
	}
}

func TestClaimRespectsNotBefore(t *testing.T) {
	s := NewMemoryStore()
	p := seedPost(t, s, 1, models.PostStatusQueued, t0.Add(time.Minute))

	got, err := s.Posts.Claim(context.Background(), p.ID, "a", t0)
	if err != nil || got != nil {
		t.Fatalf("early claim = %v, %v", got, err)
	}
	got, err = s.Posts.Claim(context.Background(), p.ID, "a", t0.Add(time.Minute))
	if err != nil || got == nil {
		t.Fatalf("due claim = %v, %v", got, err)
	}
}

func TestClaimRejectsNonClaimableStatuses(t *testing.T) {
	s := NewMemoryStore()
	for i, status := range []string{models.PostStatusPending, models.PostStatusDelivered, models.PostStatusFailed, models.PostStatusCancelled} {
		p := seedPost(t, s, 1, status, t0.Add(-time.Duration(i+1)*time.Second))
		got, err := s.Posts.Claim(context.Background(), p.ID, "a", t0)
		if err != nil || got != nil {
			t.Errorf("%s: claim = %v, %v", status, got, err)
		}
	}
}

func TestClaimedWritesRequireToken(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := seedPost(t, s, 1, models.PostStatusQueued, t0)

	if _, err := s.Posts.Claim(ctx, p.ID, "mine", t0); err != nil {
		t.Fatal(err)
	}
	ok, err := s.Posts.CompleteClaim(ctx, p.ID, "stale", "ext-1", t0)
	if err != nil || ok {
		t.Fatalf("complete with stale token = %v, %v", ok, err)
	}
	ok, err = s.Posts.CompleteClaim(ctx, p.ID, "mine", "ext-1", t0)
	if err != nil || !ok {
		t.Fatalf("complete = %v, %v", ok, err)
	}
	// A second completion, e.g. from a duplicate claim, must not overwrite the id.
	ok, err = s.Posts.CompleteClaim(ctx, p.ID, "mine", "ext-2", t0)
	if err != nil || ok {
		t.Fatalf("second complete = %v, %v", ok, err)
	}

	got := mustGet(t, s, p.ID)
	if got.Status != models.PostStatusDelivered || got.ExternalID != "ext-1" || got.DeliveredAt == nil {
		t.Fatalf("post = %+v", got)
	}
}

func TestRetryClaimThenReclaim(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := seedPost(t, s, 1, models.PostStatusQueued, t0)

	if _, err := s.Posts.Claim(ctx, p.ID, "a", t0); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Posts.RetryClaim(ctx, p.ID, "a", 1, "timeout", t0.Add(time.Minute), t0); !ok {
		t.Fatal("RetryClaim did not match")
	}
	got := mustGet(t, s, p.ID)
	if got.Status != models.PostStatusRetryWait || got.RetryCount != 1 || got.ClaimToken != "" {
		t.Fatalf("post = %+v", got)
	}
	if c, _ := s.Posts.Claim(ctx, p.ID, "b", t0.Add(30*time.Second)); c != nil {
		t.Fatal("claimed before backoff expired")
	}
	if c, _ := s.Posts.Claim(ctx, p.ID, "b", t0.Add(time.Minute)); c == nil {
		t.Fatal("could not claim after backoff")
	}
}

func TestCancelSkipsPostingAndTerminal(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	queued := seedPost(t, s, 1, models.PostStatusQueued, t0)
	posting := seedPost(t, s, 1, models.PostStatusQueued, t0.Add(time.Second))
	delivered := seedPost(t, s, 1, models.PostStatusDelivered, t0.Add(2*time.Second))
	other := seedPost(t, s, 2, models.PostStatusQueued, t0)

	if _, err := s.Posts.Claim(ctx, posting.ID, "a", t0.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	cancelled, err := s.Posts.CancelByCampaign(ctx, 1, models.CancelReasonPaused, t0)
	if err != nil {
		t.Fatal(err)
	}
	if len(cancelled) != 1 || cancelled[0].ID != queued.ID {
		t.Fatalf("cancelled = %+v", cancelled)
	}
	for id, want := range map[int64]string{
		posting.ID:   models.PostStatusPosting,
		delivered.ID: models.PostStatusDelivered,
		other.ID:     models.PostStatusQueued,
	} {
		if got := mustGet(t, s, id).Status; got != want {
			t.Errorf("post %d status = %s, want %s", id, got, want)
		}
	}
}

func TestReactivateKeepsOrShiftsTargets(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	past := seedPost(t, s, 1, models.PostStatusQueued, t0.Add(-time.Hour))
	future := seedPost(t, s, 1, models.PostStatusQueued, t0.Add(time.Hour))
	if _, err := s.Posts.CancelByCampaign(ctx, 1, models.CancelReasonPaused, t0); err != nil {
		t.Fatal(err)
	}

	got, err := s.Posts.Reactivate(ctx, 1, models.CancelReasonPaused, t0, 0, t0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != future.ID || !got[0].NotBefore.Equal(t0.Add(time.Hour)) {
		t.Fatalf("reactivated = %+v", got)
	}
	if mustGet(t, s, past.ID).Status != models.PostStatusCancelled {
		t.Fatal("past post was reactivated")
	}

	got, err = s.Posts.Reactivate(ctx, 1, models.CancelReasonPaused, time.Time{}, 3*time.Hour, t0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != past.ID || !got[0].ScheduledAt.Equal(t0.Add(2*time.Hour)) {
		t.Fatalf("rescheduled = %+v", got)
	}
}

func TestCreateBatchRejectsDuplicateTargets(t *testing.T) {
	s := NewMemoryStore()
	seedPost(t, s, 1, models.PostStatusPending, t0)

	batch := []*models.ScheduledPost{
		{CampaignID: 1, ScheduledAt: t0.Add(time.Minute), NotBefore: t0.Add(time.Minute), Status: models.PostStatusPending},
		{CampaignID: 1, ScheduledAt: t0, NotBefore: t0, Status: models.PostStatusPending},
	}
	if err := s.Posts.CreateBatch(context.Background(), batch); err == nil {
		t.Fatal("expected duplicate target error")
	}
	posts, _ := s.Posts.ListByCampaign(context.Background(), 1, "")
	if len(posts) != 1 {
		t.Fatalf("batch partially committed: %d posts", len(posts))
	}
}

func TestDeleteCampaignCascades(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id, err := s.Campaigns.Create(ctx, &models.Campaign{Name: "launch"})
	if err != nil {
		t.Fatal(err)
	}
	keepID, _ := s.Campaigns.Create(ctx, &models.Campaign{Name: "other"})

	p := seedPost(t, s, id, models.PostStatusDelivered, t0)
	kept := seedPost(t, s, keepID, models.PostStatusDelivered, t0)
	for _, post := range []*models.ScheduledPost{p, kept} {
		if _, err := s.Analytics.Insert(ctx, &models.AnalyticsSnapshot{PostID: post.ID, CampaignID: post.CampaignID, CapturedAt: t0}); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.Campaigns.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}
	if c, _ := s.Campaigns.GetByID(ctx, id); c != nil {
		t.Fatal("campaign still present")
	}
	if got, _ := s.Posts.GetByID(ctx, p.ID); got != nil {
		t.Fatal("post outlived its campaign")
	}
	if snaps, _ := s.Analytics.ListByPost(ctx, p.ID); len(snaps) != 0 {
		t.Fatal("snapshots outlived their campaign")
	}
	if snaps, _ := s.Analytics.ListByPost(ctx, kept.ID); len(snaps) != 1 {
		t.Fatal("unrelated snapshots were deleted")
	}
}

func TestSnapshotsAreCopied(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	snap := &models.AnalyticsSnapshot{PostID: 1, Likes: 3, CapturedAt: t0}
	if _, err := s.Analytics.Insert(ctx, snap); err != nil {
		t.Fatal(err)
	}
	snap.Likes = 99

	got, _ := s.Analytics.ListByPost(ctx, 1)
	got[0].Likes = 42
	again, _ := s.Analytics.ListByPost(ctx, 1)
	if again[0].Likes != 3 {
		t.Fatalf("stored snapshot mutated: %d", again[0].Likes)
	}
}

func TestListRefreshGaps(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	fresh := seedPost(t, s, 1, models.PostStatusQueued, t0)
	stale := seedPost(t, s, 1, models.PostStatusQueued, t0.Add(time.Second))
	never := seedPost(t, s, 1, models.PostStatusQueued, t0.Add(2*time.Second))
	for _, p := range []*models.ScheduledPost{fresh, stale, never} {
		if _, err := s.Posts.Claim(ctx, p.ID, "a", t0.Add(time.Hour)); err != nil {
			t.Fatal(err)
		}
		if ok, _ := s.Posts.CompleteClaim(ctx, p.ID, "a", fmt.Sprint("ext-", p.ID), t0.Add(time.Hour)); !ok {
			t.Fatal("complete failed")
		}
	}
	_, _ = s.Analytics.Insert(ctx, &models.AnalyticsSnapshot{PostID: fresh.ID, CampaignID: 1, CapturedAt: t0.Add(10 * time.Hour)})
	_, _ = s.Analytics.Insert(ctx, &models.AnalyticsSnapshot{PostID: stale.ID, CampaignID: 1, CapturedAt: t0.Add(2 * time.Hour)})

	ids, err := s.Analytics.ListRefreshGaps(ctx, t0, t0.Add(5*time.Hour), 10)
	if err != nil {
		t.Fatal(err)
	}
	want := map[int64]bool{stale.ID: true, never.ID: true}
	if len(ids) != len(want) {
		t.Fatalf("gaps = %v", ids)
	}
	for _, id := range ids {
		if !want[id] {
			t.Fatalf("unexpected gap %d", id)
		}
	}
}

func TestPurgeFinished(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	deliver := func(at time.Time) *models.ScheduledPost {
		p := seedPost(t, s, 1, models.PostStatusQueued, at)
		if got, _ := s.Posts.Claim(ctx, p.ID, "tok", at); got == nil {
			t.Fatalf("claim of post %d failed", p.ID)
		}
		if ok, _ := s.Posts.CompleteClaim(ctx, p.ID, "tok", fmt.Sprintf("ext-%d", p.ID), at); !ok {
			t.Fatalf("complete of post %d failed", p.ID)
		}
		return p
	}

	old := deliver(t0)
	if _, err := s.Analytics.Insert(ctx, &models.AnalyticsSnapshot{PostID: old.ID, CampaignID: 1, CapturedAt: t0}); err != nil {
		t.Fatal(err)
	}
	recent := deliver(t0.Add(40 * 24 * time.Hour))
	failed := seedPost(t, s, 1, models.PostStatusQueued, t0.Add(time.Minute))
	if ok, _ := s.Posts.Fail(ctx, failed.ID, []string{models.PostStatusQueued}, "boom", t0); !ok {
		t.Fatal("fail transition refused")
	}
	pending := seedPost(t, s, 1, models.PostStatusPending, t0.Add(2*time.Minute))

	n, err := s.Posts.PurgeFinished(ctx, t0.Add(24*time.Hour), 10)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("purged %d posts, want 2", n)
	}
	for _, id := range []int64{old.ID, failed.ID} {
		if got, _ := s.Posts.GetByID(ctx, id); got != nil {
			t.Errorf("post %d survived the purge", id)
		}
	}
	if snaps, _ := s.Analytics.ListByPost(ctx, old.ID); len(snaps) != 0 {
		t.Error("snapshots of a purged post remain")
	}
	mustGet(t, s, recent.ID)
	mustGet(t, s, pending.ID)

	if n, _ := s.Posts.PurgeFinished(ctx, t0.Add(24*time.Hour), 10); n != 0 {
		t.Fatalf("second purge removed %d posts", n)
	}
}
