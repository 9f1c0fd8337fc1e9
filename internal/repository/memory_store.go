package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/maheshrc27/campaignflow/internal/apperrors"
	"github.com/maheshrc27/campaignflow/internal/models"
)

// memoryDB keeps every table behind one mutex so each method is atomic, the
// same guarantee a single conditional UPDATE gives on Postgres.
type memoryDB struct {
	mu sync.Mutex

	campaigns map[int64]*models.Campaign
	posts     map[int64]*models.ScheduledPost
	snapshots map[int64]*models.AnalyticsSnapshot
	accounts  map[int64]*models.Account
	keys      map[int64]*models.ApiKey

	nextCampaign int64
	nextPost     int64
	nextSnapshot int64
	nextAccount  int64
	nextKey      int64
}

// NewMemoryStore returns a Store that lives in process memory. Values are
// copied in and out, so callers never share state with the store.
func NewMemoryStore() *Store {
	db := &memoryDB{
		campaigns: make(map[int64]*models.Campaign),
		posts:     make(map[int64]*models.ScheduledPost),
		snapshots: make(map[int64]*models.AnalyticsSnapshot),
		accounts:  make(map[int64]*models.Account),
		keys:      make(map[int64]*models.ApiKey),
	}
	return &Store{
		Campaigns: &memoryCampaigns{db},
		Posts:     &memoryPosts{db},
		Analytics: &memoryAnalytics{db},
		Accounts:  &memoryAccounts{db},
		Keys:      &memoryKeys{db},
	}
}

func copyCampaign(c *models.Campaign) *models.Campaign {
	cp := *c
	cp.Keywords = slices.Clone(c.Keywords)
	cp.Hashtags = slices.Clone(c.Hashtags)
	if c.PausedAt != nil {
		t := *c.PausedAt
		cp.PausedAt = &t
	}
	return &cp
}

func copyPost(p *models.ScheduledPost) *models.ScheduledPost {
	cp := *p
	if p.DeliveredAt != nil {
		t := *p.DeliveredAt
		cp.DeliveredAt = &t
	}
	if p.ClaimedAt != nil {
		t := *p.ClaimedAt
		cp.ClaimedAt = &t
	}
	return &cp
}

type memoryCampaigns struct{ db *memoryDB }

func (m *memoryCampaigns) Create(_ context.Context, c *models.Campaign) (int64, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	m.db.nextCampaign++
	cp := copyCampaign(c)
	cp.ID = m.db.nextCampaign
	if cp.Status == "" {
		cp.Status = models.CampaignStatusActive
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.UpdatedAt = cp.CreatedAt
	m.db.campaigns[cp.ID] = cp
	return cp.ID, nil
}

func (m *memoryCampaigns) GetByID(_ context.Context, id int64) (*models.Campaign, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	c, ok := m.db.campaigns[id]
	if !ok {
		return nil, nil
	}
	return copyCampaign(c), nil
}

func (m *memoryCampaigns) SetStatus(_ context.Context, id int64, status string, pausedAt *time.Time, now time.Time) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	c, ok := m.db.campaigns[id]
	if !ok {
		return nil
	}
	c.Status = status
	c.PausedAt = nil
	if pausedAt != nil {
		t := *pausedAt
		c.PausedAt = &t
	}
	c.UpdatedAt = now
	return nil
}

func (m *memoryCampaigns) ListExpired(_ context.Context, endedBefore time.Time, limit int) ([]*models.Campaign, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	var out []*models.Campaign
	for _, c := range m.db.campaigns {
		if c.Status == models.CampaignStatusEnded || c.EndDate.After(endedBefore) {
			continue
		}
		out = append(out, copyCampaign(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndDate.Before(out[j].EndDate) })
	return truncate(out, limit), nil
}

func (m *memoryCampaigns) Delete(_ context.Context, id int64) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	for sid, s := range m.db.snapshots {
		if s.CampaignID == id {
			delete(m.db.snapshots, sid)
		}
	}
	for pid, p := range m.db.posts {
		if p.CampaignID == id {
			delete(m.db.posts, pid)
		}
	}
	delete(m.db.campaigns, id)
	return nil
}

type memoryPosts struct{ db *memoryDB }

func (m *memoryPosts) CreateBatch(_ context.Context, posts []*models.ScheduledPost) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	type slot struct {
		campaignID int64
		unix       int64
	}
	taken := make(map[slot]bool)
	for _, p := range m.db.posts {
		taken[slot{p.CampaignID, p.ScheduledAt.UnixNano()}] = true
	}
	for _, p := range posts {
		k := slot{p.CampaignID, p.ScheduledAt.UnixNano()}
		if taken[k] {
			return apperrors.Infrastructure("create posts", fmt.Errorf("duplicate target %s for campaign %d", p.ScheduledAt, p.CampaignID))
		}
		taken[k] = true
	}

	for _, p := range posts {
		m.db.nextPost++
		p.ID = m.db.nextPost
		cp := copyPost(p)
		cp.UpdatedAt = cp.CreatedAt
		m.db.posts[p.ID] = cp
	}
	return nil
}

func (m *memoryPosts) GetByID(_ context.Context, id int64) (*models.ScheduledPost, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	p, ok := m.db.posts[id]
	if !ok {
		return nil, nil
	}
	return copyPost(p), nil
}

func (m *memoryPosts) filter(keep func(*models.ScheduledPost) bool, less func(a, b *models.ScheduledPost) bool) []*models.ScheduledPost {
	var out []*models.ScheduledPost
	for _, p := range m.db.posts {
		if keep(p) {
			out = append(out, copyPost(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if less(out[i], out[j]) {
			return true
		}
		if less(out[j], out[i]) {
			return false
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *memoryPosts) ListByCampaign(_ context.Context, campaignID int64, status string) ([]*models.ScheduledPost, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	return m.filter(func(p *models.ScheduledPost) bool {
		return p.CampaignID == campaignID && (status == "" || p.Status == status)
	}, byScheduledAt), nil
}

func (m *memoryPosts) ListTargetTimes(_ context.Context, campaignID int64) ([]time.Time, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	var times []time.Time
	for _, p := range m.db.posts {
		if p.CampaignID == campaignID {
			times = append(times, p.ScheduledAt)
		}
	}
	return times, nil
}

func (m *memoryPosts) CountByStatus(_ context.Context, campaignID int64) (map[string]int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	counts := make(map[string]int)
	for _, p := range m.db.posts {
		if p.CampaignID == campaignID {
			counts[p.Status]++
		}
	}
	return counts, nil
}

// update applies fn to the post under the lock when match accepts it.
func (m *memoryPosts) update(id int64, match func(*models.ScheduledPost) bool, fn func(*models.ScheduledPost)) bool {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	p, ok := m.db.posts[id]
	if !ok || !match(p) {
		return false
	}
	fn(p)
	return true
}

func statusIn(statuses ...string) func(*models.ScheduledPost) bool {
	return func(p *models.ScheduledPost) bool { return slices.Contains(statuses, p.Status) }
}

func claimedBy(token string) func(*models.ScheduledPost) bool {
	return func(p *models.ScheduledPost) bool {
		return p.Status == models.PostStatusPosting && p.ClaimToken == token
	}
}

func releaseClaim(p *models.ScheduledPost) {
	p.ClaimToken = ""
	p.ClaimedAt = nil
}

func (m *memoryPosts) Transition(_ context.Context, id int64, from []string, to string, now time.Time) (bool, error) {
	return m.update(id, statusIn(from...), func(p *models.ScheduledPost) {
		p.Status = to
		p.UpdatedAt = now
	}), nil
}

func (m *memoryPosts) Requeue(_ context.Context, id int64, from []string, notBefore, now time.Time) (bool, error) {
	return m.update(id, statusIn(from...), func(p *models.ScheduledPost) {
		p.Status = models.PostStatusQueued
		p.NotBefore = notBefore
		releaseClaim(p)
		p.UpdatedAt = now
	}), nil
}

func (m *memoryPosts) Fail(_ context.Context, id int64, from []string, lastErr string, now time.Time) (bool, error) {
	match := func(p *models.ScheduledPost) bool {
		return p.Status != models.PostStatusPosting && slices.Contains(from, p.Status)
	}
	return m.update(id, match, func(p *models.ScheduledPost) {
		p.Status = models.PostStatusFailed
		p.LastError = lastErr
		p.UpdatedAt = now
	}), nil
}

func (m *memoryPosts) Cancel(_ context.Context, id int64, reason string, now time.Time) (bool, error) {
	match := func(p *models.ScheduledPost) bool { return models.IsCancellable(p.Status) }
	return m.update(id, match, func(p *models.ScheduledPost) {
		p.Status = models.PostStatusCancelled
		p.CancelReason = reason
		p.UpdatedAt = now
	}), nil
}

func (m *memoryPosts) CancelByCampaign(_ context.Context, campaignID int64, reason string, now time.Time) ([]*models.ScheduledPost, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	var out []*models.ScheduledPost
	for _, p := range m.db.posts {
		if p.CampaignID != campaignID || !models.IsCancellable(p.Status) {
			continue
		}
		p.Status = models.PostStatusCancelled
		p.CancelReason = reason
		p.UpdatedAt = now
		out = append(out, copyPost(p))
	}
	sort.Slice(out, func(i, j int) bool { return byScheduledAt(out[i], out[j]) })
	return out, nil
}

func (m *memoryPosts) Reactivate(_ context.Context, campaignID int64, reason string, after time.Time, shift time.Duration, now time.Time) ([]*models.ScheduledPost, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	var out []*models.ScheduledPost
	for _, p := range m.db.posts {
		if p.CampaignID != campaignID || p.Status != models.PostStatusCancelled ||
			p.CancelReason != reason || !p.ScheduledAt.After(after) {
			continue
		}
		p.Status = models.PostStatusPending
		p.ScheduledAt = p.ScheduledAt.Add(shift)
		p.NotBefore = p.ScheduledAt
		p.CancelReason = ""
		p.UpdatedAt = now
		out = append(out, copyPost(p))
	}
	sort.Slice(out, func(i, j int) bool { return byScheduledAt(out[i], out[j]) })
	return out, nil
}

func (m *memoryPosts) ResetFailed(_ context.Context, id int64, now time.Time) (bool, error) {
	return m.update(id, statusIn(models.PostStatusFailed), func(p *models.ScheduledPost) {
		p.Status = models.PostStatusQueued
		p.RetryCount = 0
		p.LastError = ""
		p.NotBefore = now
		p.UpdatedAt = now
	}), nil
}

func (m *memoryPosts) Claim(_ context.Context, id int64, token string, now time.Time) (*models.ScheduledPost, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	p, ok := m.db.posts[id]
	if !ok || !models.IsClaimable(p.Status) || p.NotBefore.After(now) {
		return nil, nil
	}
	p.Status = models.PostStatusPosting
	p.ClaimToken = token
	claimedAt := now
	p.ClaimedAt = &claimedAt
	p.UpdatedAt = now
	return copyPost(p), nil
}

func (m *memoryPosts) CompleteClaim(_ context.Context, id int64, token, externalID string, at time.Time) (bool, error) {
	return m.update(id, claimedBy(token), func(p *models.ScheduledPost) {
		p.Status = models.PostStatusDelivered
		p.ExternalID = externalID
		deliveredAt := at
		p.DeliveredAt = &deliveredAt
		p.LastError = ""
		p.ClaimToken = ""
		p.UpdatedAt = at
	}), nil
}

func (m *memoryPosts) RetryClaim(_ context.Context, id int64, token string, retryCount int, lastErr string, notBefore, now time.Time) (bool, error) {
	return m.update(id, claimedBy(token), func(p *models.ScheduledPost) {
		p.Status = models.PostStatusRetryWait
		p.RetryCount = retryCount
		p.LastError = lastErr
		p.NotBefore = notBefore
		releaseClaim(p)
		p.UpdatedAt = now
	}), nil
}

func (m *memoryPosts) FailClaim(_ context.Context, id int64, token string, retryCount int, lastErr string, now time.Time) (bool, error) {
	return m.update(id, claimedBy(token), func(p *models.ScheduledPost) {
		p.Status = models.PostStatusFailed
		p.RetryCount = retryCount
		p.LastError = lastErr
		releaseClaim(p)
		p.UpdatedAt = now
	}), nil
}

func (m *memoryPosts) CancelClaim(_ context.Context, id int64, token, reason string, now time.Time) (bool, error) {
	return m.update(id, claimedBy(token), func(p *models.ScheduledPost) {
		p.Status = models.PostStatusCancelled
		p.CancelReason = reason
		releaseClaim(p)
		p.UpdatedAt = now
	}), nil
}

func (m *memoryPosts) RequeueClaim(_ context.Context, id int64, token string, now time.Time) (bool, error) {
	return m.update(id, claimedBy(token), func(p *models.ScheduledPost) {
		p.Status = models.PostStatusQueued
		p.NotBefore = now
		releaseClaim(p)
		p.UpdatedAt = now
	}), nil
}

func (m *memoryPosts) ListStuck(_ context.Context, claimedBefore time.Time, limit int) ([]*models.ScheduledPost, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	out := m.filter(func(p *models.ScheduledPost) bool {
		return p.Status == models.PostStatusPosting && p.ClaimedAt != nil && p.ClaimedAt.Before(claimedBefore)
	}, func(a, b *models.ScheduledPost) bool { return a.ClaimedAt.Before(*b.ClaimedAt) })
	return truncate(out, limit), nil
}

func (m *memoryPosts) ListDue(_ context.Context, statuses []string, notBeforeBefore time.Time, limit int) ([]*models.ScheduledPost, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	out := m.filter(func(p *models.ScheduledPost) bool {
		return slices.Contains(statuses, p.Status) && !p.NotBefore.After(notBeforeBefore)
	}, func(a, b *models.ScheduledPost) bool { return a.NotBefore.Before(b.NotBefore) })
	return truncate(out, limit), nil
}

func (m *memoryPosts) PurgeFinished(_ context.Context, before time.Time, limit int) (int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	var ids []int64
	for id, p := range m.db.posts {
		switch {
		case p.Status == models.PostStatusDelivered && p.DeliveredAt != nil && p.DeliveredAt.Before(before):
		case p.Status == models.PostStatusFailed && p.UpdatedAt.Before(before):
		default:
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	for sid, s := range m.db.snapshots {
		if slices.Contains(ids, s.PostID) {
			delete(m.db.snapshots, sid)
		}
	}
	for _, id := range ids {
		delete(m.db.posts, id)
	}
	return len(ids), nil
}

func byScheduledAt(a, b *models.ScheduledPost) bool { return a.ScheduledAt.Before(b.ScheduledAt) }

type memoryAnalytics struct{ db *memoryDB }

func (m *memoryAnalytics) Insert(_ context.Context, s *models.AnalyticsSnapshot) (int64, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	m.db.nextSnapshot++
	cp := *s
	cp.ID = m.db.nextSnapshot
	m.db.snapshots[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memoryAnalytics) sorted(keep func(*models.AnalyticsSnapshot) bool) []*models.AnalyticsSnapshot {
	var out []*models.AnalyticsSnapshot
	for _, s := range m.db.snapshots {
		if keep(s) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CapturedAt.Equal(out[j].CapturedAt) {
			return out[i].CapturedAt.Before(out[j].CapturedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *memoryAnalytics) ListByPost(_ context.Context, postID int64) ([]*models.AnalyticsSnapshot, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	return m.sorted(func(s *models.AnalyticsSnapshot) bool { return s.PostID == postID }), nil
}

func (m *memoryAnalytics) LatestByCampaign(_ context.Context, campaignID int64) ([]*models.AnalyticsSnapshot, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	latest := make(map[int64]*models.AnalyticsSnapshot)
	for _, s := range m.sorted(func(s *models.AnalyticsSnapshot) bool { return s.CampaignID == campaignID }) {
		latest[s.PostID] = s
	}
	out := make([]*models.AnalyticsSnapshot, 0, len(latest))
	for _, s := range latest {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PostID < out[j].PostID })
	return out, nil
}

func (m *memoryAnalytics) ListRefreshGaps(_ context.Context, deliveredAfter, staleBefore time.Time, limit int) ([]int64, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	newest := make(map[int64]time.Time)
	for _, s := range m.db.snapshots {
		if s.CapturedAt.After(newest[s.PostID]) {
			newest[s.PostID] = s.CapturedAt
		}
	}

	type gap struct {
		id          int64
		deliveredAt time.Time
	}
	var gaps []gap
	for _, p := range m.db.posts {
		if p.Status != models.PostStatusDelivered || p.DeliveredAt == nil || !p.DeliveredAt.After(deliveredAfter) {
			continue
		}
		last, ok := newest[p.ID]
		if !ok {
			last = *p.DeliveredAt
		}
		if last.Before(staleBefore) {
			gaps = append(gaps, gap{p.ID, *p.DeliveredAt})
		}
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i].deliveredAt.Before(gaps[j].deliveredAt) })

	ids := make([]int64, 0, len(gaps))
	for _, g := range gaps {
		ids = append(ids, g.id)
	}
	return truncate(ids, limit), nil
}

type memoryAccounts struct{ db *memoryDB }

func (m *memoryAccounts) Create(_ context.Context, a *models.Account) (int64, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	m.db.nextAccount++
	cp := *a
	cp.ID = m.db.nextAccount
	if cp.Status == "" {
		cp.Status = models.AccountStatusActive
	}
	m.db.accounts[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memoryAccounts) GetByID(_ context.Context, id int64) (*models.Account, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	a, ok := m.db.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *memoryAccounts) SetToken(_ context.Context, id int64, accessToken, refreshToken string, expiresAt, now time.Time) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	if a, ok := m.db.accounts[id]; ok {
		a.AccessToken = accessToken
		a.RefreshToken = refreshToken
		a.TokenExpiresAt = expiresAt
		a.UpdatedAt = now
	}
	return nil
}

func (m *memoryAccounts) SetStatus(_ context.Context, id int64, status string, now time.Time) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	if a, ok := m.db.accounts[id]; ok {
		a.Status = status
		a.UpdatedAt = now
	}
	return nil
}

func (m *memoryAccounts) ListByUser(_ context.Context, userID int64) ([]*models.Account, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	var out []*models.Account
	for _, a := range m.db.accounts {
		if a.UserID == userID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memoryKeys struct{ db *memoryDB }

func (m *memoryKeys) GetUserID(_ context.Context, keyHash string) (int64, bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	for _, k := range m.db.keys {
		if k.KeyHash == keyHash {
			return k.UserID, true, nil
		}
	}
	return 0, false, nil
}

func (m *memoryKeys) GetByUserID(_ context.Context, userID int64) ([]*models.ApiKey, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	var out []*models.ApiKey
	for _, k := range m.db.keys {
		if k.UserID == userID {
			cp := *k
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryKeys) Create(_ context.Context, k *models.ApiKey) (int64, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	m.db.nextKey++
	cp := *k
	cp.ID = m.db.nextKey
	m.db.keys[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memoryKeys) Remove(_ context.Context, id, userID int64) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	k, ok := m.db.keys[id]
	if !ok || k.UserID != userID {
		return false, nil
	}
	delete(m.db.keys, id)
	return true, nil
}

func truncate[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}
