package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/maheshrc27/campaignflow/internal/models"
	"github.com/maheshrc27/campaignflow/internal/repository"
	"github.com/maheshrc27/campaignflow/internal/transfer"
	"go.uber.org/zap"
)

// ReportArchiver stores the final performance report of a campaign.
type ReportArchiver interface {
	Archive(ctx context.Context, campaign *models.Campaign) (string, error)
}

type reportService struct {
	store    *repository.Store
	uploader Uploader
	log      *zap.Logger
	now      func() time.Time
}

// NewReportService archives through uploader. A nil uploader turns Archive
// into a no-op.
func NewReportService(store *repository.Store, uploader Uploader, log *zap.Logger) ReportArchiver {
	return &reportService{store: store, uploader: uploader, log: log, now: time.Now}
}

func (s *reportService) Archive(ctx context.Context, campaign *models.Campaign) (string, error) {
	if s.uploader == nil {
		s.log.Debug("report storage not configured, skipping archive", zap.Int64("campaign_id", campaign.ID))
		return "", nil
	}

	now := s.now()
	report, err := BuildReport(ctx, s.store, campaign, now)
	if err != nil {
		return "", err
	}
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}

	key := fmt.Sprintf("reports/campaign-%d/%s.json", campaign.ID, now.UTC().Format("20060102T150405Z"))
	if err := s.uploader.Upload(ctx, key, body, "application/json"); err != nil {
		return "", err
	}
	s.log.Info("campaign report archived", zap.Int64("campaign_id", campaign.ID), zap.String("key", key))
	return key, nil
}

// BuildReport assembles the summary and post outcomes of campaign.
func BuildReport(ctx context.Context, store *repository.Store, campaign *models.Campaign, now time.Time) (*transfer.CampaignReport, error) {
	summary, err := BuildSummary(ctx, store, campaign.ID, now)
	if err != nil {
		return nil, err
	}
	posts, err := store.Posts.ListByCampaign(ctx, campaign.ID, "")
	if err != nil {
		return nil, err
	}

	report := &transfer.CampaignReport{
		CampaignID:  campaign.ID,
		Name:        campaign.Name,
		StartDate:   campaign.StartDate,
		EndDate:     campaign.EndDate,
		PostsPerDay: campaign.PostsPerDay,
		Summary:     summary,
		Posts:       make([]transfer.ReportedPost, 0, len(posts)),
	}
	for _, p := range posts {
		report.Posts = append(report.Posts, transfer.ReportedPost{
			ID:          p.ID,
			ScheduledAt: p.ScheduledAt,
			Status:      p.Status,
			ExternalID:  p.ExternalID,
			DeliveredAt: p.DeliveredAt,
			RetryCount:  p.RetryCount,
			LastError:   p.LastError,
		})
	}
	return report, nil
}

// BuildSummary computes status counts, success rate and engagement totals
// from the newest snapshot of every delivered post.
func BuildSummary(ctx context.Context, store *repository.Store, campaignID int64, now time.Time) (*models.CampaignSummary, error) {
	counts, err := store.Posts.CountByStatus(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	latest, err := store.Analytics.LatestByCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	summary := &models.CampaignSummary{
		CampaignID:  campaignID,
		ByStatus:    make(map[string]int, len(models.PostStatuses)),
		GeneratedAt: now,
	}
	for _, status := range models.PostStatuses {
		summary.ByStatus[status] = counts[status]
		summary.Total += counts[status]
	}

	delivered := counts[models.PostStatusDelivered]
	if finished := delivered + counts[models.PostStatusFailed]; finished > 0 {
		summary.SuccessRate = float64(delivered) / float64(finished)
	}

	for _, snap := range latest {
		summary.Likes += snap.Likes
		summary.Reshares += snap.Reshares
		summary.Replies += snap.Replies
		summary.Impressions += snap.Impressions
	}
	summary.EngagementRate = models.EngagementRate(summary.Likes, summary.Reshares, summary.Replies, summary.Impressions)
	return summary, nil
}
