package models

import "time"

type Campaign struct {
	ID          int64      `db:"id" json:"id"`
	UserID      int64      `db:"user_id" json:"user_id"`
	AccountID   int64      `db:"account_id" json:"account_id"`
	Name        string     `db:"name" json:"name"`
	Description string     `db:"description" json:"description"`
	Keywords    []string   `db:"keywords" json:"keywords"`
	Hashtags    []string   `db:"hashtags" json:"hashtags"`
	Audience    string     `db:"target_audience" json:"target_audience"`
	StartDate   time.Time  `db:"start_date" json:"start_date"`
	EndDate     time.Time  `db:"end_date" json:"end_date"`
	PostsPerDay int        `db:"posts_per_day" json:"posts_per_day"`
	Status      string     `db:"status" json:"status"` // active, paused, ended
	PausedAt    *time.Time `db:"paused_at" json:"paused_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

const (
	CampaignStatusActive = "active"
	CampaignStatusPaused = "paused"
	CampaignStatusEnded  = "ended"
)

// CampaignSummary is the performance report of one campaign.
type CampaignSummary struct {
	CampaignID     int64          `json:"campaign_id"`
	Total          int            `json:"total"`
	ByStatus       map[string]int `json:"by_status"`
	SuccessRate    float64        `json:"success_rate"`
	Likes          int64          `json:"likes"`
	Reshares       int64          `json:"reshares"`
	Replies        int64          `json:"replies"`
	Impressions    int64          `json:"impressions"`
	EngagementRate float64        `json:"engagement_rate"`
	GeneratedAt    time.Time      `json:"generated_at"`
}
