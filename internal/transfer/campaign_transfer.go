package transfer

import (
	"time"

	"github.com/maheshrc27/campaignflow/internal/models"
)

type CampaignCreation struct {
	AccountID   int64    `json:"account_id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	Hashtags    []string `json:"hashtags"`
	Audience    string   `json:"target_audience"`
	StartDate   string   `json:"start_date"`
	EndDate     string   `json:"end_date"`
	PostsPerDay int      `json:"posts_per_day"`
}

// ScheduleRequest carries inclusive calendar dates in YYYY-MM-DD form.
type ScheduleRequest struct {
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	PostsPerDay int    `json:"posts_per_day"`
}

// PostCreation is one hand-written post; ScheduledAt is RFC 3339.
type PostCreation struct {
	Content     string    `json:"content"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

type ScheduleResponse struct {
	Created  int `json:"created"`
	Enqueued int `json:"enqueued"`
}

type ResumeRequest struct {
	Reschedule bool `json:"reschedule"`
}

type ResumeResponse struct {
	Reactivated int `json:"reactivated"`
}

type CancelResponse struct {
	Cancelled int `json:"cancelled"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Needed int    `json:"needed,omitempty"`
	Got    int    `json:"got,omitempty"`
}

// CampaignReport is the document archived when a campaign ends.
type CampaignReport struct {
	CampaignID  int64                   `json:"campaign_id"`
	Name        string                  `json:"name"`
	StartDate   time.Time               `json:"start_date"`
	EndDate     time.Time               `json:"end_date"`
	PostsPerDay int                     `json:"posts_per_day"`
	Summary     *models.CampaignSummary `json:"summary"`
	Posts       []ReportedPost          `json:"posts"`
}

type ReportedPost struct {
	ID          int64      `json:"id"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	Status      string     `json:"status"`
	ExternalID  string     `json:"external_id,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	RetryCount  int        `json:"retry_count"`
	LastError   string     `json:"last_error,omitempty"`
}
