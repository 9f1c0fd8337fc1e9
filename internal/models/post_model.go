package models

import "time"

// ScheduledPost is the unit of delivery. ExternalID is set exactly when
// Status is delivered.
type ScheduledPost struct {
	ID             int64      `db:"id" json:"id"`
	CampaignID     int64      `db:"campaign_id" json:"campaign_id"`
	Content        string     `db:"content" json:"content"`
	ScheduledAt    time.Time  `db:"scheduled_at" json:"scheduled_at"`
	NotBefore      time.Time  `db:"not_before" json:"not_before"`
	Status         string     `db:"status" json:"status"`
	RetryCount     int        `db:"retry_count" json:"retry_count"`
	LastError      string     `db:"last_error" json:"last_error,omitempty"`
	ExternalID     string     `db:"external_id" json:"external_id,omitempty"`
	DeliveredAt    *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	IdempotencyKey string     `db:"idempotency_key" json:"-"`
	ClaimToken     string     `db:"claim_token" json:"-"`
	ClaimedAt      *time.Time `db:"claimed_at" json:"-"`
	CancelReason   string     `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

const (
	PostStatusPending   = "pending"
	PostStatusQueued    = "queued"
	PostStatusPosting   = "posting"
	PostStatusDelivered = "delivered"
	PostStatusRetryWait = "retry-wait"
	PostStatusFailed    = "failed"
	PostStatusCancelled = "cancelled"
)

const (
	CancelReasonPaused  = "campaign-paused"
	CancelReasonEnded   = "campaign-ended"
	CancelReasonUser    = "user"
	LastErrorMissed     = "missed delivery window"
	LastErrorCredential = "authentication required"
)

// PostStatuses lists every lifecycle status.
var PostStatuses = []string{
	PostStatusPending,
	PostStatusQueued,
	PostStatusPosting,
	PostStatusDelivered,
	PostStatusRetryWait,
	PostStatusFailed,
	PostStatusCancelled,
}

func IsTerminal(status string) bool {
	switch status {
	case PostStatusDelivered, PostStatusFailed, PostStatusCancelled:
		return true
	}
	return false
}

// IsCancellable reports whether a post in status may move to cancelled.
// A posting post has an in-flight call and must resolve first.
func IsCancellable(status string) bool {
	return !IsTerminal(status) && status != PostStatusPosting
}

// IsClaimable reports whether status may be claimed for delivery.
func IsClaimable(status string) bool {
	return status == PostStatusQueued || status == PostStatusRetryWait
}
