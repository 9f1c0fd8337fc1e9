package models

import "time"

// AnalyticsSnapshot is an immutable metrics reading for one delivered post.
type AnalyticsSnapshot struct {
	ID          int64     `db:"id" json:"id"`
	PostID      int64     `db:"post_id" json:"post_id"`
	CampaignID  int64     `db:"campaign_id" json:"campaign_id"`
	Likes       int64     `db:"likes" json:"likes"`
	Reshares    int64     `db:"reshares" json:"reshares"`
	Replies     int64     `db:"replies" json:"replies"`
	Impressions int64     `db:"impressions" json:"impressions"`
	CapturedAt  time.Time `db:"captured_at" json:"captured_at"`
}

// EngagementRate is interactions per impression, as a percentage.
func (s AnalyticsSnapshot) EngagementRate() float64 {
	return EngagementRate(s.Likes, s.Reshares, s.Replies, s.Impressions)
}

func EngagementRate(likes, reshares, replies, impressions int64) float64 {
	if impressions <= 0 {
		return 0
	}
	return float64(likes+reshares+replies) / float64(impressions) * 100
}
