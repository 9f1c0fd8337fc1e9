package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/maheshrc27/campaignflow/internal/apperrors"
	"github.com/maheshrc27/campaignflow/internal/models"
)

type analyticsRepository struct {
	db *sql.DB
}

func NewAnalyticsRepository(db *sql.DB) AnalyticsRepository {
	return &analyticsRepository{db: db}
}

const snapshotColumns = `id, post_id, campaign_id, likes, reshares, replies, impressions, captured_at`

// Snapshots are insert-only; this repository has no update path.
func (r *analyticsRepository) Insert(ctx context.Context, s *models.AnalyticsSnapshot) (int64, error) {
	query := `
		INSERT INTO analytics_snapshots (post_id, campaign_id, likes, reshares, replies, impressions, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query, s.PostID, s.CampaignID, s.Likes, s.Reshares,
		s.Replies, s.Impressions, s.CapturedAt).Scan(&id)
	if err != nil {
		return 0, apperrors.Infrastructure("insert snapshot", err)
	}
	return id, nil
}

func (r *analyticsRepository) list(ctx context.Context, op, query string, args ...any) ([]*models.AnalyticsSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Infrastructure(op, err)
	}
	defer rows.Close()

	var snapshots []*models.AnalyticsSnapshot
	for rows.Next() {
		var s models.AnalyticsSnapshot
		if err := rows.Scan(&s.ID, &s.PostID, &s.CampaignID, &s.Likes, &s.Reshares,
			&s.Replies, &s.Impressions, &s.CapturedAt); err != nil {
			return nil, apperrors.Infrastructure(op, err)
		}
		snapshots = append(snapshots, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Infrastructure(op, err)
	}
	return snapshots, nil
}

func (r *analyticsRepository) ListByPost(ctx context.Context, postID int64) ([]*models.AnalyticsSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM analytics_snapshots WHERE post_id = $1 ORDER BY captured_at, id`
	return r.list(ctx, "list snapshots", query, postID)
}

func (r *analyticsRepository) LatestByCampaign(ctx context.Context, campaignID int64) ([]*models.AnalyticsSnapshot, error) {
	query := `SELECT DISTINCT ON (post_id) ` + snapshotColumns + ` FROM analytics_snapshots
		WHERE campaign_id = $1
		ORDER BY post_id, captured_at DESC, id DESC`
	return r.list(ctx, "latest snapshots", query, campaignID)
}

func (r *analyticsRepository) ListRefreshGaps(ctx context.Context, deliveredAfter, staleBefore time.Time, limit int) ([]int64, error) {
	query := `
		SELECT p.id
		FROM scheduled_posts p
		LEFT JOIN analytics_snapshots s ON s.post_id = p.id
		WHERE p.status = 'delivered' AND p.delivered_at > $1
		GROUP BY p.id, p.delivered_at
		HAVING COALESCE(MAX(s.captured_at), p.delivered_at) < $2
		ORDER BY p.delivered_at
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, deliveredAfter, staleBefore, limit)
	if err != nil {
		return nil, apperrors.Infrastructure("list refresh gaps", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Infrastructure("list refresh gaps", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Infrastructure("list refresh gaps", err)
	}
	return ids, nil
}
