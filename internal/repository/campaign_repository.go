package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/maheshrc27/campaignflow/internal/apperrors"
	"github.com/maheshrc27/campaignflow/internal/models"
)

type campaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) CampaignRepository {
	return &campaignRepository{db: db}
}

const campaignColumns = `id, user_id, account_id, name, description, keywords, hashtags, target_audience,
	start_date, end_date, posts_per_day, status, paused_at, created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*models.Campaign, error) {
	var c models.Campaign
	err := row.Scan(&c.ID, &c.UserID, &c.AccountID, &c.Name, &c.Description,
		pq.Array(&c.Keywords), pq.Array(&c.Hashtags), &c.Audience,
		&c.StartDate, &c.EndDate, &c.PostsPerDay, &c.Status, &c.PausedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *campaignRepository) Create(ctx context.Context, c *models.Campaign) (int64, error) {
	query := `
		INSERT INTO campaigns (user_id, account_id, name, description, keywords, hashtags,
			target_audience, start_date, end_date, posts_per_day, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query, c.UserID, c.AccountID, c.Name, c.Description,
		pq.Array(c.Keywords), pq.Array(c.Hashtags), c.Audience,
		c.StartDate, c.EndDate, c.PostsPerDay, c.Status).Scan(&id)
	if err != nil {
		return 0, apperrors.Infrastructure("create campaign", err)
	}
	return id, nil
}

func (r *campaignRepository) GetByID(ctx context.Context, id int64) (*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`

	c, err := scanCampaign(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperrors.Infrastructure("get campaign", err)
	}
	return c, nil
}

func (r *campaignRepository) SetStatus(ctx context.Context, id int64, status string, pausedAt *time.Time, now time.Time) error {
	query := `
		UPDATE campaigns
		SET status = $1,
			paused_at = $2,
			updated_at = $3
		WHERE id = $4
	`
	if _, err := r.db.ExecContext(ctx, query, status, pausedAt, now, id); err != nil {
		return apperrors.Infrastructure("set campaign status", err)
	}
	return nil
}

func (r *campaignRepository) ListExpired(ctx context.Context, endedBefore time.Time, limit int) ([]*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
		WHERE status IN ('active', 'paused') AND end_date <= $1
		ORDER BY end_date
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, endedBefore, limit)
	if err != nil {
		return nil, apperrors.Infrastructure("list expired campaigns", err)
	}
	defer rows.Close()

	var campaigns []*models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, apperrors.Infrastructure("scan campaign", err)
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Infrastructure("list expired campaigns", err)
	}
	return campaigns, nil
}

func (r *campaignRepository) Delete(ctx context.Context, id int64) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Infrastructure("delete campaign", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	steps := []struct {
		name  string
		query string
	}{
		{"snapshots", `DELETE FROM analytics_snapshots WHERE campaign_id = $1`},
		{"posts", `DELETE FROM scheduled_posts WHERE campaign_id = $1`},
		{"campaign", `DELETE FROM campaigns WHERE id = $1`},
	}
	for _, step := range steps {
		if _, err = tx.ExecContext(ctx, step.query, id); err != nil {
			return apperrors.Infrastructure("delete campaign", fmt.Errorf("%s: %w", step.name, err))
		}
	}

	if err = tx.Commit(); err != nil {
		return apperrors.Infrastructure("delete campaign", err)
	}
	return nil
}
