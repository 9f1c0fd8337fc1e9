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

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db}
}

const postColumns = `id, campaign_id, content, scheduled_at, not_before, status, retry_count, last_error,
	COALESCE(external_id, ''), delivered_at, idempotency_key, claim_token, claimed_at, cancel_reason,
	created_at, updated_at`

func scanPost(row interface{ Scan(...any) error }) (*models.ScheduledPost, error) {
	var p models.ScheduledPost
	err := row.Scan(&p.ID, &p.CampaignID, &p.Content, &p.ScheduledAt, &p.NotBefore, &p.Status,
		&p.RetryCount, &p.LastError, &p.ExternalID, &p.DeliveredAt, &p.IdempotencyKey,
		&p.ClaimToken, &p.ClaimedAt, &p.CancelReason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *postRepository) queryPosts(ctx context.Context, op, query string, args ...any) ([]*models.ScheduledPost, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Infrastructure(op, err)
	}
	defer rows.Close()

	var posts []*models.ScheduledPost
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, apperrors.Infrastructure(op, err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Infrastructure(op, err)
	}
	return posts, nil
}

func (r *postRepository) exec(ctx context.Context, op, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, apperrors.Infrastructure(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.Infrastructure(op, err)
	}
	return n > 0, nil
}

func (r *postRepository) CreateBatch(ctx context.Context, posts []*models.ScheduledPost) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Infrastructure("create posts", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO scheduled_posts (campaign_id, content, scheduled_at, not_before, status, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id
	`)
	if err != nil {
		return apperrors.Infrastructure("create posts", err)
	}
	defer stmt.Close()

	for _, p := range posts {
		err = stmt.QueryRowContext(ctx, p.CampaignID, p.Content, p.ScheduledAt, p.NotBefore,
			p.Status, p.IdempotencyKey, p.CreatedAt).Scan(&p.ID)
		if err != nil {
			return apperrors.Infrastructure("create posts", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return apperrors.Infrastructure("create posts", err)
	}
	return nil
}

func (r *postRepository) GetByID(ctx context.Context, id int64) (*models.ScheduledPost, error) {
	query := `SELECT ` + postColumns + ` FROM scheduled_posts WHERE id = $1`

	p, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperrors.Infrastructure("get post", err)
	}
	return p, nil
}

func (r *postRepository) ListByCampaign(ctx context.Context, campaignID int64, status string) ([]*models.ScheduledPost, error) {
	query := `SELECT ` + postColumns + ` FROM scheduled_posts
		WHERE campaign_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY scheduled_at`
	return r.queryPosts(ctx, "list posts", query, campaignID, status)
}

func (r *postRepository) ListTargetTimes(ctx context.Context, campaignID int64) ([]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT scheduled_at FROM scheduled_posts WHERE campaign_id = $1`, campaignID)
	if err != nil {
		return nil, apperrors.Infrastructure("list target times", err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, apperrors.Infrastructure("list target times", err)
		}
		times = append(times, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Infrastructure("list target times", err)
	}
	return times, nil
}

func (r *postRepository) CountByStatus(ctx context.Context, campaignID int64) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM scheduled_posts WHERE campaign_id = $1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, apperrors.Infrastructure("count posts", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, apperrors.Infrastructure("count posts", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Infrastructure("count posts", err)
	}
	return counts, nil
}

func (r *postRepository) Transition(ctx context.Context, id int64, from []string, to string, now time.Time) (bool, error) {
	query := `
		UPDATE scheduled_posts
		SET status = $1,
			updated_at = $2
		WHERE id = $3 AND status = ANY($4)
	`
	return r.exec(ctx, "transition post", query, to, now, id, pq.Array(from))
}

func (r *postRepository) Requeue(ctx context.Context, id int64, from []string, notBefore, now time.Time) (bool, error) {
	query := `
		UPDATE scheduled_posts
		SET status = 'queued',
			not_before = $1,
			claim_token = '',
			claimed_at = NULL,
			updated_at = $2
		WHERE id = $3 AND status = ANY($4)
	`
	return r.exec(ctx, "requeue post", query, notBefore, now, id, pq.Array(from))
}

func (r *postRepository) Fail(ctx context.Context, id int64, from []string, lastErr string, now time.Time) (bool, error) {
	query := `
		UPDATE scheduled_posts
		SET status = 'failed',
			last_error = $1,
			updated_at = $2
		WHERE id = $3 AND status = ANY($4) AND status <> 'posting'
	`
	return r.exec(ctx, "fail post", query, lastErr, now, id, pq.Array(from))
}

func (r *postRepository) Cancel(ctx context.Context, id int64, reason string, now time.Time) (bool, error) {
	query := `
		UPDATE scheduled_posts
		SET status = 'cancelled',
			cancel_reason = $1,
			updated_at = $2
		WHERE id = $3 AND status IN ('pending', 'queued', 'retry-wait')
	`
	return r.exec(ctx, "cancel post", query, reason, now, id)
}

func (r *postRepository) CancelByCampaign(ctx context.Context, campaignID int64, reason string, now time.Time) ([]*models.ScheduledPost, error) {
	query := `
		UPDATE scheduled_posts
		SET status = 'cancelled',
			cancel_reason = $1,
			updated_at = $2
		WHERE campaign_id = $3 AND status IN ('pending', 'queued', 'retry-wait')
		RETURNING ` + postColumns
	return r.queryPosts(ctx, "cancel campaign posts", query, reason, now, campaignID)
}

func (r *postRepository) Reactivate(ctx context.Context, campaignID int64, reason string, after time.Time, shift time.Duration, now time.Time) ([]*models.ScheduledPost, error) {
	query := `
		UPDATE scheduled_posts
		SET status = 'pending',
			scheduled_at = scheduled_at + $1::double precision * INTERVAL '1 microsecond',
			not_before = scheduled_at + $1::double precision * INTERVAL '1 microsecond',
			cancel_reason = '',
			updated_at = $2
		WHERE campaign_id = $3 AND status = 'cancelled' AND cancel_reason = $4 AND scheduled_at > $5
		RETURNING ` + postColumns
	return r.queryPosts(ctx, "reactivate posts", query, shift.Microseconds(), now, campaignID, reason, after)
}

func (r *postRepository) ResetFailed(ctx context.Context, id int64, now time.Time) (bool, error) {
	query := `
		UPDATE scheduled_posts
		SET status = 'queued',
			retry_count = 0,
			last_error = '',
			not_before = $1,
			updated_at = $1
		WHERE id = $2 AND status = 'failed'
	`
	return r.exec(ctx, "reset failed post", query, now, id)
}

func (r *postRepository) Claim(ctx context.Context, id int64, token string, now time.Time) (*models.ScheduledPost, error) {
	query := `
		UPDATE scheduled_posts
		SET status = 'posting',
			claim_token = $1,
			claimed_at = $2,
			updated_at = $2
		WHERE id = $3 AND status IN ('queued', 'retry-wait') AND not_before <= $2
		RETURNING ` + postColumns

	p, err := scanPost(r.db.QueryRowContext(ctx, query, token, now, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperrors.Infrastructure("claim post", err)
	}
	return p, nil
}

func (r *postRepository) CompleteClaim(ctx context.Context, id int64, token, externalID string, at time.Time) (bool, error) {
	query := `
		UPDATE scheduled_posts
		SET status = 'delivered',
			external_id = $1,
			delivered_at = $2,
			last_error = '',
			claim_token = '',
			updated_at = $2
		WHERE id = $3 AND status = 'posting' AND claim_token = $4
	`
	return r.exec(ctx, "complete claim", query, externalID, at, id, token)
}

func (r *postRepository) RetryClaim(ctx context.Context, id int64, token string, retryCount int, lastErr string, notBefore, now time.Time) (bool, error) {
	query := `
		UPDATE scheduled_posts
		SET status = 'retry-wait',
			retry_count = $1,
			last_error = $2,
			not_before = $3,
			claim_token = '',
			claimed_at = NULL,
			updated_at = $4
		WHERE id = $5 AND status = 'posting' AND claim_token = $6
	`
	return r.exec(ctx, "retry claim", query, retryCount, lastErr, notBefore, now, id, token)
}

func (r *postRepository) FailClaim(ctx context.Context, id int64, token string, retryCount int, lastErr string, now time.Time) (bool, error) {
	query := `
		UPDATE scheduled_posts
		SET status = 'failed',
			retry_count = $1,
			last_error = $2,
			claim_token = '',
			claimed_at = NULL,
			updated_at = $3
		WHERE id = $4 AND status = 'posting' AND claim_token = $5
	`
	return r.exec(ctx, "fail claim", query, retryCount, lastErr, now, id, token)
}

func (r *postRepository) CancelClaim(ctx context.Context, id int64, token, reason string, now time.Time) (bool, error) {
	query := `
		UPDATE scheduled_posts
		SET status = 'cancelled',
			cancel_reason = $1,
			claim_token = '',
			claimed_at = NULL,
			updated_at = $2
		WHERE id = $3 AND status = 'posting' AND claim_token = $4
	`
	return r.exec(ctx, "cancel claim", query, reason, now, id, token)
}

func (r *postRepository) RequeueClaim(ctx context.Context, id int64, token string, now time.Time) (bool, error) {
	query := `
		UPDATE scheduled_posts
		SET status = 'queued',
			not_before = $1,
			claim_token = '',
			claimed_at = NULL,
			updated_at = $1
		WHERE id = $2 AND status = 'posting' AND claim_token = $3
	`
	return r.exec(ctx, "requeue claim", query, now, id, token)
}

func (r *postRepository) ListStuck(ctx context.Context, claimedBefore time.Time, limit int) ([]*models.ScheduledPost, error) {
	query := `SELECT ` + postColumns + ` FROM scheduled_posts
		WHERE status = 'posting' AND claimed_at < $1
		ORDER BY claimed_at
		LIMIT $2`
	return r.queryPosts(ctx, "list stuck posts", query, claimedBefore, limit)
}

func (r *postRepository) ListDue(ctx context.Context, statuses []string, notBeforeBefore time.Time, limit int) ([]*models.ScheduledPost, error) {
	query := `SELECT ` + postColumns + ` FROM scheduled_posts
		WHERE status = ANY($1) AND not_before <= $2
		ORDER BY not_before
		LIMIT $3`
	return r.queryPosts(ctx, "list due posts", query, pq.Array(statuses), notBeforeBefore, limit)
}

func (r *postRepository) PurgeFinished(ctx context.Context, before time.Time, limit int) (n int, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.Infrastructure("purge posts", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM scheduled_posts
		WHERE (status = $1 AND delivered_at < $3) OR (status = $2 AND updated_at < $3)
		ORDER BY id
		LIMIT $4
		FOR UPDATE`,
		models.PostStatusDelivered, models.PostStatusFailed, before, limit)
	if err != nil {
		return 0, apperrors.Infrastructure("purge posts", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			rows.Close()
			return 0, apperrors.Infrastructure("purge posts", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return 0, apperrors.Infrastructure("purge posts", err)
	}
	if len(ids) == 0 {
		err = tx.Commit()
		return 0, err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM analytics_snapshots WHERE post_id = ANY($1)`, pq.Array(ids)); err != nil {
		return 0, apperrors.Infrastructure("purge posts", fmt.Errorf("snapshots: %w", err))
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM scheduled_posts WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return 0, apperrors.Infrastructure("purge posts", fmt.Errorf("posts: %w", err))
	}
	if err = tx.Commit(); err != nil {
		return 0, apperrors.Infrastructure("purge posts", err)
	}
	return len(ids), nil
}
