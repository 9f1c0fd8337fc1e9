package service

import (
	"context"
	"time"

	"github.com/maheshrc27/campaignflow/internal/models"
	"github.com/maheshrc27/campaignflow/internal/queue"
	"github.com/maheshrc27/campaignflow/internal/repository"
	"go.uber.org/zap"
)

// enqueueDelivery moves p from one of the from statuses to queued at
// notBefore and hands its delivery task to the broker. When the broker
// refuses the task the post goes back to pending so a later sweep picks it
// up. It reports whether the task was enqueued.
func enqueueDelivery(
	ctx context.Context,
	posts repository.PostRepository,
	q queue.Enqueuer,
	log *zap.Logger,
	p *models.ScheduledPost,
	from []string,
	notBefore time.Time,
	prio queue.Priority,
	now time.Time,
) bool {
	ok, err := posts.Requeue(ctx, p.ID, from, notBefore, now)
	if err != nil {
		log.Warn("queue post", zap.Int64("post_id", p.ID), zap.Error(err))
		return false
	}
	if !ok {
		log.Debug("post left its status before queueing", zap.Int64("post_id", p.ID))
		return false
	}

	task := queue.Task{
		Kind:      queue.KindDeliver,
		TargetID:  p.ID,
		NotBefore: notBefore,
		Attempt:   p.RetryCount,
		Priority:  prio,
	}
	if err := q.Enqueue(ctx, task); err != nil {
		log.Warn("enqueue delivery", zap.Int64("post_id", p.ID), zap.Error(err))
		if _, err := posts.Transition(ctx, p.ID, []string{models.PostStatusQueued}, models.PostStatusPending, now); err != nil {
			log.Error("return post to pending", zap.Int64("post_id", p.ID), zap.Error(err))
		}
		return false
	}
	return true
}

// cancelDelivery drops the pending delivery task of p, if the broker still
// holds one.
func cancelDelivery(ctx context.Context, q queue.Enqueuer, log *zap.Logger, p *models.ScheduledPost) {
	task := queue.Task{Kind: queue.KindDeliver, TargetID: p.ID, Attempt: p.RetryCount}
	if err := q.Cancel(ctx, task); err != nil {
		log.Warn("cancel delivery task", zap.Int64("post_id", p.ID), zap.Error(err))
	}
}

// cadenceStep returns the last cadence step already due at now, or 0 when
// none is.
func cadenceStep(cadence []time.Duration, deliveredAt, now time.Time) int {
	step := 0
	for i, d := range cadence {
		if deliveredAt.Add(d).After(now) {
			break
		}
		step = i
	}
	return step
}

// longestCadenceGap is the widest spacing between two consecutive refreshes.
func longestCadenceGap(cadence []time.Duration) time.Duration {
	var gap, prev time.Duration
	for _, d := range cadence {
		if d-prev > gap {
			gap = d - prev
		}
		prev = d
	}
	return gap
}
