package job

import (
	"context"
	"time"

	"github.com/maheshrc27/campaignflow/internal/queue"
	"github.com/robfig/cron"
	"go.uber.org/zap"
)

// MaintenanceJob enqueues one sweep task per schedule tick. The task is keyed
// by the tick, so when several processes run the job only one sweep happens.
type MaintenanceJob struct {
	q   queue.Enqueuer
	log *zap.Logger
	now func() time.Time
}

func NewMaintenanceJob(q queue.Enqueuer, log *zap.Logger) *MaintenanceJob {
	return &MaintenanceJob{q: q, log: log, now: time.Now}
}

func (j *MaintenanceJob) EnqueueSweep() {
	tick := j.now().Truncate(time.Second)
	task := queue.Task{
		Kind:      queue.KindSweep,
		TargetID:  tick.Unix(),
		NotBefore: tick,
	}
	if err := j.q.Enqueue(context.Background(), task); err != nil {
		j.log.Warn("enqueue sweep", zap.Error(err))
		return
	}
	j.log.Debug("sweep enqueued", zap.Time("tick", tick))
}

// Start schedules EnqueueSweep on spec and returns the running cron, which
// the caller stops on shutdown.
func (j *MaintenanceJob) Start(spec string) (*cron.Cron, error) {
	c := cron.New()
	if err := c.AddFunc(spec, j.EnqueueSweep); err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
