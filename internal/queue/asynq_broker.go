package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
	config "github.com/maheshrc27/campaignflow/configs"
	"github.com/maheshrc27/campaignflow/internal/apperrors"
	"go.uber.org/zap"
)

const (
	highSuffix = ":high"
	// asynq retries a handler error a few times on its own; anything it gives
	// up on is picked up again by the sweeper.
	asynqMaxRetry = 3
)

type taskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type taskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
	Close() error
}

// AsynqBroker runs every lane as its own asynq server on Redis so lanes never
// share workers.
type AsynqBroker struct {
	redis     asynq.RedisConnOpt
	client    taskClient
	inspector taskInspector
	lanes     map[string]config.Lane
	handlers  map[Kind]HandlerFunc
	log       *zap.Logger
}

func NewAsynqBroker(redisURI string, lanes map[string]config.Lane, log *zap.Logger) (*AsynqBroker, error) {
	var opt asynq.RedisConnOpt = asynq.RedisClientOpt{Addr: redisURI}
	if strings.HasPrefix(redisURI, "redis://") || strings.HasPrefix(redisURI, "rediss://") {
		parsed, err := asynq.ParseRedisURI(redisURI)
		if err != nil {
			return nil, fmt.Errorf("parse redis uri: %w", err)
		}
		opt = parsed
	}

	return &AsynqBroker{
		redis:     opt,
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		lanes:     lanes,
		handlers:  make(map[Kind]HandlerFunc),
		log:       log,
	}, nil
}

func queueName(t Task) string {
	lane := LaneOf(t.Kind)
	if t.Priority == PriorityHigh {
		return lane + highSuffix
	}
	return lane
}

func (b *AsynqBroker) Enqueue(ctx context.Context, t Task) error {
	payload, err := t.Encode()
	if err != nil {
		return err
	}

	opts := []asynq.Option{
		asynq.Queue(queueName(t)),
		asynq.TaskID(t.ID()),
		asynq.MaxRetry(asynqMaxRetry),
	}
	if !t.NotBefore.IsZero() {
		opts = append(opts, asynq.ProcessAt(t.NotBefore))
	}

	task := asynq.NewTask(string(t.Kind), payload)
	info, err := b.client.EnqueueContext(ctx, task, opts...)
	if isConflict(err) {
		// The ID may belong to a task asynq already gave up on or finished;
		// those would block the same attempt from ever running again.
		replaced, rerr := b.clearFinished(queueName(t), t.ID())
		if rerr != nil {
			return apperrors.Infrastructure("enqueue", rerr)
		}
		if !replaced {
			b.log.Debug("task already pending", zap.String("task_id", t.ID()))
			return nil
		}
		info, err = b.client.EnqueueContext(ctx, task, opts...)
		if isConflict(err) {
			return nil
		}
	}
	if err != nil {
		return apperrors.Infrastructure("enqueue", err)
	}

	b.log.Debug("task enqueued",
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue),
		zap.Time("process_at", info.NextProcessAt),
	)
	return nil
}

func isConflict(err error) bool {
	return errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask)
}

// clearFinished deletes the task with id from queue when it is archived or
// completed. It reports whether the ID is free again.
func (b *AsynqBroker) clearFinished(queue, id string) (bool, error) {
	info, err := b.inspector.GetTaskInfo(queue, id)
	if errors.Is(err, asynq.ErrTaskNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if info.State != asynq.TaskStateArchived && info.State != asynq.TaskStateCompleted {
		return false, nil
	}
	if err := b.inspector.DeleteTask(queue, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		return false, err
	}
	b.log.Info("replacing finished task", zap.String("task_id", id), zap.String("state", info.State.String()))
	return true, nil
}

func (b *AsynqBroker) Cancel(_ context.Context, t Task) error {
	lane := LaneOf(t.Kind)
	for _, q := range []string{lane, lane + highSuffix} {
		err := b.inspector.DeleteTask(q, t.ID())
		if err == nil || errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			continue
		}
		return apperrors.Infrastructure("cancel task", err)
	}
	return nil
}

func (b *AsynqBroker) Handle(kind Kind, h HandlerFunc) {
	b.handlers[kind] = h
}

func (b *AsynqBroker) adapt(h HandlerFunc) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		t, err := Decode(task.Payload())
		if err != nil {
			return fmt.Errorf("decode %s payload: %v: %w", task.Type(), err, asynq.SkipRetry)
		}
		return h(ctx, t)
	}
}

func (b *AsynqBroker) Run(ctx context.Context) error {
	var servers []*asynq.Server
	shutdown := func() {
		for _, srv := range servers {
			srv.Shutdown()
		}
	}

	for lane, cfg := range b.lanes {
		mux := asynq.NewServeMux()
		registered := 0
		for kind, h := range b.handlers {
			if LaneOf(kind) == lane {
				mux.HandleFunc(string(kind), b.adapt(h))
				registered++
			}
		}
		if registered == 0 {
			continue
		}

		srv := asynq.NewServer(b.redis, asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				lane:              1,
				lane + highSuffix: cfg.Priority,
			},
			Logger: b.log.Named("asynq." + lane).Sugar(),
		})
		if err := srv.Start(mux); err != nil {
			shutdown()
			return fmt.Errorf("start %s lane: %w", lane, err)
		}
		servers = append(servers, srv)
		b.log.Info("lane started", zap.String("lane", lane), zap.Int("concurrency", cfg.Concurrency))
	}

	<-ctx.Done()
	shutdown()
	return nil
}

func (b *AsynqBroker) Close() error {
	return errors.Join(b.client.Close(), b.inspector.Close())
}
