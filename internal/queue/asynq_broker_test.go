package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/campaignflow/internal/apperrors"
	"go.uber.org/zap"
)

// fakeRedisQueue keeps asynq task states by queue and ID the way Redis would
// for the calls the broker makes.
type fakeRedisQueue struct {
	tasks    map[string]asynq.TaskState
	enqueues int
	deleted  []string
	infoErr  error
}

func newFakeRedisQueue() *fakeRedisQueue {
	return &fakeRedisQueue{tasks: make(map[string]asynq.TaskState)}
}

func key(queue, id string) string { return queue + "/" + id }

func (f *fakeRedisQueue) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	var queue, id string
	processAt := false
	for _, o := range opts {
		switch o.Type() {
		case asynq.QueueOpt:
			queue = o.Value().(string)
		case asynq.TaskIDOpt:
			id = o.Value().(string)
		case asynq.ProcessAtOpt:
			processAt = true
		}
	}
	if _, ok := f.tasks[key(queue, id)]; ok {
		return nil, asynq.ErrTaskIDConflict
	}
	f.enqueues++
	state := asynq.TaskStatePending
	if processAt {
		state = asynq.TaskStateScheduled
	}
	f.tasks[key(queue, id)] = state
	return &asynq.TaskInfo{ID: id, Queue: queue, Type: task.Type(), State: state}, nil
}

func (f *fakeRedisQueue) GetTaskInfo(queue, id string) (*asynq.TaskInfo, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	state, ok := f.tasks[key(queue, id)]
	if !ok {
		return nil, asynq.ErrTaskNotFound
	}
	return &asynq.TaskInfo{ID: id, Queue: queue, State: state}, nil
}

func (f *fakeRedisQueue) DeleteTask(queue, id string) error {
	if _, ok := f.tasks[key(queue, id)]; !ok {
		return asynq.ErrTaskNotFound
	}
	delete(f.tasks, key(queue, id))
	f.deleted = append(f.deleted, key(queue, id))
	return nil
}

func (f *fakeRedisQueue) Close() error { return nil }

func fakeAsynqBroker(f *fakeRedisQueue) *AsynqBroker {
	return &AsynqBroker{
		client:    f,
		inspector: f,
		lanes:     testLanes(1, 1),
		handlers:  make(map[Kind]HandlerFunc),
		log:       zap.NewNop(),
	}
}

func TestAsynqEnqueueDedupesLiveTask(t *testing.T) {
	f := newFakeRedisQueue()
	b := fakeAsynqBroker(f)
	task := Task{Kind: KindDeliver, TargetID: 7, NotBefore: time.Now().Add(time.Hour)}

	for i := 0; i < 2; i++ {
		if err := b.Enqueue(context.Background(), task); err != nil {
			t.Fatalf("Enqueue #%d: %v", i+1, err)
		}
	}
	if f.enqueues != 1 || len(f.deleted) != 0 {
		t.Fatalf("enqueues=%d deleted=%v, want one enqueue and no deletes", f.enqueues, f.deleted)
	}
}

func TestAsynqEnqueueReplacesFinishedTask(t *testing.T) {
	for _, state := range []asynq.TaskState{asynq.TaskStateArchived, asynq.TaskStateCompleted} {
		t.Run(state.String(), func(t *testing.T) {
			f := newFakeRedisQueue()
			b := fakeAsynqBroker(f)
			task := Task{Kind: KindDeliver, TargetID: 7}
			f.tasks[key(LaneDelivery, task.ID())] = state

			if err := b.Enqueue(context.Background(), task); err != nil {
				t.Fatalf("Enqueue: %v", err)
			}
			if got := f.tasks[key(LaneDelivery, task.ID())]; got != asynq.TaskStatePending {
				t.Fatalf("state after re-enqueue = %v, want pending", got)
			}
			if f.enqueues != 1 || len(f.deleted) != 1 {
				t.Fatalf("enqueues=%d deleted=%v", f.enqueues, f.deleted)
			}
		})
	}
}

func TestAsynqEnqueueUsesPriorityQueue(t *testing.T) {
	f := newFakeRedisQueue()
	b := fakeAsynqBroker(f)
	task := Task{Kind: KindDeliver, TargetID: 3, Priority: PriorityHigh}
	f.tasks[key(LaneDelivery+highSuffix, task.ID())] = asynq.TaskStateArchived

	if err := b.Enqueue(context.Background(), task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if got := f.tasks[key(LaneDelivery+highSuffix, task.ID())]; got != asynq.TaskStatePending {
		t.Fatalf("state = %v, want pending on the high queue", got)
	}
}

func TestAsynqEnqueueReportsInspectorFailure(t *testing.T) {
	f := newFakeRedisQueue()
	b := fakeAsynqBroker(f)
	task := Task{Kind: KindRefreshAnalytics, TargetID: 1, Step: 2}
	f.tasks[key(LaneAnalytics, task.ID())] = asynq.TaskStateArchived
	f.infoErr = errors.New("redis: connection refused")

	err := b.Enqueue(context.Background(), task)
	if apperrors.KindOf(err) != apperrors.KindInfrastructure {
		t.Fatalf("err = %v, want an infrastructure error", err)
	}
}
