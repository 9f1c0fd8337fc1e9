package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	config "github.com/maheshrc27/campaignflow/configs"
	"go.uber.org/zap"
)

// MemoryBroker is an in-process broker with the same lane model as
// AsynqBroker. Nothing survives a restart.
type MemoryBroker struct {
	mu       sync.Mutex
	lanes    map[string]*memoryLane
	handlers map[Kind]HandlerFunc
	log      *zap.Logger
}

type memoryItem struct {
	task    Task
	seq     uint64
	removed bool
	index   int
}

type memoryLane struct {
	name    string
	cfg     config.Lane
	pending map[string]*memoryItem
	high    itemHeap
	normal  itemHeap
	seq     uint64
	wake    chan struct{}
}

func NewMemoryBroker(lanes map[string]config.Lane, log *zap.Logger) *MemoryBroker {
	b := &MemoryBroker{
		lanes:    make(map[string]*memoryLane, len(lanes)),
		handlers: make(map[Kind]HandlerFunc),
		log:      log,
	}
	for name, cfg := range lanes {
		if cfg.Concurrency < 1 {
			cfg.Concurrency = 1
		}
		b.lanes[name] = &memoryLane{
			name:    name,
			cfg:     cfg,
			pending: make(map[string]*memoryItem),
			wake:    make(chan struct{}, 1),
		}
	}
	return b
}

func (b *MemoryBroker) lane(k Kind) (*memoryLane, error) {
	l, ok := b.lanes[LaneOf(k)]
	if !ok {
		return nil, fmt.Errorf("no lane configured for %s", k)
	}
	return l, nil
}

func (b *MemoryBroker) Enqueue(_ context.Context, t Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, err := b.lane(t.Kind)
	if err != nil {
		return err
	}
	id := t.ID()
	if _, dup := l.pending[id]; dup {
		return nil
	}

	l.seq++
	item := &memoryItem{task: t, seq: l.seq}
	l.pending[id] = item
	if t.Priority == PriorityHigh {
		heap.Push(&l.high, item)
	} else {
		heap.Push(&l.normal, item)
	}

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

func (b *MemoryBroker) Cancel(_ context.Context, t Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, err := b.lane(t.Kind)
	if err != nil {
		return nil
	}
	if item, ok := l.pending[t.ID()]; ok {
		item.removed = true
		delete(l.pending, t.ID())
	}
	return nil
}

// Pending reports how many tasks wait in the lane of kind k.
func (b *MemoryBroker) Pending(k Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, err := b.lane(k)
	if err != nil {
		return 0
	}
	return len(l.pending)
}

func (b *MemoryBroker) Handle(kind Kind, h HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = h
}

// next pops the first ready task, preferring the high priority heap. When
// nothing is ready it returns how long until the earliest task is, or -1
// when the lane is empty.
func (l *memoryLane) next(now time.Time) (Task, time.Duration, bool) {
	for _, h := range []*itemHeap{&l.high, &l.normal} {
		for h.Len() > 0 && (*h)[0].removed {
			heap.Pop(h)
		}
	}

	for _, h := range []*itemHeap{&l.high, &l.normal} {
		if h.Len() > 0 && !(*h)[0].task.NotBefore.After(now) {
			item := heap.Pop(h).(*memoryItem)
			delete(l.pending, item.task.ID())
			return item.task, 0, true
		}
	}

	wait := time.Duration(-1)
	for _, h := range []*itemHeap{&l.high, &l.normal} {
		if h.Len() == 0 {
			continue
		}
		if d := (*h)[0].task.NotBefore.Sub(now); wait < 0 || d < wait {
			wait = d
		}
	}
	return Task{}, wait, false
}

func (b *MemoryBroker) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, l := range b.lanes {
		work := make(chan Task)

		wg.Add(1)
		go func(l *memoryLane) {
			defer wg.Done()
			defer close(work)
			b.dispatch(ctx, l, work)
		}(l)

		for i := 0; i < l.cfg.Concurrency; i++ {
			wg.Add(1)
			go func(lane string) {
				defer wg.Done()
				for t := range work {
					b.execute(ctx, lane, t)
				}
			}(l.name)
		}
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (b *MemoryBroker) dispatch(ctx context.Context, l *memoryLane, work chan<- Task) {
	for {
		b.mu.Lock()
		t, wait, ok := l.next(time.Now())
		b.mu.Unlock()

		if ok {
			select {
			case work <- t:
				continue
			case <-ctx.Done():
				return
			}
		}

		var (
			tm    *time.Timer
			timer <-chan time.Time
		)
		if wait >= 0 {
			tm = time.NewTimer(wait)
			timer = tm.C
		}
		select {
		case <-ctx.Done():
		case <-l.wake:
		case <-timer:
		}
		if tm != nil {
			tm.Stop()
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (b *MemoryBroker) execute(ctx context.Context, lane string, t Task) {
	b.mu.Lock()
	h, ok := b.handlers[t.Kind]
	b.mu.Unlock()
	if !ok {
		b.log.Warn("no handler for task", zap.String("lane", lane), zap.String("task_id", t.ID()))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.log.Error("task handler panicked",
				zap.String("lane", lane),
				zap.String("task_id", t.ID()),
				zap.Any("panic", r),
			)
		}
	}()

	if err := h(ctx, t); err != nil {
		b.log.Warn("task failed", zap.String("lane", lane), zap.String("task_id", t.ID()), zap.Error(err))
	}
}

func (b *MemoryBroker) Close() error { return nil }

type itemHeap []*memoryItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if !h[i].task.NotBefore.Equal(h[j].task.NotBefore) {
		return h[i].task.NotBefore.Before(h[j].task.NotBefore)
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	item := x.(*memoryItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
