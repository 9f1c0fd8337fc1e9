package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the type of work a task carries.
type Kind string

const (
	KindDeliver          Kind = "deliver"
	KindRefreshAnalytics Kind = "refresh-analytics"
	KindSweep            Kind = "sweep"
)

const (
	LaneDelivery    = "delivery"
	LaneAnalytics   = "analytics"
	LaneMaintenance = "maintenance"
)

// LaneOf returns the lane that executes tasks of kind k.
func LaneOf(k Kind) string {
	switch k {
	case KindDeliver:
		return LaneDelivery
	case KindRefreshAnalytics:
		return LaneAnalytics
	default:
		return LaneMaintenance
	}
}

type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// Task is one unit of work. The claim on the target entity lives in the
// store; the queue only carries the intent and its earliest start.
type Task struct {
	Kind      Kind      `json:"kind"`
	TargetID  int64     `json:"target_id"`
	NotBefore time.Time `json:"not_before"`
	Attempt   int       `json:"attempt"`
	Step      int       `json:"step,omitempty"`
	Priority  Priority  `json:"priority,omitempty"`
}

// ID is stable for the same logical task, so enqueueing it twice is a no-op.
func (t Task) ID() string {
	return fmt.Sprintf("%s:%d:%d:%d", t.Kind, t.TargetID, t.Step, t.Attempt)
}

func (t Task) Encode() ([]byte, error) {
	return json.Marshal(t)
}

func Decode(payload []byte) (Task, error) {
	var t Task
	err := json.Unmarshal(payload, &t)
	return t, err
}

type HandlerFunc func(ctx context.Context, t Task) error

// Enqueuer is the producer side of a broker.
type Enqueuer interface {
	// Enqueue schedules t for its lane. A task whose ID is already pending
	// is accepted without creating a second copy.
	Enqueue(ctx context.Context, t Task) error
	// Cancel drops a pending task. Unknown tasks are ignored.
	Cancel(ctx context.Context, t Task) error
}

// Broker distributes tasks to per-lane worker pools.
type Broker interface {
	Enqueuer
	Handle(kind Kind, h HandlerFunc)
	// Run executes handlers until ctx is done.
	Run(ctx context.Context) error
	Close() error
}
