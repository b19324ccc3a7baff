// Package queue implements the per-dataset FIFO TaskQueue, the structure a
// RateLimiter guards: pop never hands back a task the limiter denies.
package queue

import (
	"context"
	"sync"

	"github.com/fluxforge/syncengine/ratelimiter"
	"github.com/fluxforge/syncengine/synctask"
)

// ValueKind tags which variant a Value holds.
type ValueKind int

const (
	// ValueTask carries a popped task, or nil if the queue was empty.
	ValueTask ValueKind = iota
	// ValueRateLimited means the limiter denied the pop for this minute.
	ValueRateLimited
	// ValueDailyLimitExceeded means the queue is terminal for the day.
	ValueDailyLimitExceeded
)

// Value is the result of PopFront.
type Value struct {
	Kind ValueKind

	// Task is populated when Kind == ValueTask (nil means the queue was
	// empty, not an error).
	Task *synctask.SyncTask

	// Timer is populated when Kind == ValueRateLimited and the caller was
	// obliged to start the cooldown; nil otherwise.
	Timer *ratelimiter.CooldownHandle

	// SecondsLeft is populated when Kind == ValueRateLimited.
	SecondsLeft int64
}

// TaskQueue is an ordered FIFO of SyncTask guarded by an optional
// RateLimiter. A nil limiter means the queue is unthrottled.
type TaskQueue struct {
	mu      sync.Mutex
	tasks   []*synctask.SyncTask
	limiter ratelimiter.RateLimiter
}

// New builds a TaskQueue. limiter may be nil.
func New(limiter ratelimiter.RateLimiter) *TaskQueue {
	return &TaskQueue{limiter: limiter}
}

// PushBack appends a task to the tail of the queue.
func (q *TaskQueue) PushBack(t *synctask.SyncTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, t)
}

// PushFront inserts a task at the head of the queue. Used exclusively for
// retried tasks, which jump ahead of untried tasks of the same dataset.
func (q *TaskQueue) PushFront(t *synctask.SyncTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append([]*synctask.SyncTask{t}, q.tasks...)
}

// Front peeks at the head of the queue without removing it.
func (q *TaskQueue) Front() *synctask.SyncTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil
	}
	return q.tasks[0]
}

// IsEmpty reports whether the queue holds no tasks.
func (q *TaskQueue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks) == 0
}

// Len returns the number of tasks currently queued.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Drain atomically removes the contiguous region [start, end) in FIFO
// order. It is the escape hatch used when the upstream reports a
// daily-limit error out of band.
func (q *TaskQueue) Drain(start, end int) []*synctask.SyncTask {
	q.mu.Lock()
	defer q.mu.Unlock()

	if start < 0 {
		start = 0
	}
	if end > len(q.tasks) {
		end = len(q.tasks)
	}
	if start >= end {
		return nil
	}

	drained := make([]*synctask.SyncTask, end-start)
	copy(drained, q.tasks[start:end])
	q.tasks = append(q.tasks[:start], q.tasks[end:]...)
	return drained
}

// PopFront pops the head of the queue, consulting the rate limiter first.
// The queue is never popped when the limiter denies the request, and an
// empty queue never consults the limiter (no side effect).
func (q *TaskQueue) PopFront(ctx context.Context) (Value, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return Value{Kind: ValueTask, Task: nil}, nil
	}

	if q.limiter == nil {
		t := q.tasks[0]
		q.tasks = q.tasks[1:]
		return Value{Kind: ValueTask, Task: t}, nil
	}

	status := q.limiter.CanProceed(ctx)
	switch status.Kind {
	case ratelimiter.StatusOK:
		t := q.tasks[0]
		q.tasks = q.tasks[1:]
		return Value{Kind: ValueTask, Task: t}, nil

	case ratelimiter.StatusDayExceeded:
		return Value{Kind: ValueDailyLimitExceeded}, nil

	case ratelimiter.StatusMinuteExceeded:
		if status.ShouldStartCooldown {
			handle, err := q.limiter.StartCountdown(ctx, true)
			if err != nil {
				return Value{}, err
			}
			return Value{Kind: ValueRateLimited, Timer: &handle, SecondsLeft: status.SecondsLeft}, nil
		}
		return Value{Kind: ValueRateLimited, SecondsLeft: status.SecondsLeft}, nil

	default:
		return Value{Kind: ValueTask, Task: nil}, nil
	}
}
