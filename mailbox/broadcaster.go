// Package mailbox implements the engine's channel fabric: typed, bounded
// in-process mailboxes. Command/response channels are plain buffered Go
// channels; the one primitive Go's stdlib doesn't give us is a bounded
// multi-consumer broadcast, which TaskChannel supplies for routing one
// dataset's tasks to every worker subscribed to it.
package mailbox

import (
	"context"
	"sync"

	"github.com/fluxforge/syncengine/synctask"
)

// DefaultCapacity is the reference bounded size for task/error/failure
// channels (spec.md §5): full channels block the sender, which is the
// engine's primary backpressure mechanism.
const DefaultCapacity = 200

// TaskChannel is a bounded broadcast mailbox carrying SyncTask from the
// TaskManager to every worker subscribed to one dataset's queue.
type TaskChannel struct {
	capacity int

	mu     sync.Mutex
	subs   []chan *synctask.SyncTask
	closed bool
}

// NewTaskChannel builds a TaskChannel with the given per-subscriber buffer
// capacity.
func NewTaskChannel(capacity int) *TaskChannel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &TaskChannel{capacity: capacity}
}

// Subscribe registers a new receiver and returns its channel. Each
// subscriber gets its own buffered channel, so a slow worker holds up
// delivery to the others only once its buffer is full; from then on
// Publish backpressures on that slowest subscriber, matching the single-sender bounded-channel
// semantics spec.md §5 describes.
func (tc *TaskChannel) Subscribe() <-chan *synctask.SyncTask {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	ch := make(chan *synctask.SyncTask, tc.capacity)
	if tc.closed {
		close(ch)
		return ch
	}
	tc.subs = append(tc.subs, ch)
	return ch
}

// Publish fans a task out to every current subscriber. It blocks on each
// subscriber's buffered channel in turn, so a full subscriber channel
// backpressures the publisher exactly as a bounded single-consumer channel
// would.
func (tc *TaskChannel) Publish(ctx context.Context, t *synctask.SyncTask) {
	tc.mu.Lock()
	subs := make([]chan *synctask.SyncTask, len(tc.subs))
	copy(subs, tc.subs)
	tc.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub <- t:
		case <-ctx.Done():
			return
		}
	}
}

// Close closes every subscriber channel and marks the broadcaster closed;
// subsequent Subscribe calls return an already-closed channel.
func (tc *TaskChannel) Close() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.closed {
		return
	}
	tc.closed = true
	for _, sub := range tc.subs {
		close(sub)
	}
	tc.subs = nil
}
