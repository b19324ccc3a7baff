// Package taskmanager implements the scheduling core: one FIFO TaskQueue
// per dataset, polled round-robin in insertion order, each pop gated by
// that dataset's RateLimiter. Delivered tasks fan out on a per-dataset
// broadcast channel; denials and daily exhaustion surface on a shared
// error channel; workers report failures back on a shared inbound channel
// for retry-to-front bookkeeping.
package taskmanager

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/fluxforge/syncengine/mailbox"
	"github.com/fluxforge/syncengine/observability"
	"github.com/fluxforge/syncengine/plan"
	"github.com/fluxforge/syncengine/queue"
	"github.com/fluxforge/syncengine/ratelimiter"
	"github.com/fluxforge/syncengine/synctask"
	"github.com/google/uuid"
)

// DefaultPollInterval is the idle quantum: how long the main loop sleeps
// after a pass over every queue finds no deliverable task.
const DefaultPollInterval = 100 * time.Millisecond

type queueEntry struct {
	datasetID   uuid.UUID
	queue       *queue.TaskQueue
	channel     *mailbox.TaskChannel
	plans       map[uuid.UUID]struct{}
	maxRetries  uint32
	retriesLeft map[uuid.UUID]uint32 // per-task retry budget, keyed by task ID
}

// TaskManager owns the queues map, the outbound broadcast channels, the
// shared error channel, and the inbound failed-task channel described in
// spec.md §3-4.
type TaskManager struct {
	mu          sync.Mutex
	order       []uuid.UUID
	queues      map[uuid.UUID]*queueEntry
	planDataset map[uuid.UUID]uuid.UUID

	errCh    chan Error
	failedCh chan FailedTask

	pollInterval time.Duration
	chanCapacity int

	doneCh chan struct{}
}

// New builds a TaskManager. errCapacity/failedCapacity default to
// mailbox.DefaultCapacity when zero.
func New(errCapacity, failedCapacity int, pollInterval time.Duration) *TaskManager {
	if errCapacity <= 0 {
		errCapacity = mailbox.DefaultCapacity
	}
	if failedCapacity <= 0 {
		failedCapacity = mailbox.DefaultCapacity
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &TaskManager{
		queues:       make(map[uuid.UUID]*queueEntry),
		planDataset:  make(map[uuid.UUID]uuid.UUID),
		errCh:        make(chan Error, errCapacity),
		failedCh:     make(chan FailedTask, failedCapacity),
		pollInterval: pollInterval,
		chanCapacity: mailbox.DefaultCapacity,
		doneCh:       make(chan struct{}),
	}
}

// Errors returns the receive-only channel of rate-limit and daily-exhaustion
// notifications.
func (tm *TaskManager) Errors() <-chan Error { return tm.errCh }

// FailedTasks returns the send-only channel workers use to report a task
// that needs retrying.
func (tm *TaskManager) FailedTasks() chan<- FailedTask { return tm.failedCh }

// Done is closed once Run's main loop has exited.
func (tm *TaskManager) Done() <-chan struct{} { return tm.doneCh }

// AssignPlan ensures a queue exists for p's dataset (creating one the
// first time a plan references that dataset, guarded by a fresh
// WindowedLimiter built from p.RateQuota() when that quota sets a minute
// or daily limit, and unthrottled otherwise), enqueues the plan's initial tasks, and returns
// the dataset's broadcast channel for the caller to Subscribe() on behalf
// of a worker.
func (tm *TaskManager) AssignPlan(p plan.Plan) *mailbox.TaskChannel {
	tm.mu.Lock()
	entry, ok := tm.queues[p.DatasetID()]
	if !ok {
		var limiter ratelimiter.RateLimiter
		if q := p.RateQuota(); q.MaxPerMinute > 0 || q.DailyLimit > 0 {
			limiter = ratelimiter.NewWindowedLimiter(q, ratelimiter.StickyUntilMidnight)
		}
		entry = &queueEntry{
			datasetID:   p.DatasetID(),
			queue:       queue.New(limiter),
			channel:     mailbox.NewTaskChannel(tm.chanCapacity),
			plans:       make(map[uuid.UUID]struct{}),
			maxRetries:  p.MaxRetries(),
			retriesLeft: make(map[uuid.UUID]uint32),
		}
		tm.queues[p.DatasetID()] = entry
		tm.order = append(tm.order, p.DatasetID())
	}
	entry.plans[p.ID()] = struct{}{}
	tm.planDataset[p.ID()] = p.DatasetID()
	channel := entry.channel
	for _, t := range p.InitialTasks() {
		entry.retriesLeft[t.ID] = entry.maxRetries
		entry.queue.PushBack(t)
	}
	tm.mu.Unlock()
	observability.PlanAssignments.WithLabelValues("assigned").Inc()
	return channel
}

// CancelPlan unregisters a plan. If it was the last plan referencing its
// dataset, the dataset's queue and broadcast channel are torn down.
func (tm *TaskManager) CancelPlan(planID uuid.UUID) {
	tm.mu.Lock()
	datasetID, ok := tm.planDataset[planID]
	if !ok {
		tm.mu.Unlock()
		return
	}
	delete(tm.planDataset, planID)
	entry := tm.queues[datasetID]
	if entry == nil {
		tm.mu.Unlock()
		return
	}
	delete(entry.plans, planID)
	empty := len(entry.plans) == 0
	if empty {
		delete(tm.queues, datasetID)
		tm.order = removeUUID(tm.order, datasetID)
	}
	tm.mu.Unlock()
	if empty {
		entry.channel.Close()
	}
	observability.PlanAssignments.WithLabelValues("cancelled").Inc()
}

// AddTasks dispatches each task to its dataset's queue (push_back). Tasks
// whose dataset has no queue yet are dropped with a log line: a plan must
// be assigned before its dataset can accept tasks.
func (tm *TaskManager) AddTasks(tasks []*synctask.SyncTask) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	for _, t := range tasks {
		entry, ok := tm.queues[t.DatasetID]
		if !ok {
			log.Printf("taskmanager: dropping task %s: no queue for dataset %s", t.ID, t.DatasetID)
			continue
		}
		if _, seen := entry.retriesLeft[t.ID]; !seen {
			entry.retriesLeft[t.ID] = entry.maxRetries
		}
		entry.queue.PushBack(t)
	}
}

func removeUUID(s []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := s[:0]
	for _, v := range s {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Run drives the main scheduling loop until ctx is cancelled or every
// queue has stayed empty through two idle quanta (so a failed task
// reported shortly after its delivery can still be retried). It also
// starts the failure-drain goroutine that retries failed tasks to the
// front of their dataset's queue, and stops it when the main loop exits.
// Run blocks until both have exited.
func (tm *TaskManager) Run(ctx context.Context) {
	drainCtx, stopDrain := context.WithCancel(ctx)
	failureDone := make(chan struct{})
	go tm.drainFailures(drainCtx, failureDone)

	idlePasses := 0
	for {
		if ctx.Err() != nil {
			break
		}
		if tm.allQueuesEmpty() {
			if idlePasses >= 2 {
				break
			}
			idlePasses++
			select {
			case <-time.After(tm.pollInterval):
			case <-ctx.Done():
			}
			continue
		}
		idlePasses = 0

		anyFound := false
		for _, entry := range tm.snapshotQueues() {
			val, err := entry.queue.PopFront(ctx)
			if err != nil {
				log.Printf("taskmanager: pop dataset %s: %v", entry.datasetID, err)
				continue
			}
			switch val.Kind {
			case queue.ValueTask:
				if val.Task != nil {
					anyFound = true
					entry.channel.Publish(ctx, val.Task)
				}
			case queue.ValueRateLimited:
				observability.RateLimitEvents.WithLabelValues(entry.datasetID.String(), "rate_limited").Inc()
				tm.sendError(ctx, Error{Kind: ErrorRateLimited, DatasetID: entry.datasetID, Timer: val.Timer, SecondsLeft: val.SecondsLeft})
			case queue.ValueDailyLimitExceeded:
				observability.RateLimitEvents.WithLabelValues(entry.datasetID.String(), "daily_limit_exceeded").Inc()
				tm.sendError(ctx, Error{Kind: ErrorDailyLimitExceeded, DatasetID: entry.datasetID})
			}
			observability.QueueDepth.WithLabelValues(entry.datasetID.String()).Set(float64(entry.queue.Len()))
		}

		if !anyFound {
			select {
			case <-time.After(tm.pollInterval):
			case <-ctx.Done():
			}
		}
	}

	tm.mu.Lock()
	channels := make([]*mailbox.TaskChannel, 0, len(tm.queues))
	for _, e := range tm.queues {
		channels = append(channels, e.channel)
	}
	tm.mu.Unlock()
	for _, c := range channels {
		c.Close()
	}
	close(tm.errCh)

	stopDrain()
	<-failureDone
	close(tm.doneCh)
}

func (tm *TaskManager) sendError(ctx context.Context, e Error) {
	select {
	case tm.errCh <- e:
	case <-ctx.Done():
	}
}

// snapshotQueues copies the ordered entry list under the map lock, then
// releases it: pops and publishes never run while holding the map lock, so
// a slow subscriber can't stall AssignPlan/CancelPlan.
func (tm *TaskManager) snapshotQueues() []*queueEntry {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	out := make([]*queueEntry, 0, len(tm.order))
	for _, id := range tm.order {
		if e, ok := tm.queues[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

func (tm *TaskManager) allQueuesEmpty() bool {
	for _, e := range tm.snapshotQueues() {
		if !e.queue.IsEmpty() {
			return false
		}
	}
	return true
}

// drainFailures blocks on the failed-task channel, pushing each failure to
// the front of its dataset's queue while retry budget remains, and
// dropping it otherwise. It owns no channel it can close (failedCh has
// external senders), so it exits only on context cancellation.
func (tm *TaskManager) drainFailures(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-tm.failedCh:
			if !ok {
				return
			}
			tm.retryOrDrop(f)
		}
	}
}

func (tm *TaskManager) retryOrDrop(f FailedTask) {
	tm.mu.Lock()
	entry, ok := tm.queues[f.DatasetID]
	if !ok {
		tm.mu.Unlock()
		return
	}
	left := entry.retriesLeft[f.Task.ID]
	retry := left > 0
	if retry {
		entry.retriesLeft[f.Task.ID] = left - 1
	}
	tm.mu.Unlock()

	if retry {
		entry.queue.PushFront(f.Task)
	} else {
		log.Printf("taskmanager: dropping task %s (dataset %s): retry budget exhausted", f.Task.ID, f.DatasetID)
	}
}
