package taskmanager

import (
	"context"
	"testing"
	"time"

	"github.com/fluxforge/syncengine/plan"
	"github.com/fluxforge/syncengine/ratelimiter"
	"github.com/fluxforge/syncengine/synctask"
	"github.com/google/uuid"
)

func mustTasks(t *testing.T, datasetID uuid.UUID, n int) []*synctask.SyncTask {
	t.Helper()
	out := make([]*synctask.SyncTask, n)
	for i := range out {
		spec, err := synctask.NewRequestSpec("https://example.com/data", "GET", nil, nil)
		if err != nil {
			t.Fatalf("NewRequestSpec: %v", err)
		}
		out[i] = synctask.New(datasetID, uuid.New(), spec)
	}
	return out
}

func collectTasks(t *testing.T, ch <-chan *synctask.SyncTask, n int, timeout time.Duration) []*synctask.SyncTask {
	t.Helper()
	var got []*synctask.SyncTask
	deadline := time.After(timeout)
	for len(got) < n {
		select {
		case tk, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed after %d of %d tasks", len(got), n)
			}
			got = append(got, tk)
		case <-deadline:
			t.Fatalf("timed out after %d of %d tasks", len(got), n)
		}
	}
	return got
}

func TestTaskManagerSingleQueueNoLimiter(t *testing.T) {
	datasetID := uuid.New()
	p := plan.Static{PlanID: uuid.New(), Dataset: datasetID, Mode: plan.HttpAPI, Tasks: mustTasks(t, datasetID, 3)}

	tm := New(0, 0, 5*time.Millisecond)
	channel := tm.AssignPlan(p)
	sub := channel.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go tm.Run(ctx)

	got := collectTasks(t, sub, 3, time.Second)
	for i, want := range p.Tasks {
		if got[i].ID != want.ID {
			t.Fatalf("task %d out of order", i)
		}
	}

	select {
	case <-tm.Done():
	case <-time.After(time.Second):
		t.Fatal("taskmanager did not terminate after draining an empty, unthrottled queue")
	}
}

func TestTaskManagerMinuteCooldown(t *testing.T) {
	datasetID := uuid.New()
	quota := ratelimiter.RateQuota{MaxPerMinute: 2, DailyLimit: 100, CooldownSeconds: 60}
	p := plan.Static{PlanID: uuid.New(), Dataset: datasetID, Mode: plan.HttpAPI, Tasks: mustTasks(t, datasetID, 3), Quota: quota}

	tm := New(0, 0, 5*time.Millisecond)
	channel := tm.AssignPlan(p)
	sub := channel.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go tm.Run(ctx)

	collectTasks(t, sub, 2, time.Second)

	select {
	case e := <-tm.Errors():
		if e.Kind != ErrorRateLimited {
			t.Fatalf("expected ErrorRateLimited, got %+v", e)
		}
		if e.Timer == nil {
			t.Fatal("expected the first denial to arm a cooldown timer")
		}
	case <-time.After(time.Second):
		t.Fatal("expected a rate-limited error after exhausting the minute quota")
	}
}

func TestTaskManagerDailyLimitExceeded(t *testing.T) {
	datasetID := uuid.New()
	quota := ratelimiter.RateQuota{MaxPerMinute: 100, DailyLimit: 2, CooldownSeconds: 60}
	p := plan.Static{PlanID: uuid.New(), Dataset: datasetID, Mode: plan.HttpAPI, Tasks: mustTasks(t, datasetID, 5), Quota: quota}

	tm := New(0, 0, 5*time.Millisecond)
	channel := tm.AssignPlan(p)
	sub := channel.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go tm.Run(ctx)

	collectTasks(t, sub, 2, time.Second)

	select {
	case e := <-tm.Errors():
		if e.Kind != ErrorDailyLimitExceeded {
			t.Fatalf("expected ErrorDailyLimitExceeded, got %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a daily-limit-exceeded error")
	}

	<-ctx.Done()
}

func TestTaskManagerRetryWithBudget(t *testing.T) {
	datasetID := uuid.New()
	tasks := mustTasks(t, datasetID, 1)
	p := plan.Static{PlanID: uuid.New(), Dataset: datasetID, Mode: plan.HttpAPI, Tasks: tasks, RetryBudget: 2}

	tm := New(0, 0, 5*time.Millisecond)
	channel := tm.AssignPlan(p)
	sub := channel.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go tm.Run(ctx)

	deliveries := 0
	for deliveries < 3 {
		select {
		case tk := <-sub:
			if tk.ID != tasks[0].ID {
				t.Fatalf("unexpected task delivered: %v", tk.ID)
			}
			deliveries++
			if deliveries < 3 {
				tm.FailedTasks() <- FailedTask{DatasetID: datasetID, Task: tk}
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d deliveries", deliveries)
		}
	}

	select {
	case _, ok := <-sub:
		if ok {
			t.Fatal("expected no further deliveries once retry budget is exhausted")
		}
	case <-time.After(300 * time.Millisecond):
	}
}

func TestTaskManagerFairMultiQueuePolling(t *testing.T) {
	datasetA, datasetB := uuid.New(), uuid.New()
	planA := plan.Static{PlanID: uuid.New(), Dataset: datasetA, Mode: plan.HttpAPI, Tasks: mustTasks(t, datasetA, 4)}
	planB := plan.Static{PlanID: uuid.New(), Dataset: datasetB, Mode: plan.HttpAPI, Tasks: mustTasks(t, datasetB, 4)}

	tm := New(0, 0, 5*time.Millisecond)
	chA := tm.AssignPlan(planA)
	chB := tm.AssignPlan(planB)
	subA := chA.Subscribe()
	subB := chB.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go tm.Run(ctx)

	countA, countB := 0, 0
	deadline := time.After(time.Second)
	for countA < 4 || countB < 4 {
		select {
		case _, ok := <-subA:
			if ok {
				countA++
			}
		case _, ok := <-subB:
			if ok {
				countB++
			}
		case <-deadline:
			t.Fatalf("timed out, delivered %d/%d and %d/%d", countA, 4, countB, 4)
		}
		if diff := countA - countB; diff > 2 || diff < -2 {
			t.Fatalf("round-robin fairness violated: %d from A, %d from B", countA, countB)
		}
	}
}
