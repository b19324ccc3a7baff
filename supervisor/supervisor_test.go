package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/fluxforge/syncengine/plan"
	"github.com/fluxforge/syncengine/synctask"
	"github.com/fluxforge/syncengine/taskmanager"
	"github.com/fluxforge/syncengine/worker"
	"github.com/google/uuid"
)

type recordingExecutor struct{ calls chan *synctask.SyncTask }

func (r *recordingExecutor) Execute(ctx context.Context, t *synctask.SyncTask) worker.Result {
	r.calls <- t
	return worker.Result{Kind: worker.ResultCompleted, TaskID: t.ID, CompletedAt: time.Now()}
}

func newHarness(n int) (*Supervisor, chan Command, chan Response, *taskmanager.TaskManager, context.CancelFunc) {
	tm := taskmanager.New(0, 0, 5*time.Millisecond)
	cmdCh := make(chan Command, 8)
	respCh := make(chan Response, 8)
	resultCh := make(chan worker.Result, 32)
	failedCh := make(chan taskmanager.FailedTask, 32)

	exec := &recordingExecutor{calls: make(chan *synctask.SyncTask, 32)}
	s := New(cmdCh, respCh, tm, resultCh, failedCh, func() worker.Executor { return exec }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s.SpawnWorkers(ctx, n)
	go s.Run(ctx, ctx)
	go tm.Run(ctx)

	return s, cmdCh, respCh, tm, cancel
}

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

func TestSupervisorAssignPlanToIdleWorker(t *testing.T) {
	_, cmdCh, respCh, _, cancel := newHarness(2)
	defer cancel()

	datasetID := uuid.New()
	p := plan.Static{PlanID: uuid.New(), Dataset: datasetID, Mode: plan.HttpAPI, Tasks: mustTasks(t, datasetID, 1)}

	cmdCh <- Command{Kind: CmdAssignPlan, Plan: p, StartImmediately: true}

	select {
	case r := <-respCh:
		if r.Kind != RespPlanAssigned || r.PlanID != p.PlanID {
			t.Fatalf("unexpected response: %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("no PlanAssigned response")
	}
}

func TestSupervisorShutdownConfirmsAllWorkers(t *testing.T) {
	_, cmdCh, respCh, _, cancel := newHarness(4)
	defer cancel()

	cmdCh <- Command{Kind: CmdShutdown}

	select {
	case r := <-respCh:
		if r.Kind != RespShutdownComplete {
			t.Fatalf("expected RespShutdownComplete, got %v", r.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete for 4 workers")
	}
}

func TestSupervisorCancelPlanRepliesPlanCancelled(t *testing.T) {
	_, cmdCh, respCh, tm, cancel := newHarness(1)
	defer cancel()

	datasetID := uuid.New()
	p := plan.Static{PlanID: uuid.New(), Dataset: datasetID, Mode: plan.HttpAPI}

	cmdCh <- Command{Kind: CmdAssignPlan, Plan: p, StartImmediately: true}
	<-respCh

	cmdCh <- Command{Kind: CmdCancelPlan, PlanID: p.PlanID}
	select {
	case r := <-respCh:
		if r.Kind != RespPlanCancelled {
			t.Fatalf("expected RespPlanCancelled, got %v", r.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("no PlanCancelled response")
	}

	tm.CancelPlan(p.PlanID) // idempotent: already cancelled via the command above
}
