package worker

import (
	"context"
	"testing"
	"time"

	"github.com/fluxforge/syncengine/plan"
	"github.com/fluxforge/syncengine/synctask"
	"github.com/fluxforge/syncengine/taskmanager"
	"github.com/google/uuid"
)

type stubExecutor struct {
	calls chan *synctask.SyncTask
	fail  bool
}

func (s *stubExecutor) Execute(ctx context.Context, t *synctask.SyncTask) Result {
	s.calls <- t
	if s.fail {
		return Result{Kind: ResultFailed, TaskID: t.ID, Message: "boom", CompletedAt: time.Now()}
	}
	return Result{Kind: ResultCompleted, TaskID: t.ID, CompletedAt: time.Now()}
}

func mustTask(t *testing.T) *synctask.SyncTask {
	t.Helper()
	spec, err := synctask.NewRequestSpec("https://example.com/data", "GET", nil, nil)
	if err != nil {
		t.Fatalf("NewRequestSpec: %v", err)
	}
	return synctask.New(uuid.New(), uuid.New(), spec)
}

func newTestWorker(exec *stubExecutor) (*Worker, chan Command, chan Response, chan Result, chan taskmanager.FailedTask) {
	cmdCh := make(chan Command, 4)
	respCh := make(chan Response, 4)
	resultCh := make(chan Result, 4)
	failedCh := make(chan taskmanager.FailedTask, 4)
	w := New(uuid.New(), cmdCh, respCh, resultCh, failedCh, exec, nil)
	return w, cmdCh, respCh, resultCh, failedCh
}

func TestWorkerAssignStartExecute(t *testing.T) {
	exec := &stubExecutor{calls: make(chan *synctask.SyncTask, 1)}
	w, cmdCh, respCh, resultCh, _ := newTestWorker(exec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	taskCh := make(chan *synctask.SyncTask, 1)
	planID := uuid.New()
	cmdCh <- Command{Kind: CmdAssignPlan, PlanID: planID, Mode: plan.HttpAPI, Tasks: taskCh, StartImmediately: true}

	assigned := <-respCh
	if assigned.Kind != RespPlanAssigned {
		t.Fatalf("expected RespPlanAssigned, got %v", assigned.Kind)
	}
	started := <-respCh
	if started.Kind != RespStartOK {
		t.Fatalf("expected RespStartOK, got %v", started.Kind)
	}

	tk := mustTask(t)
	taskCh <- tk

	select {
	case got := <-exec.calls:
		if got.ID != tk.ID {
			t.Fatalf("executor received wrong task")
		}
	case <-time.After(time.Second):
		t.Fatal("executor was never invoked")
	}

	select {
	case r := <-resultCh:
		if r.Kind != ResultCompleted || r.TaskID != tk.ID {
			t.Fatalf("unexpected result: %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("no result reported")
	}
}

func TestWorkerIgnoresTasksBeforeStartSync(t *testing.T) {
	exec := &stubExecutor{calls: make(chan *synctask.SyncTask, 1)}
	w, cmdCh, respCh, _, _ := newTestWorker(exec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	taskCh := make(chan *synctask.SyncTask, 1)
	cmdCh <- Command{Kind: CmdAssignPlan, PlanID: uuid.New(), Mode: plan.HttpAPI, Tasks: taskCh}
	<-respCh // RespPlanAssigned

	taskCh <- mustTask(t)

	select {
	case <-exec.calls:
		t.Fatal("executor ran before StartSync")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWorkerFailureReportsRetry(t *testing.T) {
	exec := &stubExecutor{calls: make(chan *synctask.SyncTask, 1), fail: true}
	w, cmdCh, respCh, resultCh, failedCh := newTestWorker(exec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	taskCh := make(chan *synctask.SyncTask, 1)
	cmdCh <- Command{Kind: CmdAssignPlan, PlanID: uuid.New(), Mode: plan.HttpAPI, Tasks: taskCh, StartImmediately: true}
	<-respCh
	<-respCh

	tk := mustTask(t)
	taskCh <- tk
	<-exec.calls

	select {
	case r := <-resultCh:
		if r.Kind != ResultFailed {
			t.Fatalf("expected failed result, got %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("no result reported")
	}

	select {
	case f := <-failedCh:
		if f.Task.ID != tk.ID {
			t.Fatalf("unexpected failed task reported")
		}
	case <-time.After(time.Second):
		t.Fatal("failed task was never reported for retry")
	}
}

func TestWorkerShutdown(t *testing.T) {
	exec := &stubExecutor{calls: make(chan *synctask.SyncTask, 1)}
	w, cmdCh, respCh, _, _ := newTestWorker(exec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cmdCh <- Command{Kind: CmdShutdown}
	r := <-respCh
	if r.Kind != RespShutdownComplete {
		t.Fatalf("expected RespShutdownComplete, got %v", r.Kind)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after shutdown")
	}
}
