package worker

import (
	"context"
	"log"
	"time"

	"github.com/fluxforge/syncengine/observability"
	"github.com/fluxforge/syncengine/plan"
	"github.com/fluxforge/syncengine/synctask"
	"github.com/fluxforge/syncengine/taskmanager"
	"github.com/google/uuid"
)

// Worker pulls tasks off a subscribed broadcast channel and runs them
// through the Executor matching its assigned plan's sync mode.
type Worker struct {
	id uuid.UUID

	cmdCh    <-chan Command
	respCh   chan<- Response
	resultCh chan<- Result
	failedCh chan<- taskmanager.FailedTask

	http   Executor
	stream Executor

	state  State
	planID uuid.UUID
	mode   plan.SyncMode
	taskCh <-chan *synctask.SyncTask
}

// New builds a Worker. http/stream may be nil if that sync mode is never
// assigned to this worker.
func New(id uuid.UUID, cmdCh <-chan Command, respCh chan<- Response, resultCh chan<- Result, failedCh chan<- taskmanager.FailedTask, httpExec, streamExec Executor) *Worker {
	return &Worker{
		id:       id,
		cmdCh:    cmdCh,
		respCh:   respCh,
		resultCh: resultCh,
		failedCh: failedCh,
		http:     httpExec,
		stream:   streamExec,
		state:    StateIdle,
	}
}

// ID returns the worker's identity.
func (w *Worker) ID() uuid.UUID { return w.id }

// Run drives the worker's event loop until Shutdown is received or ctx is
// cancelled. It never prioritizes the command mailbox over the task
// channel or vice versa: both arms of the select are live every
// iteration.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case cmd, ok := <-w.cmdCh:
			if !ok {
				return
			}
			if w.handle(cmd) {
				return
			}

		case t, ok := <-w.taskCh:
			if !ok {
				w.taskCh = nil
				continue
			}
			if w.state != StateSyncing {
				continue
			}
			w.execute(ctx, t)
		}
	}
}

// handle processes one Command and reports a Response. It returns true
// when the worker should terminate.
func (w *Worker) handle(cmd Command) bool {
	switch cmd.Kind {
	case CmdShutdown:
		w.setState(StateTerminated)
		w.respond(Response{Kind: RespShutdownComplete, WorkerID: w.id})
		return true

	case CmdAssignPlan:
		w.planID = cmd.PlanID
		w.mode = cmd.Mode
		w.taskCh = cmd.Tasks
		w.setState(StateAssigned)
		w.respond(Response{Kind: RespPlanAssigned, WorkerID: w.id, PlanID: cmd.PlanID})
		if cmd.StartImmediately {
			w.startSync(cmd.PlanID)
		}

	case CmdStartSync:
		w.startSync(w.planID)

	case CmdCancelPlan:
		if cmd.PlanID == w.planID {
			w.setState(StateIdle)
			w.taskCh = nil
			w.respond(Response{Kind: RespPlanCancelled, WorkerID: w.id, PlanID: cmd.PlanID})
		}

	case CmdCheckStatus:
		w.respond(Response{Kind: RespStatus, WorkerID: w.id, PlanID: w.planID, State: w.state})
	}
	return false
}

func (w *Worker) setState(s State) {
	w.state = s
	observability.WorkerState.WithLabelValues(w.id.String()).Set(float64(s))
}

func (w *Worker) startSync(planID uuid.UUID) {
	if w.state != StateAssigned && w.state != StateSyncing {
		w.respond(Response{Kind: RespStartFailed, WorkerID: w.id, Reason: "no plan assigned"})
		return
	}
	w.setState(StateSyncing)
	w.respond(Response{Kind: RespStartOK, WorkerID: w.id, PlanID: planID, SyncStarted: true})
}

func (w *Worker) respond(r Response) {
	select {
	case w.respCh <- r:
	default:
		log.Printf("worker %s: response channel full, dropping %v", w.id, r.Kind)
	}
}

func (w *Worker) execute(ctx context.Context, t *synctask.SyncTask) {
	exec := w.executorFor(t)
	if exec == nil {
		w.reportFailure(t, "no executor configured for this sync mode")
		return
	}

	start := time.Now()
	result := exec.Execute(ctx, t)
	observability.ObserveTaskLatency(start)
	result.WorkerID = w.id
	result.PlanID = w.planID

	if result.Kind == ResultFailed {
		observability.TaskResults.WithLabelValues("failed").Inc()
		w.reportFailure(t, result.Message)
	} else {
		observability.TaskResults.WithLabelValues("completed").Inc()
	}

	select {
	case w.resultCh <- result:
	case <-ctx.Done():
	}
}

func (w *Worker) executorFor(t *synctask.SyncTask) Executor {
	return ModeExecutor(w.mode, w.http, w.stream)
}

func (w *Worker) reportFailure(t *synctask.SyncTask, reason string) {
	log.Printf("worker %s: task %s failed: %s", w.id, t.ID, reason)
	select {
	case w.failedCh <- taskmanager.FailedTask{DatasetID: t.DatasetID, Task: t}:
	default:
		log.Printf("worker %s: failed-task channel full, dropping retry for %s", w.id, t.ID)
	}
}

// ModeExecutor picks the right executor for a plan's sync mode; callers
// building a Worker use this to decide which of http/stream to pass in, or
// to build a worker that serves either depending on per-task dispatch.
func ModeExecutor(mode plan.SyncMode, http, stream Executor) Executor {
	if mode == plan.WebsocketStreaming {
		return stream
	}
	return http
}
