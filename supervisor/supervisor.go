package supervisor

import (
	"context"
	"log"
	"time"

	"github.com/fluxforge/syncengine/plan"
	"github.com/fluxforge/syncengine/taskmanager"
	"github.com/fluxforge/syncengine/worker"
	"github.com/google/uuid"
)

const workerMailboxCapacity = 32

// Supervisor owns the worker pool and the plan-to-worker assignment
// invariant: at most one plan per worker, tracked in workerPlan.
type Supervisor struct {
	cmdCh  <-chan Command
	respCh chan<- Response

	tm *taskmanager.TaskManager

	newHTTPExecutor   func() worker.Executor
	newStreamExecutor func() worker.Executor

	workerCmd    map[uuid.UUID]chan worker.Command
	workerPlan   map[uuid.UUID]uuid.UUID // uuid.Nil means idle
	plans        map[uuid.UUID]plan.Plan
	workerRespCh chan worker.Response
	resultCh     chan<- worker.Result
	failedCh     chan<- taskmanager.FailedTask
}

// New builds a Supervisor with no workers; call SpawnWorkers to populate
// the initial pool. newHTTPExecutor and newStreamExecutor build a fresh
// Executor per spawned worker (executors may hold per-connection state,
// e.g. StreamExecutor's dialer).
func New(
	cmdCh <-chan Command,
	respCh chan<- Response,
	tm *taskmanager.TaskManager,
	resultCh chan<- worker.Result,
	failedCh chan<- taskmanager.FailedTask,
	newHTTPExecutor, newStreamExecutor func() worker.Executor,
) *Supervisor {
	s := &Supervisor{
		cmdCh:             cmdCh,
		respCh:            respCh,
		tm:                tm,
		newHTTPExecutor:   newHTTPExecutor,
		newStreamExecutor: newStreamExecutor,
		workerCmd:         make(map[uuid.UUID]chan worker.Command),
		workerPlan:        make(map[uuid.UUID]uuid.UUID),
		plans:             make(map[uuid.UUID]plan.Plan),
		workerRespCh:      make(chan worker.Response, workerMailboxCapacity),
		resultCh:          resultCh,
		failedCh:          failedCh,
	}
	return s
}

// Run drives the event loop until a Shutdown command completes or ctx is
// cancelled. spawnCtx governs the lifetime of worker goroutines spawned
// along the way. Engine passes the same context for both; when spawnCtx
// is longer-lived than ctx, workers outlive Run if Run returns early.
func (s *Supervisor) Run(ctx context.Context, spawnCtx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case cmd, ok := <-s.cmdCh:
			if !ok {
				return
			}
			if s.handle(spawnCtx, cmd) {
				return
			}

		case wr, ok := <-s.workerRespCh:
			if !ok {
				continue
			}
			s.handleWorkerResponse(wr)
		}
	}
}

// SpawnWorkers creates n idle workers up front.
func (s *Supervisor) SpawnWorkers(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		s.spawnWorker(ctx)
	}
}

func (s *Supervisor) spawnWorker(ctx context.Context) uuid.UUID {
	id := uuid.New()
	cmdCh := make(chan worker.Command, workerMailboxCapacity)
	var httpExec, streamExec worker.Executor
	if s.newHTTPExecutor != nil {
		httpExec = s.newHTTPExecutor()
	}
	if s.newStreamExecutor != nil {
		streamExec = s.newStreamExecutor()
	}
	w := worker.New(id, cmdCh, s.workerRespCh, s.resultCh, s.failedCh, httpExec, streamExec)
	s.workerCmd[id] = cmdCh
	s.workerPlan[id] = uuid.Nil
	go w.Run(ctx)
	log.Printf("supervisor: spawned worker %s", id)
	return id
}

func (s *Supervisor) idleWorker() (uuid.UUID, bool) {
	for id, p := range s.workerPlan {
		if p == uuid.Nil {
			return id, true
		}
	}
	return uuid.Nil, false
}

func (s *Supervisor) handle(spawnCtx context.Context, cmd Command) (shutdown bool) {
	switch cmd.Kind {
	case CmdShutdown:
		s.shutdownAll(spawnCtx)
		s.reply(Response{Kind: RespShutdownComplete})
		return true

	case CmdAssignPlan:
		s.assignPlan(spawnCtx, cmd.Plan, cmd.StartImmediately)

	case CmdCancelPlan:
		s.cancelPlan(cmd.PlanID)
		s.reply(Response{Kind: RespPlanCancelled, PlanID: cmd.PlanID})

	case CmdStartAll:
		s.startAll(spawnCtx)
		s.reply(Response{Kind: RespAllStarted})

	case CmdCancelAll:
		s.cancelAll()
		s.reply(Response{Kind: RespAllCancelled})
	}
	return false
}

func (s *Supervisor) assignPlan(spawnCtx context.Context, p plan.Plan, startImmediately bool) {
	s.plans[p.ID()] = p

	workerID, ok := s.idleWorker()
	if !ok {
		workerID = s.spawnWorker(spawnCtx)
	}

	channel := s.tm.AssignPlan(p)
	sub := channel.Subscribe()

	s.workerPlan[workerID] = p.ID()
	s.workerCmd[workerID] <- worker.Command{
		Kind:             worker.CmdAssignPlan,
		PlanID:           p.ID(),
		Mode:             p.SyncMode(),
		Tasks:            sub,
		StartImmediately: startImmediately,
	}

	s.reply(Response{Kind: RespPlanAssigned, PlanID: p.ID()})
}

func (s *Supervisor) cancelPlan(planID uuid.UUID) {
	delete(s.plans, planID)
	s.tm.CancelPlan(planID)
	for id, pid := range s.workerPlan {
		if pid == planID {
			s.workerCmd[id] <- worker.Command{Kind: worker.CmdCancelPlan, PlanID: planID}
			s.workerPlan[id] = uuid.Nil
		}
	}
}

func (s *Supervisor) startAll(spawnCtx context.Context) {
	for planID, p := range s.plans {
		assigned := false
		for _, pid := range s.workerPlan {
			if pid == planID {
				assigned = true
				break
			}
		}
		if !assigned {
			s.assignPlan(spawnCtx, p, false)
		}
		for id, pid := range s.workerPlan {
			if pid == planID {
				s.workerCmd[id] <- worker.Command{Kind: worker.CmdStartSync, PlanID: planID}
			}
		}
	}
}

func (s *Supervisor) cancelAll() {
	for planID := range s.plans {
		s.cancelPlan(planID)
	}
}

// shutdownAll sends Shutdown to every worker and waits (bounded by ctx)
// for each to confirm.
func (s *Supervisor) shutdownAll(ctx context.Context) {
	for _, cmdCh := range s.workerCmd {
		cmdCh <- worker.Command{Kind: worker.CmdShutdown}
	}

	pending := len(s.workerPlan)
	deadline := time.After(5 * time.Second)
	for pending > 0 {
		select {
		case wr := <-s.workerRespCh:
			if wr.Kind == worker.RespShutdownComplete {
				delete(s.workerPlan, wr.WorkerID)
				delete(s.workerCmd, wr.WorkerID)
				pending--
			}
		case <-deadline:
			log.Printf("supervisor: shutdown timed out with %d workers outstanding", pending)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) handleWorkerResponse(wr worker.Response) {
	switch wr.Kind {
	case worker.RespShutdownComplete:
		delete(s.workerPlan, wr.WorkerID)
		delete(s.workerCmd, wr.WorkerID)
	case worker.RespPlanAssigned:
		s.workerPlan[wr.WorkerID] = wr.PlanID
	case worker.RespStartFailed:
		log.Printf("supervisor: worker %s failed to start: %s", wr.WorkerID, wr.Reason)
	}
}

func (s *Supervisor) reply(r Response) {
	select {
	case s.respCh <- r:
	default:
		log.Printf("supervisor: response channel full, dropping %v", r.Kind)
	}
}
