// Package engine wires the Supervisor, the TaskManager, and the worker
// pool into the one public surface a caller needs: load plans, assign
// them, cancel them, and drain results.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fluxforge/syncengine/plan"
	"github.com/fluxforge/syncengine/supervisor"
	"github.com/fluxforge/syncengine/taskmanager"
	"github.com/fluxforge/syncengine/worker"
	"github.com/google/uuid"
)

// ErrLoadPlanFailure wraps any error plan.Repository.Load returns.
var ErrLoadPlanFailure = errors.New("engine: failed to load plans")

const (
	commandMailboxCapacity = 32
	responseWaitTimeout    = 5 * time.Second
)

// Config configures an Engine's worker pool and mailbox sizes.
type Config struct {
	Workers          int
	ErrorCapacity    int
	FailedCapacity   int
	ResultCapacity   int
	PollInterval     time.Duration
	HTTPExecutor     func() worker.Executor
	StreamExecutor   func() worker.Executor
}

// DefaultConfig returns sane defaults for a single-process deployment.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		ErrorCapacity:  0,
		FailedCapacity: 0,
		ResultCapacity: 256,
		PollInterval:   taskmanager.DefaultPollInterval,
		HTTPExecutor:   func() worker.Executor { return worker.NewHTTPExecutor(0) },
		StreamExecutor: func() worker.Executor { return worker.NewStreamExecutor(0) },
	}
}

// Engine is the top-level handle a caller holds.
type Engine struct {
	repo plan.Repository

	tm  *taskmanager.TaskManager
	sup *supervisor.Supervisor

	cmdCh  chan supervisor.Command
	respCh chan supervisor.Response

	resultCh chan worker.Result

	workers int
	cancel  context.CancelFunc
}

// New builds an Engine. Call Start to begin the scheduling loop and
// worker pool.
func New(repo plan.Repository, cfg Config) *Engine {
	tm := taskmanager.New(cfg.ErrorCapacity, cfg.FailedCapacity, cfg.PollInterval)

	cmdCh := make(chan supervisor.Command, commandMailboxCapacity)
	respCh := make(chan supervisor.Response, commandMailboxCapacity)
	resultCh := make(chan worker.Result, cfg.ResultCapacity)

	sup := supervisor.New(cmdCh, respCh, tm, resultCh, tm.FailedTasks(), cfg.HTTPExecutor, cfg.StreamExecutor)

	return &Engine{
		repo:     repo,
		tm:       tm,
		sup:      sup,
		cmdCh:    cmdCh,
		respCh:   respCh,
		resultCh: resultCh,
		workers:  cfg.Workers,
	}
}

// Start spawns the initial worker pool and begins the TaskManager and
// Supervisor event loops. ctx governs the lifetime of both; cancelling it
// is equivalent to an ungraceful stop (prefer Shutdown for a clean one).
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.sup.SpawnWorkers(ctx, e.workers)
	go e.tm.Run(ctx)
	go e.sup.Run(ctx, ctx)
}

// Assign loads the full plan set from the repository and assigns each one
// to the Supervisor, starting synchronization immediately.
func (e *Engine) Assign(ctx context.Context) error {
	plans, err := e.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoadPlanFailure, err)
	}
	for _, p := range plans {
		if err := e.assignOne(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) assignOne(ctx context.Context, p plan.Plan) error {
	select {
	case e.cmdCh <- supervisor.Command{Kind: supervisor.CmdAssignPlan, Plan: p, StartImmediately: true}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := e.awaitResponse(ctx, supervisor.RespPlanAssigned); err != nil {
		return err
	}
	return e.repo.MarkAssigned(ctx, p.ID())
}

// Cancel cancels one plan's synchronization and marks it cancelled in the
// repository.
func (e *Engine) Cancel(ctx context.Context, planID uuid.UUID) error {
	select {
	case e.cmdCh <- supervisor.Command{Kind: supervisor.CmdCancelPlan, PlanID: planID}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := e.awaitResponse(ctx, supervisor.RespPlanCancelled); err != nil {
		return err
	}
	return e.repo.MarkCancelled(ctx, planID)
}

// Shutdown asks the Supervisor to stop every worker, waits for
// confirmation, and cancels the context passed to Start.
func (e *Engine) Shutdown(ctx context.Context) error {
	select {
	case e.cmdCh <- supervisor.Command{Kind: supervisor.CmdShutdown}:
	case <-ctx.Done():
		return ctx.Err()
	}
	err := e.awaitResponse(ctx, supervisor.RespShutdownComplete)
	if e.cancel != nil {
		e.cancel()
	}
	return err
}

func (e *Engine) awaitResponse(ctx context.Context, want supervisor.ResponseKind) error {
	deadline := time.After(responseWaitTimeout)
	for {
		select {
		case r := <-e.respCh:
			if r.Kind == want {
				return nil
			}
			if r.Kind == supervisor.RespError {
				return fmt.Errorf("engine: supervisor error: %s", r.Message)
			}
		case <-deadline:
			return fmt.Errorf("engine: timed out waiting for response %v", want)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Results returns the multi-producer stream of task completions and
// failures from the worker pool.
func (e *Engine) Results() <-chan worker.Result { return e.resultCh }

// Errors returns the TaskManager's rate-limit and daily-exhaustion
// notifications.
func (e *Engine) Errors() <-chan taskmanager.Error { return e.tm.Errors() }
