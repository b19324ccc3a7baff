// Package worker implements the Idle -> Assigned -> Syncing state machine
// each worker goroutine runs: pull tasks off its subscribed broadcast
// channel, execute them against the plan's sync mode, and report results
// and command responses back to the Supervisor.
package worker

import (
	"encoding/json"
	"time"

	"github.com/fluxforge/syncengine/plan"
	"github.com/fluxforge/syncengine/synctask"
	"github.com/google/uuid"
)

// CommandKind tags which variant a Command holds.
type CommandKind int

const (
	CmdShutdown CommandKind = iota
	CmdAssignPlan
	CmdStartSync
	CmdCancelPlan
	CmdCheckStatus
)

// Command is a directive sent from the Supervisor to one worker.
type Command struct {
	Kind CommandKind

	PlanID            uuid.UUID
	Mode              plan.SyncMode
	Tasks             <-chan *synctask.SyncTask
	StartImmediately  bool
}

// ResponseKind tags which variant a Response holds.
type ResponseKind int

const (
	RespShutdownComplete ResponseKind = iota
	RespPlanAssigned
	RespPlanCancelled
	RespStartOK
	RespStartFailed
	RespStatus
)

// Response is what a worker sends back to the Supervisor after handling a
// Command.
type Response struct {
	Kind ResponseKind

	WorkerID    uuid.UUID
	PlanID      uuid.UUID
	SyncStarted bool
	Reason      string
	State       State
}

// ResultKind tags which variant a Result holds.
type ResultKind int

const (
	ResultCompleted ResultKind = iota
	ResultFailed
)

// Result is what a worker sends, one per executed task, onto the shared
// multi-producer result channel a downstream sink consumes.
type Result struct {
	Kind ResultKind

	WorkerID    uuid.UUID
	PlanID      uuid.UUID
	TaskID      uuid.UUID
	Payload     json.RawMessage
	Message     string
	CompletedAt time.Time
}

// State is the worker's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateAssigned
	StateSyncing
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAssigned:
		return "assigned"
	case StateSyncing:
		return "syncing"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
