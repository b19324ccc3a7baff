// Package supervisor coordinates a pool of worker goroutines: assigning
// plans to idle workers, spawning new workers on demand, and running a
// single non-prioritized event loop over its command mailbox and its
// workers' response mailbox.
package supervisor

import (
	"github.com/fluxforge/syncengine/plan"
	"github.com/google/uuid"
)

// CommandKind tags which variant a Command holds.
type CommandKind int

const (
	CmdShutdown CommandKind = iota
	CmdAssignPlan
	CmdCancelPlan
	CmdStartAll
	CmdCancelAll
)

// Command is a directive sent to the Supervisor's event loop.
type Command struct {
	Kind             CommandKind
	Plan             plan.Plan
	PlanID           uuid.UUID
	StartImmediately bool
}

// ResponseKind tags which variant a Response holds.
type ResponseKind int

const (
	RespShutdownComplete ResponseKind = iota
	RespPlanAssigned
	RespPlanCancelled
	RespAllStarted
	RespAllCancelled
	RespError
)

// Response is what the Supervisor sends back after handling a Command.
type Response struct {
	Kind    ResponseKind
	PlanID  uuid.UUID
	Message string
}
