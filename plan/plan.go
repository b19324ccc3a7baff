// Package plan describes the one collaborator the engine core treats as
// opaque: a sync plan. The core consumes the Plan interface and a
// RateQuota; it has no opinion on how plans are persisted (see
// package planstore for a concrete adapter).
package plan

import (
	"context"

	"github.com/fluxforge/syncengine/ratelimiter"
	"github.com/fluxforge/syncengine/synctask"
	"github.com/google/uuid"
)

// SyncMode selects which Worker variant a plan is driven by.
type SyncMode string

const (
	HttpAPI            SyncMode = "HTTP_API"
	WebsocketStreaming SyncMode = "WEBSOCKET_STREAMING"
)

// Plan is the opaque handle the core's Supervisor/TaskManager operate on.
// Implementations are expected to be read-only snapshots: the core never
// mutates a Plan.
type Plan interface {
	ID() uuid.UUID
	DatasetID() uuid.UUID
	SyncMode() SyncMode
	InitialTasks() []*synctask.SyncTask
	RateQuota() ratelimiter.RateQuota
	MaxRetries() uint32
}

// Static is the simplest Plan implementation: a fixed value object, useful
// for tests and for callers that already have the plan's data in hand.
type Static struct {
	PlanID       uuid.UUID
	Dataset      uuid.UUID
	Mode         SyncMode
	Tasks        []*synctask.SyncTask
	Quota        ratelimiter.RateQuota
	RetryBudget  uint32
}

func (s Static) ID() uuid.UUID                        { return s.PlanID }
func (s Static) DatasetID() uuid.UUID                 { return s.Dataset }
func (s Static) SyncMode() SyncMode                   { return s.Mode }
func (s Static) InitialTasks() []*synctask.SyncTask    { return s.Tasks }
func (s Static) RateQuota() ratelimiter.RateQuota      { return s.Quota }
func (s Static) MaxRetries() uint32                   { return s.RetryBudget }

// Repository is the persistence boundary for plans: load the set to
// assign at startup, and record lifecycle transitions. The core never
// calls this directly; cmd/engine wires it in front of Supervisor.
type Repository interface {
	Load(ctx context.Context) ([]Plan, error)
	MarkAssigned(ctx context.Context, planID uuid.UUID) error
	MarkCancelled(ctx context.Context, planID uuid.UUID) error
}
