package taskmanager

import (
	"github.com/fluxforge/syncengine/ratelimiter"
	"github.com/fluxforge/syncengine/synctask"
	"github.com/google/uuid"
)

// ErrorKind tags which variant an Error holds.
type ErrorKind int

const (
	// ErrorRateLimited means a queue's limiter denied a pop this minute.
	ErrorRateLimited ErrorKind = iota
	// ErrorDailyLimitExceeded means a queue's limiter is terminal for the day.
	ErrorDailyLimitExceeded
)

// Error is what the TaskManager forwards on its error channel.
type Error struct {
	Kind        ErrorKind
	DatasetID   uuid.UUID
	Timer       *ratelimiter.CooldownHandle
	SecondsLeft int64
}

// FailedTask is what a worker sends back on the failed-task channel when a
// SyncTask could not be completed.
type FailedTask struct {
	DatasetID uuid.UUID
	Task      *synctask.SyncTask
}
