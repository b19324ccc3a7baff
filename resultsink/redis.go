package resultsink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fluxforge/syncengine/worker"
	"github.com/redis/go-redis/v9"
)

// idempotencyState mirrors the two-phase LOCKED/RESULT pattern: a result
// is only ever recorded once per task ID, even if a retried worker
// delivers a second completion for the same task.
type idempotencyState string

const (
	stateLocked idempotencyState = "LOCKED"
	stateResult idempotencyState = "RESULT"
)

type idempotencyRecord struct {
	State       idempotencyState `json:"state"`
	Outcome     string           `json:"outcome"`
	Payload     json.RawMessage  `json:"payload,omitempty"`
	Message     string           `json:"message,omitempty"`
	CompletedAt time.Time        `json:"completed_at"`
}

const (
	lockTTL   = 10 * time.Minute
	resultTTL = 24 * time.Hour
)

// RedisSink records results in Redis, keyed by task ID, using the
// LOCK -> RESULT state transition so a task retried after a crash can't
// double-record its outcome once the original attempt's result lands.
type RedisSink struct {
	client *redis.Client
}

// NewRedisSink wraps an existing Redis client.
func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client}
}

// Record implements Sink. It acquires the task's lock key with SETNX; if
// another goroutine already holds it (a concurrent delivery of the same
// task, e.g. from a retry racing the original), Record returns without
// overwriting whatever result eventually lands.
func (s *RedisSink) Record(ctx context.Context, r worker.Result) error {
	lockKey := "syncengine:result:lock:" + r.TaskID.String()
	resultKey := "syncengine:result:value:" + r.TaskID.String()

	existing, err := s.client.Exists(ctx, resultKey).Result()
	if err != nil {
		return fmt.Errorf("resultsink: check existing result: %w", err)
	}
	if existing == 1 {
		return nil
	}

	acquired, err := s.client.SetNX(ctx, lockKey, string(stateLocked), lockTTL).Result()
	if err != nil {
		return fmt.Errorf("resultsink: acquire lock: %w", err)
	}
	if !acquired {
		return nil
	}

	rec := idempotencyRecord{
		State:       stateResult,
		CompletedAt: r.CompletedAt,
	}
	if r.Kind == worker.ResultCompleted {
		rec.Outcome = "completed"
		rec.Payload = r.Payload
	} else {
		rec.Outcome = "failed"
		rec.Message = r.Message
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("resultsink: marshal result: %w", err)
	}
	if err := s.client.Set(ctx, resultKey, data, resultTTL).Err(); err != nil {
		return fmt.Errorf("resultsink: store result: %w", err)
	}
	return s.client.Del(ctx, lockKey).Err()
}
