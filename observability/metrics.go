// Package observability exposes the engine's Prometheus metrics: queue
// depth per dataset, rate-limit events, worker state, and task latency.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks the number of pending tasks per dataset queue.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "syncengine_queue_depth",
		Help: "Current number of tasks queued per dataset",
	}, []string{"dataset_id"})

	// RateLimitEvents counts rate-limit and daily-exhaustion denials per
	// dataset.
	RateLimitEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncengine_rate_limit_events_total",
		Help: "Total rate-limit denials observed by the scheduling loop",
	}, []string{"dataset_id", "kind"}) // kind: rate_limited, daily_limit_exceeded

	// WorkerState tracks each worker's current lifecycle state.
	WorkerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "syncengine_worker_state",
		Help: "Worker lifecycle state (0=idle, 1=assigned, 2=syncing, 3=terminated)",
	}, []string{"worker_id"})

	// TaskLatency tracks how long a task took from delivery to result.
	TaskLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "syncengine_task_latency_seconds",
		Help:    "Task execution latency distribution",
		Buckets: prometheus.DefBuckets,
	})

	// TaskResults counts completed and failed task executions.
	TaskResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncengine_task_results_total",
		Help: "Total task executions by outcome",
	}, []string{"outcome"}) // outcome: completed, failed

	// PlanAssignments counts plan lifecycle transitions.
	PlanAssignments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncengine_plan_assignments_total",
		Help: "Total plan assignment/cancellation events",
	}, []string{"event"}) // event: assigned, cancelled

	// CooldownsArmed counts cooldown timers started across all limiters.
	CooldownsArmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "syncengine_cooldowns_armed_total",
		Help: "Total cooldown timers armed by rate limiters",
	})
)

// ObserveTaskLatency records the elapsed time since start.
func ObserveTaskLatency(start time.Time) {
	TaskLatency.Observe(time.Since(start).Seconds())
}
