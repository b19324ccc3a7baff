package resultsink

import (
	"context"
	"log"

	"github.com/fluxforge/syncengine/worker"
)

// LogSink records results with the standard logger. Useful for local runs
// and tests where a Redis dependency isn't worth standing up.
type LogSink struct{}

// Record implements Sink.
func (LogSink) Record(ctx context.Context, r worker.Result) error {
	if r.Kind == worker.ResultCompleted {
		log.Printf("resultsink: task %s completed (plan %s)", r.TaskID, r.PlanID)
	} else {
		log.Printf("resultsink: task %s failed (plan %s): %s", r.TaskID, r.PlanID, r.Message)
	}
	return nil
}
