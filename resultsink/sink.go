// Package resultsink consumes worker.Result values and records them
// idempotently: a task already completed (same task ID) must not be
// re-recorded by a retried worker.
package resultsink

import (
	"context"
	"log"

	"github.com/fluxforge/syncengine/worker"
)

// Sink records one worker.Result. Implementations must be safe to call
// from multiple workers concurrently.
type Sink interface {
	Record(ctx context.Context, r worker.Result) error
}

// Drain reads from ch until it closes or ctx is cancelled, recording each
// result on sink. Errors returned by sink.Record are logged and never stop
// the drain.
func Drain(ctx context.Context, ch <-chan worker.Result, sink Sink) {
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return
			}
			if err := sink.Record(ctx, r); err != nil {
				log.Printf("resultsink: record task %s: %v", r.TaskID, err)
			}
		case <-ctx.Done():
			return
		}
	}
}
