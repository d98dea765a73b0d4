// Package trigger provides the sources that submit workflow executions
// into the engine: cron schedules, filesystem events, and direct manual
// submission.
//
// Triggers own no execution state. They observe workflow changes through
// the store's event subscription and produce submissions; the engine
// owns everything from there.
package trigger

import (
	"context"

	"github.com/dshills/flowrun-go/flow"
)

// Submitter accepts workflow submissions. *flow.Engine satisfies it;
// tests substitute a recorder.
type Submitter interface {
	ExecuteAsync(ctx context.Context, workflowID string, input map[string]any) *flow.Future
}

// watchWorkflowEvents subscribes to the store's change feed, when the
// store publishes one, and routes events to register/unregister until
// ctx is done. Returns immediately when the store does not publish.
func watchWorkflowEvents(ctx context.Context, store flow.WorkflowStore, register func(*flow.Workflow), unregister func(string)) func() {
	pub, ok := store.(flow.WorkflowPublisher)
	if !ok {
		return func() {}
	}

	events, cancel := pub.Subscribe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, open := <-events:
				if !open {
					return
				}
				if ev.Workflow == nil {
					continue
				}
				switch ev.Kind {
				case flow.WorkflowDeleted, flow.WorkflowDeactivated:
					unregister(ev.Workflow.ID)
				default:
					register(ev.Workflow)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
