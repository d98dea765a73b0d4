package trigger

import (
	"context"

	"github.com/dshills/flowrun-go/flow"
)

// ManualTrigger submits executions directly on behalf of a caller, the
// degenerate trigger source. It exists so hosts can treat all three
// trigger kinds uniformly.
type ManualTrigger struct {
	submitter Submitter
}

// NewManualTrigger creates a manual trigger over the submitter.
func NewManualTrigger(submitter Submitter) *ManualTrigger {
	return &ManualTrigger{submitter: submitter}
}

// Fire submits the workflow with the caller's input. The execution is
// attributed MANUAL unless the input says otherwise.
func (t *ManualTrigger) Fire(ctx context.Context, workflowID string, input map[string]any) *flow.Future {
	return t.submitter.ExecuteAsync(ctx, workflowID, input)
}
