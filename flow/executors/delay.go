package executors

import (
	"context"
	"time"

	"github.com/dshills/flowrun-go/flow"
)

// Delay pauses the traversal for the node's "durationMs" parameter
// (default 1000). The wait is cooperative: it ends early on context
// cancellation or when the execution's cancellation flag is raised, so
// cancelled executions never sit out the full delay.
type Delay struct{}

// NewDelay creates the delay executor.
func NewDelay() *Delay { return &Delay{} }

// NodeType implements flow.Executor.
func (*Delay) NodeType() string { return "delay" }

// Execute implements flow.Executor.
func (*Delay) Execute(ctx context.Context, node flow.Node, input map[string]any, ec flow.ExecContext) (map[string]any, error) {
	duration := time.Second
	if ms, ok := numericParam(node.Parameters["durationMs"]); ok && ms >= 0 {
		duration = time.Duration(ms) * time.Millisecond
	}

	deadline := time.NewTimer(duration)
	defer deadline.Stop()

	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-deadline.C:
			return input, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-poll.C:
			if ec.IsCancelled() {
				return input, nil
			}
		}
	}
}

// numericParam accepts the numeric types JSON decoding and Go callers
// produce for parameter values.
func numericParam(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
