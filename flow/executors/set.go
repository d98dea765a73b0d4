package executors

import (
	"context"

	"github.com/dshills/flowrun-go/flow"
)

// Set merges the node's "values" parameter map into the payload.
// Parameter values win over input keys. With no "values" parameter the
// node behaves like echo.
type Set struct{}

// NewSet creates the set executor.
func NewSet() *Set { return &Set{} }

// NodeType implements flow.Executor.
func (*Set) NodeType() string { return "set" }

// Execute implements flow.Executor.
func (*Set) Execute(_ context.Context, node flow.Node, input map[string]any, _ flow.ExecContext) (map[string]any, error) {
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = v
	}

	values, _ := node.Parameters["values"].(map[string]any)
	for k, v := range values {
		out[k] = v
	}
	return out, nil
}

// Validate implements flow.Validator.
func (*Set) Validate(settings map[string]any) flow.ValidationResult {
	if raw, present := settings["values"]; present {
		if _, ok := raw.(map[string]any); !ok {
			return flow.ValidationResult{Errors: []string{"values must be a map"}}
		}
	}
	return flow.ValidationResult{Valid: true}
}
