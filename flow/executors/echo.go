// Package executors provides the built-in node executors: payload
// utilities (echo, set, delay), an HTTP client node, and chat nodes for
// the OpenAI, Anthropic, and Google Gemini APIs.
package executors

import (
	"context"

	"github.com/dshills/flowrun-go/flow"
)

// Echo returns its input unchanged. Useful as a trigger node body and in
// tests.
type Echo struct{}

// NewEcho creates the echo executor.
func NewEcho() *Echo { return &Echo{} }

// NodeType implements flow.Executor.
func (*Echo) NodeType() string { return "echo" }

// Execute implements flow.Executor.
func (*Echo) Execute(_ context.Context, _ flow.Node, input map[string]any, _ flow.ExecContext) (map[string]any, error) {
	return input, nil
}
