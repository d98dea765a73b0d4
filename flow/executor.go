package flow

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/flowrun-go/flow/execlog"
)

// Executor is a pluggable implementation of a node type: a function from
// (node, input, context) to an output map.
//
// A single Executor instance services all executions, so implementations
// must be safe for concurrent invocation. Executors may optionally
// implement Validator (settings validation) and Canceller (best-effort
// cooperative abort of long I/O).
type Executor interface {
	// NodeType returns the stable identifier this executor is registered
	// under. It keys the registry lookup for every node of this type.
	NodeType() string

	// Execute runs the node's logic. The returned map becomes the node's
	// output and the input of downstream nodes. Reserved keys (branch,
	// results, _stopExecution) route traversal; see the flow package
	// constants.
	Execute(ctx context.Context, node Node, input map[string]any, ec ExecContext) (map[string]any, error)
}

// Validator is optionally implemented by executors that can check node
// settings ahead of execution.
type Validator interface {
	Validate(settings map[string]any) ValidationResult
}

// Canceller is optionally implemented by executors that can abort
// in-flight work when the execution is cancelled. Best effort; the
// engine never forcibly terminates tasks.
type Canceller interface {
	Cancel()
}

// ValidationResult reports the outcome of settings validation.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc struct {
	Type string
	Fn   func(ctx context.Context, node Node, input map[string]any, ec ExecContext) (map[string]any, error)
}

// NodeType implements Executor.
func (f ExecutorFunc) NodeType() string { return f.Type }

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, node Node, input map[string]any, ec ExecContext) (map[string]any, error) {
	return f.Fn(ctx, node, input, ec)
}

// ExecContext is the executor-facing view of a running execution. It
// exposes read-only workflow/input data, cooperative cancellation,
// structured logging, credential resolution, and the append-only
// per-node record list.
type ExecContext interface {
	ExecutionID() string
	WorkflowID() string

	// NodeSettings returns the current node's parameters map.
	NodeSettings() map[string]any

	// Input returns the node's input map from upstream.
	Input() map[string]any

	// IsCancelled reports whether the execution's cancellation flag is
	// set. Long-running executors should poll this.
	IsCancelled() bool

	// Logger returns the execution logger for structured, category-tagged
	// entries scoped to this execution.
	Logger() *execlog.Logger

	// DecryptedCredential resolves a credential ID to its decrypted
	// secret.
	DecryptedCredential(id string) (string, error)

	// DecryptedCredentialByName resolves a credential by display name.
	DecryptedCredentialByName(name string) (string, error)

	// RecordNodeExecution appends a per-node record. Appends are
	// synchronized; parallel fan-out writes from sibling tasks.
	RecordNodeExecution(ne NodeExecution)

	// NodeExecutions returns a snapshot of the records appended so far.
	NodeExecutions() []NodeExecution

	// DefaultTimeout, RetryAttempts and RetryDelay are advisory execution
	// parameters. Enforcement is delegated to executors; the engine
	// imposes no deadline itself.
	DefaultTimeout() time.Duration
	RetryAttempts() int
	RetryDelay() time.Duration
}

// execState is the per-execution core shared by all node contexts.
type execState struct {
	executionID string
	workflowID  string
	logger      *execlog.Logger
	credentials CredentialStore
	cancelled   func() bool
	opts        Options

	mu      sync.Mutex
	records []NodeExecution
}

func (s *execState) record(ne NodeExecution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, ne)
}

func (s *execState) snapshot() []NodeExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]NodeExecution, len(s.records))
	copy(out, s.records)
	return out
}

// nodeContext is the per-node ExecContext handed to an executor. It
// wraps the shared execution state with the node's settings and input.
type nodeContext struct {
	*execState
	node  Node
	input map[string]any
}

func (c *nodeContext) ExecutionID() string { return c.executionID }

func (c *nodeContext) WorkflowID() string { return c.workflowID }

func (c *nodeContext) NodeSettings() map[string]any { return c.node.Parameters }

func (c *nodeContext) Input() map[string]any { return c.input }

func (c *nodeContext) IsCancelled() bool { return c.cancelled() }

func (c *nodeContext) Logger() *execlog.Logger { return c.logger }

func (c *nodeContext) DecryptedCredential(id string) (string, error) {
	if c.credentials == nil {
		return "", &DataParsingError{Field: "credentialId", Message: "no credential store configured"}
	}
	return c.credentials.DecryptedByID(context.Background(), id)
}

func (c *nodeContext) DecryptedCredentialByName(name string) (string, error) {
	if c.credentials == nil {
		return "", &DataParsingError{Field: "credentialName", Message: "no credential store configured"}
	}
	cred, err := c.credentials.FindByName(context.Background(), name)
	if err != nil {
		return "", err
	}
	return c.credentials.DecryptedByID(context.Background(), cred.ID)
}

func (c *nodeContext) RecordNodeExecution(ne NodeExecution) { c.record(ne) }

func (c *nodeContext) NodeExecutions() []NodeExecution { return c.snapshot() }

func (c *nodeContext) DefaultTimeout() time.Duration { return c.opts.DefaultTimeout }

func (c *nodeContext) RetryAttempts() int { return c.opts.RetryAttempts }

func (c *nodeContext) RetryDelay() time.Duration { return c.opts.RetryDelay }
