// Package flow provides the core workflow execution engine for FlowRun-Go.
package flow

import (
	"context"
	"time"
)

// TriggerType identifies how executions of a workflow are initiated.
type TriggerType string

const (
	// TriggerManual marks workflows started directly through the engine API.
	TriggerManual TriggerType = "MANUAL"

	// TriggerSchedule marks workflows fired by the cron trigger.
	TriggerSchedule TriggerType = "SCHEDULE"

	// TriggerFileEvent marks workflows fired by the filesystem watcher.
	TriggerFileEvent TriggerType = "FILE_EVENT"

	// TriggerWebhook is reserved for HTTP-initiated workflows. The engine
	// accepts the type but ships no webhook trigger source.
	TriggerWebhook TriggerType = "WEBHOOK"
)

// Reserved output keys and connection labels form the covert protocol
// between the engine and executors. They are part of the executor
// contract and must not be repurposed by node implementations.
const (
	// KeyBranch selects outgoing connections whose SourceOutput matches
	// the value (connections labeled "main" or unlabeled always match).
	KeyBranch = "branch"

	// KeyResults holds a list of {item, index} maps consumed by loop edges.
	KeyResults = "results"

	// KeyStopExecution suppresses traversal of the node's children when true.
	KeyStopExecution = "_stopExecution"

	// KeyTriggerType is set by trigger sources on the submission input to
	// record how the execution was initiated.
	KeyTriggerType = "triggerType"

	// OutputMain is the default branch label.
	OutputMain = "main"

	// OutputLoop marks an edge as a loop edge: its target is executed once
	// per element of the source's KeyResults list.
	OutputLoop = "loop"
)

// Workflow is a declarative graph of typed nodes plus a trigger descriptor.
//
// Workflows are read-only input to the engine. A workflow is well-formed
// iff node IDs are unique, every connection references existing nodes,
// and at least one node has no incoming connection (an entry node). The
// graph must be acyclic along non-loop edges; edges labeled "loop" may
// point at the node itself or an ancestor and are treated as iteration.
type Workflow struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Nodes          []Node         `json:"nodes"`
	Connections    []Connection   `json:"connections"`
	Settings       map[string]any `json:"settings,omitempty"`
	TriggerType    TriggerType    `json:"triggerType"`
	CronExpression string         `json:"cronExpression,omitempty"`
	Active         bool           `json:"active"`
	Version        int            `json:"version"`
}

// Node is a single step in a workflow. Type selects the executor; Position
// is editor metadata and ignored by the engine.
type Node struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Name         string         `json:"name"`
	Position     Position       `json:"position,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	CredentialID string         `json:"credentialId,omitempty"`
	Disabled     bool           `json:"disabled,omitempty"`
	Notes        string         `json:"notes,omitempty"`
}

// Position locates a node on the editor canvas. Engine-irrelevant.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Connection is a directed edge between two nodes. SourceOutput is the
// branch label: empty or "main" is the default output, "loop" marks an
// iteration edge, anything else is a user-defined branch label.
type Connection struct {
	ID           string `json:"id"`
	SourceNodeID string `json:"sourceNodeId"`
	TargetNodeID string `json:"targetNodeId"`
	SourceOutput string `json:"sourceOutput,omitempty"`
	TargetInput  string `json:"targetInput,omitempty"`
}

// IsLoop reports whether the connection is an iteration edge.
func (c Connection) IsLoop() bool {
	return c.SourceOutput == OutputLoop
}

// matchesBranch reports whether the connection is eligible when the
// source node selected the given branch label.
func (c Connection) matchesBranch(branch string) bool {
	return c.SourceOutput == "" || c.SourceOutput == OutputMain || c.SourceOutput == branch
}

// NodeByID returns the node with the given ID, or false if absent.
func (w *Workflow) NodeByID(id string) (Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// TriggerNodes returns the workflow's entry nodes: nodes with no incoming
// connection, in declaration order. Loop edges count as incoming here;
// a well-formed workflow routes loops at or below the entry, not into it.
func (w *Workflow) TriggerNodes() []Node {
	incoming := make(map[string]bool, len(w.Nodes))
	for _, c := range w.Connections {
		incoming[c.TargetNodeID] = true
	}

	var entries []Node
	for _, n := range w.Nodes {
		if !incoming[n.ID] {
			entries = append(entries, n)
		}
	}
	return entries
}

// OutgoingConnections returns the connections leaving the given node, in
// declaration order.
func (w *Workflow) OutgoingConnections(nodeID string) []Connection {
	var out []Connection
	for _, c := range w.Connections {
		if c.SourceNodeID == nodeID {
			out = append(out, c)
		}
	}
	return out
}

// Validate checks well-formedness. It returns a DataParsingError naming
// the offending field on the first violation found.
func (w *Workflow) Validate() error {
	seen := make(map[string]bool, len(w.Nodes))
	for _, n := range w.Nodes {
		if n.ID == "" {
			return &DataParsingError{Field: "node.id", Message: "node ID cannot be empty"}
		}
		if seen[n.ID] {
			return &DataParsingError{Field: "node.id", Message: "duplicate node ID: " + n.ID}
		}
		seen[n.ID] = true
	}

	for _, c := range w.Connections {
		if !seen[c.SourceNodeID] {
			return &DataParsingError{Field: "connection.sourceNodeId", Message: "unknown source node: " + c.SourceNodeID}
		}
		if !seen[c.TargetNodeID] {
			return &DataParsingError{Field: "connection.targetNodeId", Message: "unknown target node: " + c.TargetNodeID}
		}
	}

	if len(w.TriggerNodes()) == 0 && len(w.Nodes) > 0 {
		return &NoTriggerNodesError{WorkflowID: w.ID}
	}

	if err := w.checkAcyclic(); err != nil {
		return err
	}

	return nil
}

// checkAcyclic verifies the graph has no cycle along non-loop edges.
// Loop-labeled edges are permitted to close cycles; they are iteration,
// not recursion.
func (w *Workflow) checkAcyclic() error {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)

	state := make(map[string]int, len(w.Nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = inStack
		for _, c := range w.Connections {
			if c.SourceNodeID != id || c.IsLoop() {
				continue
			}
			switch state[c.TargetNodeID] {
			case inStack:
				return false
			case unvisited:
				if !visit(c.TargetNodeID) {
					return false
				}
			}
		}
		state[id] = done
		return true
	}

	for _, n := range w.Nodes {
		if state[n.ID] == unvisited {
			if !visit(n.ID) {
				return &DataParsingError{Field: "connections", Message: "workflow graph contains a cycle along non-loop edges"}
			}
		}
	}
	return nil
}

// WorkflowStore provides read access to workflow definitions. The engine
// never mutates workflows through this interface; versioning is owned by
// the store.
type WorkflowStore interface {
	// FindByID returns the workflow with the given ID, or a
	// WorkflowNotFoundError.
	FindByID(ctx context.Context, id string) (*Workflow, error)

	// FindAll returns every stored workflow.
	FindAll(ctx context.Context) ([]*Workflow, error)

	// FindByTriggerType returns workflows with the given trigger type.
	FindByTriggerType(ctx context.Context, t TriggerType) ([]*Workflow, error)

	// FindActiveScheduled returns active workflows with trigger type
	// SCHEDULE and a non-empty cron expression.
	FindActiveScheduled(ctx context.Context) ([]*Workflow, error)
}

// WorkflowEventKind enumerates workflow-change notifications published by
// stores that support subscriptions.
type WorkflowEventKind string

const (
	WorkflowCreated     WorkflowEventKind = "created"
	WorkflowUpdated     WorkflowEventKind = "updated"
	WorkflowDeleted     WorkflowEventKind = "deleted"
	WorkflowActivated   WorkflowEventKind = "activated"
	WorkflowDeactivated WorkflowEventKind = "deactivated"
)

// WorkflowEvent notifies subscribers of a workflow change. Triggers
// subscribe to re-arm their registrations; they never call back into the
// store outside the WorkflowStore interface.
type WorkflowEvent struct {
	Kind     WorkflowEventKind
	Workflow *Workflow
}

// WorkflowPublisher is implemented by workflow stores that publish change
// events. Subscribe returns a receive channel and a cancel function that
// detaches the subscription.
type WorkflowPublisher interface {
	Subscribe() (<-chan WorkflowEvent, func())
}

// ExecutionStore persists execution records. The engine calls Save at
// creation, at progress checkpoints, and at the terminal transition.
type ExecutionStore interface {
	Save(ctx context.Context, exec *Execution) error
	FindByID(ctx context.Context, id string) (*Execution, error)

	// FindByWorkflowID returns executions for the workflow, most recently
	// started first.
	FindByWorkflowID(ctx context.Context, workflowID string) ([]*Execution, error)

	FindRunning(ctx context.Context) ([]*Execution, error)
	FindByTimeRange(ctx context.Context, from, to time.Time) ([]*Execution, error)
	DeleteAll(ctx context.Context) error
}

// Credential is an opaque named secret reference.
type Credential struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CredentialStore resolves credential references to decrypted secrets.
// It is exposed to executors through ExecContext, never to the engine's
// traversal logic directly.
type CredentialStore interface {
	DecryptedByID(ctx context.Context, id string) (string, error)
	FindByName(ctx context.Context, name string) (*Credential, error)
}
