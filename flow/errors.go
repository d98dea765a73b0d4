package flow

import "fmt"

// The engine's error kinds form a closed set. Callers match them with
// errors.As; the engine itself never matches on message text.

// WorkflowNotFoundError indicates the workflow ID is missing from the
// store. No execution record is created.
type WorkflowNotFoundError struct {
	WorkflowID string
}

func (e *WorkflowNotFoundError) Error() string {
	return "workflow not found: " + e.WorkflowID
}

// NoTriggerNodesError indicates a well-formedness violation caught at
// submit: the workflow has no entry node. No execution record is created.
type NoTriggerNodesError struct {
	WorkflowID string
}

func (e *NoTriggerNodesError) Error() string {
	return "workflow has no trigger nodes: " + e.WorkflowID
}

// NoExecutorError indicates a reached node's type has no registered
// executor.
type NoExecutorError struct {
	NodeID   string
	NodeType string
}

func (e *NoExecutorError) Error() string {
	return fmt.Sprintf("no executor registered for node type %q (node %s)", e.NodeType, e.NodeID)
}

// NodeExecutionError wraps an error raised by an executor. It aborts the
// whole execution; the engine has no per-node retry (executors may retry
// internally).
type NodeExecutionError struct {
	NodeID   string
	NodeType string
	Cause    error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s (%s) failed: %v", e.NodeID, e.NodeType, e.Cause)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Cause
}

// CancelledError indicates the per-execution cancellation flag was
// observed at a node boundary or inside a step-debug wait. The engine
// matches this type, never the message.
type CancelledError struct {
	NodeID   string
	NodeType string
}

func (e *CancelledError) Error() string {
	return "Execution cancelled by user"
}

// ParallelExecutionError wraps the first error raised by a sibling
// during parallel fan-out. Already-started siblings are not cancelled.
type ParallelExecutionError struct {
	Cause error
}

func (e *ParallelExecutionError) Error() string {
	return "parallel execution failed: " + e.Cause.Error()
}

func (e *ParallelExecutionError) Unwrap() error {
	return e.Cause
}

// DataParsingError indicates workflow or execution data failed to parse
// or violated structural constraints. Field names the offending part.
type DataParsingError struct {
	Field   string
	Message string
	Cause   error
}

func (e *DataParsingError) Error() string {
	msg := "data parsing failed"
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *DataParsingError) Unwrap() error {
	return e.Cause
}

// DuplicateNodeTypeError indicates a Register call for a node type that
// is already present in the registry.
type DuplicateNodeTypeError struct {
	NodeType string
}

func (e *DuplicateNodeTypeError) Error() string {
	return "executor already registered for node type: " + e.NodeType
}

// UnknownNodeTypeError indicates a registry lookup for an unregistered
// node type.
type UnknownNodeTypeError struct {
	NodeType string
}

func (e *UnknownNodeTypeError) Error() string {
	return "unknown node type: " + e.NodeType
}
