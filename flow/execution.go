package flow

import "time"

// ExecutionStatus enumerates the lifecycle states of an execution.
//
// An execution is created RUNNING at submit and transitions exactly once
// to one of the terminal states SUCCESS, FAILED, or CANCELLED. PENDING
// and WAITING exist in the persisted model for hosts that queue or park
// executions; the in-process engine never produces them.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "PENDING"
	StatusRunning   ExecutionStatus = "RUNNING"
	StatusSuccess   ExecutionStatus = "SUCCESS"
	StatusFailed    ExecutionStatus = "FAILED"
	StatusCancelled ExecutionStatus = "CANCELLED"
	StatusWaiting   ExecutionStatus = "WAITING"
)

// Terminal reports whether the status is a sink state.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// Execution is one run of a workflow. The engine exclusively owns the
// in-memory record while RUNNING; the ExecutionStore owns the durable
// record. Once terminal, fields other than diagnostic metadata are
// immutable. FinishedAt is always >= StartedAt on terminal records.
type Execution struct {
	ID             string          `json:"id"`
	WorkflowID     string          `json:"workflowId"`
	TriggerType    TriggerType     `json:"triggerType"`
	Status         ExecutionStatus `json:"status"`
	StartedAt      time.Time       `json:"startedAt"`
	FinishedAt     *time.Time      `json:"finishedAt,omitempty"`
	InputData      map[string]any  `json:"inputData,omitempty"`
	OutputData     map[string]any  `json:"outputData,omitempty"`
	ErrorMessage   string          `json:"errorMessage,omitempty"`
	NodeExecutions []NodeExecution `json:"nodeExecutions,omitempty"`
}

// Duration returns the wall-clock duration of a terminal execution, or
// zero if the execution has not finished.
func (e *Execution) Duration() time.Duration {
	if e.FinishedAt == nil {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// NodeExecution is the per-node record appended as the engine traverses
// the graph. Records are append-only and reflect wall-clock completion
// order under parallel fan-out.
type NodeExecution struct {
	NodeID     string          `json:"nodeId"`
	Status     ExecutionStatus `json:"status"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
	Output     map[string]any  `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
}
