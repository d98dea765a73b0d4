package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/flowrun-go/flow/execlog"
)

// Engine executes workflows: it resolves the workflow from the store,
// creates the execution record, traverses the graph from the entry
// nodes, and persists the terminal result.
//
// The engine is safe for concurrent use; any number of executions may
// run at once. Cancellation is cooperative: Cancel sets a per-execution
// flag that the traversal checks at node boundaries and that executors
// may poll via ExecContext.IsCancelled.
//
// Example:
//
//	registry := flow.NewRegistry()
//	registry.Register(executors.NewEcho())
//
//	engine := flow.NewEngine(workflows, executions, registry, logger,
//	    flow.WithCredentialStore(credentials),
//	    flow.WithMetrics(metrics),
//	)
//
//	exec, err := engine.Execute(ctx, "wf-1", map[string]any{"city": "Oslo"})
type Engine struct {
	workflows   WorkflowStore
	executions  ExecutionStore
	credentials CredentialStore
	registry    *Registry
	logger      *execlog.Logger
	clock       Clock
	step        *StepController
	metrics     *Metrics
	opts        Options

	mu      sync.Mutex
	running map[string]*runState
}

// runState tracks a live execution for cancellation and queries.
type runState struct {
	workflowID string
	cancelled  atomic.Bool
}

// NewEngine creates an engine over the given stores and registry.
//
// Parameters:
//   - workflows: read access to workflow definitions
//   - executions: persistence for execution records
//   - registry: node type to executor mapping
//   - logger: the structured execution logger (must not be nil)
//   - opts: functional options (clock, credentials, metrics, timeouts)
func NewEngine(workflows WorkflowStore, executions ExecutionStore, registry *Registry, logger *execlog.Logger, opts ...Option) *Engine {
	e := &Engine{
		workflows:  workflows,
		executions: executions,
		registry:   registry,
		logger:     logger,
		clock:      SystemClock{},
		step:       NewStepController(),
		running:    make(map[string]*runState),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.opts = e.opts.withDefaults()
	return e
}

// Logger returns the engine's execution logger.
func (e *Engine) Logger() *execlog.Logger { return e.logger }

// StepController returns the engine's step-debug controller.
func (e *Engine) StepController() *StepController { return e.step }

// Execute runs the workflow synchronously and returns the terminal
// execution record.
//
// If the workflow does not exist or has no entry node, the error is
// returned directly and no execution record is created. Otherwise a
// record is created RUNNING, persisted, and driven to exactly one of
// SUCCESS, FAILED, or CANCELLED. Node errors are not rethrown; the
// returned record carries the status and error message, and the log
// buffer carries the full error context.
//
// The input map is deep-copied before use; the caller's map is never
// mutated. The reserved input key "triggerType" attributes the
// execution to a trigger source and defaults to MANUAL.
func (e *Engine) Execute(ctx context.Context, workflowID string, input map[string]any) (*Execution, error) {
	wf, err := e.workflows.FindByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, &WorkflowNotFoundError{WorkflowID: workflowID}
	}

	triggers := wf.TriggerNodes()
	if len(triggers) == 0 {
		return nil, &NoTriggerNodesError{WorkflowID: workflowID}
	}

	return e.run(ctx, wf, triggers, input)
}

// Future is a handle on an asynchronously submitted execution.
type Future struct {
	idCh   chan string
	id     string
	doneCh chan struct{}
	exec   *Execution
	err    error
}

// ResolvedFuture creates a Future that is already complete. Custom
// Submitter implementations and tests use it to satisfy the trigger
// contract without a running engine.
func ResolvedFuture(exec *Execution, err error) *Future {
	f := &Future{
		idCh:   make(chan string, 1),
		doneCh: make(chan struct{}),
		exec:   exec,
		err:    err,
	}
	if exec != nil {
		f.id = exec.ID
	}
	close(f.doneCh)
	return f
}

// ExecutionID blocks until the execution record exists (or submission
// fails validation) and returns its ID. An empty ID with a nil error
// means validation rejected the submission; Wait returns the cause.
func (f *Future) ExecutionID(ctx context.Context) (string, error) {
	if f.id != "" {
		return f.id, nil
	}
	select {
	case id := <-f.idCh:
		f.id = id
		return id, nil
	case <-f.doneCh:
		return f.id, f.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Wait blocks until the execution reaches a terminal state and returns
// the record. The error is non-nil only when submission failed before a
// record was created; node failures are reported through the record's
// status and error message.
func (f *Future) Wait(ctx context.Context) (*Execution, error) {
	select {
	case <-f.doneCh:
		return f.exec, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ExecuteAsync submits the workflow for execution on a background task
// and returns a Future. The future's ExecutionID becomes available as
// soon as the record is created, so callers can Cancel mid-flight.
func (e *Engine) ExecuteAsync(ctx context.Context, workflowID string, input map[string]any) *Future {
	f := &Future{
		idCh:   make(chan string, 1),
		doneCh: make(chan struct{}),
	}

	go func() {
		defer close(f.doneCh)

		wf, err := e.workflows.FindByID(ctx, workflowID)
		if err != nil {
			f.err = err
			return
		}
		if wf == nil {
			f.err = &WorkflowNotFoundError{WorkflowID: workflowID}
			return
		}
		triggers := wf.TriggerNodes()
		if len(triggers) == 0 {
			f.err = &NoTriggerNodesError{WorkflowID: workflowID}
			return
		}

		f.exec, f.err = e.runNotify(ctx, wf, triggers, input, func(execID string) {
			f.idCh <- execID
		})
	}()

	return f
}

// Cancel sets the cancellation flag of a running execution and releases
// a step-debug pause if one is active. It reports whether the execution
// was found running. The transition to CANCELLED happens at the next
// node boundary; executors already in flight are not interrupted.
func (e *Engine) Cancel(executionID string) bool {
	e.mu.Lock()
	rs, ok := e.running[executionID]
	e.mu.Unlock()
	if !ok {
		return false
	}

	rs.cancelled.Store(true)
	if e.step.PausedNodeID() != "" {
		e.step.CancelStepExecution()
	}
	return true
}

// CancelAllForWorkflow cancels every running execution of the workflow
// and returns how many were flagged.
func (e *Engine) CancelAllForWorkflow(workflowID string) int {
	e.mu.Lock()
	var ids []string
	for id, rs := range e.running {
		if rs.workflowID == workflowID {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	for _, id := range ids {
		e.Cancel(id)
	}
	return len(ids)
}

// RunningExecutions returns the IDs of executions currently in flight.
func (e *Engine) RunningExecutions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.running))
	for id := range e.running {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) run(ctx context.Context, wf *Workflow, triggers []Node, input map[string]any) (*Execution, error) {
	return e.runNotify(ctx, wf, triggers, input, nil)
}

// runNotify drives one execution from record creation to the terminal
// save. onCreated, when non-nil, is invoked with the execution ID right
// after the initial persist.
func (e *Engine) runNotify(ctx context.Context, wf *Workflow, triggers []Node, input map[string]any, onCreated func(string)) (*Execution, error) {
	e.step.Reset()

	exec := &Execution{
		ID:          NewExecutionID(),
		WorkflowID:  wf.ID,
		TriggerType: triggerTypeFromInput(input),
		Status:      StatusRunning,
		StartedAt:   e.clock.Now(),
		InputData:   deepCopyMap(input),
	}
	if err := e.executions.Save(ctx, exec); err != nil {
		return nil, err
	}
	if onCreated != nil {
		onCreated(exec.ID)
	}

	rs := &runState{workflowID: wf.ID}
	e.mu.Lock()
	e.running[exec.ID] = rs
	e.mu.Unlock()

	e.metrics.ExecutionStarted()
	e.metrics.TriggerFired(strings.ToLower(string(exec.TriggerType)))
	e.logger.StartExecution(exec.ID, wf.ID, wf.Name)

	state := &execState{
		executionID: exec.ID,
		workflowID:  wf.ID,
		logger:      e.logger,
		credentials: e.credentials,
		cancelled:   rs.cancelled.Load,
		opts:        e.opts,
	}

	tr := &traversal{
		engine:   e,
		workflow: wf,
		state:    state,
		run:      rs,
	}

	var (
		output map[string]any
		runErr error
	)
	for _, trigger := range triggers {
		output, runErr = tr.executeNode(ctx, trigger, deepCopyMap(exec.InputData))
		exec.NodeExecutions = state.snapshot()
		if runErr != nil {
			break
		}
		// Progress checkpoint so observers see partial results of long
		// multi-entry workflows. A checkpoint failure is logged, not fatal.
		if err := e.executions.Save(ctx, exec); err != nil {
			e.logger.Custom(exec.ID, execlog.LevelWarn, "progress checkpoint save failed",
				map[string]any{"cause": err.Error()})
		}
	}

	e.finish(ctx, exec, rs, output, runErr)
	return exec, nil
}

// finish applies the terminal transition and persists the record.
func (e *Engine) finish(ctx context.Context, exec *Execution, rs *runState, output map[string]any, runErr error) {
	var cancelled *CancelledError
	switch {
	case runErr != nil && (errors.As(runErr, &cancelled) || rs.cancelled.Load()):
		exec.Status = StatusCancelled
		exec.ErrorMessage = (&CancelledError{}).Error()
	case runErr != nil:
		exec.Status = StatusFailed
		exec.ErrorMessage = runErr.Error()
	case rs.cancelled.Load():
		// Flag raced with the last node finishing. Honor the request.
		exec.Status = StatusCancelled
		exec.ErrorMessage = (&CancelledError{}).Error()
	default:
		exec.Status = StatusSuccess
		exec.OutputData = output
	}

	finished := e.clock.Now()
	if finished.Before(exec.StartedAt) {
		finished = exec.StartedAt
	}
	exec.FinishedAt = &finished

	e.logger.EndExecution(exec.ID, exec.Status == StatusSuccess, exec.OutputData)
	e.metrics.ExecutionFinished(exec.Status)

	e.mu.Lock()
	delete(e.running, exec.ID)
	e.mu.Unlock()

	if err := e.executions.Save(ctx, exec); err != nil {
		e.logger.Custom(exec.ID, execlog.LevelError, "terminal save failed",
			map[string]any{"cause": err.Error()})
	}
}

// FindExecution returns a persisted execution by ID.
func (e *Engine) FindExecution(ctx context.Context, id string) (*Execution, error) {
	return e.executions.FindByID(ctx, id)
}

// FindExecutionsByWorkflow returns the workflow's executions, most
// recently started first.
func (e *Engine) FindExecutionsByWorkflow(ctx context.Context, workflowID string) ([]*Execution, error) {
	return e.executions.FindByWorkflowID(ctx, workflowID)
}

// FindRunningExecutions returns persisted executions still marked RUNNING.
func (e *Engine) FindRunningExecutions(ctx context.Context) ([]*Execution, error) {
	return e.executions.FindRunning(ctx)
}

// FindExecutionsByTimeRange returns executions started within [from, to].
func (e *Engine) FindExecutionsByTimeRange(ctx context.Context, from, to time.Time) ([]*Execution, error) {
	return e.executions.FindByTimeRange(ctx, from, to)
}

// triggerTypeFromInput maps the reserved "triggerType" input key to the
// execution's trigger attribution. Trigger sources set the lowercase
// wire values ("schedule", "file_event"); absence means MANUAL.
func triggerTypeFromInput(input map[string]any) TriggerType {
	s, _ := input[KeyTriggerType].(string)
	switch strings.ToUpper(s) {
	case string(TriggerSchedule):
		return TriggerSchedule
	case string(TriggerFileEvent):
		return TriggerFileEvent
	case string(TriggerWebhook):
		return TriggerWebhook
	default:
		return TriggerManual
	}
}
