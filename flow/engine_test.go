package flow_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dshills/flowrun-go/flow"
	"github.com/dshills/flowrun-go/flow/execlog"
	"github.com/dshills/flowrun-go/flow/store"
)

// invocationLog records executor calls across goroutines.
type invocationLog struct {
	mu     sync.Mutex
	calls  []string
	inputs map[string][]map[string]any
}

func newInvocationLog() *invocationLog {
	return &invocationLog{inputs: make(map[string][]map[string]any)}
}

func (l *invocationLog) record(nodeID string, input map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, nodeID)
	l.inputs[nodeID] = append(l.inputs[nodeID], input)
}

func (l *invocationLog) count(nodeID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inputs[nodeID])
}

func (l *invocationLog) inputsFor(nodeID string) []map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]map[string]any(nil), l.inputs[nodeID]...)
}

// echoExecutor returns its input unchanged, recording the call.
func echoExecutor(log *invocationLog) flow.Executor {
	return flow.ExecutorFunc{
		Type: "echo",
		Fn: func(_ context.Context, node flow.Node, input map[string]any, _ flow.ExecContext) (map[string]any, error) {
			log.record(node.ID, input)
			return input, nil
		},
	}
}

// emitExecutor returns a fixed output map, recording the call.
func emitExecutor(nodeType string, output map[string]any, log *invocationLog) flow.Executor {
	return flow.ExecutorFunc{
		Type: nodeType,
		Fn: func(_ context.Context, node flow.Node, input map[string]any, _ flow.ExecContext) (map[string]any, error) {
			log.record(node.ID, input)
			return output, nil
		},
	}
}

func newTestEngine(t *testing.T, wf *flow.Workflow, executors ...flow.Executor) (*flow.Engine, *store.MemExecutionStore) {
	t.Helper()

	workflows := store.NewMemWorkflowStore()
	if wf != nil {
		if err := workflows.Put(wf); err != nil {
			t.Fatalf("failed to store workflow: %v", err)
		}
	}

	registry := flow.NewRegistry()
	for _, ex := range executors {
		if err := registry.Register(ex); err != nil {
			t.Fatalf("failed to register executor: %v", err)
		}
	}

	executions := store.NewMemExecutionStore()
	engine := flow.NewEngine(workflows, executions, registry, execlog.NewLogger())
	return engine, executions
}

func TestExecuteLinearTwoNodes(t *testing.T) {
	wf := &flow.Workflow{
		ID: "wf-linear",
		Nodes: []flow.Node{
			{ID: "A", Type: "echo", Name: "A"},
			{ID: "B", Type: "echo", Name: "B"},
		},
		Connections: []flow.Connection{
			{SourceNodeID: "A", TargetNodeID: "B"},
		},
	}

	log := newInvocationLog()
	engine, executions := newTestEngine(t, wf, echoExecutor(log))

	exec, err := engine.Execute(context.Background(), "wf-linear", map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if exec.Status != flow.StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS (error: %s)", exec.Status, exec.ErrorMessage)
	}
	if v, ok := exec.OutputData["x"]; !ok || v != float64(1) && v != 1 {
		t.Errorf("output = %v, want x=1", exec.OutputData)
	}
	if len(exec.NodeExecutions) != 2 {
		t.Fatalf("nodeExecutions length = %d, want 2", len(exec.NodeExecutions))
	}
	if exec.NodeExecutions[0].NodeID != "A" || exec.NodeExecutions[1].NodeID != "B" {
		t.Errorf("nodeExecutions order = [%s, %s], want [A, B]",
			exec.NodeExecutions[0].NodeID, exec.NodeExecutions[1].NodeID)
	}
	if exec.FinishedAt == nil || exec.FinishedAt.Before(exec.StartedAt) {
		t.Error("finishedAt must be set and not before startedAt")
	}

	stored, err := executions.FindByID(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("stored execution not found: %v", err)
	}
	if stored.Status != flow.StatusSuccess {
		t.Errorf("stored status = %s, want SUCCESS", stored.Status)
	}
}

func TestExecuteBranchSelection(t *testing.T) {
	wf := &flow.Workflow{
		ID: "wf-branch",
		Nodes: []flow.Node{
			{ID: "A", Type: "chooser", Name: "A"},
			{ID: "B", Type: "echo", Name: "B"},
			{ID: "C", Type: "echo", Name: "C"},
		},
		Connections: []flow.Connection{
			{SourceNodeID: "A", TargetNodeID: "B", SourceOutput: "yes"},
			{SourceNodeID: "A", TargetNodeID: "C", SourceOutput: "no"},
		},
	}

	log := newInvocationLog()
	engine, _ := newTestEngine(t, wf,
		emitExecutor("chooser", map[string]any{"branch": "yes"}, log),
		echoExecutor(log),
	)

	exec, err := engine.Execute(context.Background(), "wf-branch", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if exec.Status != flow.StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS (error: %s)", exec.Status, exec.ErrorMessage)
	}
	if log.count("B") != 1 {
		t.Errorf("B invoked %d times, want 1", log.count("B"))
	}
	if log.count("C") != 0 {
		t.Errorf("C invoked %d times, want 0", log.count("C"))
	}
}

func TestExecuteLoopExpansion(t *testing.T) {
	wf := &flow.Workflow{
		ID: "wf-loop",
		Nodes: []flow.Node{
			{ID: "A", Type: "lister", Name: "A"},
			{ID: "B", Type: "echo", Name: "B"},
		},
		Connections: []flow.Connection{
			{SourceNodeID: "A", TargetNodeID: "B", SourceOutput: flow.OutputLoop},
		},
	}

	results := []any{
		map[string]any{"item": map[string]any{"v": 10}, "index": 0},
		map[string]any{"item": map[string]any{"v": 20}, "index": 1},
	}

	log := newInvocationLog()
	engine, _ := newTestEngine(t, wf,
		emitExecutor("lister", map[string]any{"results": results}, log),
		echoExecutor(log),
	)

	exec, err := engine.Execute(context.Background(), "wf-loop", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if exec.Status != flow.StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS (error: %s)", exec.Status, exec.ErrorMessage)
	}

	inputs := log.inputsFor("B")
	if len(inputs) != 2 {
		t.Fatalf("B invoked %d times, want 2", len(inputs))
	}
	wantV := []int{10, 20}
	for i, in := range inputs {
		if idx, ok := in["index"]; !ok || idx != i && idx != float64(i) {
			t.Errorf("iteration %d: index = %v", i, idx)
		}
		if v, ok := in["v"]; !ok || v != wantV[i] && v != float64(wantV[i]) {
			t.Errorf("iteration %d: v = %v, want %d at top level", i, v, wantV[i])
		}
		if _, ok := in["item"]; !ok {
			t.Errorf("iteration %d: item missing", i)
		}
	}
}

func TestExecuteParallelFanOutOneFails(t *testing.T) {
	wf := &flow.Workflow{
		ID: "wf-parallel",
		Nodes: []flow.Node{
			{ID: "A", Type: "echo", Name: "A"},
			{ID: "B", Type: "echo", Name: "B"},
			{ID: "C", Type: "fail", Name: "C"},
		},
		Connections: []flow.Connection{
			{SourceNodeID: "A", TargetNodeID: "B"},
			{SourceNodeID: "A", TargetNodeID: "C"},
		},
	}

	log := newInvocationLog()
	failing := flow.ExecutorFunc{
		Type: "fail",
		Fn: func(_ context.Context, node flow.Node, input map[string]any, _ flow.ExecContext) (map[string]any, error) {
			log.record(node.ID, input)
			return nil, errors.New("boom")
		},
	}

	engine, _ := newTestEngine(t, wf, echoExecutor(log), failing)

	exec, err := engine.Execute(context.Background(), "wf-parallel", map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if exec.Status != flow.StatusFailed {
		t.Fatalf("status = %s, want FAILED", exec.Status)
	}
	if !strings.Contains(exec.ErrorMessage, "C") {
		t.Errorf("errorMessage %q does not mention node C", exec.ErrorMessage)
	}
	if log.count("C") != 1 {
		t.Errorf("C invoked %d times, want 1", log.count("C"))
	}
}

func TestCancelMidFlight(t *testing.T) {
	wf := &flow.Workflow{
		ID: "wf-cancel",
		Nodes: []flow.Node{
			{ID: "A", Type: "block", Name: "A"},
			{ID: "B", Type: "block", Name: "B"},
		},
		Connections: []flow.Connection{
			{SourceNodeID: "A", TargetNodeID: "B"},
		},
	}

	started := make(chan struct{})
	var startOnce sync.Once
	blocker := flow.ExecutorFunc{
		Type: "block",
		Fn: func(ctx context.Context, _ flow.Node, input map[string]any, ec flow.ExecContext) (map[string]any, error) {
			startOnce.Do(func() { close(started) })
			for !ec.IsCancelled() {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(10 * time.Millisecond):
				}
			}
			return input, nil
		},
	}

	engine, _ := newTestEngine(t, wf, blocker)

	future := engine.ExecuteAsync(context.Background(), "wf-cancel", nil)
	execID, err := future.ExecutionID(context.Background())
	if err != nil || execID == "" {
		t.Fatalf("ExecutionID failed: id=%q err=%v", execID, err)
	}

	<-started
	if !engine.Cancel(execID) {
		t.Fatal("Cancel returned false for running execution")
	}

	exec, err := future.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if exec.Status != flow.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", exec.Status)
	}
	if exec.ErrorMessage != "Execution cancelled by user" {
		t.Errorf("errorMessage = %q", exec.ErrorMessage)
	}
}

func TestExecuteDisabledNodePassesThrough(t *testing.T) {
	wf := &flow.Workflow{
		ID: "wf-disabled",
		Nodes: []flow.Node{
			{ID: "A", Type: "echo", Name: "A"},
			{ID: "B", Type: "unregistered", Name: "B", Disabled: true},
			{ID: "C", Type: "echo", Name: "C"},
		},
		Connections: []flow.Connection{
			{SourceNodeID: "A", TargetNodeID: "B"},
			{SourceNodeID: "B", TargetNodeID: "C"},
		},
	}

	log := newInvocationLog()
	engine, _ := newTestEngine(t, wf, echoExecutor(log))

	exec, err := engine.Execute(context.Background(), "wf-disabled", map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if exec.Status != flow.StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS (error: %s)", exec.Status, exec.ErrorMessage)
	}

	inputs := log.inputsFor("C")
	if len(inputs) != 1 {
		t.Fatalf("C invoked %d times, want 1", len(inputs))
	}
	if v := inputs[0]["x"]; v != 1 && v != float64(1) {
		t.Errorf("C input = %v, want pass-through of A's output", inputs[0])
	}
	for _, ne := range exec.NodeExecutions {
		if ne.NodeID == "B" {
			t.Error("disabled node B has a NodeExecution record")
		}
	}
}

func TestExecuteStopExecutionSentinel(t *testing.T) {
	wf := &flow.Workflow{
		ID: "wf-stop",
		Nodes: []flow.Node{
			{ID: "A", Type: "stopper", Name: "A"},
			{ID: "B", Type: "echo", Name: "B"},
		},
		Connections: []flow.Connection{
			{SourceNodeID: "A", TargetNodeID: "B"},
		},
	}

	log := newInvocationLog()
	engine, _ := newTestEngine(t, wf,
		emitExecutor("stopper", map[string]any{"_stopExecution": true, "v": 7}, log),
		echoExecutor(log),
	)

	exec, err := engine.Execute(context.Background(), "wf-stop", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if exec.Status != flow.StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS (error: %s)", exec.Status, exec.ErrorMessage)
	}
	if log.count("B") != 0 {
		t.Errorf("B invoked %d times after _stopExecution, want 0", log.count("B"))
	}
}

func TestExecuteWorkflowNotFound(t *testing.T) {
	engine, executions := newTestEngine(t, nil)

	_, err := engine.Execute(context.Background(), "ghost", nil)
	var notFound *flow.WorkflowNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Execute returned %v, want WorkflowNotFoundError", err)
	}

	running, _ := executions.FindRunning(context.Background())
	if len(running) != 0 {
		t.Error("execution record created for missing workflow")
	}
}

func TestExecuteNoTriggerNodes(t *testing.T) {
	wf := &flow.Workflow{
		ID: "wf-cyclic",
		Nodes: []flow.Node{
			{ID: "a", Type: "echo"},
			{ID: "b", Type: "echo"},
		},
		Connections: []flow.Connection{
			{SourceNodeID: "a", TargetNodeID: "b"},
			{SourceNodeID: "b", TargetNodeID: "a"},
		},
	}

	log := newInvocationLog()
	engine, executions := newTestEngine(t, wf, echoExecutor(log))

	_, err := engine.Execute(context.Background(), "wf-cyclic", nil)
	var noTriggers *flow.NoTriggerNodesError
	if !errors.As(err, &noTriggers) {
		t.Fatalf("Execute returned %v, want NoTriggerNodesError", err)
	}

	all, _ := executions.FindByWorkflowID(context.Background(), "wf-cyclic")
	if len(all) != 0 {
		t.Error("execution record created despite NoTriggerNodes")
	}
}

func TestExecuteNoExecutorForNodeType(t *testing.T) {
	wf := &flow.Workflow{
		ID:    "wf-noexec",
		Nodes: []flow.Node{{ID: "A", Type: "mystery", Name: "A"}},
	}

	engine, _ := newTestEngine(t, wf)

	exec, err := engine.Execute(context.Background(), "wf-noexec", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if exec.Status != flow.StatusFailed {
		t.Fatalf("status = %s, want FAILED", exec.Status)
	}
	if !strings.Contains(exec.ErrorMessage, "mystery") {
		t.Errorf("errorMessage %q does not name the node type", exec.ErrorMessage)
	}
}

func TestExecuteEmptyInputSingleNode(t *testing.T) {
	wf := &flow.Workflow{
		ID:    "wf-single",
		Nodes: []flow.Node{{ID: "A", Type: "echo", Name: "A"}},
	}

	log := newInvocationLog()
	engine, _ := newTestEngine(t, wf, echoExecutor(log))

	exec, err := engine.Execute(context.Background(), "wf-single", map[string]any{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if exec.Status != flow.StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS (error: %s)", exec.Status, exec.ErrorMessage)
	}

	inputs := log.inputsFor("A")
	if len(inputs) != 1 || inputs[0] == nil || len(inputs[0]) != 0 {
		t.Errorf("A received %v, want empty map", inputs)
	}
	if len(exec.NodeExecutions) != 1 {
		t.Errorf("nodeExecutions length = %d, want 1", len(exec.NodeExecutions))
	}
}

func TestExecuteTriggerTypeAttribution(t *testing.T) {
	wf := &flow.Workflow{
		ID:    "wf-attr",
		Nodes: []flow.Node{{ID: "A", Type: "echo", Name: "A"}},
	}

	log := newInvocationLog()
	engine, _ := newTestEngine(t, wf, echoExecutor(log))

	tests := []struct {
		input map[string]any
		want  flow.TriggerType
	}{
		{nil, flow.TriggerManual},
		{map[string]any{"triggerType": "schedule"}, flow.TriggerSchedule},
		{map[string]any{"triggerType": "file_event"}, flow.TriggerFileEvent},
	}
	for _, tt := range tests {
		exec, err := engine.Execute(context.Background(), "wf-attr", tt.input)
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if exec.TriggerType != tt.want {
			t.Errorf("triggerType = %s for input %v, want %s", exec.TriggerType, tt.input, tt.want)
		}
	}
}
