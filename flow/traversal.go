package flow

import (
	"context"
	"errors"
	"sync"
)

// traversal drives one execution's walk over the workflow graph.
type traversal struct {
	engine   *Engine
	workflow *Workflow
	state    *execState
	run      *runState
}

// executeNode runs one node and routes its output to children. It
// returns the node's own raw output, not its children's.
//
// Order of operations: cancellation check, disabled pass-through,
// executor invocation, post-execute cancellation check, the
// _stopExecution sentinel, the step-debug wait, branch filtering, loop
// expansion, and finally fan-out to the remaining edges.
func (t *traversal) executeNode(ctx context.Context, node Node, input map[string]any) (map[string]any, error) {
	if t.run.cancelled.Load() {
		return nil, &CancelledError{NodeID: node.ID, NodeType: node.Type}
	}

	log := t.engine.logger
	execID := t.state.executionID

	if node.Disabled {
		log.NodeSkip(execID, node.ID, node.Name, "node disabled")
		return t.route(ctx, node, input)
	}

	started := t.engine.clock.Now()
	log.NodeStart(execID, node.ID, node.Name)
	log.NodeInput(execID, node.ID, node.Name, input)

	executor, err := t.engine.registry.Get(node.Type)
	if err != nil {
		return nil, &NoExecutorError{NodeID: node.ID, NodeType: node.Type}
	}

	nc := &nodeContext{execState: t.state, node: node, input: input}
	output, execErr := executor.Execute(ctx, node, input, nc)
	finished := t.engine.clock.Now()
	duration := finished.Sub(started)

	if execErr != nil {
		log.NodeEnd(execID, node.ID, node.Name, false, duration)
		log.ErrorWithContext(execID, node.ID, node.Name, input, execErr)
		t.state.record(NodeExecution{
			NodeID:     node.ID,
			Status:     StatusFailed,
			StartedAt:  started,
			FinishedAt: finished,
			Error:      execErr.Error(),
		})
		t.engine.metrics.NodeExecuted(node.Type, false, duration)
		return nil, &NodeExecutionError{NodeID: node.ID, NodeType: node.Type, Cause: execErr}
	}

	log.NodeOutput(execID, node.ID, node.Name, output)
	log.NodeEnd(execID, node.ID, node.Name, true, duration)
	t.state.record(NodeExecution{
		NodeID:     node.ID,
		Status:     StatusSuccess,
		StartedAt:  started,
		FinishedAt: finished,
		Output:     output,
	})
	t.engine.metrics.NodeExecuted(node.Type, true, duration)

	if t.run.cancelled.Load() {
		return nil, &CancelledError{NodeID: node.ID, NodeType: node.Type}
	}

	if stop, ok := output[KeyStopExecution].(bool); ok && stop {
		return output, nil
	}

	if !t.engine.step.WaitForStep(node.ID, node.Name) {
		return nil, &CancelledError{NodeID: node.ID, NodeType: node.Type}
	}

	if _, err := t.route(ctx, node, output); err != nil {
		return nil, err
	}
	return output, nil
}

// route filters the node's outgoing connections by the selected branch,
// expands loop edges, and fans out to the remaining edges. It returns
// the routed output unchanged.
func (t *traversal) route(ctx context.Context, node Node, output map[string]any) (map[string]any, error) {
	outgoing := t.workflow.OutgoingConnections(node.ID)
	if len(outgoing) == 0 {
		return output, nil
	}

	eligible := outgoing
	if branch, ok := output[KeyBranch].(string); ok {
		eligible = nil
		for _, c := range outgoing {
			if c.matchesBranch(branch) {
				eligible = append(eligible, c)
			}
		}
	}

	var loops, normal []Connection
	for _, c := range eligible {
		if c.IsLoop() {
			loops = append(loops, c)
		} else {
			normal = append(normal, c)
		}
	}

	if len(loops) > 0 {
		if err := t.expandLoops(ctx, node, loops, output); err != nil {
			return nil, err
		}
	}

	switch len(normal) {
	case 0:
	case 1:
		target, ok := t.workflow.NodeByID(normal[0].TargetNodeID)
		if !ok {
			return nil, &DataParsingError{Field: "connection.targetNodeId",
				Message: "unknown target node: " + normal[0].TargetNodeID}
		}
		t.engine.logger.DataFlow(t.state.executionID, node.ID, target.ID, output)
		if _, err := t.executeNode(ctx, target, output); err != nil {
			return nil, err
		}
	default:
		if err := t.fanOut(ctx, node, normal, output); err != nil {
			return nil, err
		}
	}

	return output, nil
}

// expandLoops iterates each loop edge's target over the output's
// "results" list: one invocation per element, in element order, edges
// serialized in declaration order. Each iteration input starts from the
// output, spreads the element's item when it is a map, and sets "item"
// and "index".
func (t *traversal) expandLoops(ctx context.Context, node Node, loops []Connection, output map[string]any) error {
	results, ok := output[KeyResults].([]any)
	if !ok {
		return nil
	}

	for _, conn := range loops {
		target, found := t.workflow.NodeByID(conn.TargetNodeID)
		if !found {
			return &DataParsingError{Field: "connection.targetNodeId",
				Message: "unknown target node: " + conn.TargetNodeID}
		}

		for i, raw := range results {
			item := raw
			index := any(i)
			if elem, isMap := raw.(map[string]any); isMap {
				if v, has := elem["item"]; has {
					item = v
				}
				if v, has := elem["index"]; has {
					index = v
				}
			}

			iter := deepCopyMap(output)
			if itemMap, isMap := item.(map[string]any); isMap {
				for k, v := range itemMap {
					iter[k] = v
				}
			}
			iter["item"] = item
			iter["index"] = index

			t.engine.logger.DataFlow(t.state.executionID, node.ID, target.ID, iter)
			if _, err := t.executeNode(ctx, target, iter); err != nil {
				return err
			}
		}
	}
	return nil
}

// fanOut executes every target concurrently, each on its own goroutine
// with a deep-copied input so sibling executors never share mutable
// payloads. All siblings are awaited; the first error observed wins and
// is wrapped in a ParallelExecutionError. Siblings are not cancelled on
// a sibling failure, only by whole-execution cancellation.
func (t *traversal) fanOut(ctx context.Context, node Node, conns []Connection, output map[string]any) error {
	targets := make([]Node, len(conns))
	for i, c := range conns {
		target, ok := t.workflow.NodeByID(c.TargetNodeID)
		if !ok {
			return &DataParsingError{Field: "connection.targetNodeId",
				Message: "unknown target node: " + c.TargetNodeID}
		}
		targets[i] = target
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, target := range targets {
		branchInput := deepCopyMap(output)
		t.engine.logger.DataFlow(t.state.executionID, node.ID, target.ID, branchInput)

		wg.Add(1)
		go func(target Node, input map[string]any) {
			defer wg.Done()
			if _, err := t.executeNode(ctx, target, input); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(target, branchInput)
	}
	wg.Wait()

	if firstErr != nil {
		var cancelled *CancelledError
		if errors.As(firstErr, &cancelled) {
			return firstErr
		}
		return &ParallelExecutionError{Cause: firstErr}
	}
	return nil
}
