package flow

import "sync"

// StepController implements single-step debugging: when enabled, the
// engine blocks after each node until an external continue or cancel
// signal arrives.
//
// States: disabled (transparent pass-through), enabled+running, and
// enabled+paused at a node. At most one node is paused at a time. The
// controller is shared by all executions submitted to an engine; hosts
// wanting per-execution scoping can construct one controller per
// execution and swap it via WithStepController.
type StepController struct {
	mu           sync.Mutex
	enabled      bool
	cancelled    bool
	pausedNodeID string
	latch        chan bool
	listeners    []func(nodeID, nodeName string)
}

// NewStepController creates a controller in the disabled state.
func NewStepController() *StepController {
	return &StepController{}
}

// SetEnabled toggles step mode. Disabling while a node is paused
// releases the wait with "continue".
func (s *StepController) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enabled = enabled
	if !enabled && s.latch != nil {
		s.latch <- true
		s.latch = nil
		s.pausedNodeID = ""
	}
}

// Enabled reports whether step mode is active.
func (s *StepController) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// PausedNodeID returns the node currently paused at, or empty.
func (s *StepController) PausedNodeID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pausedNodeID
}

// AddListener registers a callback invoked whenever the engine pauses at
// a node. Callbacks run on the engine's task; keep them short.
func (s *StepController) AddListener(fn func(nodeID, nodeName string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// WaitForStep blocks the calling task until ContinueStep or
// CancelStepExecution is invoked. It returns true to continue past the
// node and false when the wait was cancelled. If step mode is disabled
// it returns true immediately.
func (s *StepController) WaitForStep(nodeID, nodeName string) bool {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return true
	}
	if s.cancelled {
		s.mu.Unlock()
		return false
	}

	latch := make(chan bool, 1)
	s.latch = latch
	s.pausedNodeID = nodeID
	listeners := make([]func(string, string), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(nodeID, nodeName)
	}

	cont := <-latch

	s.mu.Lock()
	if s.latch == latch {
		s.latch = nil
	}
	s.pausedNodeID = ""
	s.mu.Unlock()

	return cont
}

// ContinueStep releases the current wait, letting the engine proceed to
// the next node. No-op when nothing is paused.
func (s *StepController) ContinueStep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latch != nil {
		s.latch <- true
		s.latch = nil
	}
}

// CancelStepExecution releases the current wait with a cancel signal;
// the engine treats this as execution cancellation. The cancelled flag
// sticks until Reset so that later waits fail fast.
func (s *StepController) CancelStepExecution() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelled = true
	if s.latch != nil {
		s.latch <- false
		s.latch = nil
	}
}

// Reset clears the cancelled flag and paused node. The engine calls this
// at each execution start.
func (s *StepController) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelled = false
	s.pausedNodeID = ""
}
