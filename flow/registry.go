package flow

import (
	"sort"
	"sync"
)

// Registry maps node types to Executor implementations.
//
// The registry is populated once at startup from built-in executors and
// again from the plugin loader; runtime register/unregister is
// supported. Reads (the engine) vastly outnumber writes (the loader),
// so the map is guarded by an RWMutex.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
	}
}

// Register adds an executor keyed by its NodeType. It fails with a
// DuplicateNodeTypeError if the type is already present; use Replace to
// override intentionally.
func (r *Registry) Register(ex Executor) error {
	if ex == nil {
		return &UnknownNodeTypeError{NodeType: ""}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t := ex.NodeType()
	if _, exists := r.executors[t]; exists {
		return &DuplicateNodeTypeError{NodeType: t}
	}

	r.executors[t] = ex
	return nil
}

// Replace registers an executor, overriding any prior registration for
// the same node type. It reports whether a prior registration existed.
// The plugin loader uses this for declared collisions.
func (r *Registry) Replace(ex Executor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := ex.NodeType()
	_, existed := r.executors[t]
	r.executors[t] = ex
	return existed
}

// Unregister removes the executor for the node type and reports whether
// one was present.
func (r *Registry) Unregister(nodeType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, existed := r.executors[nodeType]
	delete(r.executors, nodeType)
	return existed
}

// Get returns the executor for the node type, or an UnknownNodeTypeError.
func (r *Registry) Get(nodeType string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ex, ok := r.executors[nodeType]
	if !ok {
		return nil, &UnknownNodeTypeError{NodeType: nodeType}
	}
	return ex, nil
}

// Has reports whether an executor is registered for the node type.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.executors[nodeType]
	return ok
}

// Types returns the registered node types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
