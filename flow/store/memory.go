// Package store provides workflow, execution and credential store
// implementations: in-memory for testing and single-process use, and
// SQLite/MySQL-backed stores for persistence.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dshills/flowrun-go/flow"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// MemWorkflowStore is an in-memory flow.WorkflowStore with mutation
// methods and change-event publication.
//
// Designed for:
//   - Testing and development
//   - Single-process hosts that load workflows from files at startup
//
// MemWorkflowStore is thread-safe. It also implements
// flow.WorkflowPublisher: triggers subscribe to re-arm on changes, so
// the dependency stays unidirectional (store publishes, triggers
// listen).
type MemWorkflowStore struct {
	mu        sync.RWMutex
	workflows map[string]*flow.Workflow
	order     []string

	subMu   sync.Mutex
	subs    map[int]chan flow.WorkflowEvent
	nextSub int
}

// NewMemWorkflowStore creates an empty in-memory workflow store.
func NewMemWorkflowStore() *MemWorkflowStore {
	return &MemWorkflowStore{
		workflows: make(map[string]*flow.Workflow),
		subs:      make(map[int]chan flow.WorkflowEvent),
	}
}

// Put inserts or replaces a workflow. The store owns versioning: on
// replace, the stored version is incremented regardless of the version
// on the incoming value.
func (m *MemWorkflowStore) Put(w *flow.Workflow) error {
	if w == nil || w.ID == "" {
		return fmt.Errorf("workflow must have an ID")
	}
	copied, err := copyWorkflow(w)
	if err != nil {
		return err
	}

	m.mu.Lock()
	prev, existed := m.workflows[w.ID]
	if existed {
		copied.Version = prev.Version + 1
	} else {
		if copied.Version == 0 {
			copied.Version = 1
		}
		m.order = append(m.order, w.ID)
	}
	m.workflows[w.ID] = copied
	m.mu.Unlock()

	kind := flow.WorkflowCreated
	if existed {
		kind = flow.WorkflowUpdated
	}
	m.publish(flow.WorkflowEvent{Kind: kind, Workflow: copied})
	return nil
}

// Delete removes a workflow and reports whether it existed.
func (m *MemWorkflowStore) Delete(id string) bool {
	m.mu.Lock()
	w, existed := m.workflows[id]
	if existed {
		delete(m.workflows, id)
		for i, oid := range m.order {
			if oid == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()

	if existed {
		m.publish(flow.WorkflowEvent{Kind: flow.WorkflowDeleted, Workflow: w})
	}
	return existed
}

// SetActive toggles a workflow's active flag and publishes the
// corresponding activation event.
func (m *MemWorkflowStore) SetActive(id string, active bool) error {
	m.mu.Lock()
	w, ok := m.workflows[id]
	if !ok {
		m.mu.Unlock()
		return &flow.WorkflowNotFoundError{WorkflowID: id}
	}
	w.Active = active
	m.mu.Unlock()

	kind := flow.WorkflowActivated
	if !active {
		kind = flow.WorkflowDeactivated
	}
	m.publish(flow.WorkflowEvent{Kind: kind, Workflow: w})
	return nil
}

// FindByID implements flow.WorkflowStore.
func (m *MemWorkflowStore) FindByID(_ context.Context, id string) (*flow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.workflows[id]
	if !ok {
		return nil, &flow.WorkflowNotFoundError{WorkflowID: id}
	}
	return copyWorkflow(w)
}

// FindAll implements flow.WorkflowStore. Workflows are returned in
// insertion order.
func (m *MemWorkflowStore) FindAll(_ context.Context) ([]*flow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*flow.Workflow, 0, len(m.order))
	for _, id := range m.order {
		w, err := copyWorkflow(m.workflows[id])
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// FindByTriggerType implements flow.WorkflowStore.
func (m *MemWorkflowStore) FindByTriggerType(ctx context.Context, t flow.TriggerType) ([]*flow.Workflow, error) {
	all, err := m.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, w := range all {
		if w.TriggerType == t {
			out = append(out, w)
		}
	}
	return out, nil
}

// FindActiveScheduled implements flow.WorkflowStore.
func (m *MemWorkflowStore) FindActiveScheduled(ctx context.Context) ([]*flow.Workflow, error) {
	all, err := m.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, w := range all {
		if w.Active && w.TriggerType == flow.TriggerSchedule && w.CronExpression != "" {
			out = append(out, w)
		}
	}
	return out, nil
}

// Subscribe implements flow.WorkflowPublisher. The returned cancel
// function detaches the subscription and closes the channel. Events are
// delivered best-effort; a subscriber that stops draining loses events
// rather than blocking publishers.
func (m *MemWorkflowStore) Subscribe() (<-chan flow.WorkflowEvent, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan flow.WorkflowEvent, 16)
	m.subs[id] = ch

	cancel := func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (m *MemWorkflowStore) publish(ev flow.WorkflowEvent) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// copyWorkflow deep-copies a workflow via JSON round-trip so callers
// never alias the store's internal record.
func copyWorkflow(w *flow.Workflow) (*flow.Workflow, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, &flow.DataParsingError{Field: "workflow", Message: "serialize failed", Cause: err}
	}
	var out flow.Workflow
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &flow.DataParsingError{Field: "workflow", Message: "deserialize failed", Cause: err}
	}
	return &out, nil
}

// MemExecutionStore is an in-memory flow.ExecutionStore.
//
// Records are deep-copied on both save and read, so the engine's live
// record and the caller's query results never alias. Thread-safe.
type MemExecutionStore struct {
	mu         sync.RWMutex
	executions map[string]*flow.Execution
}

// NewMemExecutionStore creates an empty in-memory execution store.
func NewMemExecutionStore() *MemExecutionStore {
	return &MemExecutionStore{
		executions: make(map[string]*flow.Execution),
	}
}

// Save implements flow.ExecutionStore. Inserts or replaces by ID.
func (m *MemExecutionStore) Save(_ context.Context, exec *flow.Execution) error {
	copied, err := copyExecution(exec)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[exec.ID] = copied
	return nil
}

// FindByID implements flow.ExecutionStore.
func (m *MemExecutionStore) FindByID(_ context.Context, id string) (*flow.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exec, ok := m.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyExecution(exec)
}

// FindByWorkflowID implements flow.ExecutionStore: the workflow's
// executions, most recently started first.
func (m *MemExecutionStore) FindByWorkflowID(_ context.Context, workflowID string) ([]*flow.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*flow.Execution
	for _, exec := range m.executions {
		if exec.WorkflowID != workflowID {
			continue
		}
		copied, err := copyExecution(exec)
		if err != nil {
			return nil, err
		}
		out = append(out, copied)
	}
	sortByStartDesc(out)
	return out, nil
}

// FindRunning implements flow.ExecutionStore.
func (m *MemExecutionStore) FindRunning(_ context.Context) ([]*flow.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*flow.Execution
	for _, exec := range m.executions {
		if exec.Status != flow.StatusRunning {
			continue
		}
		copied, err := copyExecution(exec)
		if err != nil {
			return nil, err
		}
		out = append(out, copied)
	}
	sortByStartDesc(out)
	return out, nil
}

// FindByTimeRange implements flow.ExecutionStore: executions started
// within [from, to], most recent first.
func (m *MemExecutionStore) FindByTimeRange(_ context.Context, from, to time.Time) ([]*flow.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*flow.Execution
	for _, exec := range m.executions {
		if exec.StartedAt.Before(from) || exec.StartedAt.After(to) {
			continue
		}
		copied, err := copyExecution(exec)
		if err != nil {
			return nil, err
		}
		out = append(out, copied)
	}
	sortByStartDesc(out)
	return out, nil
}

// DeleteAll implements flow.ExecutionStore.
func (m *MemExecutionStore) DeleteAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions = make(map[string]*flow.Execution)
	return nil
}

func sortByStartDesc(execs []*flow.Execution) {
	sort.SliceStable(execs, func(i, j int) bool {
		return execs[i].StartedAt.After(execs[j].StartedAt)
	})
}

func copyExecution(exec *flow.Execution) (*flow.Execution, error) {
	data, err := json.Marshal(exec)
	if err != nil {
		return nil, &flow.DataParsingError{Field: "execution", Message: "serialize failed", Cause: err}
	}
	var out flow.Execution
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &flow.DataParsingError{Field: "execution", Message: "deserialize failed", Cause: err}
	}
	return &out, nil
}

// MemCredentialStore is an in-memory flow.CredentialStore. Secrets are
// held in plain memory; it exists for tests and local development.
type MemCredentialStore struct {
	mu      sync.RWMutex
	secrets map[string]string
	names   map[string]string
}

// NewMemCredentialStore creates an empty in-memory credential store.
func NewMemCredentialStore() *MemCredentialStore {
	return &MemCredentialStore{
		secrets: make(map[string]string),
		names:   make(map[string]string),
	}
}

// AddCredential stores a secret under an ID and display name.
func (m *MemCredentialStore) AddCredential(id, name, secret string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[id] = secret
	m.names[name] = id
}

// DecryptedByID implements flow.CredentialStore.
func (m *MemCredentialStore) DecryptedByID(_ context.Context, id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	secret, ok := m.secrets[id]
	if !ok {
		return "", fmt.Errorf("credential %s: %w", id, ErrNotFound)
	}
	return secret, nil
}

// FindByName implements flow.CredentialStore.
func (m *MemCredentialStore) FindByName(_ context.Context, name string) (*flow.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.names[name]
	if !ok {
		return nil, fmt.Errorf("credential %q: %w", name, ErrNotFound)
	}
	return &flow.Credential{ID: id, Name: name}, nil
}
