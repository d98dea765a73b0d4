package trigger

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/dshills/flowrun-go/flow"
)

// File event kinds exposed to workflows.
const (
	FileEventCreate = "CREATE"
	FileEventModify = "MODIFY"
	FileEventDelete = "DELETE"
)

// FileTrigger submits workflow executions on filesystem events.
//
// Each registered workflow watches one directory (the trigger node's
// "watchPath" parameter) filtered by a glob ("filePattern", default
// everything) and an event-kind subset ("eventTypes", comma-separated
// subset of CREATE|MODIFY|DELETE, default all three).
//
// One OS-level watcher serves all registrations; directories are
// reference-counted so overlapping registrations share a watch.
// Registration is idempotent: re-registering a workflow replaces its
// prior registration. A missing or invalid watchPath is logged and the
// workflow abandoned.
type FileTrigger struct {
	submitter Submitter
	workflows flow.WorkflowStore
	clock     flow.Clock
	log       zerolog.Logger
	watcher   *fsnotify.Watcher

	mu      sync.Mutex
	regs    map[string]*watchReg
	dirRefs map[string]int
	stopped bool

	cancelWatch func()
	loopDone    chan struct{}
}

// watchReg is one workflow's file-watch registration.
type watchReg struct {
	workflowID   string
	workflowName string
	dir          string
	pattern      *regexp.Regexp
	events       map[string]bool
}

// NewFileTrigger creates a file trigger backed by one OS watcher.
func NewFileTrigger(submitter Submitter, workflows flow.WorkflowStore, clock flow.Clock, log zerolog.Logger) (*FileTrigger, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	t := &FileTrigger{
		submitter: submitter,
		workflows: workflows,
		clock:     clock,
		log:       log.With().Str("component", "file-trigger").Logger(),
		watcher:   watcher,
		regs:      make(map[string]*watchReg),
		dirRefs:   make(map[string]int),
		loopDone:  make(chan struct{}),
	}
	go t.eventLoop()
	return t, nil
}

// Start registers every active file-triggered workflow and subscribes
// to the store's change feed.
func (t *FileTrigger) Start(ctx context.Context) error {
	workflows, err := t.workflows.FindByTriggerType(ctx, flow.TriggerFileEvent)
	if err != nil {
		return err
	}
	for _, w := range workflows {
		if w.Active {
			t.Register(w)
		}
	}

	t.cancelWatch = watchWorkflowEvents(ctx, t.workflows, t.onWorkflowChange, func(id string) {
		t.Unregister(id)
	})
	return nil
}

func (t *FileTrigger) onWorkflowChange(w *flow.Workflow) {
	if w.Active && w.TriggerType == flow.TriggerFileEvent {
		t.Register(w)
		return
	}
	t.Unregister(w.ID)
}

// Register adds a watch for the workflow's trigger node. The prior
// registration for the same workflow, if any, is cancelled first.
func (t *FileTrigger) Register(w *flow.Workflow) {
	params := fileTriggerParams(w)
	watchPath, _ := params["watchPath"].(string)
	if watchPath == "" {
		t.log.Warn().Str("workflowId", w.ID).Msg("file trigger has no watchPath, workflow abandoned")
		return
	}
	watchPath = filepath.Clean(watchPath)

	pattern, _ := params["filePattern"].(string)
	rx, err := GlobToRegexp(pattern)
	if err != nil {
		t.log.Warn().Str("workflowId", w.ID).Str("filePattern", pattern).Err(err).
			Msg("invalid file pattern, workflow abandoned")
		return
	}

	events := parseEventTypes(params["eventTypes"])

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}

	t.unregisterLocked(w.ID)

	if t.dirRefs[watchPath] == 0 {
		if err := t.watcher.Add(watchPath); err != nil {
			t.log.Warn().Str("workflowId", w.ID).Str("watchPath", watchPath).Err(err).
				Msg("cannot watch path, workflow abandoned")
			return
		}
	}
	t.dirRefs[watchPath]++

	t.regs[w.ID] = &watchReg{
		workflowID:   w.ID,
		workflowName: w.Name,
		dir:          watchPath,
		pattern:      rx,
		events:       events,
	}

	t.log.Info().Str("workflowId", w.ID).Str("watchPath", watchPath).Msg("file watch registered")
}

// Unregister removes the workflow's watch and reports whether one
// existed. The underlying OS watch is dropped when no registration
// references the directory anymore.
func (t *FileTrigger) Unregister(workflowID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unregisterLocked(workflowID)
}

func (t *FileTrigger) unregisterLocked(workflowID string) bool {
	reg, ok := t.regs[workflowID]
	if !ok {
		return false
	}
	delete(t.regs, workflowID)

	t.dirRefs[reg.dir]--
	if t.dirRefs[reg.dir] <= 0 {
		delete(t.dirRefs, reg.dir)
		if err := t.watcher.Remove(reg.dir); err != nil {
			t.log.Debug().Str("watchPath", reg.dir).Err(err).Msg("watch removal failed")
		}
	}
	return true
}

// Registered returns the IDs of currently watched workflows.
func (t *FileTrigger) Registered() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.regs))
	for id := range t.regs {
		ids = append(ids, id)
	}
	return ids
}

// Stop tears down all registrations and the OS watcher.
func (t *FileTrigger) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.regs = make(map[string]*watchReg)
	t.dirRefs = make(map[string]int)
	t.mu.Unlock()

	if t.cancelWatch != nil {
		t.cancelWatch()
	}
	_ = t.watcher.Close()
	<-t.loopDone
}

// eventLoop dispatches watcher events to matching registrations until
// the watcher closes.
func (t *FileTrigger) eventLoop() {
	defer close(t.loopDone)
	for {
		select {
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			t.handleEvent(ev)
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.log.Warn().Err(err).Msg("watcher error")
		}
	}
}

func (t *FileTrigger) handleEvent(ev fsnotify.Event) {
	kind := eventKind(ev.Op)
	if kind == "" {
		return
	}

	dir := filepath.Dir(ev.Name)
	name := filepath.Base(ev.Name)

	t.mu.Lock()
	var matched []*watchReg
	for _, reg := range t.regs {
		if reg.dir == dir && reg.events[kind] && reg.pattern.MatchString(name) {
			matched = append(matched, reg)
		}
	}
	t.mu.Unlock()

	for _, reg := range matched {
		input := map[string]any{
			"triggeredAt":       t.clock.Now().Format(time.RFC3339Nano),
			flow.KeyTriggerType: "file_event",
			"eventType":         kind,
			"filePath":          ev.Name,
			"fileName":          name,
			"directory":         dir,
		}

		future := t.submitter.ExecuteAsync(context.Background(), reg.workflowID, input)
		go func(workflowID string) {
			if _, err := future.Wait(context.Background()); err != nil {
				t.log.Error().Str("workflowId", workflowID).Err(err).Msg("file-event submission failed")
			}
		}(reg.workflowID)
	}
}

// eventKind maps watcher ops to the wire-visible event kinds. Renames
// surface as DELETE of the old name; chmod-only events are dropped.
func eventKind(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return FileEventCreate
	case op.Has(fsnotify.Write):
		return FileEventModify
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return FileEventDelete
	default:
		return ""
	}
}

// fileTriggerParams returns the parameters of the workflow's first entry
// node, where file-trigger settings live.
func fileTriggerParams(w *flow.Workflow) map[string]any {
	for _, n := range w.TriggerNodes() {
		if len(n.Parameters) > 0 {
			return n.Parameters
		}
	}
	return nil
}

// GlobToRegexp translates a file glob to an anchored regular expression:
// "*" matches any run of characters, "?" any single character, and
// everything else is literal. An empty glob matches every file name.
func GlobToRegexp(glob string) (*regexp.Regexp, error) {
	if glob == "" {
		glob = "*"
	}

	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range glob {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}

// parseEventTypes parses the comma-separated eventTypes parameter into
// the kind set. Absent or empty means all three kinds.
func parseEventTypes(v any) map[string]bool {
	all := map[string]bool{FileEventCreate: true, FileEventModify: true, FileEventDelete: true}

	s, _ := v.(string)
	if strings.TrimSpace(s) == "" {
		return all
	}

	out := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		kind := strings.ToUpper(strings.TrimSpace(part))
		kind = strings.TrimPrefix(kind, "ENTRY_")
		if all[kind] {
			out[kind] = true
		}
	}
	if len(out) == 0 {
		return all
	}
	return out
}
