package trigger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/dshills/flowrun-go/flow"
	"github.com/dshills/flowrun-go/flow/store"
)

func TestGlobToRegexp(t *testing.T) {
	tests := []struct {
		glob  string
		name  string
		match bool
	}{
		{"*.csv", "report.csv", true},
		{"*.csv", "report.csv.bak", false},
		{"*.csv", "data.txt", false},
		{"data-?.json", "data-1.json", true},
		{"data-?.json", "data-10.json", false},
		{"*", "anything.at.all", true},
		{"", "anything.at.all", true},
		{"exact.txt", "exact.txt", true},
		{"a+b.txt", "a+b.txt", true},
		{"a+b.txt", "aab.txt", false},
	}

	for _, tt := range tests {
		rx, err := GlobToRegexp(tt.glob)
		if err != nil {
			t.Fatalf("GlobToRegexp(%q) failed: %v", tt.glob, err)
		}
		if got := rx.MatchString(tt.name); got != tt.match {
			t.Errorf("glob %q against %q = %v, want %v", tt.glob, tt.name, got, tt.match)
		}
	}
}

func TestParseEventTypes(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []string
	}{
		{"absent", nil, []string{FileEventCreate, FileEventModify, FileEventDelete}},
		{"empty", "", []string{FileEventCreate, FileEventModify, FileEventDelete}},
		{"single", "CREATE", []string{FileEventCreate}},
		{"mixed case with spaces", " create , Modify ", []string{FileEventCreate, FileEventModify}},
		{"legacy prefix", "ENTRY_DELETE", []string{FileEventDelete}},
		{"unknown kinds fall back to all", "EXPLODE", []string{FileEventCreate, FileEventModify, FileEventDelete}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseEventTypes(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("parseEventTypes(%v) = %v, want %v", tt.in, got, tt.want)
			}
			for _, kind := range tt.want {
				if !got[kind] {
					t.Errorf("parseEventTypes(%v) missing %s", tt.in, kind)
				}
			}
		})
	}
}

func TestEventKind(t *testing.T) {
	tests := []struct {
		op   fsnotify.Op
		want string
	}{
		{fsnotify.Create, FileEventCreate},
		{fsnotify.Write, FileEventModify},
		{fsnotify.Remove, FileEventDelete},
		{fsnotify.Rename, FileEventDelete},
		{fsnotify.Chmod, ""},
	}
	for _, tt := range tests {
		if got := eventKind(tt.op); got != tt.want {
			t.Errorf("eventKind(%v) = %q, want %q", tt.op, got, tt.want)
		}
	}
}

func fileWorkflow(id, watchPath, pattern, events string) *flow.Workflow {
	params := map[string]any{"watchPath": watchPath}
	if pattern != "" {
		params["filePattern"] = pattern
	}
	if events != "" {
		params["eventTypes"] = events
	}
	return &flow.Workflow{
		ID:          id,
		Name:        "file watcher " + id,
		TriggerType: flow.TriggerFileEvent,
		Active:      true,
		Nodes:       []flow.Node{{ID: "start", Name: "Start", Type: "echo", Parameters: params}},
	}
}

func newTestFileTrigger(t *testing.T, sub Submitter) *FileTrigger {
	t.Helper()
	ft, err := NewFileTrigger(sub, store.NewMemWorkflowStore(), flow.SystemClock{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFileTrigger failed: %v", err)
	}
	t.Cleanup(ft.Stop)
	return ft
}

func TestFileTriggerFiresOnMatchingCreate(t *testing.T) {
	dir := t.TempDir()
	sub := newFakeSubmitter()
	ft := newTestFileTrigger(t, sub)

	ft.Register(fileWorkflow("wf1", dir, "*.csv", "CREATE"))

	if err := os.WriteFile(filepath.Join(dir, "report.csv"), []byte("a,b\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	select {
	case got := <-sub.ch:
		if got.workflowID != "wf1" {
			t.Errorf("submitted workflow %s", got.workflowID)
		}
		if got.input[flow.KeyTriggerType] != "file_event" {
			t.Errorf("triggerType = %v", got.input[flow.KeyTriggerType])
		}
		if got.input["eventType"] != FileEventCreate {
			t.Errorf("eventType = %v", got.input["eventType"])
		}
		if got.input["fileName"] != "report.csv" {
			t.Errorf("fileName = %v", got.input["fileName"])
		}
		if got.input["directory"] != dir {
			t.Errorf("directory = %v", got.input["directory"])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("matching create never produced a submission")
	}
}

func TestFileTriggerIgnoresNonMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	sub := newFakeSubmitter()
	ft := newTestFileTrigger(t, sub)

	ft.Register(fileWorkflow("wf1", dir, "*.csv", "CREATE"))

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	select {
	case got := <-sub.ch:
		t.Errorf("non-matching file produced a submission: %v", got.input)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestFileTriggerMissingWatchPathAbandoned(t *testing.T) {
	sub := newFakeSubmitter()
	ft := newTestFileTrigger(t, sub)

	wf := fileWorkflow("wf1", "", "", "")
	delete(wf.Nodes[0].Parameters, "watchPath")
	ft.Register(wf)

	if got := ft.Registered(); len(got) != 0 {
		t.Errorf("Registered = %v, want empty", got)
	}
}

func TestFileTriggerUnregister(t *testing.T) {
	dir := t.TempDir()
	sub := newFakeSubmitter()
	ft := newTestFileTrigger(t, sub)

	ft.Register(fileWorkflow("wf1", dir, "", ""))
	if !ft.Unregister("wf1") {
		t.Fatal("Unregister returned false for a registered workflow")
	}
	if ft.Unregister("wf1") {
		t.Error("second Unregister returned true")
	}

	if err := os.WriteFile(filepath.Join(dir, "late.csv"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	select {
	case got := <-sub.ch:
		t.Errorf("unregistered workflow produced a submission: %v", got.input)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestFileTriggerStartTracksStoreEvents(t *testing.T) {
	dir := t.TempDir()
	sub := newFakeSubmitter()
	ws := store.NewMemWorkflowStore()
	if err := ws.Put(fileWorkflow("wf1", dir, "", "")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	ft, err := NewFileTrigger(sub, ws, flow.SystemClock{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFileTrigger failed: %v", err)
	}
	defer ft.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ft.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got := ft.Registered(); len(got) != 1 || got[0] != "wf1" {
		t.Fatalf("Registered after Start = %v, want [wf1]", got)
	}

	if !ws.Delete("wf1") {
		t.Fatal("Delete returned false")
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(ft.Registered()) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("deleted workflow is still registered")
}
