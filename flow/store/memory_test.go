package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dshills/flowrun-go/flow"
)

func sampleExecution(id, workflowID string, status flow.ExecutionStatus, started time.Time) *flow.Execution {
	finished := started.Add(42 * time.Millisecond)
	return &flow.Execution{
		ID:          id,
		WorkflowID:  workflowID,
		TriggerType: flow.TriggerManual,
		Status:      status,
		StartedAt:   started,
		FinishedAt:  &finished,
		InputData:   map[string]any{"x": float64(1)},
		OutputData:  map[string]any{"y": "done"},
		NodeExecutions: []flow.NodeExecution{
			{NodeID: "n1", Status: flow.StatusSuccess, StartedAt: started, FinishedAt: finished,
				Output: map[string]any{"y": "done"}},
		},
	}
}

func TestMemExecutionStoreRoundTrip(t *testing.T) {
	s := NewMemExecutionStore()
	ctx := context.Background()

	orig := sampleExecution("e1", "wf1", flow.StatusSuccess, time.Now().UTC())
	if err := s.Save(ctx, orig); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.FindByID(ctx, "e1")
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}

	if got.ID != orig.ID || got.WorkflowID != orig.WorkflowID ||
		got.TriggerType != orig.TriggerType || got.Status != orig.Status {
		t.Errorf("round-trip lost identity fields: %+v", got)
	}
	if got.InputData["x"] != float64(1) || got.OutputData["y"] != "done" {
		t.Errorf("round-trip lost payload: in=%v out=%v", got.InputData, got.OutputData)
	}
	if len(got.NodeExecutions) != 1 || got.NodeExecutions[0].NodeID != "n1" {
		t.Errorf("round-trip lost node executions: %+v", got.NodeExecutions)
	}
	if got.FinishedAt == nil || got.FinishedAt.Before(got.StartedAt) {
		t.Error("round-trip broke the finishedAt invariant")
	}

	// Stored record must not alias the caller's.
	orig.OutputData["y"] = "mutated"
	again, _ := s.FindByID(ctx, "e1")
	if again.OutputData["y"] != "done" {
		t.Error("store aliases the caller's maps")
	}
}

func TestMemExecutionStoreFindByIDMissing(t *testing.T) {
	s := NewMemExecutionStore()
	if _, err := s.FindByID(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindByID returned %v, want ErrNotFound", err)
	}
}

func TestMemExecutionStoreQueries(t *testing.T) {
	s := NewMemExecutionStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	_ = s.Save(ctx, sampleExecution("e1", "wf1", flow.StatusSuccess, base))
	_ = s.Save(ctx, sampleExecution("e2", "wf1", flow.StatusRunning, base.Add(time.Hour)))
	_ = s.Save(ctx, sampleExecution("e3", "wf2", flow.StatusFailed, base.Add(2*time.Hour)))

	t.Run("by workflow most recent first", func(t *testing.T) {
		got, err := s.FindByWorkflowID(ctx, "wf1")
		if err != nil {
			t.Fatalf("FindByWorkflowID failed: %v", err)
		}
		if len(got) != 2 || got[0].ID != "e2" || got[1].ID != "e1" {
			t.Errorf("unexpected order: %v", ids(got))
		}
	})

	t.Run("running only", func(t *testing.T) {
		got, err := s.FindRunning(ctx)
		if err != nil {
			t.Fatalf("FindRunning failed: %v", err)
		}
		if len(got) != 1 || got[0].ID != "e2" {
			t.Errorf("FindRunning = %v", ids(got))
		}
	})

	t.Run("time range inclusive", func(t *testing.T) {
		got, err := s.FindByTimeRange(ctx, base, base.Add(time.Hour))
		if err != nil {
			t.Fatalf("FindByTimeRange failed: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("FindByTimeRange = %v", ids(got))
		}
	})

	t.Run("delete all", func(t *testing.T) {
		if err := s.DeleteAll(ctx); err != nil {
			t.Fatalf("DeleteAll failed: %v", err)
		}
		got, _ := s.FindByWorkflowID(ctx, "wf1")
		if len(got) != 0 {
			t.Errorf("executions remain after DeleteAll: %v", ids(got))
		}
	})
}

func ids(execs []*flow.Execution) []string {
	out := make([]string, len(execs))
	for i, e := range execs {
		out[i] = e.ID
	}
	return out
}

func TestMemWorkflowStoreVersioningAndEvents(t *testing.T) {
	s := NewMemWorkflowStore()
	ctx := context.Background()

	events, cancel := s.Subscribe()
	defer cancel()

	wf := &flow.Workflow{ID: "wf1", Name: "demo", TriggerType: flow.TriggerSchedule,
		CronExpression: "*/5 * * * *", Active: true,
		Nodes: []flow.Node{{ID: "a", Type: "echo"}}}
	if err := s.Put(wf); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := s.FindByID(ctx, "wf1")
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("initial version = %d, want 1", got.Version)
	}

	if err := s.Put(wf); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	got, _ = s.FindByID(ctx, "wf1")
	if got.Version != 2 {
		t.Errorf("version after update = %d, want 2", got.Version)
	}

	scheduled, err := s.FindActiveScheduled(ctx)
	if err != nil || len(scheduled) != 1 {
		t.Errorf("FindActiveScheduled = %v, %v", scheduled, err)
	}

	if err := s.SetActive("wf1", false); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}
	scheduled, _ = s.FindActiveScheduled(ctx)
	if len(scheduled) != 0 {
		t.Error("deactivated workflow still reported as scheduled")
	}

	wantKinds := []flow.WorkflowEventKind{flow.WorkflowCreated, flow.WorkflowUpdated, flow.WorkflowDeactivated}
	for _, want := range wantKinds {
		select {
		case ev := <-events:
			if ev.Kind != want {
				t.Errorf("event kind = %s, want %s", ev.Kind, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing %s event", want)
		}
	}

	if !s.Delete("wf1") {
		t.Error("Delete returned false")
	}
	if _, err := s.FindByID(ctx, "wf1"); err == nil {
		t.Error("workflow still present after Delete")
	}
}

func TestMemWorkflowStoreFindByIDMissing(t *testing.T) {
	s := NewMemWorkflowStore()
	_, err := s.FindByID(context.Background(), "ghost")
	var notFound *flow.WorkflowNotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("FindByID returned %v, want WorkflowNotFoundError", err)
	}
}

func TestMemCredentialStore(t *testing.T) {
	s := NewMemCredentialStore()
	s.AddCredential("cred-1", "openai-key", "sk-secret")
	ctx := context.Background()

	secret, err := s.DecryptedByID(ctx, "cred-1")
	if err != nil || secret != "sk-secret" {
		t.Errorf("DecryptedByID = %q, %v", secret, err)
	}

	cred, err := s.FindByName(ctx, "openai-key")
	if err != nil || cred.ID != "cred-1" {
		t.Errorf("FindByName = %+v, %v", cred, err)
	}

	if _, err := s.DecryptedByID(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing credential returned %v", err)
	}
}
