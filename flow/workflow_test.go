package flow

import (
	"encoding/json"
	"testing"
)

func TestTriggerNodes(t *testing.T) {
	tests := []struct {
		name string
		wf   Workflow
		want []string
	}{
		{
			name: "single entry",
			wf: Workflow{
				Nodes: []Node{{ID: "a"}, {ID: "b"}},
				Connections: []Connection{
					{SourceNodeID: "a", TargetNodeID: "b"},
				},
			},
			want: []string{"a"},
		},
		{
			name: "multiple entries in declaration order",
			wf: Workflow{
				Nodes: []Node{{ID: "z"}, {ID: "a"}, {ID: "m"}},
			},
			want: []string{"z", "a", "m"},
		},
		{
			name: "no entries when all nodes have incoming edges",
			wf: Workflow{
				Nodes: []Node{{ID: "a"}, {ID: "b"}},
				Connections: []Connection{
					{SourceNodeID: "a", TargetNodeID: "b"},
					{SourceNodeID: "b", TargetNodeID: "a"},
				},
			},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.wf.TriggerNodes()
			if len(got) != len(tt.want) {
				t.Fatalf("TriggerNodes() returned %d nodes, want %d", len(got), len(tt.want))
			}
			for i, n := range got {
				if n.ID != tt.want[i] {
					t.Errorf("TriggerNodes()[%d] = %s, want %s", i, n.ID, tt.want[i])
				}
			}
		})
	}
}

func TestOutgoingConnectionsOrder(t *testing.T) {
	wf := Workflow{
		Nodes: []Node{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		Connections: []Connection{
			{ID: "1", SourceNodeID: "a", TargetNodeID: "b"},
			{ID: "2", SourceNodeID: "b", TargetNodeID: "c"},
			{ID: "3", SourceNodeID: "a", TargetNodeID: "c"},
		},
	}

	out := wf.OutgoingConnections("a")
	if len(out) != 2 {
		t.Fatalf("expected 2 outgoing connections, got %d", len(out))
	}
	if out[0].ID != "1" || out[1].ID != "3" {
		t.Errorf("connections out of declaration order: %s, %s", out[0].ID, out[1].ID)
	}
}

func TestConnectionMatchesBranch(t *testing.T) {
	tests := []struct {
		sourceOutput string
		branch       string
		want         bool
	}{
		{"", "yes", true},
		{"main", "yes", true},
		{"yes", "yes", true},
		{"no", "yes", false},
		{"loop", "yes", false},
	}

	for _, tt := range tests {
		c := Connection{SourceOutput: tt.sourceOutput}
		if got := c.matchesBranch(tt.branch); got != tt.want {
			t.Errorf("matchesBranch(%q) with sourceOutput=%q = %v, want %v",
				tt.branch, tt.sourceOutput, got, tt.want)
		}
	}
}

func TestWorkflowValidate(t *testing.T) {
	tests := []struct {
		name    string
		wf      Workflow
		wantErr bool
	}{
		{
			name: "valid linear workflow",
			wf: Workflow{
				Nodes: []Node{{ID: "a"}, {ID: "b"}},
				Connections: []Connection{
					{SourceNodeID: "a", TargetNodeID: "b"},
				},
			},
		},
		{
			name: "duplicate node IDs",
			wf: Workflow{
				Nodes: []Node{{ID: "a"}, {ID: "a"}},
			},
			wantErr: true,
		},
		{
			name: "empty node ID",
			wf: Workflow{
				Nodes: []Node{{ID: ""}},
			},
			wantErr: true,
		},
		{
			name: "connection references unknown node",
			wf: Workflow{
				Nodes: []Node{{ID: "a"}},
				Connections: []Connection{
					{SourceNodeID: "a", TargetNodeID: "ghost"},
				},
			},
			wantErr: true,
		},
		{
			name: "cycle along non-loop edges",
			wf: Workflow{
				Nodes: []Node{{ID: "a"}, {ID: "b"}, {ID: "c"}},
				Connections: []Connection{
					{SourceNodeID: "a", TargetNodeID: "b"},
					{SourceNodeID: "b", TargetNodeID: "c"},
					{SourceNodeID: "c", TargetNodeID: "b"},
				},
			},
			wantErr: true,
		},
		{
			name: "loop edge closing a cycle is allowed",
			wf: Workflow{
				Nodes: []Node{{ID: "a"}, {ID: "b"}},
				Connections: []Connection{
					{SourceNodeID: "a", TargetNodeID: "b"},
					{SourceNodeID: "b", TargetNodeID: "b", SourceOutput: OutputLoop},
				},
			},
		},
		{
			name: "empty workflow is valid",
			wf:   Workflow{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.wf.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWorkflowJSONRoundTrip(t *testing.T) {
	wf := Workflow{
		ID:   "wf-1",
		Name: "demo",
		Nodes: []Node{
			{ID: "a", Type: "echo", Name: "Entry", Position: Position{X: 10, Y: 20},
				Parameters: map[string]any{"k": "v"}, Disabled: true},
		},
		Connections: []Connection{
			{ID: "c1", SourceNodeID: "a", TargetNodeID: "a", SourceOutput: "loop"},
		},
		TriggerType:    TriggerSchedule,
		CronExpression: "*/5 * * * *",
		Active:         true,
		Version:        3,
	}

	data, err := json.Marshal(wf)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var got Workflow
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if got.ID != wf.ID || got.Name != wf.Name || got.Version != wf.Version ||
		got.CronExpression != wf.CronExpression || !got.Active {
		t.Errorf("round-trip lost workflow fields: %+v", got)
	}
	if len(got.Nodes) != 1 || !got.Nodes[0].Disabled || got.Nodes[0].Parameters["k"] != "v" {
		t.Errorf("round-trip lost node fields: %+v", got.Nodes)
	}
	if len(got.Connections) != 1 || !got.Connections[0].IsLoop() {
		t.Errorf("round-trip lost connection fields: %+v", got.Connections)
	}
}
