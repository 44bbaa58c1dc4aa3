package decision

import (
	"context"
	"testing"

	"github.com/weaveflow/weaveflow/internal/node"
)

func TestDecision_Execute(t *testing.T) {
	d := New()

	tests := []struct {
		name       string
		config     map[string]any
		ports      map[string]any
		variables  map[string]any
		wantPath   string
		wantErr    bool
	}{
		{
			name:     "true branch from config",
			config:   map[string]any{ConditionKey: "variables.count > 10"},
			variables: map[string]any{"count": 42},
			wantPath: TrueOutput,
		},
		{
			name:     "false branch from config",
			config:   map[string]any{ConditionKey: "variables.count > 10"},
			variables: map[string]any{"count": 1},
			wantPath: FalseOutput,
		},
		{
			name:     "template-wrapped condition",
			config:   map[string]any{ConditionKey: "{{ ports.status == \"success\" }}"},
			ports:    map[string]any{"status": "success"},
			wantPath: TrueOutput,
		},
		{
			name:     "condition from port when config absent",
			ports:    map[string]any{ConditionKey: "variables.ready == true"},
			variables: map[string]any{"ready": true},
			wantPath: TrueOutput,
		},
		{
			name:    "missing condition errors",
			wantErr: true,
		},
		{
			name:    "non-boolean result errors",
			config:  map[string]any{ConditionKey: "1 + 1"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := d.Execute(context.Background(), node.Input{
				Config:    tt.config,
				Ports:     tt.ports,
				Variables: tt.variables,
			})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			dr, ok := node.AsDecisionResult(out)
			if !ok {
				t.Fatalf("output did not parse as a decision result: %v", out)
			}
			if dr.ActivePath != tt.wantPath {
				t.Errorf("active_path = %q, want %q", dr.ActivePath, tt.wantPath)
			}
		})
	}
}

func TestDecision_Describe(t *testing.T) {
	desc := New().Describe()
	if desc.Type != NodeType {
		t.Errorf("Type = %q, want %q", desc.Type, NodeType)
	}
	if len(desc.OutputPorts) != 2 {
		t.Errorf("expected two output ports, got %v", desc.OutputPorts)
	}
}
