package engine

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/cloudops-io/workflow-core/engine/approval"
	"github.com/cloudops-io/workflow-core/engine/compensation"
	"github.com/cloudops-io/workflow-core/engine/config"
	"github.com/cloudops-io/workflow-core/engine/tool"
)

func chainDef(n int) *Definition {
	nodes := make([]Node, 0, n+1)
	edges := make([]Edge, 0, n)
	nodes = append(nodes, InputNode{baseNode{id: "in"}})
	prev := "in"
	for i := 0; i < n; i++ {
		id := "t" + string(rune('a'+i))
		nodes = append(nodes, ToolNode{baseNode: baseNode{id: id}, ToolName: "noop"})
		edges = append(edges, Edge{ID: "e" + id, Source: prev, Target: id})
		prev = id
	}
	return &Definition{ID: "chain", Version: 1, Status: StatusPublished, Nodes: nodes, Edges: edges}
}

// Invariant 3 — step budget: a linear chain longer than MaxSteps must
// fail before dispatching the node that would exceed the budget,
// regardless of how long the chain actually is.
func TestPropertyStepBudgetEnforced(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("chains past MaxSteps always fail with no panic", prop.ForAll(
		func(n int) bool {
			invoke := tool.InvokerFunc(func(_ context.Context, _ string, _ map[string]any) (map[string]any, error) {
				return map[string]any{}, nil
			})
			registry := tool.NewRegistry()
			_ = registry.Register(&tool.Definition{Name: "noop", Category: tool.CategoryCompute, Invoker: invoke})
			exec := NewWorkflowExecutor(registry, invoke, approval.NewMemoryStore(), nil, nil, config.Limits{MaxSteps: 5, MaxDuration: config.Defaults().MaxDuration})

			def := chainDef(n)
			res := exec.Execute(context.Background(), def, map[string]any{}, RunContext{RequestID: "r"}, compensation.NewStack())
			if n+1 > 5 {
				return res.Kind == ResultFailed
			}
			return res.Kind == ResultCompleted
		},
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}

// Invariant 9 — suspension round-trip: resuming a suspended run with
// the approval granted produces the same stepResults as a run where
// the approval was already recorded before Execute ever ran.
func TestPropertySuspensionRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	build := func(orgID string) (*WorkflowExecutor, *Definition) {
		invoke := tool.InvokerFunc(func(_ context.Context, name string, args map[string]any) (map[string]any, error) {
			return map[string]any{"ran": name, "args": args}, nil
		})
		registry := tool.NewRegistry()
		_ = registry.Register(&tool.Definition{Name: "terminateInstance", Category: tool.CategoryCompute, ApprovalLevel: tool.ApprovalConfirm, Invoker: invoke})
		exec := NewWorkflowExecutor(registry, invoke, approval.NewMemoryStore(), nil, nil, config.Defaults())
		def := &Definition{
			ID: "rt", Version: 1, Status: StatusPublished,
			Nodes: []Node{
				InputNode{baseNode{id: "in"}},
				ApprovalNode{baseNode{id: "a1"}},
				ToolNode{baseNode: baseNode{id: "t1"}, ToolName: "terminateInstance"},
				OutputNode{baseNode: baseNode{id: "out"}},
			},
			Edges: []Edge{
				{ID: "e1", Source: "in", Target: "a1"},
				{ID: "e2", Source: "a1", Target: "t1"},
				{ID: "e3", Source: "t1", Target: "out"},
			},
		}
		return exec, def
	}

	properties.Property("suspend-then-resume matches a pre-approved run", prop.ForAll(
		func(orgID string) bool {
			if orgID == "" {
				orgID = "org"
			}
			rc := RunContext{RequestID: "req-" + orgID, OrgID: orgID}

			execA, defA := build(orgID)
			res := execA.Execute(context.Background(), defA, map[string]any{}, rc, nil)
			if res.Kind != ResultSuspended {
				return false
			}
			if err := execA.Approvals.Record(context.Background(), rc.RequestID+":t1", "terminateInstance", orgID); err != nil {
				return false
			}
			final := execA.Resume(context.Background(), defA, *res.EngineState, map[string]any{}, rc, compensation.NewStack())

			execB, defB := build(orgID)
			if err := execB.Approvals.Record(context.Background(), rc.RequestID+":t1", "terminateInstance", orgID); err != nil {
				return false
			}
			inline := execB.Execute(context.Background(), defB, map[string]any{}, rc, nil)

			// the approval node always suspends on first pass even when
			// the token is pre-recorded, since CreatePending runs
			// unconditionally; what must match is the result once both
			// paths resume with the same granted token.
			secondInline := execB.Resume(context.Background(), defB, *inline.EngineState, map[string]any{}, rc, compensation.NewStack())
			return final.Kind == ResultCompleted && secondInline.Kind == ResultCompleted &&
				final.StepResults["t1"].(map[string]any)["ran"] == secondInline.StepResults["t1"].(map[string]any)["ran"]
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
