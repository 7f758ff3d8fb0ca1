package engine

import (
	"context"
	"testing"

	"github.com/cloudops-io/workflow-core/engine/approval"
	"github.com/cloudops-io/workflow-core/engine/compensation"
	"github.com/cloudops-io/workflow-core/engine/config"
	"github.com/cloudops-io/workflow-core/engine/tool"
)

func newTestExecutor(t *testing.T, invoke tool.InvokerFunc) (*WorkflowExecutor, *tool.Registry) {
	t.Helper()
	registry := tool.NewRegistry()
	return NewWorkflowExecutor(registry, invoke, approval.NewMemoryStore(), nil, nil, config.Defaults()), registry
}

func mustRegister(t *testing.T, r *tool.Registry, def *tool.Definition) {
	t.Helper()
	if err := r.Register(def); err != nil {
		t.Fatalf("register %s: %v", def.Name, err)
	}
}

// S1 — Linear success: input -> tool(listInstances) -> output.
func TestLinearSuccess(t *testing.T) {
	invoke := tool.InvokerFunc(func(_ context.Context, name string, _ map[string]any) (map[string]any, error) {
		if name != "listInstances" {
			t.Fatalf("unexpected tool invoked: %s", name)
		}
		return map[string]any{"instances": []any{map[string]any{"id": "i-1"}}}, nil
	})
	exec, registry := newTestExecutor(t, invoke)
	mustRegister(t, registry, &tool.Definition{Name: "listInstances", Category: tool.CategoryCompute, Invoker: invoke})

	def := &Definition{
		ID: "wf-1", Version: 1, Status: StatusPublished,
		Nodes: []Node{
			InputNode{baseNode{id: "in"}},
			ToolNode{baseNode: baseNode{id: "t1"}, ToolName: "listInstances"},
			OutputNode{baseNode: baseNode{id: "out"}},
		},
		Edges: []Edge{{ID: "e1", Source: "in", Target: "t1"}, {ID: "e2", Source: "t1", Target: "out"}},
	}

	res := exec.Execute(context.Background(), def, map[string]any{}, RunContext{RequestID: "run-1"}, nil)
	if res.Kind != ResultCompleted {
		t.Fatalf("expected Completed, got %s (err=%v)", res.Kind, res.Err)
	}
	t1, ok := res.StepResults["t1"].(map[string]any)
	if !ok {
		t.Fatalf("expected stepResults[t1] to be a map, got %T", res.StepResults["t1"])
	}
	if _, ok := t1["instances"]; !ok {
		t.Fatal("expected instances key in t1 result")
	}
	if res.Output["t1"] == nil {
		t.Fatal("expected output to carry stepResults verbatim (no outputMapping)")
	}
}

// Danger-level tools require the distinct high-privilege permission in
// addition to a consumed approval token (spec §4.4).
func TestDangerToolRequiresHighPrivilegePermission(t *testing.T) {
	invocations := 0
	invoke := tool.InvokerFunc(func(_ context.Context, _ string, _ map[string]any) (map[string]any, error) {
		invocations++
		return map[string]any{"deleted": true}, nil
	})
	exec, registry := newTestExecutor(t, invoke)
	mustRegister(t, registry, &tool.Definition{
		Name: "deleteDatabase", Category: tool.CategoryDatabase, ApprovalLevel: tool.ApprovalDanger, Invoker: invoke,
	})

	def := &Definition{
		ID: "wf-danger", Version: 1, Status: StatusPublished,
		Nodes: []Node{
			InputNode{baseNode{id: "in"}},
			ToolNode{baseNode: baseNode{id: "t1"}, ToolName: "deleteDatabase"},
			OutputNode{baseNode: baseNode{id: "out"}},
		},
		Edges: []Edge{{ID: "e1", Source: "in", Target: "t1"}, {ID: "e2", Source: "t1", Target: "out"}},
	}

	rc := RunContext{RequestID: "tc-danger", OrgID: "org-a"}
	if err := exec.Approvals.Record(context.Background(), "tc-danger:t1", "deleteDatabase", "org-a"); err != nil {
		t.Fatalf("record approval: %v", err)
	}

	res := exec.Execute(context.Background(), def, map[string]any{}, rc, nil)
	if res.Kind != ResultFailed {
		t.Fatalf("expected Failed without the high-privilege permission, got %s", res.Kind)
	}
	if invocations != 0 {
		t.Fatalf("expected no invocation without the high-privilege permission, got %d", invocations)
	}

	rc.Permissions = []string{PermissionHighPrivilege}
	if err := exec.Approvals.Record(context.Background(), "tc-danger:t1", "deleteDatabase", "org-a"); err != nil {
		t.Fatalf("re-record approval: %v", err)
	}
	res2 := exec.Execute(context.Background(), def, map[string]any{}, rc, nil)
	if res2.Kind != ResultCompleted {
		t.Fatalf("expected Completed with the high-privilege permission and a valid token, got %s (err=%v)", res2.Kind, res2.Err)
	}
	if invocations != 1 {
		t.Fatalf("expected exactly 1 invocation once permission and token are both present, got %d", invocations)
	}
}

// S2 — Approval suspend/resume.
func TestApprovalSuspendResume(t *testing.T) {
	var invoked bool
	invoke := tool.InvokerFunc(func(_ context.Context, name string, _ map[string]any) (map[string]any, error) {
		invoked = true
		return map[string]any{"terminated": true}, nil
	})
	exec, registry := newTestExecutor(t, invoke)
	mustRegister(t, registry, &tool.Definition{
		Name: "terminateInstance", Category: tool.CategoryCompute, ApprovalLevel: tool.ApprovalConfirm, Invoker: invoke,
	})

	def := &Definition{
		ID: "wf-2", Version: 1, Status: StatusPublished,
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

	rc := RunContext{RequestID: "tc1", OrgID: "org-a"}
	res := exec.Execute(context.Background(), def, map[string]any{}, rc, nil)
	if res.Kind != ResultSuspended {
		t.Fatalf("expected Suspended, got %s (err=%v)", res.Kind, res.Err)
	}
	if res.EngineState.SuspendedAtNodeID != "a1" {
		t.Fatalf("expected suspension at a1, got %s", res.EngineState.SuspendedAtNodeID)
	}
	if invoked {
		t.Fatal("tool must not run before approval")
	}

	if err := exec.Approvals.Record(context.Background(), "tc1:t1", "terminateInstance", "org-a"); err != nil {
		t.Fatalf("record approval: %v", err)
	}

	res2 := exec.Resume(context.Background(), def, *res.EngineState, map[string]any{}, rc, compensation.NewStack())
	if res2.Kind != ResultCompleted {
		t.Fatalf("expected Completed after resume, got %s (err=%v)", res2.Kind, res2.Err)
	}
	if !invoked {
		t.Fatal("expected tool to run after resume")
	}
}

type fakeNotifier struct{ pending []approval.Pending }

func (f *fakeNotifier) NotifyPending(p approval.Pending) { f.pending = append(f.pending, p) }

// An ApprovalNotifier, when set, is told about every approval that
// transitions to pending (spec §4.12's supplemental Slack delivery).
func TestApprovalNotifierCalledOnSuspend(t *testing.T) {
	invoke := tool.InvokerFunc(func(_ context.Context, _ string, _ map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	})
	exec, registry := newTestExecutor(t, invoke)
	mustRegister(t, registry, &tool.Definition{
		Name: "terminateInstance", Category: tool.CategoryCompute, ApprovalLevel: tool.ApprovalConfirm, Invoker: invoke,
	})
	notifier := &fakeNotifier{}
	exec.Notifier = notifier

	def := &Definition{
		ID: "wf-notify", Version: 1, Status: StatusPublished,
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

	res := exec.Execute(context.Background(), def, map[string]any{}, RunContext{RequestID: "tc-notify"}, nil)
	if res.Kind != ResultSuspended {
		t.Fatalf("expected Suspended, got %s (err=%v)", res.Kind, res.Err)
	}
	if len(notifier.pending) != 1 {
		t.Fatalf("expected exactly 1 notification, got %d", len(notifier.pending))
	}
	if notifier.pending[0].ToolCallID != "a1" {
		t.Fatalf("expected notification for node a1, got %q", notifier.pending[0].ToolCallID)
	}
}

// S3 — Condition prune.
func TestConditionPrune(t *testing.T) {
	var dispatched []string
	invoke := tool.InvokerFunc(func(_ context.Context, name string, _ map[string]any) (map[string]any, error) {
		dispatched = append(dispatched, name)
		return map[string]any{"ran": name}, nil
	})
	exec, registry := newTestExecutor(t, invoke)
	mustRegister(t, registry, &tool.Definition{Name: "phxOnly", Category: tool.CategoryCompute, Invoker: invoke})
	mustRegister(t, registry, &tool.Definition{Name: "otherRegion", Category: tool.CategoryCompute, Invoker: invoke})

	def := &Definition{
		ID: "wf-3", Version: 1, Status: StatusPublished,
		Nodes: []Node{
			InputNode{baseNode{id: "in"}},
			ConditionNode{baseNode: baseNode{id: "cond"}, Expression: `input.region == "phx"`, TrueBranch: "t1", FalseBranch: "t2"},
			ToolNode{baseNode: baseNode{id: "t1"}, ToolName: "phxOnly"},
			ToolNode{baseNode: baseNode{id: "t2"}, ToolName: "otherRegion"},
			OutputNode{baseNode: baseNode{id: "out"}},
		},
		Edges: []Edge{
			{ID: "e1", Source: "in", Target: "cond"},
			{ID: "e2", Source: "cond", Target: "t1"},
			{ID: "e3", Source: "cond", Target: "t2"},
			{ID: "e4", Source: "t1", Target: "out"},
			{ID: "e5", Source: "t2", Target: "out"},
		},
	}

	res := exec.Execute(context.Background(), def, map[string]any{"region": "phx"}, RunContext{RequestID: "run-3"}, nil)
	if res.Kind != ResultCompleted {
		t.Fatalf("expected Completed, got %s (err=%v)", res.Kind, res.Err)
	}
	cond, ok := res.StepResults["cond"].(map[string]any)
	if !ok || cond["conditionResult"] != true {
		t.Fatalf("expected conditionResult=true, got %+v", res.StepResults["cond"])
	}
	if len(dispatched) != 1 || dispatched[0] != "phxOnly" {
		t.Fatalf("expected only phxOnly dispatched, got %v", dispatched)
	}
	if _, ok := res.StepResults["t2"]; ok {
		t.Fatal("expected t2 to be skipped and absent from stepResults")
	}
}

// S4 — Compensation replay.
func TestCompensationReplayOnFailure(t *testing.T) {
	var deleteBucketCalled bool
	invoke := tool.InvokerFunc(func(_ context.Context, name string, args map[string]any) (map[string]any, error) {
		switch name {
		case "createBucket":
			return map[string]any{"created": true}, nil
		case "deleteBucket":
			deleteBucketCalled = true
			return map[string]any{"deleted": true}, nil
		case "failOp":
			return nil, errTestFailOp
		default:
			t.Fatalf("unexpected tool %s", name)
			return nil, nil
		}
	})
	exec, registry := newTestExecutor(t, invoke)
	mustRegister(t, registry, &tool.Definition{Name: "createBucket", Category: tool.CategoryStorage, Invoker: invoke})
	mustRegister(t, registry, &tool.Definition{Name: "deleteBucket", Category: tool.CategoryStorage, Invoker: invoke})
	mustRegister(t, registry, &tool.Definition{Name: "failOp", Category: tool.CategoryStorage, Invoker: invoke})

	def := &Definition{
		ID: "wf-4", Version: 1, Status: StatusPublished,
		Nodes: []Node{
			ToolNode{
				baseNode: baseNode{id: "t1"}, ToolName: "createBucket",
				Compensate: &CompensateSpec{Action: "deleteBucket", Args: map[string]any{"name": "B"}},
			},
			ToolNode{baseNode: baseNode{id: "t2"}, ToolName: "failOp"},
		},
		Edges: []Edge{{ID: "e1", Source: "t1", Target: "t2"}},
	}

	stack := compensation.NewStack()
	res := exec.Execute(context.Background(), def, map[string]any{}, RunContext{RequestID: "run-4"}, stack)
	if res.Kind != ResultFailed {
		t.Fatalf("expected Failed, got %s", res.Kind)
	}
	if stack.Len() != 1 {
		t.Fatalf("expected 1 compensation entry pushed, got %d", stack.Len())
	}

	summary := compensation.Replay(context.Background(), stack, invoke)
	if summary.Total != 1 || summary.Succeeded != 1 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if !deleteBucketCalled {
		t.Fatal("expected deleteBucket to be invoked during replay")
	}
}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

var errTestFailOp = &testError{msg: "simulated downstream failure"}
