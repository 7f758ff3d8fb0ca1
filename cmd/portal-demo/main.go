// Command portal-demo wires the workflow core end to end over a
// single sqlite file: it registers a couple of cloud-ops tools, builds
// a small definition with a confirm-gated tool, persists that
// definition, runs it to the approval suspension, resumes it after
// recording the approval, and persists the finished run.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cloudops-io/workflow-core/engine"
	"github.com/cloudops-io/workflow-core/engine/approval"
	"github.com/cloudops-io/workflow-core/engine/audit"
	"github.com/cloudops-io/workflow-core/engine/compensation"
	"github.com/cloudops-io/workflow-core/engine/config"
	"github.com/cloudops-io/workflow-core/engine/metrics"
	"github.com/cloudops-io/workflow-core/engine/store"
	"github.com/cloudops-io/workflow-core/engine/tool"
)

func main() {
	fmt.Println("workflow-core portal demo")
	fmt.Println("=========================")

	dbPath := "./portal-demo.db"
	defStore, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatalf("open sqlite store: %v", err)
	}
	defer defStore.Close()
	fmt.Printf("✓ opened sqlite store at %s\n\n", dbPath)

	registry := tool.NewRegistry()
	invoke := tool.InvokerFunc(func(_ context.Context, name string, args map[string]any) (map[string]any, error) {
		switch name {
		case "listInstances":
			return map[string]any{"instances": []any{map[string]any{"id": "i-001", "state": "running"}}}, nil
		case "terminateInstance":
			return map[string]any{"id": args["instanceId"], "state": "terminated"}, nil
		default:
			return nil, fmt.Errorf("unknown tool %s", name)
		}
	})
	if err := registry.Register(&tool.Definition{
		Name: "listInstances", Category: tool.CategoryCompute, Invoker: invoke,
	}); err != nil {
		log.Fatalf("register listInstances: %v", err)
	}
	if err := registry.Register(&tool.Definition{
		Name: "terminateInstance", Category: tool.CategoryCompute,
		ApprovalLevel: tool.ApprovalConfirm, Invoker: invoke,
	}); err != nil {
		log.Fatalf("register terminateInstance: %v", err)
	}

	def := &engine.Definition{
		ID: "demo-terminate-instance", Version: 1, Status: engine.StatusPublished,
		Nodes: []engine.Node{
			mustParse("in", engine.KindInput, nil),
			mustParse("list", engine.KindTool, map[string]any{"toolName": "listInstances", "args": map[string]any{}}),
			mustParse("gate", engine.KindApproval, nil),
			mustParse("terminate", engine.KindTool, map[string]any{
				"toolName": "terminateInstance",
				"args":     map[string]any{"instanceId": "i-001"},
			}),
			mustParse("out", engine.KindOutput, nil),
		},
		Edges: []engine.Edge{
			{ID: "e1", Source: "in", Target: "list"},
			{ID: "e2", Source: "list", Target: "gate"},
			{ID: "e3", Source: "gate", Target: "terminate"},
			{ID: "e4", Source: "terminate", Target: "out"},
		},
	}

	if err := persistDefinition(context.Background(), defStore, def); err != nil {
		log.Fatalf("persist definition: %v", err)
	}
	fmt.Printf("✓ persisted definition %s v%d\n\n", def.ID, def.Version)

	reg := prometheus.NewRegistry()
	collectors := metrics.New(reg)
	executor := engine.NewWorkflowExecutor(registry, invoke, approval.NewMemoryStore(), nil, audit.NewLogSink(), config.Defaults())
	executor.Metrics = collectors

	rc := engine.RunContext{RequestID: "demo-run-1", OrgID: "org-demo", UserID: "operator@example.com"}
	stack := compensation.NewStack()

	fmt.Println("running workflow...")
	res := executor.Execute(context.Background(), def, map[string]any{}, rc, stack)
	if res.Kind != engine.ResultSuspended {
		log.Fatalf("expected suspension at approval gate, got %s (err=%v)", res.Kind, res.Err)
	}
	fmt.Printf("→ suspended at node %q awaiting approval\n\n", res.EngineState.SuspendedAtNodeID)

	toolCallID := rc.RequestID + ":terminate"
	if err := executor.Approvals.Record(context.Background(), toolCallID, "terminateInstance", rc.OrgID); err != nil {
		log.Fatalf("record approval: %v", err)
	}
	fmt.Printf("✓ recorded approval for %s\n\n", toolCallID)

	final := executor.Resume(context.Background(), def, *res.EngineState, map[string]any{}, rc, stack)
	if final.Kind != engine.ResultCompleted {
		log.Fatalf("expected completion after resume, got %s (err=%v)", final.Kind, final.Err)
	}
	fmt.Println("✓ workflow completed")
	fmt.Printf("  output: %+v\n\n", final.Output)

	if err := persistRun(context.Background(), defStore, def, rc, final); err != nil {
		log.Fatalf("persist run: %v", err)
	}
	fmt.Println("✓ persisted run record")

	if fi, err := os.Stat(dbPath); err == nil {
		fmt.Printf("\ndatabase file: %s (%d bytes)\n", dbPath, fi.Size())
	}
}

func mustParse(id string, kind engine.Kind, data map[string]any) engine.Node {
	n, err := engine.ParseNode(id, kind, data)
	if err != nil {
		log.Fatalf("parse node %s: %v", id, err)
	}
	return n
}

func persistDefinition(ctx context.Context, s *store.SQLiteStore, def *engine.Definition) error {
	rec := store.DefinitionRecord{
		ID: def.ID, Version: def.Version, Status: string(def.Status),
		UserID: def.UserID, OrgID: def.OrgID,
	}
	for _, n := range def.Nodes {
		rec.Nodes = append(rec.Nodes, store.NodeRecord{ID: n.ID(), Kind: string(n.NodeKind())})
	}
	for _, e := range def.Edges {
		rec.Edges = append(rec.Edges, store.EdgeRecord{ID: e.ID, Source: e.Source, Target: e.Target})
	}
	return s.Create(ctx, rec)
}

func persistRun(ctx context.Context, s *store.SQLiteStore, def *engine.Definition, rc engine.RunContext, res engine.Result) error {
	status := "completed"
	var errMsg string
	if res.Err != nil {
		status = "failed"
		errMsg = res.Err.Error()
	}
	return s.CreateRun(ctx, store.RunRecord{
		ID: rc.RequestID, DefinitionID: def.ID, WorkflowVersion: def.Version,
		UserID: rc.UserID, OrgID: rc.OrgID, Status: status, Output: res.Output, Error: errMsg,
	})
}
