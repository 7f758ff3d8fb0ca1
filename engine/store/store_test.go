package store

import (
	"context"
	"testing"
)

func TestMemStoreDefinitionVersioning(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	def1 := DefinitionRecord{ID: "wf-1", Version: 1, Status: "published", OrgID: "org-a"}
	def2 := DefinitionRecord{ID: "wf-1", Version: 2, Status: "published", OrgID: "org-a"}

	if err := m.Create(ctx, def1); err != nil {
		t.Fatalf("create v1: %v", err)
	}
	if err := m.Create(ctx, def2); err != nil {
		t.Fatalf("create v2: %v", err)
	}

	got, err := m.Latest(ctx, "wf-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.Version != 2 {
		t.Fatalf("expected latest version 2, got %d", got.Version)
	}

	got1, err := m.Get(ctx, "wf-1", 1)
	if err != nil {
		t.Fatalf("get v1: %v", err)
	}
	if got1.Version != 1 {
		t.Fatalf("expected version 1, got %d", got1.Version)
	}

	if _, err := m.Get(ctx, "wf-1", 99); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for missing version, got %v", err)
	}
}

func TestMemStoreListByOrgReturnsOnlyLatestPerDefinition(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	_ = m.Create(ctx, DefinitionRecord{ID: "wf-1", Version: 1, OrgID: "org-a"})
	_ = m.Create(ctx, DefinitionRecord{ID: "wf-1", Version: 2, OrgID: "org-a"})
	_ = m.Create(ctx, DefinitionRecord{ID: "wf-2", Version: 1, OrgID: "org-a"})
	_ = m.Create(ctx, DefinitionRecord{ID: "wf-3", Version: 1, OrgID: "org-b"})

	defs, err := m.ListByOrg(ctx, "org-a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions for org-a, got %d", len(defs))
	}
	for _, d := range defs {
		if d.ID == "wf-1" && d.Version != 2 {
			t.Fatalf("expected wf-1 to be returned at its latest version 2, got %d", d.Version)
		}
	}
}

func TestMemStoreRunLifecycle(t *testing.T) {
	m := NewMemStore()
	runs := m.RunStoreView()
	ctx := context.Background()

	run := RunRecord{ID: "run-1", DefinitionID: "wf-1", OrgID: "org-a", Status: "running"}
	if err := runs.Create(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	got, err := runs.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != "running" {
		t.Fatalf("expected status running, got %s", got.Status)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be set on create")
	}

	got.Status = "completed"
	if err := runs.Update(ctx, got); err != nil {
		t.Fatalf("update run: %v", err)
	}

	updated, err := runs.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("get updated run: %v", err)
	}
	if updated.Status != "completed" {
		t.Fatalf("expected status completed, got %s", updated.Status)
	}
	if !updated.UpdatedAt.After(updated.CreatedAt) && updated.UpdatedAt != updated.CreatedAt {
		t.Fatal("expected UpdatedAt to move forward on update")
	}

	if err := runs.Update(ctx, RunRecord{ID: "missing"}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound updating missing run, got %v", err)
	}
}

func TestMemStoreRunListByOrg(t *testing.T) {
	m := NewMemStore()
	runs := m.RunStoreView()
	ctx := context.Background()

	_ = runs.Create(ctx, RunRecord{ID: "run-1", OrgID: "org-a"})
	_ = runs.Create(ctx, RunRecord{ID: "run-2", OrgID: "org-a"})
	_ = runs.Create(ctx, RunRecord{ID: "run-3", OrgID: "org-b"})

	list, err := runs.ListByOrg(ctx, "org-a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 runs for org-a, got %d", len(list))
	}
}

func TestMemStoreAuditAppendIsOrderedAndIsolatedPerRun(t *testing.T) {
	m := NewMemStore()
	audit := m.AuditStoreView()
	ctx := context.Background()

	_ = audit.Append(ctx, AuditRecord{RunID: "run-1", Action: "tool_invoked", NodeID: "n1"})
	_ = audit.Append(ctx, AuditRecord{RunID: "run-1", Action: "tool_completed", NodeID: "n1"})
	_ = audit.Append(ctx, AuditRecord{RunID: "run-2", Action: "tool_invoked", NodeID: "n1"})

	recs, err := audit.ListByRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 audit records for run-1, got %d", len(recs))
	}
	if recs[0].Action != "tool_invoked" || recs[1].Action != "tool_completed" {
		t.Fatalf("expected append order preserved, got %+v", recs)
	}

	other, err := audit.ListByRun(ctx, "run-2")
	if err != nil {
		t.Fatalf("list run-2: %v", err)
	}
	if len(other) != 1 {
		t.Fatalf("expected 1 audit record for run-2, got %d", len(other))
	}
}

func TestMemStoreGetUnknownDefinitionReturnsNotFound(t *testing.T) {
	m := NewMemStore()
	if _, err := m.Get(context.Background(), "nope", 1); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := m.Latest(context.Background(), "nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
