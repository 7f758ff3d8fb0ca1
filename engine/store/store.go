// Package store defines the persistence contracts for workflow
// definitions, runs, and audit records (spec §3 Lifecycle/Ownership),
// plus reference implementations: an in-memory store for tests and
// single-process use, a modernc.org/sqlite-backed store for the
// quickstart binaries, and a MySQL-backed audit store for deployments
// with a heavier shared store already available.
//
// Definitions are persisted in their wire-level shape (a node's
// opaque data map, not the parsed engine.Node tagged union) so this
// package never needs to import the engine package — parsing happens
// once, at load time, via engine.ParseNode.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested definition, run, or
// checkpoint id does not exist.
var ErrNotFound = errors.New("not found")

// NodeRecord is the wire-level shape of one node, as written by a
// workflow-definition author and read back unparsed.
type NodeRecord struct {
	ID   string
	Kind string
	Data map[string]any
}

// EdgeRecord is the wire-level shape of one edge.
type EdgeRecord struct {
	ID     string
	Source string
	Target string
}

// DefinitionRecord is the persisted shape of a workflow definition
// (spec §3). Never mutated in place; a new version is a new record.
type DefinitionRecord struct {
	ID      string
	Version int
	Status  string
	Nodes   []NodeRecord
	Edges   []EdgeRecord
	UserID  string
	OrgID   string
}

// EngineStateRecord is the persisted shape of a suspension cookie.
type EngineStateRecord struct {
	SuspendedAtNodeID string
	CompletedNodeIDs  []string
	StepResults       map[string]any
}

// RunRecord is the persisted shape of a workflow run (spec §3).
type RunRecord struct {
	ID              string
	DefinitionID    string
	WorkflowVersion int
	UserID          string
	OrgID           string
	Input           map[string]any
	Status          string
	Output          map[string]any
	Error           string
	EngineState     *EngineStateRecord
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AuditRecord is the persisted shape of one audit event. ArgsRedacted
// already has secrets stripped before reaching the store (spec §4.4).
type AuditRecord struct {
	ID        string
	RunID     string
	OrgID     string
	UserID    string
	NodeID    string
	NodeType  string
	Action    string
	ArgsRedacted string
	Error     string
	Timestamp time.Time
}

// DefinitionStore persists workflow definitions, versioned by id.
type DefinitionStore interface {
	Create(ctx context.Context, def DefinitionRecord) error
	Get(ctx context.Context, id string, version int) (DefinitionRecord, error)
	Latest(ctx context.Context, id string) (DefinitionRecord, error)
	ListByOrg(ctx context.Context, orgID string) ([]DefinitionRecord, error)
}

// RunStore persists workflow runs, created once and mutated only by
// the executor that owns them.
type RunStore interface {
	Create(ctx context.Context, run RunRecord) error
	Get(ctx context.Context, id string) (RunRecord, error)
	Update(ctx context.Context, run RunRecord) error
	ListByOrg(ctx context.Context, orgID string) ([]RunRecord, error)
}

// AuditStore persists a durable, append-only audit trail.
type AuditStore interface {
	Append(ctx context.Context, rec AuditRecord) error
	ListByRun(ctx context.Context, runID string) ([]AuditRecord, error)
}
