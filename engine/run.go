package engine

import (
	"context"
	"time"
)

// RunStatus is the closed set of workflow run lifecycle states (spec §3).
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSuspended RunStatus = "suspended"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// EngineState is the opaque suspension cookie of spec §3: self
// contained, meaningful only to a subsequent Resume call against the
// same definition.
type EngineState struct {
	SuspendedAtNodeID string
	CompletedNodeIDs  map[string]bool
	StepResults       map[string]any
}

// clone returns a deep-enough copy for safe mutation during Resume
// without aliasing the caller's maps.
func (s EngineState) clone() EngineState {
	completed := make(map[string]bool, len(s.CompletedNodeIDs))
	for k, v := range s.CompletedNodeIDs {
		completed[k] = v
	}
	results := make(map[string]any, len(s.StepResults))
	for k, v := range s.StepResults {
		results[k] = v
	}
	return EngineState{SuspendedAtNodeID: s.SuspendedAtNodeID, CompletedNodeIDs: completed, StepResults: results}
}

// PermissionHighPrivilege is the distinct high-privilege scope spec
// §4.4 requires a caller to hold, beyond the ordinary `tools:execute`
// scope, before a `danger`-level tool's approval token is even
// consulted.
const PermissionHighPrivilege = "tools:execute:privileged"

// RunContext carries caller identity and cancellation scope through a
// single execute/resume call (spec §9 Design Notes).
type RunContext struct {
	UserID      string
	OrgID       string
	RequestID   string
	Deadline    time.Time
	Permissions []string
}

// HasPermission reports whether scope was granted to this run's caller.
func (rc RunContext) HasPermission(scope string) bool {
	for _, p := range rc.Permissions {
		if p == scope {
			return true
		}
	}
	return false
}

// WithDeadline derives a context.Context bounded by both the caller's
// parent ctx and rc.Deadline, if set.
func (rc RunContext) WithDeadline(parent context.Context) (context.Context, context.CancelFunc) {
	if rc.Deadline.IsZero() {
		return context.WithCancel(parent)
	}
	return context.WithDeadline(parent, rc.Deadline)
}

// ResultKind tags the variants of Result.
type ResultKind string

const (
	ResultCompleted ResultKind = "completed"
	ResultSuspended ResultKind = "suspended"
	ResultFailed    ResultKind = "failed"
)

// Result is the tagged union returned by Execute/Resume (spec §4.1).
type Result struct {
	Kind        ResultKind
	StepResults map[string]any
	Output      map[string]any
	EngineState *EngineState
	Err         error
}

func completed(stepResults, output map[string]any) Result {
	return Result{Kind: ResultCompleted, StepResults: stepResults, Output: output}
}

func suspended(stepResults map[string]any, state EngineState) Result {
	return Result{Kind: ResultSuspended, StepResults: stepResults, EngineState: &state}
}

func failed(err error, stepResults map[string]any) Result {
	return Result{Kind: ResultFailed, Err: err, StepResults: stepResults}
}
