// Package approval implements the single-use, time-bounded approval
// token gate for confirm/danger tools (spec §4.5) and the pending-
// approval continuation a suspended workflow blocks on.
package approval

import (
	"context"
	"time"
)

// TTL is the approval record lifetime, per spec §6.
const TTL = 5 * time.Minute

// Record is a consumed-once proof that a human authorized toolName for
// toolCallId. Consuming it removes it.
type Record struct {
	ToolCallID string
	ToolName   string
	OrgID      string
	CreatedAt  time.Time
}

// Pending describes an approval awaiting a human decision.
type Pending struct {
	ToolCallID string
	ToolName   string
	Args       map[string]any
	OrgID      string
	SessionID  string
	CreatedAt  time.Time
}

// Store is the ApprovalStore contract of spec §4.5. Implementations
// must make Consume serializable per toolCallId: of any concurrent
// callers, exactly one success is observed.
type Store interface {
	// Record inserts an approval record with CreatedAt = now. A second
	// Record for the same toolCallId before it is consumed overwrites
	// the first (idempotent overwrite — spec §9 open question).
	Record(ctx context.Context, toolCallID, toolName, orgID string) error

	// Consume atomically checks existence, name match, and TTL; on
	// success it removes the record and returns true.
	Consume(ctx context.Context, toolCallID, toolName string) (bool, error)

	// CreatePending registers a pending approval and returns a channel
	// the caller blocks on until Resolve fires a decision or ctx is
	// cancelled/deadlined.
	CreatePending(ctx context.Context, toolCallID, toolName string, args map[string]any, orgID, sessionID string) (<-chan bool, error)

	// Pending lists unresolved approvals scoped to orgID. A nil orgID
	// is treated as its own tenant.
	Pending(ctx context.Context, orgID string) ([]Pending, error)

	// Resolve completes a pending approval's continuation with a human
	// decision, scoped to the caller's orgID. If approved, it also
	// calls Record for subsequent Consume calls.
	Resolve(ctx context.Context, toolCallID string, approved bool, orgID string) error
}

// WaitDecision blocks on ch until a decision arrives or ctx is done,
// returning (false, ctx.Err()) on cancellation/timeout.
func WaitDecision(ctx context.Context, ch <-chan bool) (bool, error) {
	select {
	case approved, ok := <-ch:
		if !ok {
			return false, context.Canceled
		}
		return approved, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
