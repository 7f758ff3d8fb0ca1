// Package compensation implements the saga rollback stack of spec
// §4.3: an append-only record of compensatable side effects, replayed
// in reverse, best-effort, on run failure.
package compensation

import (
	"context"

	"github.com/cloudops-io/workflow-core/engine/tool"
)

// Entry records one compensatable side effect. Never mutated once
// pushed.
type Entry struct {
	NodeID           string
	ToolName         string
	CompensateAction string
	CompensateArgs   map[string]any
}

// Stack is a push-only, per-run vector of Entry owned exclusively by
// the run that created it — no cross-run sharing (spec §3
// Ownership).
type Stack struct {
	entries []Entry
}

// NewStack returns an empty compensation stack.
func NewStack() *Stack {
	return &Stack{}
}

// Push appends an entry. Forward progress only pushes; nothing is
// ever removed from the stack itself (replay reads it, it does not
// mutate it).
func (s *Stack) Push(e Entry) {
	s.entries = append(s.entries, e)
}

// Len reports how many entries have been pushed.
func (s *Stack) Len() int { return len(s.entries) }

// Entries returns a snapshot of the pushed entries in push order.
func (s *Stack) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// StepResult records the outcome of compensating a single entry.
type StepResult struct {
	NodeID           string
	CompensateAction string
	Succeeded        bool
	Error            string
}

// Summary is the result of a full replay.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Results   []StepResult
}

// Replay invokes each pushed entry's CompensateAction in reverse
// insertion order via invoker, best-effort: a failing compensation
// does not halt subsequent ones (spec §4.3, §8 invariant 6). Results
// are returned in invocation order (reverse of push).
func Replay(ctx context.Context, s *Stack, invoker tool.Invoker) Summary {
	entries := s.Entries()
	summary := Summary{Total: len(entries), Results: make([]StepResult, 0, len(entries))}

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		_, err := invoker.Invoke(ctx, e.CompensateAction, e.CompensateArgs)
		res := StepResult{NodeID: e.NodeID, CompensateAction: e.CompensateAction}
		if err != nil {
			res.Succeeded = false
			res.Error = err.Error()
			summary.Failed++
		} else {
			res.Succeeded = true
			summary.Succeeded++
		}
		summary.Results = append(summary.Results, res)
	}
	return summary
}
