package engine

import (
	"context"
	"time"

	"github.com/cloudops-io/workflow-core/engine/approval"
	"github.com/cloudops-io/workflow-core/engine/audit"
	"github.com/cloudops-io/workflow-core/engine/compensation"
	"github.com/cloudops-io/workflow-core/engine/config"
	"github.com/cloudops-io/workflow-core/engine/errors"
	"github.com/cloudops-io/workflow-core/engine/expr"
	"github.com/cloudops-io/workflow-core/engine/metrics"
	"github.com/cloudops-io/workflow-core/engine/provider"
	"github.com/cloudops-io/workflow-core/engine/tool"
)

// WorkflowExecutor is the DAG traversal engine of spec §4.1. It owns
// no run state between calls — every Execute/Resume call is given the
// full definition and whatever state it needs, so a process restart
// loses only in-flight runs, never the executor's own correctness.
type WorkflowExecutor struct {
	Tools     *tool.Registry
	Invoker   tool.Invoker
	Approvals approval.Store
	Providers *provider.Registry
	Audit     audit.Sink
	Limits    config.Limits
	// Metrics is optional; a nil value disables all observation.
	Metrics *metrics.Collectors
	// Notifier is optional; when set, it is told about every approval
	// that transitions to pending (engine/approval.SlackNotifier
	// implements it). A nil value means no out-of-band notification is
	// sent, and a caller must poll or otherwise watch the approval
	// store directly.
	Notifier ApprovalNotifier
}

// ApprovalNotifier is told about newly-created pending approvals, per
// spec §4.12's supplemental Slack delivery. Implementations must not
// block the workflow run on delivery failure.
type ApprovalNotifier interface {
	NotifyPending(p approval.Pending)
}

// NewWorkflowExecutor wires the executor's dependencies. audit may be
// nil, in which case a no-op sink is used.
func NewWorkflowExecutor(tools *tool.Registry, invoker tool.Invoker, approvals approval.Store, providers *provider.Registry, sink audit.Sink, limits config.Limits) *WorkflowExecutor {
	if sink == nil {
		sink = audit.MultiSink{}
	}
	if limits.MaxSteps == 0 {
		limits = config.Defaults()
	}
	return &WorkflowExecutor{Tools: tools, Invoker: invoker, Approvals: approvals, Providers: providers, Audit: sink, Limits: limits}
}

// Execute runs def from scratch against input. stack is the
// compensation stack the caller will replay on a Failed result; pass
// nil to have the executor create one (appropriate for a run with no
// prior history).
func (e *WorkflowExecutor) Execute(ctx context.Context, def *Definition, input map[string]any, rc RunContext, stack *compensation.Stack) Result {
	order, err := def.topologicalOrder()
	if err != nil {
		return failed(err, nil)
	}
	if stack == nil {
		stack = compensation.NewStack()
	}
	return e.run(ctx, def, order, map[string]any{}, map[string]bool{}, map[string]bool{}, input, rc, stack)
}

// InvokeTool runs a single tool call outside of any workflow
// definition, for the direct `POST /tools/{name}/invoke`-shaped
// surface of spec §6. It goes through the same resolve/validate/
// approval-gate/invoke/compensate path a tool node in a DAG would
// (engine/dispatch.go's dispatchTool), with its own throwaway
// compensation stack since a standalone call has no run to later
// trigger a replay.
func (e *WorkflowExecutor) InvokeTool(ctx context.Context, toolName string, args map[string]any, rc RunContext) (map[string]any, error) {
	node := ToolNode{baseNode: baseNode{id: toolName}, ToolName: toolName, Args: args}
	v, err := e.dispatchTool(ctx, node, map[string]any{}, rc, compensation.NewStack())
	if err != nil {
		return nil, err
	}
	result, _ := v.(map[string]any)
	return result, nil
}

// ForRunContext binds rc to this executor and returns a
// stream.ToolExecutor, letting engine/stream's agent-context tool-loop
// invoke a model-proposed tool call through the exact same resolve/
// validate/approval-gate/invoke/compensate path dispatchTool uses,
// without engine/stream importing this package (which would cycle
// back through engine/provider).
func (e *WorkflowExecutor) ForRunContext(rc RunContext) *runContextToolExecutor {
	return &runContextToolExecutor{exec: e, rc: rc}
}

type runContextToolExecutor struct {
	exec *WorkflowExecutor
	rc   RunContext
}

func (r *runContextToolExecutor) InvokeTool(ctx context.Context, toolName string, args map[string]any) (map[string]any, error) {
	return r.exec.InvokeTool(ctx, toolName, args, r.rc)
}

// Resume continues a previously suspended run. The suspending node is
// marked completed per spec §4.1's resume semantics; input replaces
// the run's top-level input while stepResults carried in state
// survive. stack must be the same compensation stack the run started
// with, so any compensations recorded before suspension are replayed
// correctly if the resumed run later fails.
func (e *WorkflowExecutor) Resume(ctx context.Context, def *Definition, state EngineState, input map[string]any, rc RunContext, stack *compensation.Stack) Result {
	order, err := def.topologicalOrder()
	if err != nil {
		return failed(err, nil)
	}

	cloned := state.clone()
	completed := cloned.CompletedNodeIDs
	if completed == nil {
		completed = make(map[string]bool)
	}
	if cloned.SuspendedAtNodeID != "" {
		completed[cloned.SuspendedAtNodeID] = true
	}
	stepResults := cloned.StepResults
	if stepResults == nil {
		stepResults = make(map[string]any)
	}
	if stack == nil {
		stack = compensation.NewStack()
	}
	return e.run(ctx, def, order, stepResults, completed, map[string]bool{}, input, rc, stack)
}

func (e *WorkflowExecutor) run(
	ctx context.Context,
	def *Definition,
	order []string,
	stepResults map[string]any,
	completedNodes map[string]bool,
	skipped map[string]bool,
	input map[string]any,
	rc RunContext,
	stack *compensation.Stack,
) Result {
	nodesByID := def.nodeByID()
	adj := def.adjacency()

	deadline := time.Now().Add(e.maxDuration())
	if !rc.Deadline.IsZero() && rc.Deadline.Before(deadline) {
		deadline = rc.Deadline
	}
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var output map[string]any
	steps := 0

	for _, id := range order {
		if completedNodes[id] || skipped[id] {
			continue
		}

		steps++
		if steps > e.maxSteps() {
			return failed(errors.New(errors.Validation, "workflow exceeded maximum step count"), stepResults)
		}
		if time.Now().After(deadline) {
			return failed(errors.New(errors.Validation, "workflow exceeded maximum duration"), stepResults)
		}

		node, ok := nodesByID[id]
		if !ok {
			return failed(errors.New(errors.Internal, "topological order referenced unknown node: "+id), stepResults)
		}

		dispatchStart := time.Now()
		switch n := node.(type) {
		case InputNode:
			stepResults[id] = input

		case OutputNode:
			resolved := resolveOutput(n, stepResults)
			stepResults[id] = resolved
			output = resolved

		case ApprovalNode:
			if _, err := e.Approvals.CreatePending(runCtx, id, "", stepResults, rc.OrgID, rc.RequestID); err != nil {
				return failed(err, stepResults)
			}
			if e.Notifier != nil {
				e.Notifier.NotifyPending(approval.Pending{
					ToolCallID: id, Args: stepResults, OrgID: rc.OrgID, SessionID: rc.RequestID,
				})
			}
			return suspended(stepResults, EngineState{
				SuspendedAtNodeID: id,
				CompletedNodeIDs:  completedNodes,
				StepResults:       stepResults,
			})

		case ToolNode:
			v, err := e.dispatchTool(runCtx, n, stepResults, rc, stack)
			if err != nil {
				return failed(err, stepResults)
			}
			stepResults[id] = v

		case ConditionNode:
			v, skip, err := e.dispatchCondition(def, n, stepResults, input, adj)
			if err != nil {
				return failed(err, stepResults)
			}
			stepResults[id] = v
			for sid := range skip {
				skipped[sid] = true
			}

		case AIStepNode:
			v, err := e.dispatchAIStep(runCtx, n, stepResults)
			if err != nil {
				return failed(err, stepResults)
			}
			stepResults[id] = v

		case LoopNode:
			v, err := e.dispatchLoop(runCtx, n, stepResults, input)
			if err != nil {
				return failed(err, stepResults)
			}
			stepResults[id] = v

		case ParallelNode:
			v, err := e.dispatchParallel(runCtx, def, n, stepResults, input, rc, stack)
			if err != nil {
				return failed(err, stepResults)
			}
			stepResults[id] = v

		default:
			return failed(errors.New(errors.Internal, "unhandled node kind for "+id), stepResults)
		}

		e.Metrics.ObserveStepDispatch(string(node.NodeKind()), time.Since(dispatchStart).Seconds())
		completedNodes[id] = true
	}

	if output == nil {
		output = stepResults
	}
	return completed(stepResults, output)
}

func (e *WorkflowExecutor) maxSteps() int {
	if e.Limits.MaxSteps > 0 {
		return e.Limits.MaxSteps
	}
	return 50
}

func (e *WorkflowExecutor) maxDuration() time.Duration {
	if e.Limits.MaxDuration > 0 {
		return e.Limits.MaxDuration
	}
	return 300 * time.Second
}

// resolveOutput implements spec §4.1.1's output-node resolution: remap
// fields by dot-path when outputMapping is present, otherwise pass
// stepResults through verbatim.
func resolveOutput(n OutputNode, stepResults map[string]any) map[string]any {
	if len(n.OutputMapping) == 0 {
		return stepResults
	}
	out := make(map[string]any, len(n.OutputMapping))
	for field, path := range n.OutputMapping {
		if v, ok := expr.WalkPath(stepResults, path); ok {
			out[field] = v
		}
	}
	return out
}
