// Package engine implements the workflow executor of spec §4.1: a
// deterministic DAG traversal over a tagged-union node set, dispatched
// by kind, with suspend/resume via an opaque engine-state cookie and
// a step/wall-clock budget enforced on every hop.
package engine

import (
	"github.com/cloudops-io/workflow-core/engine/errors"
)

// Kind is the closed set of node kinds a definition may contain (spec §3).
type Kind string

const (
	KindInput     Kind = "input"
	KindOutput    Kind = "output"
	KindTool      Kind = "tool"
	KindCondition Kind = "condition"
	KindApproval  Kind = "approval"
	KindAIStep    Kind = "ai-step"
	KindLoop      Kind = "loop"
	KindParallel  Kind = "parallel"
)

// Node is the tagged union of workflow node kinds. Each concrete kind
// below implements it; ID and NodeKind are the only operations the
// executor needs uniformly — everything kind-specific is read by the
// dispatcher via a type switch on the concrete struct.
type Node interface {
	ID() string
	NodeKind() Kind
}

type baseNode struct {
	id string
}

func (b baseNode) ID() string { return b.id }

// InputNode seeds stepResults with the run's input map; it consumes
// nothing and never suspends or skips downstream.
type InputNode struct {
	baseNode
}

func (InputNode) NodeKind() Kind { return KindInput }

// CompensateSpec names the rollback action to push onto the
// compensation stack when a tool node succeeds.
type CompensateSpec struct {
	Action string
	Args   map[string]any
}

// ToolNode invokes a registered tool by name.
type ToolNode struct {
	baseNode
	ToolName   string
	Args       map[string]any
	Compensate *CompensateSpec
}

func (ToolNode) NodeKind() Kind { return KindTool }

// ConditionNode evaluates an expression and prunes the branch not
// taken.
type ConditionNode struct {
	baseNode
	Expression  string
	TrueBranch  string
	FalseBranch string
}

func (ConditionNode) NodeKind() Kind { return KindCondition }

// ApprovalNode has no fields of its own; dispatching it always
// suspends the run pending a human decision.
type ApprovalNode struct {
	baseNode
}

func (ApprovalNode) NodeKind() Kind { return KindApproval }

// AIStepNode calls a language model with an interpolated prompt.
type AIStepNode struct {
	baseNode
	Prompt       string
	SystemPrompt string
	Model        string
	Temperature  float64
	MaxTokens    int
	OutputSchema map[string]any
}

func (AIStepNode) NodeKind() Kind { return KindAIStep }

// LoopNode iterates an evaluated sequence, sequentially or in
// parallel, with an optional break condition.
type LoopNode struct {
	baseNode
	IteratorExpression string
	IterationVariable  string
	IndexVariable      string
	MaxIterations      int
	BreakCondition     string
	ExecutionMode      string // "sequential" | "parallel"
}

func (LoopNode) NodeKind() Kind { return KindLoop }

// MergeStrategy is the parallel node's fan-in policy.
type MergeStrategy string

const (
	MergeAll      MergeStrategy = "all"
	MergeFirst    MergeStrategy = "first"
	MergeMajority MergeStrategy = "majority"
)

// ErrorHandling is the parallel node's failure policy.
type ErrorHandling string

const (
	ErrorFailFast ErrorHandling = "fail-fast"
	ErrorContinue ErrorHandling = "continue"
	ErrorCollect  ErrorHandling = "collect"
)

// ParallelNode fans out to a set of branch subtrees concurrently.
type ParallelNode struct {
	baseNode
	BranchNodeIDs []string
	MergeStrategy MergeStrategy
	ErrorHandling ErrorHandling
	TimeoutMs     int
}

func (ParallelNode) NodeKind() Kind { return KindParallel }

// OutputNode resolves the run's final output, optionally remapping
// fields from stepResults.
type OutputNode struct {
	baseNode
	OutputMapping map[string]string
}

func (OutputNode) NodeKind() Kind { return KindOutput }

// ParseNode builds the concrete tagged-union member for (id, kind,
// data), validating the required fields named in spec §6's Node Data
// Schemas table. data is the opaque wire-level map attached to the
// node.
func ParseNode(id string, kind Kind, data map[string]any) (Node, error) {
	base := baseNode{id: id}
	switch kind {
	case KindInput:
		return InputNode{baseNode: base}, nil
	case KindOutput:
		mapping, _ := asStringMap(data["outputMapping"])
		return OutputNode{baseNode: base, OutputMapping: mapping}, nil
	case KindTool:
		toolName, ok := data["toolName"].(string)
		if !ok || toolName == "" {
			return nil, errors.New(errors.Validation, "tool node "+id+" missing toolName")
		}
		args, _ := data["args"].(map[string]any)
		node := ToolNode{baseNode: base, ToolName: toolName, Args: args}
		if raw, ok := data["compensate"].(map[string]any); ok {
			action, _ := raw["action"].(string)
			if action != "" {
				cargs, _ := raw["args"].(map[string]any)
				node.Compensate = &CompensateSpec{Action: action, Args: cargs}
			}
		}
		return node, nil
	case KindCondition:
		expr, ok := data["expression"].(string)
		if !ok || expr == "" {
			return nil, errors.New(errors.Validation, "condition node "+id+" missing expression")
		}
		trueBranch, _ := data["trueBranch"].(string)
		falseBranch, _ := data["falseBranch"].(string)
		return ConditionNode{baseNode: base, Expression: expr, TrueBranch: trueBranch, FalseBranch: falseBranch}, nil
	case KindApproval:
		return ApprovalNode{baseNode: base}, nil
	case KindAIStep:
		prompt, ok := data["prompt"].(string)
		if !ok || prompt == "" {
			return nil, errors.New(errors.Validation, "ai-step node "+id+" missing prompt")
		}
		node := AIStepNode{baseNode: base, Prompt: prompt}
		node.SystemPrompt, _ = data["systemPrompt"].(string)
		node.Model, _ = data["model"].(string)
		node.Temperature = asFloat(data["temperature"])
		node.MaxTokens = int(asFloat(data["maxTokens"]))
		node.OutputSchema, _ = data["outputSchema"].(map[string]any)
		return node, nil
	case KindLoop:
		iterExpr, ok := data["iteratorExpression"].(string)
		if !ok || iterExpr == "" {
			return nil, errors.New(errors.Validation, "loop node "+id+" missing iteratorExpression")
		}
		node := LoopNode{baseNode: base, IteratorExpression: iterExpr}
		node.IterationVariable = stringOr(data["iterationVariable"], "item")
		node.IndexVariable = stringOr(data["indexVariable"], "index")
		node.MaxIterations = int(asFloat(data["maxIterations"]))
		node.BreakCondition, _ = data["breakCondition"].(string)
		node.ExecutionMode = stringOr(data["executionMode"], "sequential")
		return node, nil
	case KindParallel:
		branches, ok := asStringSlice(data["branchNodeIds"])
		if !ok || len(branches) == 0 {
			return nil, errors.New(errors.Validation, "parallel node "+id+" missing branchNodeIds")
		}
		merge, _ := data["mergeStrategy"].(string)
		errHandling, _ := data["errorHandling"].(string)
		if merge == "" || errHandling == "" {
			return nil, errors.New(errors.Validation, "parallel node "+id+" missing mergeStrategy/errorHandling")
		}
		return ParallelNode{
			baseNode:      base,
			BranchNodeIDs: branches,
			MergeStrategy: MergeStrategy(merge),
			ErrorHandling: ErrorHandling(errHandling),
			TimeoutMs:     int(asFloat(data["timeoutMs"])),
		}, nil
	default:
		return nil, errors.New(errors.Validation, "unknown node kind: "+string(kind))
	}
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	default:
		return 0
	}
}

func stringOr(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

func asStringMap(v any) (map[string]string, bool) {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(raw))
	for k, val := range raw {
		s, ok := val.(string)
		if !ok {
			continue
		}
		out[k] = s
	}
	return out, true
}

func asStringSlice(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	default:
		return nil, false
	}
}
