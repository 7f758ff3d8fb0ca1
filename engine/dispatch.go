package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/cloudops-io/workflow-core/engine/audit"
	"github.com/cloudops-io/workflow-core/engine/compensation"
	"github.com/cloudops-io/workflow-core/engine/errors"
	"github.com/cloudops-io/workflow-core/engine/expr"
	"github.com/cloudops-io/workflow-core/engine/provider"
	"github.com/cloudops-io/workflow-core/engine/tool"
)

// dispatchTool implements spec §4.1.1's tool dispatch: resolve,
// validate args, gate confirm/danger tools behind a consumed approval
// token, invoke, and on success with a compensate annotation push a
// CompensationEntry.
func (e *WorkflowExecutor) dispatchTool(ctx context.Context, n ToolNode, stepResults map[string]any, rc RunContext, stack *compensation.Stack) (any, error) {
	def, err := e.Tools.Resolve(n.ToolName)
	if err != nil {
		e.audit(ctx, rc, n.ID(), "tool", n.ToolName, n.Args, err)
		return nil, err
	}
	if err := tool.ValidateArgs(def, n.Args); err != nil {
		e.audit(ctx, rc, n.ID(), "tool", n.ToolName, n.Args, err)
		return nil, err
	}

	if def.ApprovalLevel == tool.ApprovalConfirm || def.ApprovalLevel == tool.ApprovalDanger {
		if def.ApprovalLevel == tool.ApprovalDanger && !rc.HasPermission(PermissionHighPrivilege) {
			permErr := errors.New(errors.Forbidden, "tool "+n.ToolName+" is danger-level and requires the "+PermissionHighPrivilege+" permission")
			e.audit(ctx, rc, n.ID(), "tool", n.ToolName, n.Args, permErr)
			return nil, permErr
		}
		toolCallID := rc.RequestID + ":" + n.ID()
		ok, err := e.Approvals.Consume(ctx, toolCallID, n.ToolName)
		if err != nil {
			e.audit(ctx, rc, n.ID(), "tool", n.ToolName, n.Args, err)
			return nil, err
		}
		if !ok {
			gateErr := errors.New(errors.Forbidden, "tool "+n.ToolName+" requires a valid approval token")
			e.audit(ctx, rc, n.ID(), "tool", n.ToolName, n.Args, gateErr)
			return nil, gateErr
		}
	}

	result, err := e.Invoker.Invoke(ctx, n.ToolName, n.Args)
	e.audit(ctx, rc, n.ID(), "tool", n.ToolName, n.Args, err)
	if err != nil {
		return nil, err
	}

	if n.Compensate != nil {
		stack.Push(compensation.Entry{
			NodeID:           n.ID(),
			ToolName:         n.ToolName,
			CompensateAction: n.Compensate.Action,
			CompensateArgs:   n.Compensate.Args,
		})
	}
	return result, nil
}

func (e *WorkflowExecutor) audit(ctx context.Context, rc RunContext, nodeID, nodeType, action string, args map[string]any, err error) {
	if e.Audit == nil {
		return
	}
	evt := audit.Event{
		RunID:     rc.RequestID,
		OrgID:     rc.OrgID,
		UserID:    rc.UserID,
		NodeID:    nodeID,
		NodeType:  nodeType,
		Action:    action,
		Args:      args,
		Timestamp: time.Now(),
	}
	if err != nil {
		evt.Error = err.Error()
	}
	e.Audit.Write(ctx, evt)
}

// dispatchCondition implements spec §4.1.1's condition dispatch:
// evaluate the expression against {result, input, ...stepResults},
// then prune whichever branch was not taken via BFS.
func (e *WorkflowExecutor) dispatchCondition(def *Definition, n ConditionNode, stepResults, input map[string]any, adj map[string][]string) (any, map[string]bool, error) {
	ctxData := conditionContext(def, n.ID(), stepResults, input)
	ok, err := expr.EvalBool(n.Expression, ctxData)
	if err != nil {
		return nil, nil, errors.Wrap(errors.Validation, "condition expression failed to evaluate", err)
	}

	var skip map[string]bool
	if ok {
		skip = skipFromBranch(adj, n.FalseBranch, n.TrueBranch)
	} else {
		skip = skipFromBranch(adj, n.TrueBranch, n.FalseBranch)
	}
	return map[string]any{"conditionResult": ok, "expression": n.Expression}, skip, nil
}

// conditionContext builds the {result, input, ...stepResults}
// evaluation context of spec §4.1.1. result is the stepResults value
// of the condition node's first predecessor by edge-source id.
func conditionContext(def *Definition, nodeID string, stepResults, input map[string]any) map[string]any {
	ctxData := make(map[string]any, len(stepResults)+2)
	for k, v := range stepResults {
		ctxData[k] = v
	}
	ctxData["input"] = input

	var predecessors []string
	for _, edge := range def.Edges {
		if edge.Target == nodeID {
			predecessors = append(predecessors, edge.Source)
		}
	}
	sort.Strings(predecessors)
	if len(predecessors) > 0 {
		ctxData["result"] = stepResults[predecessors[0]]
	}
	return ctxData
}

// dispatchAIStep implements spec §4.1.1's ai-step dispatch:
// interpolate prompt/systemPrompt against stepResults, call the
// resolved language model, and validate structured output against
// outputSchema when present.
func (e *WorkflowExecutor) dispatchAIStep(ctx context.Context, n AIStepNode, stepResults map[string]any) (any, error) {
	prompt := expr.Interpolate(n.Prompt, stepResults)
	messages := make([]provider.Message, 0, 2)
	if n.SystemPrompt != "" {
		messages = append(messages, provider.Message{Role: "system", Content: expr.Interpolate(n.SystemPrompt, stepResults)})
	}
	messages = append(messages, provider.Message{Role: "user", Content: prompt})

	lm, err := e.Providers.Resolve(n.Model)
	if err != nil {
		return nil, err
	}

	out, err := lm.Chat(ctx, messages, nil)
	if err != nil {
		return nil, errors.Wrap(errors.LanguageModel, "ai-step model call failed", err)
	}

	if len(n.OutputSchema) == 0 {
		return map[string]any{"text": out.Text, "toolCalls": out.ToolCalls}, nil
	}

	var parsed any
	if err := json.Unmarshal([]byte(out.Text), &parsed); err != nil {
		return nil, errors.Wrap(errors.Validation, "ai-step output is not valid JSON", err)
	}
	if err := validateAgainstSchema(n.OutputSchema, parsed); err != nil {
		return nil, errors.Wrap(errors.Validation, "ai-step output failed schema validation", err)
	}
	return parsed, nil
}

func validateAgainstSchema(raw map[string]any, instance any) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return err
	}
	c := jsonschema.NewCompiler()
	const url = "mem://ai-step/output-schema.json"
	if err := c.AddResource(url, doc); err != nil {
		return err
	}
	schema, err := c.Compile(url)
	if err != nil {
		return err
	}
	return schema.Validate(instance)
}

// dispatchLoop implements spec §4.1.1's loop dispatch: evaluate
// iteratorExpression to an ordered sequence, bind iterationVariable /
// indexVariable, respect maxIterations, and evaluate breakCondition
// before each iteration. In parallel mode every iteration's break
// check runs independently; in sequential mode a true breakCondition
// stops remaining iterations.
func (e *WorkflowExecutor) dispatchLoop(ctx context.Context, n LoopNode, stepResults, input map[string]any) (any, error) {
	baseCtx := make(map[string]any, len(stepResults)+1)
	for k, v := range stepResults {
		baseCtx[k] = v
	}
	baseCtx["input"] = input

	seqVal, err := expr.Eval(n.IteratorExpression, baseCtx)
	if err != nil {
		return nil, errors.Wrap(errors.Validation, "loop iteratorExpression failed to evaluate", err)
	}
	seq, ok := seqVal.([]any)
	if !ok {
		return nil, errors.New(errors.Validation, "loop iteratorExpression did not produce a sequence")
	}
	if n.MaxIterations > 0 && n.MaxIterations < len(seq) {
		seq = seq[:n.MaxIterations]
	}

	iterationVar := n.IterationVariable
	if iterationVar == "" {
		iterationVar = "item"
	}
	indexVar := n.IndexVariable
	if indexVar == "" {
		indexVar = "index"
	}

	iterCtx := func(item any, idx int) map[string]any {
		c := make(map[string]any, len(baseCtx)+2)
		for k, v := range baseCtx {
			c[k] = v
		}
		c[iterationVar] = item
		c[indexVar] = idx
		return c
	}

	if n.ExecutionMode == "parallel" {
		iterations := make([]any, len(seq))
		breakFlags := make([]bool, len(seq))
		done := make(chan int, len(seq))
		for i, item := range seq {
			i, item := i, item
			go func() {
				iterations[i] = item
				if n.BreakCondition != "" {
					if triggered, err := expr.EvalBool(n.BreakCondition, iterCtx(item, i)); err == nil {
						breakFlags[i] = triggered
					}
				}
				done <- i
			}()
		}
		for range seq {
			<-done
		}
		breakTriggered := false
		for _, b := range breakFlags {
			if b {
				breakTriggered = true
				break
			}
		}
		return map[string]any{
			"iterations":      iterations,
			"totalIterations": len(iterations),
			"breakTriggered":  breakTriggered,
			"executionMode":   "parallel",
		}, nil
	}

	iterations := make([]any, 0, len(seq))
	breakTriggered := false
	for i, item := range seq {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if n.BreakCondition != "" {
			triggered, err := expr.EvalBool(n.BreakCondition, iterCtx(item, i))
			if err != nil {
				return nil, errors.Wrap(errors.Validation, "loop breakCondition failed to evaluate", err)
			}
			if triggered {
				breakTriggered = true
				break
			}
		}
		iterations = append(iterations, item)
	}

	return map[string]any{
		"iterations":      iterations,
		"totalIterations": len(iterations),
		"breakTriggered":  breakTriggered,
		"executionMode":   "sequential",
	}, nil
}

// dispatchParallel implements spec §4.1.1's parallel dispatch: fan out
// to each branchNodeIds entry concurrently (each dispatched as a
// single node against the shared stepResults snapshot), then merge per
// mergeStrategy and apply errorHandling.
func (e *WorkflowExecutor) dispatchParallel(ctx context.Context, def *Definition, n ParallelNode, stepResults, input map[string]any, rc RunContext, stack *compensation.Stack) (any, error) {
	branchCtx := ctx
	var cancel context.CancelFunc
	if n.TimeoutMs > 0 {
		branchCtx, cancel = context.WithTimeout(ctx, time.Duration(n.TimeoutMs)*time.Millisecond)
	} else {
		branchCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type outcome struct {
		id  string
		val any
		err error
	}

	nodesByID := def.nodeByID()
	out := make(chan outcome, len(n.BranchNodeIDs))
	for _, id := range n.BranchNodeIDs {
		id := id
		go func() {
			branchNode, ok := nodesByID[id]
			if !ok {
				out <- outcome{id: id, err: errors.New(errors.Validation, "parallel branch references unknown node: "+id)}
				return
			}
			v, err := e.dispatchBranchNode(branchCtx, def, branchNode, stepResults, input, rc, stack)
			out <- outcome{id: id, val: v, err: err}
		}()
	}

	total := len(n.BranchNodeIDs)
	results := make(map[string]any, total)
	failures := make(map[string]string)
	succeeded := 0

	for i := 0; i < total; i++ {
		o := <-out
		if o.err != nil {
			failures[o.id] = o.err.Error()
			if n.ErrorHandling == ErrorFailFast {
				cancel()
				return nil, errors.Wrap(errors.Internal, "parallel branch "+o.id+" failed", o.err)
			}
			continue
		}
		results[o.id] = o.val
		succeeded++
		if n.MergeStrategy == MergeFirst {
			cancel()
			return map[string]any{"results": map[string]any{o.id: o.val}}, nil
		}
		if n.MergeStrategy == MergeMajority && succeeded*2 > total {
			cancel()
			break
		}
	}

	merged := map[string]any{"results": results}
	if len(failures) > 0 {
		merged["errors"] = failures
	}
	return merged, nil
}

// dispatchBranchNode dispatches a single node reached via a parallel
// node's branchNodeIds. Kinds with their own control-flow meaning at
// the top level (input, output, approval, nested parallel/loop
// suspension) are not supported inside a branch.
func (e *WorkflowExecutor) dispatchBranchNode(ctx context.Context, def *Definition, node Node, stepResults, input map[string]any, rc RunContext, stack *compensation.Stack) (any, error) {
	switch n := node.(type) {
	case ToolNode:
		return e.dispatchTool(ctx, n, stepResults, rc, stack)
	case ConditionNode:
		v, _, err := e.dispatchCondition(def, n, stepResults, input, def.adjacency())
		return v, err
	case AIStepNode:
		return e.dispatchAIStep(ctx, n, stepResults)
	case LoopNode:
		return e.dispatchLoop(ctx, n, stepResults, input)
	default:
		return nil, errors.New(errors.Validation, "node kind not supported as a parallel branch: "+string(node.NodeKind()))
	}
}
