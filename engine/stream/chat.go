package stream

import (
	"context"
	"fmt"

	"github.com/cloudops-io/workflow-core/engine/errors"
	"github.com/cloudops-io/workflow-core/engine/guardrail"
)

// ChatEventKind tags the variants of a ChatEvent.
type ChatEventKind string

const (
	ChatEventText                    ChatEventKind = "text"
	ChatEventToolInvocationStarted   ChatEventKind = "tool_invocation_started"
	ChatEventToolInvocationCompleted ChatEventKind = "tool_invocation_completed"
	ChatEventToolInvocationFailed    ChatEventKind = "tool_invocation_failed"
	ChatEventToolProgress            ChatEventKind = "tool_progress"
	ChatEventDone                    ChatEventKind = "done"
)

// ChatEvent is one unit of a streamed chat response, per spec §4.7.
type ChatEvent struct {
	Kind       ChatEventKind
	TextDelta  string
	ToolCallID string
	ToolName   string
	ToolInput  map[string]any
	ToolOutput any
	ToolError  string
	Progress   string
	Err        error

	// FinalText and Redactions are populated on the Done event only,
	// once the Chain's output processors have run post-hoc over the
	// full assembled assistant message (spec §4.6: "post-hoc per
	// message, not per token"). Individual TextDelta events are never
	// rewritten — only the recorded final message is.
	FinalText  string
	Redactions int
}

// TokenSource is the minimal capability a LanguageModel must expose
// to be streamed: a channel of incremental chat events. Concrete
// providers (engine/provider) implement this by either calling a
// native streaming API or, for non-streaming providers, by
// synthesizing a single text event followed by Done. A proposed tool
// call is surfaced as ChatEventToolInvocationStarted carrying the
// model's requested name/input — it has not been invoked yet.
type TokenSource interface {
	StreamChat(ctx context.Context, messages []ChatMessage, tools []ChatToolSpec) (<-chan ChatEvent, error)
}

// ChatMessage mirrors the provider-agnostic message shape.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatToolSpec mirrors the provider-agnostic tool advertisement shape.
type ChatToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ToolExecutor performs the resolve/validate/approval-gate/invoke/
// compensate sequence for a single tool call a model proposed
// mid-conversation — spec §4.1.1's "agent context" tool-call path,
// where "the agent-side approval gate is responsible". It mirrors
// engine/dispatch.go's dispatchTool; engine.WorkflowExecutor.
// ForRunContext adapts a bound executor to this interface.
type ToolExecutor interface {
	InvokeTool(ctx context.Context, toolName string, args map[string]any) (map[string]any, error)
}

// allowedModels, when non-empty, restricts which model identifiers a
// ChatStreamer will stream from, per the model-allowlist requirement
// of spec §4.7.
type ChatStreamer struct {
	bus     *Bus
	allowed map[string]struct{}

	// Guardrails, when set, runs input processors over the outbound
	// message list before the model is ever called and output
	// processors over the assembled assistant message before Done is
	// published (spec §4.6). Nil disables guardrail enforcement.
	Guardrails *guardrail.Chain

	// Tools, when set, actually executes a model-proposed tool call
	// through the same resolve/validate/gate/invoke/compensate path a
	// workflow's tool node uses, turning a proposal into a genuine
	// Completed or Failed event. Nil means no agent-context tool calls
	// can be honored; any proposed call is reported Failed rather than
	// silently marked complete.
	Tools ToolExecutor
}

// NewChatStreamer returns a ChatStreamer that publishes to bus. If
// allowedModels is non-empty, Stream rejects any model not in the set.
func NewChatStreamer(bus *Bus, allowedModels ...string) *ChatStreamer {
	allowed := make(map[string]struct{}, len(allowedModels))
	for _, m := range allowedModels {
		allowed[m] = struct{}{}
	}
	return &ChatStreamer{bus: bus, allowed: allowed}
}

// Stream pulls events from source and republishes them as StepEvents
// on the bus under runID/nodeID, while also returning the raw channel
// to the caller for direct consumption (e.g. an AI-step node awaiting
// completion). Cancelling ctx stops consumption; the source is
// expected to honor ctx itself.
func (s *ChatStreamer) Stream(ctx context.Context, runID, nodeID, model string, src TokenSource, messages []ChatMessage, tools []ChatToolSpec) (<-chan ChatEvent, error) {
	if len(s.allowed) > 0 {
		if _, ok := s.allowed[model]; !ok {
			return nil, errors.New(errors.Validation, fmt.Sprintf("model %q is not in the configured allowlist", model))
		}
	}

	if s.Guardrails != nil {
		if err := s.Guardrails.RunInput(ctx, toGuardrailMessages(messages)); err != nil {
			if abort, ok := err.(*guardrail.Abort); ok {
				return nil, errors.New(errors.Forbidden, abort.UserMessage)
			}
			return nil, errors.Wrap(errors.Validation, "guardrail input processing failed", err)
		}
	}

	upstream, err := src.StreamChat(ctx, messages, tools)
	if err != nil {
		return nil, errors.Wrap(errors.LanguageModel, "starting chat stream", err)
	}

	out := make(chan ChatEvent)
	go func() {
		defer close(out)
		var assembled string
		for {
			select {
			case <-ctx.Done():
				s.emitStep(runID, nodeID, "error", ctx.Err().Error())
				return
			case ev, ok := <-upstream:
				if !ok {
					return
				}

				if ev.Kind == ChatEventText {
					assembled += ev.TextDelta
				}

				if ev.Kind == ChatEventToolInvocationStarted {
					if !s.forward(ctx, runID, nodeID, ev, out) {
						return
					}
					completion := s.runTool(ctx, ev)
					if !s.forward(ctx, runID, nodeID, completion, out) {
						return
					}
					continue
				}

				if ev.Kind == ChatEventDone && s.Guardrails != nil {
					rewritten, n := s.Guardrails.RunOutput(ctx, assembled)
					ev.FinalText = rewritten
					ev.Redactions = n
				} else if ev.Kind == ChatEventDone {
					ev.FinalText = assembled
				}

				if !s.forward(ctx, runID, nodeID, ev, out) {
					return
				}
				if ev.Kind == ChatEventDone {
					return
				}
			}
		}
	}()
	return out, nil
}

// runTool executes a model-proposed tool call via s.Tools, turning the
// proposal carried by started into a Completed or Failed event. It
// never panics on a missing executor — it reports Failed instead,
// since a proposal must never be mistaken for a completed invocation.
func (s *ChatStreamer) runTool(ctx context.Context, started ChatEvent) ChatEvent {
	if s.Tools == nil {
		return ChatEvent{
			Kind: ChatEventToolInvocationFailed, ToolCallID: started.ToolCallID, ToolName: started.ToolName,
			ToolError: "no tool executor configured for agent-context tool calls",
		}
	}
	result, err := s.Tools.InvokeTool(ctx, started.ToolName, started.ToolInput)
	if err != nil {
		return ChatEvent{
			Kind: ChatEventToolInvocationFailed, ToolCallID: started.ToolCallID, ToolName: started.ToolName,
			ToolError: err.Error(),
		}
	}
	return ChatEvent{
		Kind: ChatEventToolInvocationCompleted, ToolCallID: started.ToolCallID, ToolName: started.ToolName,
		ToolInput: started.ToolInput, ToolOutput: result,
	}
}

// forward publishes ev to the bus and delivers it to out, returning
// false if ctx was cancelled first.
func (s *ChatStreamer) forward(ctx context.Context, runID, nodeID string, ev ChatEvent, out chan<- ChatEvent) bool {
	s.publish(runID, nodeID, ev)
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *ChatStreamer) publish(runID, nodeID string, ev ChatEvent) {
	if s.bus == nil {
		return
	}
	switch ev.Kind {
	case ChatEventToolInvocationStarted:
		s.emitStep(runID, nodeID, "start", "")
	case ChatEventToolInvocationCompleted, ChatEventDone:
		s.emitStep(runID, nodeID, "complete", "")
	case ChatEventToolInvocationFailed:
		s.emitStep(runID, nodeID, "error", ev.ToolError)
	}
}

func (s *ChatStreamer) emitStep(runID, nodeID, stage, errMsg string) {
	s.bus.Emit(Event{Step: &StepEvent{
		Type:     "step",
		RunID:    runID,
		Stage:    stage,
		NodeID:   nodeID,
		NodeType: "ai_step",
		Error:    errMsg,
	}})
}

func toGuardrailMessages(messages []ChatMessage) []guardrail.Message {
	out := make([]guardrail.Message, len(messages))
	for i, m := range messages {
		out[i] = guardrail.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
