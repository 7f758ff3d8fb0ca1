// Package provider implements the language model provider registry of
// spec §4.8: a tagged union over provider kinds (Anthropic, OpenAI,
// Google, OCI, Azure OpenAI), each exposing a uniform LanguageModel
// capability that the workflow executor's ai_step node and the
// stream package's ChatStreamer consume without caring which vendor
// backs a given model alias.
package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudops-io/workflow-core/engine/errors"
	"github.com/cloudops-io/workflow-core/engine/stream"
)

// Kind tags the variants of the provider union.
type Kind string

const (
	KindAnthropic   Kind = "anthropic"
	KindOpenAI      Kind = "openai"
	KindGoogle      Kind = "google"
	KindOCI         Kind = "oci"
	KindAzureOpenAI Kind = "azure_openai"
)

// Message is the provider-agnostic chat message shape, convertible
// to and from stream.ChatMessage at the call boundary.
type Message struct {
	Role    string
	Content string
}

// ToolSpec is the provider-agnostic tool advertisement shape.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	Name  string
	Input map[string]any
}

// ChatOut is a complete (non-streamed) chat response.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall
}

// LanguageModel is the capability every provider adapter implements:
// a single-shot Chat call and, via stream.TokenSource, an incremental
// streaming call. Non-streaming vendor SDKs synthesize a stream with
// one text event followed by Done.
type LanguageModel interface {
	stream.TokenSource
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
	Kind() Kind
	ModelName() string
}

// Config describes one configured model alias, per spec §4.8's
// definition of a provider entry (a named alias mapping to a kind,
// credentials, and an underlying model identifier).
type Config struct {
	Alias     string
	Kind      Kind
	APIKey    string
	ModelName string
	// BaseURL is only consulted by the OCI and Azure OpenAI adapters.
	BaseURL string
	// Region/Deployment are Azure/OCI-specific identifiers.
	Region     string
	Deployment string
}

// Registry resolves a model alias to a LanguageModel, building
// adapters lazily and caching them, per spec §4.8's copy-on-write
// reload semantics: Reload atomically swaps in a new immutable
// snapshot rather than mutating the live map in place, so in-flight
// lookups never observe a partially updated registry.
type Registry struct {
	mu    sync.RWMutex
	byAlias map[string]Config
	cache sync.Map // alias -> LanguageModel
}

// NewRegistry returns a Registry seeded with configs.
func NewRegistry(configs []Config) *Registry {
	r := &Registry{byAlias: make(map[string]Config, len(configs))}
	for _, c := range configs {
		r.byAlias[c.Alias] = c
	}
	return r
}

// Reload atomically replaces the registry's configuration set and
// drops all cached adapters, so subsequent lookups rebuild against
// the new configs.
func (r *Registry) Reload(configs []Config) {
	next := make(map[string]Config, len(configs))
	for _, c := range configs {
		next[c.Alias] = c
	}
	r.mu.Lock()
	r.byAlias = next
	r.mu.Unlock()
	r.cache.Range(func(k, _ any) bool {
		r.cache.Delete(k)
		return true
	})
}

// Resolve returns the LanguageModel for alias, constructing and
// caching it on first use.
func (r *Registry) Resolve(alias string) (LanguageModel, error) {
	if v, ok := r.cache.Load(alias); ok {
		return v.(LanguageModel), nil
	}

	r.mu.RLock()
	cfg, ok := r.byAlias[alias]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.NotFound, fmt.Sprintf("no provider configured for model alias %q", alias))
	}

	lm, err := build(cfg)
	if err != nil {
		return nil, err
	}
	actual, _ := r.cache.LoadOrStore(alias, lm)
	return actual.(LanguageModel), nil
}

func build(cfg Config) (LanguageModel, error) {
	switch cfg.Kind {
	case KindAnthropic:
		return newAnthropicModel(cfg), nil
	case KindOpenAI:
		return newOpenAIModel(cfg), nil
	case KindGoogle:
		return newGoogleModel(cfg), nil
	case KindOCI:
		return newOCIModel(cfg), nil
	case KindAzureOpenAI:
		return newAzureOpenAIModel(cfg), nil
	default:
		return nil, errors.New(errors.Validation, fmt.Sprintf("unknown provider kind %q", cfg.Kind))
	}
}

// synthesizeStream turns a single ChatOut into the two- or
// three-event stream every non-natively-streaming adapter produces:
// one text event (if any text), one event per proposed tool call, then
// Done. A tool call is only ever a proposal here — it is surfaced as
// ChatEventToolInvocationStarted, not Completed: the model has not
// actually invoked anything, and it is the streamer's agent-context
// tool-loop (engine/stream.ChatStreamer.Stream) that resolves,
// approval-gates, and invokes it before reporting a real outcome.
func synthesizeStream(out ChatOut, err error) (<-chan stream.ChatEvent, error) {
	if err != nil {
		return nil, err
	}
	ch := make(chan stream.ChatEvent, len(out.ToolCalls)+2)
	if out.Text != "" {
		ch <- stream.ChatEvent{Kind: stream.ChatEventText, TextDelta: out.Text}
	}
	for _, tc := range out.ToolCalls {
		ch <- stream.ChatEvent{
			Kind:       stream.ChatEventToolInvocationStarted,
			ToolCallID: tc.Name,
			ToolName:   tc.Name,
			ToolInput:  tc.Input,
		}
	}
	ch <- stream.ChatEvent{Kind: stream.ChatEventDone}
	close(ch)
	return ch, nil
}

func toProviderMessages(messages []stream.ChatMessage) []Message {
	out := make([]Message, len(messages))
	for i, m := range messages {
		out[i] = Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func toProviderTools(tools []stream.ChatToolSpec) []ToolSpec {
	out := make([]ToolSpec, len(tools))
	for i, t := range tools {
		out[i] = ToolSpec{Name: t.Name, Description: t.Description, Schema: t.Schema}
	}
	return out
}
