// Package guardrail implements the ordered input/output processors of
// spec §4.6: injection detection, a token-budget cap, and PII
// redaction wrapping the streaming chat endpoint.
package guardrail

import "context"

// Message mirrors the minimal chat message shape the guardrail chain
// operates over.
type Message struct {
	Role    string
	Content string
}

// Abort is returned by an input processor that must short-circuit the
// stream. UserMessage is safe to surface; the attempted content is
// never echoed back (spec §4.6).
type Abort struct {
	UserMessage  string
	EstimatedTok int
}

func (a *Abort) Error() string { return a.UserMessage }

// InputProcessor runs on the inbound message list before any model
// call. Order-sensitive: processors are composed in registration
// order and a processor can halt the chain by returning an *Abort.
type InputProcessor interface {
	Process(ctx context.Context, messages []Message) error
}

// OutputProcessor runs post-hoc on a complete assistant message (not
// per-token) and may rewrite it.
type OutputProcessor interface {
	Process(ctx context.Context, text string) (rewritten string, redactions int)
}

// Chain composes ordered input and output processors.
type Chain struct {
	Input  []InputProcessor
	Output []OutputProcessor
}

// RunInput executes each input processor in order, stopping at the
// first Abort.
func (c *Chain) RunInput(ctx context.Context, messages []Message) error {
	for _, p := range c.Input {
		if err := p.Process(ctx, messages); err != nil {
			return err
		}
	}
	return nil
}

// RunOutput executes each output processor in order, accumulating the
// total redaction count. A processor's own internal error must never
// fail the response — implementations of OutputProcessor are expected
// to pass text through unchanged on internal error, per spec §4.6.
func (c *Chain) RunOutput(ctx context.Context, text string) (string, int) {
	total := 0
	for _, p := range c.Output {
		var n int
		text, n = p.Process(ctx, text)
		total += n
	}
	return text, total
}
