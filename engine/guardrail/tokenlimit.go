package guardrail

import (
	"context"
	"fmt"
)

// DefaultMaxInputChars is the spec §6 default for TokenLimiter.
const DefaultMaxInputChars = 50000

// TokenLimiter sums the character length of all message text parts
// and aborts with an estimated-token-count message when the total
// exceeds MaxInputChars (spec §4.6).
type TokenLimiter struct {
	MaxInputChars int
}

// NewTokenLimiter returns a TokenLimiter using the spec default when
// maxInputChars is zero.
func NewTokenLimiter(maxInputChars int) TokenLimiter {
	if maxInputChars <= 0 {
		maxInputChars = DefaultMaxInputChars
	}
	return TokenLimiter{MaxInputChars: maxInputChars}
}

func (t TokenLimiter) Process(_ context.Context, messages []Message) error {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	if total <= t.MaxInputChars {
		return nil
	}
	estTokens := total / 4
	return &Abort{
		UserMessage:  fmt.Sprintf("Your message is too long to process (approximately %d tokens). Please shorten it and try again.", estTokens),
		EstimatedTok: estTokens,
	}
}
