package guardrail

import (
	"context"
	"regexp"

	"go.uber.org/zap"

	"github.com/cloudops-io/workflow-core/engine/logging"
)

// injectionPatterns is the closed, case-insensitive pattern set of
// spec §6. Every message containing any pattern aborts the input
// chain (spec §8 invariant 8).
var injectionPatterns = compilePatterns([]string{
	`(?i)ignore (all )?(previous|above|prior) (instructions|prompts|rules)`,
	`(?i)you are now (a|an) `,
	`(?i)forget (all )?(your|previous) (instructions|rules|constraints)`,
	`(?i)disregard (all )?(previous|prior|your) (instructions|rules)`,
	`(?i)new instruction[s]?:`,
	`(?i)system:`,
	`(?i)\[INST\]`,
	`(?i)<<SYS>>`,
	`(?i)<\|im_start\|>`,
	`(?i)act as if you (have )?no (restrictions|rules|guidelines)`,
})

func compilePatterns(exprs []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// InjectionDetector scans the most recent user message against the
// closed pattern set and aborts on match. The attempted content is
// never echoed into the abort message or logs (spec §4.6).
type InjectionDetector struct{}

const injectionAbortMessage = "This request could not be processed because it appears to contain an attempt to alter the assistant's instructions."

func (InjectionDetector) Process(_ context.Context, messages []Message) error {
	msg := lastUserMessage(messages)
	if msg == "" {
		return nil
	}
	for _, p := range injectionPatterns {
		if p.MatchString(msg) {
			a := &Abort{UserMessage: injectionAbortMessage}
			logging.L().Warn("guardrail blocked prompt injection attempt", zap.String("pattern", p.String()))
			return a
		}
	}
	return nil
}

func lastUserMessage(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
