package guardrail

import (
	"context"
	"regexp"

	"go.uber.org/zap"

	"github.com/cloudops-io/workflow-core/engine/logging"
)

type piiPattern struct {
	re    *regexp.Regexp
	label string
}

// piiPatterns is the closed pattern set of spec §6. Replacement is
// idempotent: running the redactor twice produces the same output as
// once, since the replacement labels themselves never match a source
// pattern (spec §8 invariant 7).
var piiPatterns = []piiPattern{
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN REDACTED]"},
	{regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`), "[CARD REDACTED]"},
	{regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), "[AWS_KEY REDACTED]"},
	{regexp.MustCompile(`(?i)\bocid1\.key\.[a-z0-9.]+\b`), "[OCI_KEY REDACTED]"},
	{regexp.MustCompile(`\bBearer\s+[A-Za-z0-9\-._~+/]+=*\b`), "[TOKEN REDACTED]"},
	{regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`), "[PRIVATE_KEY REDACTED]"},
}

// PIIRedactor scans a complete assistant message for the closed
// pattern set and replaces matches with bracketed labels. It must
// never fail the response: on an internal error it passes text
// through unchanged and logs (spec §4.6).
type PIIRedactor struct{}

func (PIIRedactor) Process(_ context.Context, text string) (string, int) {
	redactions := 0
	out := text
	for _, p := range piiPatterns {
		matches := p.re.FindAllStringIndex(out, -1)
		if len(matches) == 0 {
			continue
		}
		redacted, err := safeReplace(p.re, out, p.label)
		if err != nil {
			logging.L().Warn("pii redaction pattern failed, passing through unchanged", zap.Error(err), zap.String("label", p.label))
			continue
		}
		redactions += len(matches)
		out = redacted
	}
	return out, redactions
}

type patternPanic struct{ value any }

func (p *patternPanic) Error() string { return "pii redaction pattern panicked" }

func safeReplace(re *regexp.Regexp, text, label string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = text
			err = &patternPanic{value: r}
		}
	}()
	return re.ReplaceAllString(text, label), nil
}
