// Package audit implements the write-only audit sink of spec §4.4 and
// §6: every tool invocation, approval decision, and compensation step
// is recorded with its arguments redacted through the same closed PII
// pattern set the guardrail output processor uses, so secrets never
// reach an audit record in plaintext. Audit failures are logged and
// swallowed — they must never block the primary operation (spec §7).
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/cloudops-io/workflow-core/engine/guardrail"
	"github.com/cloudops-io/workflow-core/engine/logging"
)

// Event is one audit record.
type Event struct {
	RunID     string
	OrgID     string
	UserID    string
	NodeID    string
	NodeType  string
	Action    string
	Args      map[string]any
	Error     string
	Timestamp time.Time
}

// Sink accepts audit events. Implementations must not return an error
// that the caller is expected to act on — Write itself never fails
// the caller's operation; a Sink that talks to a remote store should
// swallow its own transport errors internally.
type Sink interface {
	Write(ctx context.Context, e Event)
}

// redactor is shared across all Sink implementations in this package;
// guardrail.PIIRedactor holds no state so one instance suffices.
var redactor guardrail.PIIRedactor

// redactArgs renders args as JSON then runs it through the PII
// redaction pattern set, returning the sanitized string. A failure to
// marshal degrades to a fixed placeholder rather than risking a
// plaintext leak.
func redactArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "[unserializable args]"
	}
	redacted, _ := redactor.Process(context.Background(), string(b))
	return redacted
}

// LogSink writes audit events as structured log lines via the
// engine's zap logger. It is the default sink for the example
// binaries and for any deployment that ships logs to a SIEM rather
// than a queryable audit store.
type LogSink struct{}

// NewLogSink returns a LogSink.
func NewLogSink() *LogSink { return &LogSink{} }

func (LogSink) Write(_ context.Context, e Event) {
	fields := []zap.Field{
		zap.String("run_id", e.RunID),
		zap.String("org_id", e.OrgID),
		zap.String("user_id", e.UserID),
		zap.String("node_id", e.NodeID),
		zap.String("node_type", e.NodeType),
		zap.String("action", e.Action),
		zap.String("args", redactArgs(e.Args)),
	}
	if e.Error != "" {
		fields = append(fields, zap.String("error", e.Error))
		logging.L().Warn("audit", fields...)
		return
	}
	logging.L().Info("audit", fields...)
}

// MultiSink fans an event out to every configured sink, so a
// deployment can log to both stdout and a durable store. A panicking
// sink is recovered so one broken sink cannot take down the others or
// the caller's operation.
type MultiSink struct {
	Sinks []Sink
}

func (m MultiSink) Write(ctx context.Context, e Event) {
	for _, s := range m.Sinks {
		writeRecovering(ctx, s, e)
	}
}

func writeRecovering(ctx context.Context, s Sink, e Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.L().Warn("audit sink panicked, dropping entry", zap.Any("recover", r))
		}
	}()
	s.Write(ctx, e)
}
