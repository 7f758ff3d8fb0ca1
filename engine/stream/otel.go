package stream

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OtelEmitter turns Bus events into OpenTelemetry spans, one per
// event, immediately started and ended since each event represents a
// point in time rather than a duration.
type OtelEmitter struct {
	tracer trace.Tracer
}

// NewOtelEmitter returns an OtelEmitter backed by tracer.
func NewOtelEmitter(tracer trace.Tracer) *OtelEmitter {
	return &OtelEmitter{tracer: tracer}
}

// AsSubscriber adapts the emitter to the Bus Subscriber signature.
func (o *OtelEmitter) AsSubscriber() Subscriber {
	return func(e Event) { o.Emit(e) }
}

// Emit creates a span for e. Status events become "workflow_status"
// spans, step events become "<nodeType>_<stage>" spans.
func (o *OtelEmitter) Emit(e Event) {
	ctx := context.Background()

	switch {
	case e.Status != nil:
		_, span := o.tracer.Start(ctx, "workflow_status")
		defer span.End()
		span.SetAttributes(
			attribute.String("cloudops.run_id", e.Status.RunID),
			attribute.String("cloudops.status", e.Status.Status),
		)
		if e.Status.Error != "" {
			span.SetStatus(codes.Error, e.Status.Error)
			span.RecordError(fmt.Errorf("%s", e.Status.Error))
		}
	case e.Step != nil:
		name := e.Step.NodeType + "_" + e.Step.Stage
		_, span := o.tracer.Start(ctx, name)
		defer span.End()
		span.SetAttributes(
			attribute.String("cloudops.run_id", e.Step.RunID),
			attribute.String("cloudops.node_id", e.Step.NodeID),
			attribute.String("cloudops.node_type", e.Step.NodeType),
			attribute.String("cloudops.stage", e.Step.Stage),
			attribute.Int64("cloudops.duration_ms", e.Step.DurationMs),
		)
		if e.Step.Error != "" {
			span.SetStatus(codes.Error, e.Step.Error)
			span.RecordError(fmt.Errorf("%s", e.Step.Error))
		}
	}
}

// Flush force-flushes the global tracer provider, if it supports
// ForceFlush (the SDK provider does; the no-op provider does not).
func (o *OtelEmitter) Flush(ctx context.Context) error {
	tp := otel.GetTracerProvider()
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := tp.(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}
