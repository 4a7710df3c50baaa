package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EnvelopeOperation builds the attribute set recorded for one ingested
// envelope: its id, kind, sender, and the routing decision the gateway
// made for it.
func EnvelopeOperation(envelopeID, kind, participantID, decision string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("mew.envelope.id", envelopeID),
		attribute.String("mew.envelope.kind", kind),
		attribute.String("mew.participant.id", participantID),
		attribute.String("mew.decision", decision),
	}
}

// CapabilityOperation builds the attribute set recorded for a grant or
// revoke acting on participantID.
func CapabilityOperation(participantID, capabilityID, action string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("mew.participant.id", participantID),
		attribute.String("mew.capability.id", capabilityID),
		attribute.String("mew.capability.action", action),
	}
}

// StreamOperation builds the attribute set recorded for a stream
// sub-channel lifecycle event.
func StreamOperation(streamID, action string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("mew.stream.id", streamID),
		attribute.String("mew.stream.action", action),
	}
}

// SpanFromContext returns the active span in ctx, or a no-op span if none
// is present.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent records a named event with attrs on ctx's active span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus marks ctx's active span as errored, or Ok when err is nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
