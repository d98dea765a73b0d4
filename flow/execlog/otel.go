package execlog

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelSink implements Sink by creating OpenTelemetry spans.
//
// Each entry becomes a span with:
//   - Span name: the entry category (e.g., "NODE_START", "NODE_END")
//   - Attributes: executionId, level, message, and all context fields
//   - Status: error when the entry category is ERROR
//
// Spans are ended immediately; entries represent points in time rather
// than durations. When the context carries "durationMs" the value is
// attached as an attribute so backends can reconstruct latency.
//
// Usage:
//
//	tracer := otel.Tracer("flowrun")
//	logger.AddSink(execlog.NewOTelSink(tracer))
type OTelSink struct {
	tracer trace.Tracer
}

// NewOTelSink creates a sink emitting a span per entry.
//
// Parameters:
//   - tracer: OpenTelemetry tracer from otel.Tracer("service-name")
func NewOTelSink(tracer trace.Tracer) *OTelSink {
	return &OTelSink{tracer: tracer}
}

// Handle creates and ends a span for the entry.
func (o *OTelSink) Handle(e Entry) {
	_, span := o.tracer.Start(context.Background(), string(e.Category),
		trace.WithTimestamp(e.Timestamp))
	defer span.End()

	span.SetAttributes(
		attribute.String("flowrun.execution_id", e.ExecutionID),
		attribute.String("flowrun.level", e.Level.String()),
		attribute.String("flowrun.message", e.Message),
	)
	o.addContextAttributes(span, e.Context)

	if e.Category == CategoryError {
		msg := e.Message
		if em, ok := e.Context["errorMessage"].(string); ok {
			msg = em
		}
		span.SetStatus(codes.Error, msg)
		span.RecordError(fmt.Errorf("%s", msg))
	}
}

// Flush forces export of pending spans. Call before shutdown so the
// batch span processor drains.
func (o *OTelSink) Flush(ctx context.Context) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := otel.GetTracerProvider().(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

// addContextAttributes converts entry context to span attributes.
//
// Handles common types:
//   - string, int, int64, float64, bool: direct conversion
//   - time.Duration: converted to milliseconds
//   - other types: string representation
func (o *OTelSink) addContextAttributes(span trace.Span, ctx map[string]any) {
	for key, value := range ctx {
		attrKey := "flowrun." + key
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(attrKey, v.Milliseconds()))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}
}
