package log

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ SpanEventRecorder = &OtelSpanEventRecorder{}

const (
	missingAttributeValue = "MISSING"
	invalidAttributeKey   = "invalidKeysAndValues"
)

// OtelSpanEventRecorder records log entries as OpenTelemetry span events.
type OtelSpanEventRecorder struct {
	span trace.Span
}

func NewOtelSpanEventRecorder(span trace.Span) *OtelSpanEventRecorder {
	return &OtelSpanEventRecorder{span: span}
}

func (ser *OtelSpanEventRecorder) TraceID() string {
	return ser.span.SpanContext().TraceID().String()
}

func (ser *OtelSpanEventRecorder) SpanID() string {
	return ser.span.SpanContext().SpanID().String()
}

func (ser *OtelSpanEventRecorder) RecordEvent(name string, keysAndValues ...any) {
	ser.span.AddEvent(name, trace.WithAttributes(kvToOtelAttributes(keysAndValues...)...))
}

// RecordError also sets the span status to Error.
func (ser *OtelSpanEventRecorder) RecordError(name string, keysAndValues ...any) {
	ser.RecordEvent(name, keysAndValues...)
	ser.span.SetStatus(codes.Error, name)
}

// kvToOtelAttributes converts pairs to attributes. A dangling key gets
// MISSING as its value; a non-string key ends the conversion and the rest
// is kept as one string attribute.
func kvToOtelAttributes(keysAndValues ...any) []attribute.KeyValue {
	if len(keysAndValues)%2 != 0 {
		keysAndValues = append(keysAndValues, missingAttributeValue)
	}

	attrs := make([]attribute.KeyValue, 0, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			attrs = append(attrs, attribute.String(invalidAttributeKey, fmt.Sprint(keysAndValues[i:])))
			break
		}
		attrs = append(attrs, toAttribute(key, keysAndValues[i+1]))
	}
	return attrs
}

func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case bool:
		return attribute.Bool(key, v)
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int8:
		return attribute.Int64(key, int64(v))
	case int16:
		return attribute.Int64(key, int64(v))
	case int32:
		return attribute.Int64(key, int64(v))
	case int64:
		return attribute.Int64(key, v)
	case uint8:
		return attribute.Int64(key, int64(v))
	case uint16:
		return attribute.Int64(key, int64(v))
	case uint32:
		return attribute.Int64(key, int64(v))
	case float32:
		return attribute.Float64(key, float64(v))
	case float64:
		return attribute.Float64(key, v)
	case error:
		return attribute.String(key, v.Error())
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		// uint and uint64 may overflow int64, so they are printed.
		return attribute.String(key, fmt.Sprint(v))
	}
}
