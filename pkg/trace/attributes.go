package trace

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used across session and recognition spans.
const (
	AttrSessionID   = "stt.session_id"
	AttrEngine      = "stt.engine"
	AttrLanguage    = "stt.language"
	AttrSampleRate  = "stt.sample_rate"
	AttrWindowBytes = "stt.window_bytes"
	AttrIsFinal     = "stt.is_final"
)

// SessionAttributes builds the common attribute set for session-scoped
// spans.
func SessionAttributes(sessionID, engine, language string, sampleRate int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrSessionID, sessionID),
		attribute.String(AttrEngine, engine),
		attribute.String(AttrLanguage, language),
		attribute.Int(AttrSampleRate, sampleRate),
	}
}

// RecordError records an error on a span and marks the span failed.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// AddEvent adds an event with attributes to a span.
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
