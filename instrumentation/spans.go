package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys.
const (
	AttrClientID   = "oauth.client_id"
	AttrClientType = "oauth.client_type"
	AttrGrantType  = "oauth.grant_type"
	AttrEndpoint   = "oauth.endpoint"
)

// SetSpanAttributes sets attributes on a span. Safe to call with a nil span.
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.SetAttributes(attrs...)
}

// SetSpanError marks a span as failed with a message. Safe with a nil span.
func SetSpanError(span trace.Span, message string) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Error, message)
}

// RecordError records an error event on a span. Safe with a nil span.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
}

// SetSpanSuccess marks a span as OK. Safe with a nil span.
func SetSpanSuccess(span trace.Span) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
}
