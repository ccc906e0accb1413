package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for CDM / EME spans.
const (
	AttrOperation       = "cdm.operation"
	AttrMediaKeysHandle = "cdm.media_keys_handle"
	AttrKeySessionID    = "cdm.key_session_id"
	AttrKeySystem       = "cdm.key_system"
	AttrClientID        = "cdm.client_id"
	AttrCorrelationID   = "cdm.correlation_id"
)

// SpanCdmDispatch is the span name prefix for every IPC-dispatched CDM
// operation (spec §4.5); the operation name is appended, e.g.
// "cdm.dispatch.generateRequest".
const SpanCdmDispatch = "cdm.dispatch"

// Operation returns an attribute naming the dispatched CDM operation.
func Operation(op string) attribute.KeyValue {
	return attribute.String(AttrOperation, op)
}

// MediaKeysHandle returns an attribute for a MediaKeys instance handle.
func MediaKeysHandle(h int32) attribute.KeyValue {
	return attribute.Int64(AttrMediaKeysHandle, int64(h))
}

// KeySessionID returns an attribute for a KeySession id.
func KeySessionID(id int32) attribute.KeyValue {
	return attribute.Int64(AttrKeySessionID, int64(id))
}

// KeySystem returns an attribute for a DRM key-system identifier.
func KeySystem(ks string) attribute.KeyValue {
	return attribute.String(AttrKeySystem, ks)
}

// ClientID returns an attribute for an IPC client identifier.
func ClientID(id string) attribute.KeyValue {
	return attribute.String(AttrClientID, id)
}

// CorrelationID returns an attribute for a request correlation id.
func CorrelationID(id string) attribute.KeyValue {
	return attribute.String(AttrCorrelationID, id)
}

// StartCdmSpan starts a span for an IPC-dispatched CDM operation, tagging
// it with the operation name plus any caller-supplied attributes (typically
// the handle/session id/key system the operation addresses).
func StartCdmSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{Operation(operation)}
	allAttrs = append(allAttrs, attrs...)
	return StartSpan(ctx, SpanCdmDispatch+"."+operation, trace.WithAttributes(allAttrs...))
}
