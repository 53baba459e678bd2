package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys. Values must be metadata only, never credentials.
const (
	AttrClientID     = "oauth.client_id"
	AttrUsername     = "oauth.username"
	AttrScope        = "oauth.scope"
	AttrGrantType    = "oauth.grant_type"
	AttrClientType   = "oauth.client_type"
	AttrRejectReason = "oauth.reject_reason"

	AttrStorageOperation = "storage.operation"
	AttrStorageType      = "storage.type"

	AttrGalaxyURL       = "galaxy.url"
	AttrGalaxyOperation = "galaxy.operation"
	AttrGalaxyStatus    = "galaxy.status"

	AttrClientIP = "security.client_ip"

	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe)
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddOAuthFlowAttributes adds the non-empty flow attributes to a span
func AddOAuthFlowAttributes(span trace.Span, clientID, username, scope string) {
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if username != "" {
		SetSpanAttributes(span, attribute.String(AttrUsername, username))
	}
	if scope != "" {
		SetSpanAttributes(span, attribute.String(AttrScope, scope))
	}
}

// AddGrantRejection tags a token endpoint span with the grant type and a
// short machine-readable reason such as "expired" or "client_mismatch".
func AddGrantRejection(span trace.Span, grantType, reason string) {
	SetSpanAttributes(span,
		attribute.String(AttrGrantType, grantType),
		attribute.String(AttrRejectReason, reason),
	)
}

// AddClientAttributes adds a registered client's id and type to a span
func AddClientAttributes(span trace.Span, clientID, clientType string) {
	SetSpanAttributes(span,
		attribute.String(AttrClientID, clientID),
		attribute.String(AttrClientType, clientType),
	)
}

// AddStorageAttributes adds storage operation attributes to a span
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}

// AddGalaxyAttributes adds upstream call attributes to a span
func AddGalaxyAttributes(span trace.Span, galaxyURL, operation string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrGalaxyURL, galaxyURL),
		attribute.String(AttrGalaxyOperation, operation),
		attribute.Int(AttrGalaxyStatus, statusCode),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// AddSecurityAttributes adds the client address to a span. Check
// Instrumentation.ShouldLogClientIPs before calling.
func AddSecurityAttributes(span trace.Span, clientIP string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}
