package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys.
//
// SECURITY WARNING: Never log actual sensitive values (access tokens, refresh
// tokens, authorization codes, ciphertext envelopes) in traces or metrics.
// Only log metadata such as platform names, expiry times, and validation
// results. Traces are persisted, replicated, and visible to wider audiences
// than the custody boundary allows.
const (
	// Connection flow attributes - metadata only
	AttrPlatform       = "connection.platform"        // Platform identifier (facebook, twitter, ...)
	AttrConnectionID   = "connection.id"              // Connection record ID (non-secret)
	AttrAccountPresent = "connection.account_present" // Whether an account was resolved (boolean)
	AttrTokenRotated   = "connection.token_rotated"   //nolint:gosec // Whether refresh rotated the token (boolean)
	AttrTokenExpiry    = "connection.token_expiry"    //nolint:gosec // Token expiry timestamp, not the token
	AttrPKCEUsed       = "connection.pkce_used"       // Whether the flow carried a PKCE challenge

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"

	// Provider attributes
	AttrProviderName      = "provider.name"
	AttrProviderOperation = "provider.operation"
	AttrProviderStatus    = "provider.status"

	// Security attributes
	AttrRateLimiterType     = "security.rate_limiter.type"
	AttrClientIP            = "security.client_ip"
	AttrAuditEventType      = "security.audit.event_type"
	AttrEncryptionOperation = "security.encryption.operation"

	// HTTP attributes (in addition to standard semantic conventions)
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe).
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe).
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe).
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe).
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddFlowAttributes adds common connection flow attributes to a span
// (nil-safe). The user ID is deliberately absent; correlate through audit
// logs, which hash it.
func AddFlowAttributes(span trace.Span, platform, connectionID string) {
	if span == nil {
		return
	}
	if platform != "" {
		span.SetAttributes(attribute.String(AttrPlatform, platform))
	}
	if connectionID != "" {
		span.SetAttributes(attribute.String(AttrConnectionID, connectionID))
	}
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe).
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}

// AddProviderAttributes adds provider call attributes to a span (nil-safe).
func AddProviderAttributes(span trace.Span, providerName, operation string) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.String(AttrProviderName, providerName),
		attribute.String(AttrProviderOperation, operation),
	)
}

// AddHTTPAttributes adds HTTP attributes to a span (nil-safe).
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// AddSecurityAttributes adds the client IP to a span (nil-safe). Callers
// must consult Instrumentation.ShouldLogClientIPs first.
func AddSecurityAttributes(span trace.Span, clientIP string) {
	if span == nil || clientIP == "" {
		return
	}
	span.SetAttributes(attribute.String(AttrClientIP, clientIP))
}
