package instrumentation

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func newTestSpan(t *testing.T) trace.Span {
	t.Helper()

	inst, err := New(Config{ServiceName: "test-service"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { inst.Shutdown(context.Background()) })

	_, span := inst.Tracer("test").Start(context.Background(), "test-span")
	t.Cleanup(func() { span.End() })
	return span
}

func TestRecordError(t *testing.T) {
	span := newTestSpan(t)

	RecordError(span, errors.New("something failed"))
	RecordError(span, nil)
}

func TestSetSpanStatus(t *testing.T) {
	span := newTestSpan(t)

	SetSpanSuccess(span)
	SetSpanError(span, "operation failed")
}

func TestSetSpanAttributes(t *testing.T) {
	span := newTestSpan(t)

	SetSpanAttributes(span,
		attribute.String(AttrPlatform, "facebook"),
		attribute.Bool(AttrPKCEUsed, false),
	)
	SetSpanAttributes(span)
}

func TestAddFlowAttributes(t *testing.T) {
	span := newTestSpan(t)

	AddFlowAttributes(span, "twitter", "conn-123")
	AddFlowAttributes(span, "", "")
	AddFlowAttributes(span, "facebook", "")
}

func TestAddStorageAttributes(t *testing.T) {
	span := newTestSpan(t)

	AddStorageAttributes(span, "upsert", "postgres")
	AddStorageAttributes(span, "consume_flow", "valkey")
}

func TestAddProviderAttributes(t *testing.T) {
	span := newTestSpan(t)

	AddProviderAttributes(span, "linkedin", "exchange_code")
}

func TestAddHTTPAttributes(t *testing.T) {
	span := newTestSpan(t)

	AddHTTPAttributes(span, "POST", "/api/connections/facebook", 201)
}

func TestAddSecurityAttributes(t *testing.T) {
	span := newTestSpan(t)

	AddSecurityAttributes(span, "203.0.113.9")
	AddSecurityAttributes(span, "")
}

func TestNilSafeHelpers_WithNilSpans(t *testing.T) {
	// All helpers must tolerate a nil span without panicking.
	RecordError(nil, errors.New("err"))
	SetSpanSuccess(nil)
	SetSpanError(nil, "msg")
	SetSpanAttributes(nil, attribute.String("k", "v"))
	AddFlowAttributes(nil, "facebook", "conn-1")
	AddStorageAttributes(nil, "get", "memory")
	AddProviderAttributes(nil, "twitter", "fetch_account")
	AddHTTPAttributes(nil, "GET", "/healthz", 200)
	AddSecurityAttributes(nil, "198.51.100.1")
}
