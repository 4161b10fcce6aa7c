package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the connection service.
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Connection Flow Metrics
	ConnectFlowStarted metric.Int64Counter
	CallbackProcessed  metric.Int64Counter
	TokenRefreshed     metric.Int64Counter
	Disconnected       metric.Int64Counter
	TokenDecrypted     metric.Int64Counter

	// Security Metrics
	CSRFRejected      metric.Int64Counter
	AuthFailures      metric.Int64Counter
	RateLimitExceeded metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageConnectionsCount  metric.Int64ObservableGauge
	StorageFlowsCount        metric.Int64ObservableGauge

	// Provider Metrics
	ProviderAPICallsTotal metric.Int64Counter
	ProviderAPIDuration   metric.Float64Histogram
	ProviderAPIErrors     metric.Int64Counter

	// Audit Metrics
	AuditEventsTotal metric.Int64Counter

	// Encryption Metrics
	EncryptionOperationsTotal metric.Int64Counter
	EncryptionDuration        metric.Float64Histogram
}

// newMetrics creates and registers all metric instruments.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	serviceMeter := inst.Meter("service")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")
	providerMeter := inst.Meter("provider")

	var err error
	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"socialvault.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"socialvault.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.ConnectFlowStarted, err = serviceMeter.Int64Counter(
		"socialvault.connect.started",
		metric.WithDescription("Number of connection flows started"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connect.started counter: %w", err)
	}

	m.CallbackProcessed, err = serviceMeter.Int64Counter(
		"socialvault.callback.processed",
		metric.WithDescription("Number of provider callbacks processed"),
		metric.WithUnit("{callback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create callback.processed counter: %w", err)
	}

	m.TokenRefreshed, err = serviceMeter.Int64Counter(
		"socialvault.token.refreshed",
		metric.WithDescription("Number of connection credentials refreshed"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.refreshed counter: %w", err)
	}

	m.Disconnected, err = serviceMeter.Int64Counter(
		"socialvault.connection.disconnected",
		metric.WithDescription("Number of connections disconnected"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection.disconnected counter: %w", err)
	}

	m.TokenDecrypted, err = serviceMeter.Int64Counter(
		"socialvault.token.decrypted",
		metric.WithDescription("Number of credential decryptions for internal use"),
		metric.WithUnit("{decryption}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.decrypted counter: %w", err)
	}

	m.CSRFRejected, err = securityMeter.Int64Counter(
		"socialvault.security.csrf.rejected",
		metric.WithDescription("Number of callbacks rejected by state verification"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create csrf.rejected counter: %w", err)
	}

	m.AuthFailures, err = securityMeter.Int64Counter(
		"socialvault.security.auth.failures",
		metric.WithDescription("Number of unauthenticated requests rejected"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth.failures counter: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"socialvault.security.ratelimit.exceeded",
		metric.WithDescription("Number of requests rejected by rate limiting"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.exceeded counter: %w", err)
	}

	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"socialvault.storage.operations.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operations.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"socialvault.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StorageConnectionsCount, err = storageMeter.Int64ObservableGauge(
		"socialvault.storage.connections.count",
		metric.WithDescription("Current number of stored connections"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.connections.count gauge: %w", err)
	}

	m.StorageFlowsCount, err = storageMeter.Int64ObservableGauge(
		"socialvault.storage.flows.count",
		metric.WithDescription("Current number of pending flows"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.flows.count gauge: %w", err)
	}

	m.ProviderAPICallsTotal, err = providerMeter.Int64Counter(
		"socialvault.provider.api.calls.total",
		metric.WithDescription("Total number of provider API calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider.api.calls.total counter: %w", err)
	}

	m.ProviderAPIDuration, err = providerMeter.Float64Histogram(
		"socialvault.provider.api.duration",
		metric.WithDescription("Provider API call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider.api.duration histogram: %w", err)
	}

	m.ProviderAPIErrors, err = providerMeter.Int64Counter(
		"socialvault.provider.api.errors",
		metric.WithDescription("Number of failed provider API calls"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider.api.errors counter: %w", err)
	}

	m.AuditEventsTotal, err = securityMeter.Int64Counter(
		"socialvault.audit.events.total",
		metric.WithDescription("Total number of audit events emitted"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.events.total counter: %w", err)
	}

	m.EncryptionOperationsTotal, err = securityMeter.Int64Counter(
		"socialvault.encryption.operations.total",
		metric.WithDescription("Total number of credential encryption/decryption operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryption.operations.total counter: %w", err)
	}

	m.EncryptionDuration, err = securityMeter.Float64Histogram(
		"socialvault.encryption.duration",
		metric.WithDescription("Credential encryption/decryption duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryption.duration histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status_code", statusCode),
	}
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordConnectFlowStarted records the start of a connection flow.
func (m *Metrics) RecordConnectFlowStarted(ctx context.Context, platform string) {
	m.ConnectFlowStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("platform", platform),
	))
}

// RecordCallbackProcessed records a provider callback.
func (m *Metrics) RecordCallbackProcessed(ctx context.Context, platform string, success bool) {
	m.CallbackProcessed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("platform", platform),
		attribute.Bool("success", success),
	))
}

// RecordTokenRefresh records a credential refresh, noting whether the
// provider rotated the refresh token.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, platform string, rotated bool) {
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("platform", platform),
		attribute.Bool("rotated", rotated),
	))
}

// RecordDisconnect records a connection disconnect.
func (m *Metrics) RecordDisconnect(ctx context.Context, platform string) {
	m.Disconnected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("platform", platform),
	))
}

// RecordTokenDecrypted records a credential decryption for internal use.
func (m *Metrics) RecordTokenDecrypted(ctx context.Context, platform string) {
	m.TokenDecrypted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("platform", platform),
	))
}

// RecordCSRFRejected records a callback rejected by state verification.
func (m *Metrics) RecordCSRFRejected(ctx context.Context, platform string) {
	m.CSRFRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("platform", platform),
	))
}

// RecordAuthFailure records an unauthenticated request.
func (m *Metrics) RecordAuthFailure(ctx context.Context, reason string) {
	m.AuthFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordRateLimitExceeded records a rate limit rejection.
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter_type", limiterType),
	))
}

// RecordStorageOperation records a storage operation with result and duration.
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("result", result),
	}
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordProviderAPICall records a provider API call with outcome and duration.
func (m *Metrics) RecordProviderAPICall(ctx context.Context, provider, operation string, durationMs float64, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("operation", operation),
	}
	m.ProviderAPICallsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.ProviderAPIDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
	))
	if err != nil {
		m.ProviderAPIErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordAuditEvent records an emitted audit event.
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordEncryptionOperation records an encryption or decryption operation.
func (m *Metrics) RecordEncryptionOperation(ctx context.Context, operation string, durationMs float64) {
	m.EncryptionOperationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
	))
	m.EncryptionDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
