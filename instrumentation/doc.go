// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for
// the connection service.
//
// It covers three observability layers:
//   - Metrics: counters, histograms, and gauges for connection flows,
//     storage, provider calls, and security events
//   - Traces: distributed tracing helpers for request flows across components
//   - Logging: structured logs correlate via request IDs, outside this package
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "socialvault",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
// # Available Metrics
//
// HTTP layer:
//   - socialvault.http.requests.total{method, endpoint, status_code}
//   - socialvault.http.request.duration{endpoint}
//
// Connection flows:
//   - socialvault.connect.started{platform}
//   - socialvault.callback.processed{platform, success}
//   - socialvault.token.refreshed{platform, rotated}
//   - socialvault.connection.disconnected{platform}
//   - socialvault.token.decrypted{platform}
//
// Security:
//   - socialvault.security.csrf.rejected{platform}
//   - socialvault.security.auth.failures{reason}
//   - socialvault.security.ratelimit.exceeded{limiter_type}
//   - socialvault.audit.events.total{event_type}
//   - socialvault.encryption.operations.total{operation}
//
// Storage and providers:
//   - socialvault.storage.operations.total{operation, result}
//   - socialvault.storage.connections.count / flows.count (gauges)
//   - socialvault.provider.api.calls.total{provider, operation}
//
// Metric attributes never carry credentials or raw user identifiers.
package instrumentation
