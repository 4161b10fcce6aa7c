package security

// Event type constants for security audit logging.
// These constants ensure consistency across the codebase and prevent typos
// when logging security-relevant events.
const (
	// Connection lifecycle events

	// EventConnectionEstablished is logged when a provider connection is created or reconnected
	EventConnectionEstablished = "connection_established"

	// EventConnectionDisconnected is logged when a user deactivates a connection
	EventConnectionDisconnected = "connection_disconnected"

	// EventTokenRotated is logged when stored credentials are rotated on refresh
	EventTokenRotated = "token_rotated" //nolint:gosec // G101: event type name, not a credential

	// EventTokenDecrypted is logged when a stored credential is decrypted for server-side use
	EventTokenDecrypted = "token_decrypted" //nolint:gosec // G101: event type name, not a credential

	// Security violation events

	// EventCSRFRejected is logged when callback state verification fails
	EventCSRFRejected = "csrf_rejected"

	// EventAuthFailure is logged when session verification fails
	EventAuthFailure = "auth_failure"

	// EventDecryptionFailure is logged when an envelope cannot be decrypted
	EventDecryptionFailure = "decryption_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventUntrustedDecryptCaller is logged when decrypt-for-use is attempted
	// without the internal service token
	EventUntrustedDecryptCaller = "untrusted_decrypt_caller"

	// Provider events

	// EventProviderExchangeFailed is logged when a code exchange with a provider fails
	EventProviderExchangeFailed = "provider_exchange_failed"

	// EventProviderRefreshFailed is logged when token rotation with a provider fails
	EventProviderRefreshFailed = "provider_refresh_failed"
)
