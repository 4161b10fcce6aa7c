package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger   *slog.Logger
	enabled  bool
	observer func(eventType string)
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// SetObserver registers a callback invoked with the event type of every
// emitted audit event, for metrics. Call before the auditor is shared.
func (a *Auditor) SetObserver(fn func(eventType string)) {
	a.observer = fn
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	Platform  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	if a.observer != nil {
		a.observer(event.Type)
	}

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"platform", event.Platform,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogConnectionEstablished logs a successful provider connection
func (a *Auditor) LogConnectionEstablished(userID, platform, accountID string) {
	a.LogEvent(Event{
		Type:     EventConnectionEstablished,
		UserID:   userID,
		Platform: platform,
		Details: map[string]any{
			"account_id_hash": hashForLogging(accountID),
		},
	})
}

// LogConnectionDisconnected logs a user-initiated disconnect
func (a *Auditor) LogConnectionDisconnected(userID, platform, connectionID string) {
	a.LogEvent(Event{
		Type:     EventConnectionDisconnected,
		UserID:   userID,
		Platform: platform,
		Details: map[string]any{
			"connection_id": connectionID,
		},
	})
}

// LogTokenRotated logs a successful token rotation on refresh
func (a *Auditor) LogTokenRotated(userID, platform, connectionID string) {
	a.LogEvent(Event{
		Type:     EventTokenRotated,
		UserID:   userID,
		Platform: platform,
		Details: map[string]any{
			"connection_id": connectionID,
		},
	})
}

// LogTokenDecrypted logs a decrypt-for-use request. The plaintext itself is
// never part of the event.
func (a *Auditor) LogTokenDecrypted(userID, platform, tokenType string) {
	a.LogEvent(Event{
		Type:     EventTokenDecrypted,
		UserID:   userID,
		Platform: platform,
		Details: map[string]any{
			"token_type": tokenType,
		},
	})
}

// LogCSRFRejected logs a state verification failure
func (a *Auditor) LogCSRFRejected(userID, platform, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventCSRFRejected,
		UserID:    userID,
		Platform:  platform,
		IPAddress: ipAddress,
		Details: map[string]any{
			"severity": "critical",
			"reason":   reason,
		},
	})
}

// LogProviderExchangeFailed logs a failed code exchange with a provider
func (a *Auditor) LogProviderExchangeFailed(userID, platform, reason string) {
	a.LogEvent(Event{
		Type:     EventProviderExchangeFailed,
		UserID:   userID,
		Platform: platform,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogProviderRefreshFailed logs a failed token rotation with a provider
func (a *Auditor) LogProviderRefreshFailed(userID, platform, connectionID string) {
	a.LogEvent(Event{
		Type:     EventProviderRefreshFailed,
		UserID:   userID,
		Platform: platform,
		Details: map[string]any{
			"connection_id": connectionID,
		},
	})
}

// LogUntrustedDecryptCaller logs a decrypt-for-use attempt that failed the
// internal service token check
func (a *Auditor) LogUntrustedDecryptCaller(userID string) {
	a.LogEvent(Event{
		Type:   EventUntrustedDecryptCaller,
		UserID: userID,
		Details: map[string]any{
			"severity": "critical",
		},
	})
}

// LogAuthFailure logs an authentication failure
func (a *Auditor) LogAuthFailure(userID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		UserID:    userID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogDecryptionFailure logs a failed envelope decryption
func (a *Auditor) LogDecryptionFailure(userID, platform, connectionID string) {
	a.LogEvent(Event{
		Type:     EventDecryptionFailure,
		UserID:   userID,
		Platform: platform,
		Details: map[string]any{
			"connection_id": connectionID,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, userID string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		UserID:    userID,
		IPAddress: ipAddress,
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
