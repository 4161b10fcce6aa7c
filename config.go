package socialvault

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/marketloop/socialvault/instrumentation"
)

// Default configuration values.
const (
	// DefaultFlowTTL bounds how long a user has between starting a connect
	// flow and completing the provider callback.
	DefaultFlowTTL = 10 * time.Minute

	// DefaultRateLimitPerSecond is the per-client request rate applied to
	// the connection endpoints.
	DefaultRateLimitPerSecond = 5

	// DefaultRateLimitBurst is the burst allowance above the sustained rate.
	DefaultRateLimitBurst = 10
)

// Config holds service configuration. Secrets are injected at construction;
// nothing here is read from the process environment directly.
type Config struct {
	// MasterSecret derives the credential encryption keys. Required.
	MasterSecret string

	// StateSecret signs state tokens. Required, and independent from
	// MasterSecret so the two can rotate separately.
	StateSecret string

	// InternalServiceToken authorizes the decrypt-for-use endpoint. Only
	// backend services hold it; when empty the endpoint is disabled.
	InternalServiceToken string

	// FlowTTL is how long a pending authorization flow stays consumable.
	FlowTTL time.Duration

	// RateLimitPerSecond and RateLimitBurst tune the per-client limiter on
	// the connection endpoints. Zero values take the defaults; set
	// RateLimitPerSecond negative to disable limiting.
	RateLimitPerSecond int
	RateLimitBurst     int

	// TrustProxy enables X-Forwarded-For parsing for client IPs, trusting
	// TrustedProxyCount hops. Leave false unless a proxy you control
	// terminates all inbound traffic.
	TrustProxy        bool
	TrustedProxyCount int

	// AuditEnabled controls security audit logging.
	AuditEnabled bool

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger

	// Instrumentation provides metrics and tracing. Optional; a no-op
	// instance is created when nil.
	Instrumentation *instrumentation.Instrumentation
}

// Validate checks required fields and applies defaults in place.
func (c *Config) Validate() error {
	if c.MasterSecret == "" {
		return fmt.Errorf("master secret is required")
	}
	if c.StateSecret == "" {
		return fmt.Errorf("state secret is required")
	}
	if c.MasterSecret == c.StateSecret {
		return fmt.Errorf("master secret and state secret must differ")
	}
	if c.FlowTTL <= 0 {
		c.FlowTTL = DefaultFlowTTL
	}
	if c.RateLimitPerSecond == 0 {
		c.RateLimitPerSecond = DefaultRateLimitPerSecond
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = DefaultRateLimitBurst
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}
