// Package valkey provides a Valkey-backed pending flow store. Flows expire
// via key TTLs, and consumption uses GETDEL so each state token can be
// redeemed exactly once even across multiple service instances.
package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/marketloop/socialvault/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys.
	DefaultKeyPrefix = "socialvault:"

	// connectionVerifyTimeout is the timeout for initial connection verification.
	connectionVerifyTimeout = 5 * time.Second
)

// Config holds configuration for the Valkey flow store.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "socialvault:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// FlowStore is a Valkey-backed implementation of storage.FlowStore.
type FlowStore struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
}

// Compile-time interface check.
var _ storage.FlowStore = (*FlowStore)(nil)

// New creates a new Valkey-backed flow store. Returns an error if the
// connection cannot be established.
func New(cfg Config) (*FlowStore, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey at %s: %w", cfg.Address, err)
	}

	return &FlowStore{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close releases the underlying client connection.
func (s *FlowStore) Close() {
	s.client.Close()
}

// Ping verifies the Valkey connection is alive.
func (s *FlowStore) Ping(ctx context.Context) error {
	if err := s.client.Do(ctx, s.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("valkey ping failed: %w", err)
	}
	return nil
}

// flowKey returns the key for a pending flow: {prefix}flow:{state}
func (s *FlowStore) flowKey(state string) string {
	return s.prefix + "flow:" + state
}

// flowJSON is the wire format for pending flows.
type flowJSON struct {
	State        string    `json:"state"`
	UserID       string    `json:"user_id"`
	Platform     string    `json:"platform"`
	CodeVerifier string    `json:"code_verifier,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// SaveFlow saves a pending flow with a TTL matching its expiry.
func (s *FlowStore) SaveFlow(ctx context.Context, flow *storage.PendingFlow) error {
	if flow == nil || flow.State == "" {
		return fmt.Errorf("invalid pending flow")
	}

	ttl := time.Until(flow.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("pending flow already expired")
	}

	data, err := json.Marshal(flowJSON{
		State:        flow.State,
		UserID:       flow.UserID,
		Platform:     flow.Platform,
		CodeVerifier: flow.CodeVerifier,
		CreatedAt:    flow.CreatedAt,
		ExpiresAt:    flow.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal pending flow: %w", err)
	}

	key := s.flowKey(flow.State)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save pending flow: %w", err)
	}

	s.logger.Debug("Saved pending flow",
		"platform", flow.Platform,
		"ttl_seconds", int(ttl.Seconds()))
	return nil
}

// ConsumeFlow atomically retrieves and deletes a pending flow.
//
// SECURITY: GETDEL makes retrieval and deletion a single server-side
// operation, so only one concurrent caller can redeem a given state.
func (s *FlowStore) ConsumeFlow(ctx context.Context, state string) (*storage.PendingFlow, error) {
	key := s.flowKey(state)

	data, err := s.client.Do(ctx, s.client.B().Getdel().Key(key).Build()).ToString()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil, fmt.Errorf("%w: unknown or already consumed state", storage.ErrFlowNotFound)
		}
		return nil, fmt.Errorf("failed to consume pending flow: %w", err)
	}

	var j flowJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending flow: %w", err)
	}

	// TTL should have evicted expired flows, but double-check for safety.
	if time.Now().After(j.ExpiresAt) {
		return nil, fmt.Errorf("%w: flow expired", storage.ErrFlowNotFound)
	}

	return &storage.PendingFlow{
		State:        j.State,
		UserID:       j.UserID,
		Platform:     j.Platform,
		CodeVerifier: j.CodeVerifier,
		CreatedAt:    j.CreatedAt,
		ExpiresAt:    j.ExpiresAt,
	}, nil
}
