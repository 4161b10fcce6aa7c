// Package storage defines interfaces for persisting social connections and
// pending authorization flows. It supports in-memory, Postgres, and Valkey
// backends.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by store implementations.
var (
	// ErrConnectionNotFound is returned when no connection matches the
	// caller's lookup. Lookups are always scoped to the authenticated
	// user, so "exists but owned by someone else" and "does not exist"
	// are deliberately indistinguishable.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrFlowNotFound is returned when a pending flow is missing, expired,
	// or already consumed. Single-use consumption makes replayed callbacks
	// land here.
	ErrFlowNotFound = errors.New("pending flow not found")
)

// Connection is the stored record of one user-to-platform link. Token fields
// hold ciphertext envelopes produced by security.Cipher; plaintext provider
// credentials never reach a store.
type Connection struct {
	ID                string    `db:"id"`
	UserID            string    `db:"user_id"`
	Platform          string    `db:"platform"`
	PlatformAccountID string    `db:"platform_account_id"`
	AccountName       string    `db:"account_name"`
	FollowersCount    int64     `db:"followers_count"`
	EncryptedToken    string    `db:"encrypted_token"`
	EncryptedRefresh  string    `db:"encrypted_refresh"`
	TokenExpiresAt    time.Time `db:"token_expires_at"`
	Active            bool      `db:"active"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

// Summary is the sanitized projection of a Connection served to clients.
// It carries no credential material, encrypted or otherwise.
type Summary struct {
	ID                string    `json:"id"`
	Platform          string    `json:"platform"`
	PlatformAccountID string    `json:"platform_account_id"`
	AccountName       string    `json:"account_name"`
	FollowersCount    int64     `json:"followers_count"`
	TokenExpiresAt    time.Time `json:"token_expires_at,omitzero"`
	Active            bool      `json:"active"`
	ConnectedAt       time.Time `json:"connected_at"`
	LastSyncAt        time.Time `json:"last_sync_at"`
}

// Summarize builds the sanitized projection of a connection.
func (c *Connection) Summarize() *Summary {
	return &Summary{
		ID:                c.ID,
		Platform:          c.Platform,
		PlatformAccountID: c.PlatformAccountID,
		AccountName:       c.AccountName,
		FollowersCount:    c.FollowersCount,
		TokenExpiresAt:    c.TokenExpiresAt,
		Active:            c.Active,
		ConnectedAt:       c.CreatedAt,
		LastSyncAt:        c.UpdatedAt,
	}
}

// ConnectionStore persists connections. Every method is scoped to a user ID;
// implementations must never return another user's record.
// All methods accept context.Context for tracing and cancellation.
type ConnectionStore interface {
	// Upsert inserts the connection or, when the user already has one for
	// the same platform and platform account, replaces its credentials and
	// account metadata while keeping the record ID. Reconnecting always
	// reactivates. Returns the stored record.
	Upsert(ctx context.Context, conn *Connection) (*Connection, error)

	// Get retrieves a user's active connection by record ID, including
	// encrypted credential fields. Returns ErrConnectionNotFound when no
	// active row with that ID belongs to the user. A user may hold several
	// connections on one platform; the ID names exactly one of them.
	Get(ctx context.Context, userID, connectionID string) (*Connection, error)

	// GetByPlatform retrieves the user's most recently updated active
	// connection for a platform, including encrypted credential fields.
	// Returns ErrConnectionNotFound when the user has no active
	// connection there.
	GetByPlatform(ctx context.Context, userID, platform string) (*Connection, error)

	// List returns sanitized summaries of all the user's connections,
	// active and inactive, newest first. Callers filter on the Active
	// flag. An empty slice, not an error, when the user has none.
	List(ctx context.Context, userID string) ([]*Summary, error)

	// Deactivate marks a user's connection inactive by record ID, keeping
	// the row for audit history. Sibling connections on the same platform
	// are untouched. Returns ErrConnectionNotFound when no active row
	// with that ID belongs to the user.
	Deactivate(ctx context.Context, userID, connectionID string) error
}

// PendingFlow is a single in-flight authorization: saved when the user is
// redirected to the provider, consumed exactly once on callback. The code
// verifier lives here between the two legs of a PKCE exchange.
type PendingFlow struct {
	// State is the signed state token issued for this flow (primary key).
	State string

	// UserID and Platform bind the flow to the caller who started it.
	UserID   string
	Platform string

	// CodeVerifier is the PKCE verifier; empty for non-PKCE providers.
	CodeVerifier string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// FlowStore persists pending authorization flows.
// All methods accept context.Context for tracing and cancellation.
type FlowStore interface {
	// SaveFlow saves a pending flow keyed by its state token.
	SaveFlow(ctx context.Context, flow *PendingFlow) error

	// ConsumeFlow atomically retrieves and deletes a pending flow.
	// Exactly one concurrent caller can succeed for a given state; all
	// others (and any replay) get ErrFlowNotFound. Expired flows are
	// treated as not found.
	// SECURITY: This operation MUST be atomic to keep callbacks single-use.
	ConsumeFlow(ctx context.Context, state string) (*PendingFlow, error)
}
