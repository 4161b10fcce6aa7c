// Package identity authenticates callers before any connection operation
// runs. Every request must carry a bearer token that resolves to a user ID;
// the resolved ID is the sole source of ownership for connection lookups,
// never a client-supplied parameter.
package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthorized is returned for any request that cannot be tied to an
// authenticated user: missing bearer token, malformed token, bad signature,
// or expired claims. Callers map it to a 401 without detail.
var ErrUnauthorized = errors.New("unauthorized")

// Identity is the authenticated caller resolved from a bearer token.
type Identity struct {
	// UserID is the platform user the token was issued to.
	UserID string

	// Email and Name are optional profile claims, carried for audit context.
	Email string
	Name  string
}

// Verifier resolves a bearer token to an authenticated identity.
type Verifier interface {
	// Verify validates the token and returns the identity it was issued to.
	// Any validation failure returns an error wrapping ErrUnauthorized.
	Verify(ctx context.Context, token string) (*Identity, error)
}

// BearerToken extracts the bearer token from an Authorization header.
// Returns an empty string when the header is missing or not a bearer scheme.
func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}

	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity stores the authenticated identity in the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the authenticated identity stored by WithIdentity,
// or nil when the request was never authenticated.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}
