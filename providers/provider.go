package providers

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

// Platform identifiers for the supported social platforms.
const (
	PlatformFacebook  = "facebook"
	PlatformInstagram = "instagram"
	PlatformTwitter   = "twitter"
	PlatformLinkedIn  = "linkedin"
)

// ErrExchange marks any failure while talking to a provider: a rejected code
// exchange, a non-success profile response, or a response missing required
// fields. Handlers map it to a generic external-failure message; the wrapped
// detail stays in server-side logs only.
var ErrExchange = errors.New("provider exchange failed")

// ErrRefreshNotSupported is returned by providers whose tokens cannot be
// refreshed server-side (the user must reconnect instead).
var ErrRefreshNotSupported = errors.New("provider does not support token refresh")

// Account is the normalized identity of the platform-side account a
// connection is bound to.
type Account struct {
	// ID is the platform-side account identifier. For Facebook this is the
	// managed page ID when one exists, otherwise the profile ID.
	ID string

	// Name is the display name shown in connection summaries.
	Name string

	// FollowersCount is best-effort; zero when the platform does not expose it.
	FollowersCount int64
}

// Exchange is the normalized result of an authorization-code exchange: the
// provider token plus the resolved account identity.
type Exchange struct {
	// Token carries access token, optional refresh token, and optional expiry.
	// A zero Expiry means the token does not expire.
	Token *oauth2.Token

	// Account is the platform account the token belongs to.
	Account Account
}

// Provider translates between the normalized connection model and one
// platform's OAuth 2.0 dialect.
type Provider interface {
	// Name returns the platform identifier (e.g. "facebook").
	Name() string

	// RequiresPKCE reports whether the authorization flow must carry a PKCE
	// challenge (and the later exchange its verifier).
	RequiresPKCE() bool

	// AuthorizationURL composes the provider's authorization endpoint URL.
	// codeChallenge/codeChallengeMethod are empty for non-PKCE providers.
	AuthorizationURL(state, codeChallenge, codeChallengeMethod string) string

	// ExchangeCode performs the code-for-token exchange and the follow-up
	// profile fetch. Safe to call exactly once per code; providers
	// invalidate codes after first use, and the service never retries.
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*Exchange, error)

	// FetchAccount re-resolves account identity and follower metrics for a
	// live access token. Used by the refresh operation.
	FetchAccount(ctx context.Context, accessToken string) (*Account, error)

	// RefreshToken rotates credentials using a refresh token. Providers
	// without refresh support return ErrRefreshNotSupported.
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)

	// HealthCheck verifies the provider API is reachable.
	HealthCheck(ctx context.Context) error
}
