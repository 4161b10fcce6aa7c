package linkedin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	oauthlinkedin "golang.org/x/oauth2/linkedin"

	"github.com/marketloop/socialvault/providers"
)

// Compile-time check that Provider implements the providers.Provider interface.
var _ providers.Provider = (*Provider)(nil)

const providerName = providers.PlatformLinkedIn

const userinfoEndpoint = "https://api.linkedin.com/v2/userinfo"

// Provider implements the providers.Provider interface for LinkedIn.
type Provider struct {
	*oauth2.Config
	httpClient     *http.Client
	requestTimeout time.Duration
}

// Config holds LinkedIn OAuth configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Scopes are optional custom scopes (defaults to OpenID profile plus
	// member posting).
	Scopes []string

	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

// NewProvider creates a new LinkedIn provider.
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "profile", "w_member_social"}
	}
	scopesCopy := make([]string, len(scopes))
	copy(scopesCopy, scopes)

	requestTimeout := cfg.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = 30 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	return &Provider{
		Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopesCopy,
			Endpoint:     oauthlinkedin.Endpoint,
		},
		httpClient:     httpClient,
		requestTimeout: requestTimeout,
	}, nil
}

// Name returns the platform identifier.
func (p *Provider) Name() string {
	return providerName
}

// RequiresPKCE reports that LinkedIn authenticates with the client secret.
func (p *Provider) RequiresPKCE() bool {
	return false
}

// AuthorizationURL composes the LinkedIn authorization URL.
func (p *Provider) AuthorizationURL(state, codeChallenge, codeChallengeMethod string) string {
	var opts []oauth2.AuthCodeOption
	if codeChallenge != "" && codeChallengeMethod != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", codeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", codeChallengeMethod),
		)
	}
	return p.AuthCodeURL(state, opts...)
}

func (p *Provider) ensureContextTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.requestTimeout)
}

// ExchangeCode exchanges the code and fetches the member profile.
func (p *Provider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*providers.Exchange, error) {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	token, err := providers.ExchangeCode(ctx, p.Config, p.httpClient, code, codeVerifier)
	if err != nil {
		return nil, err
	}

	account, err := p.fetchProfile(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}

	return &providers.Exchange{Token: token, Account: *account}, nil
}

// fetchProfile fetches the OpenID userinfo profile. LinkedIn does not expose
// follower counts through this surface, so FollowersCount stays zero.
func (p *Provider) fetchProfile(ctx context.Context, accessToken string) (*providers.Account, error) {
	var resp struct {
		Sub  string `json:"sub"`
		Name string `json:"name"`
	}
	if err := providers.GetJSON(ctx, p.httpClient, userinfoEndpoint, accessToken, &resp); err != nil {
		return nil, err
	}
	if resp.Sub == "" {
		return nil, fmt.Errorf("%w: userinfo response missing sub", providers.ErrExchange)
	}

	return &providers.Account{ID: resp.Sub, Name: resp.Name}, nil
}

// FetchAccount re-resolves the member profile.
func (p *Provider) FetchAccount(ctx context.Context, accessToken string) (*providers.Account, error) {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	return p.fetchProfile(ctx, accessToken)
}

// RefreshToken rotates credentials. LinkedIn issues refresh tokens to
// approved marketing applications.
func (p *Provider) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	src := p.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: token refresh: %v", providers.ErrExchange, err)
	}
	return token, nil
}

// HealthCheck verifies the LinkedIn API is reachable.
func (p *Provider) HealthCheck(ctx context.Context) error {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userinfoEndpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("linkedin api unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("linkedin health check failed with status %d", resp.StatusCode)
	}
	return nil
}
