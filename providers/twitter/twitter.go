package twitter

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/marketloop/socialvault/providers"
)

// Compile-time check that Provider implements the providers.Provider interface.
var _ providers.Provider = (*Provider)(nil)

const providerName = providers.PlatformTwitter

// Twitter/X API v2 endpoints.
const (
	authURL    = "https://twitter.com/i/oauth2/authorize"
	tokenURL   = "https://api.twitter.com/2/oauth2/token" //nolint:gosec // G101: endpoint URL, not a credential
	meEndpoint = "https://api.twitter.com/2/users/me"
)

// Provider implements the providers.Provider interface for Twitter/X.
// The v2 user-context flow mandates PKCE; the service persists the code
// verifier in the pending flow and supplies it to ExchangeCode.
type Provider struct {
	*oauth2.Config
	httpClient     *http.Client
	requestTimeout time.Duration
}

// Config holds Twitter OAuth configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Scopes are optional custom scopes. The default set includes
	// offline.access so a refresh token is issued.
	Scopes []string

	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

// NewProvider creates a new Twitter provider.
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"tweet.read", "tweet.write", "users.read", "offline.access"}
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
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		httpClient:     httpClient,
		requestTimeout: requestTimeout,
	}, nil
}

// Name returns the platform identifier.
func (p *Provider) Name() string {
	return providerName
}

// RequiresPKCE reports that Twitter mandates PKCE for the v2 flow.
func (p *Provider) RequiresPKCE() bool {
	return true
}

// AuthorizationURL composes the authorization URL with the PKCE challenge.
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

// ExchangeCode exchanges the code (with the persisted PKCE verifier) and
// fetches the account profile with public metrics.
func (p *Provider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*providers.Exchange, error) {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	if codeVerifier == "" {
		return nil, fmt.Errorf("%w: code verifier is required", providers.ErrExchange)
	}

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

// fetchProfile fetches the authenticated user with public metrics.
func (p *Provider) fetchProfile(ctx context.Context, accessToken string) (*providers.Account, error) {
	var resp struct {
		Data struct {
			ID            string `json:"id"`
			Name          string `json:"name"`
			Username      string `json:"username"`
			PublicMetrics struct {
				FollowersCount int64 `json:"followers_count"`
			} `json:"public_metrics"`
		} `json:"data"`
	}

	url := meEndpoint + "?user.fields=public_metrics"
	if err := providers.GetJSON(ctx, p.httpClient, url, accessToken, &resp); err != nil {
		return nil, err
	}
	if resp.Data.ID == "" {
		return nil, fmt.Errorf("%w: profile response missing id", providers.ErrExchange)
	}

	name := resp.Data.Name
	if name == "" {
		name = resp.Data.Username
	}

	return &providers.Account{
		ID:             resp.Data.ID,
		Name:           name,
		FollowersCount: resp.Data.PublicMetrics.FollowersCount,
	}, nil
}

// FetchAccount re-resolves account identity and follower metrics.
func (p *Provider) FetchAccount(ctx context.Context, accessToken string) (*providers.Account, error) {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	return p.fetchProfile(ctx, accessToken)
}

// RefreshToken rotates credentials using the refresh token issued under
// offline.access.
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

// HealthCheck verifies the Twitter API is reachable. The unauthenticated
// probe expects a 401, which still proves reachability.
func (p *Provider) HealthCheck(ctx context.Context) error {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meEndpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("twitter api unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("twitter health check failed with status %d", resp.StatusCode)
	}
	return nil
}
