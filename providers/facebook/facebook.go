package facebook

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	oauthfacebook "golang.org/x/oauth2/facebook"

	"github.com/marketloop/socialvault/providers"
)

// Compile-time check that Provider implements the providers.Provider interface.
var _ providers.Provider = (*Provider)(nil)

const providerName = providers.PlatformFacebook

// Graph API endpoints.
const (
	graphBase        = "https://graph.facebook.com/v19.0"
	meEndpoint       = graphBase + "/me"
	accountsEndpoint = graphBase + "/me/accounts"
	exchangeEndpoint = graphBase + "/oauth/access_token"
)

// Provider implements the providers.Provider interface for Facebook.
type Provider struct {
	*oauth2.Config
	httpClient     *http.Client
	requestTimeout time.Duration
}

// Config holds Facebook OAuth configuration.
type Config struct {
	// ClientID is the Facebook App ID.
	ClientID string

	// ClientSecret is the Facebook App secret.
	ClientSecret string

	// RedirectURL is the OAuth callback URL.
	RedirectURL string

	// Scopes are optional custom scopes (defaults to page management scopes).
	Scopes []string

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client

	// RequestTimeout is the timeout for Graph API calls (default: 30s).
	RequestTimeout time.Duration
}

// NewProvider creates a new Facebook provider.
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"pages_show_list", "pages_read_engagement", "pages_manage_posts"}
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
			Endpoint:     oauthfacebook.Endpoint,
		},
		httpClient:     httpClient,
		requestTimeout: requestTimeout,
	}, nil
}

// Name returns the platform identifier.
func (p *Provider) Name() string {
	return providerName
}

// RequiresPKCE reports that Facebook exchanges authenticate with the client
// secret instead of a PKCE verifier.
func (p *Provider) RequiresPKCE() bool {
	return false
}

// AuthorizationURL composes the Facebook authorization URL.
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

// ensureContextTimeout adds the provider's request timeout when the context
// has no deadline of its own.
func (p *Provider) ensureContextTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.requestTimeout)
}

// ExchangeCode exchanges an authorization code, upgrades the result to a
// long-lived token, and resolves the connected account. When the user manages
// pages, the first page identity (with its page access token) is preferred
// over the personal profile.
func (p *Provider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*providers.Exchange, error) {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	token, err := providers.ExchangeCode(ctx, p.Config, p.httpClient, code, codeVerifier)
	if err != nil {
		return nil, err
	}

	// Short-lived user tokens expire within hours; trade up before storing.
	if longLived, err := p.exchangeLongLived(ctx, token.AccessToken); err == nil {
		token = longLived
	}

	account, pageToken, err := p.resolveAccount(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}

	// A page access token supersedes the user token for posting to the page.
	if pageToken != "" {
		token = &oauth2.Token{
			AccessToken:  pageToken,
			RefreshToken: token.RefreshToken,
			Expiry:       token.Expiry,
			TokenType:    token.TokenType,
		}
	}

	return &providers.Exchange{Token: token, Account: *account}, nil
}

// exchangeLongLived trades a short-lived user token for a long-lived one.
func (p *Provider) exchangeLongLived(ctx context.Context, accessToken string) (*oauth2.Token, error) {
	q := url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {p.ClientID},
		"client_secret":     {p.ClientSecret},
		"fb_exchange_token": {accessToken},
	}

	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := providers.GetJSON(ctx, p.httpClient, exchangeEndpoint+"?"+q.Encode(), "", &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("%w: long-lived exchange returned no token", providers.ErrExchange)
	}

	token := &oauth2.Token{
		AccessToken: resp.AccessToken,
		TokenType:   resp.TokenType,
	}
	if resp.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return token, nil
}

// resolveAccount fetches the profile and managed pages, returning the chosen
// account plus the page access token when a page was selected.
func (p *Provider) resolveAccount(ctx context.Context, accessToken string) (*providers.Account, string, error) {
	var profile struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := providers.GetJSON(ctx, p.httpClient, meEndpoint+"?fields=id,name", accessToken, &profile); err != nil {
		return nil, "", err
	}
	if profile.ID == "" {
		return nil, "", fmt.Errorf("%w: profile response missing id", providers.ErrExchange)
	}

	var pages struct {
		Data []struct {
			ID             string `json:"id"`
			Name           string `json:"name"`
			AccessToken    string `json:"access_token"`
			FollowersCount int64  `json:"followers_count"`
		} `json:"data"`
	}
	if err := providers.GetJSON(ctx, p.httpClient, accountsEndpoint+"?fields=id,name,access_token,followers_count", accessToken, &pages); err == nil && len(pages.Data) > 0 {
		page := pages.Data[0]
		return &providers.Account{
			ID:             page.ID,
			Name:           page.Name,
			FollowersCount: page.FollowersCount,
		}, page.AccessToken, nil
	}

	return &providers.Account{ID: profile.ID, Name: profile.Name}, "", nil
}

// FetchAccount re-resolves account identity and follower metrics.
func (p *Provider) FetchAccount(ctx context.Context, accessToken string) (*providers.Account, error) {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	account, _, err := p.resolveAccount(ctx, accessToken)
	return account, err
}

// RefreshToken is not supported: long-lived Facebook tokens are refreshed by
// re-running the fb_exchange_token grant against a live token, not via a
// refresh token.
func (p *Provider) RefreshToken(_ context.Context, _ string) (*oauth2.Token, error) {
	return nil, providers.ErrRefreshNotSupported
}

// RenewAccessToken trades a live long-lived token for a fresh one. Used by
// the refresh flow in place of a refresh-token grant.
func (p *Provider) RenewAccessToken(ctx context.Context, accessToken string) (*oauth2.Token, error) {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	return p.exchangeLongLived(ctx, accessToken)
}

// HealthCheck verifies the Graph API is reachable.
func (p *Provider) HealthCheck(ctx context.Context) error {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, graphBase, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph api unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("graph api health check failed with status %d", resp.StatusCode)
	}
	return nil
}
