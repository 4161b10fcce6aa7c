// Package instagram connects Instagram business accounts. Instagram has no
// standalone OAuth dialect for business use: authorization and token exchange
// run through the Facebook Graph, and the connected account is the Instagram
// business account linked to one of the user's pages.
package instagram

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	oauthfacebook "golang.org/x/oauth2/facebook"

	"github.com/marketloop/socialvault/providers"
)

// Compile-time check that Provider implements the providers.Provider interface.
var _ providers.Provider = (*Provider)(nil)

const providerName = providers.PlatformInstagram

const (
	graphBase        = "https://graph.facebook.com/v19.0"
	accountsEndpoint = graphBase + "/me/accounts"
)

// Provider implements the providers.Provider interface for Instagram.
type Provider struct {
	*oauth2.Config
	httpClient     *http.Client
	requestTimeout time.Duration
}

// Config holds Instagram OAuth configuration (a Facebook app with Instagram
// permissions).
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Scopes are optional custom scopes (defaults to Instagram content scopes).
	Scopes []string

	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

// NewProvider creates a new Instagram provider.
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"instagram_basic", "instagram_content_publish", "pages_show_list"}
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

// RequiresPKCE reports that the Facebook dialect authenticates with the
// client secret.
func (p *Provider) RequiresPKCE() bool {
	return false
}

// AuthorizationURL composes the authorization URL via the Facebook dialect.
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

// ExchangeCode exchanges the code and resolves the linked Instagram business
// account. A user without one cannot connect Instagram.
func (p *Provider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*providers.Exchange, error) {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	token, err := providers.ExchangeCode(ctx, p.Config, p.httpClient, code, codeVerifier)
	if err != nil {
		return nil, err
	}

	account, err := p.fetchBusinessAccount(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}

	return &providers.Exchange{Token: token, Account: *account}, nil
}

// fetchBusinessAccount walks the user's pages for a linked Instagram
// business account.
func (p *Provider) fetchBusinessAccount(ctx context.Context, accessToken string) (*providers.Account, error) {
	var pages struct {
		Data []struct {
			InstagramBusinessAccount *struct {
				ID             string `json:"id"`
				Username       string `json:"username"`
				FollowersCount int64  `json:"followers_count"`
			} `json:"instagram_business_account"`
		} `json:"data"`
	}

	url := accountsEndpoint + "?fields=instagram_business_account{id,username,followers_count}"
	if err := providers.GetJSON(ctx, p.httpClient, url, accessToken, &pages); err != nil {
		return nil, err
	}

	for _, page := range pages.Data {
		if ig := page.InstagramBusinessAccount; ig != nil && ig.ID != "" {
			return &providers.Account{
				ID:             ig.ID,
				Name:           ig.Username,
				FollowersCount: ig.FollowersCount,
			}, nil
		}
	}

	return nil, fmt.Errorf("%w: no instagram business account linked to any managed page", providers.ErrExchange)
}

// FetchAccount re-resolves the business account identity and metrics.
func (p *Provider) FetchAccount(ctx context.Context, accessToken string) (*providers.Account, error) {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	return p.fetchBusinessAccount(ctx, accessToken)
}

// RefreshToken is not supported; Instagram tokens follow the Facebook
// long-lived token model.
func (p *Provider) RefreshToken(_ context.Context, _ string) (*oauth2.Token, error) {
	return nil, providers.ErrRefreshNotSupported
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
