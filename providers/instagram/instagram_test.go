package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/marketloop/socialvault/providers"
)

const (
	testTokenEndpoint = "/token"
	testAccessToken   = "test-access-token"
)

// graphTransport redirects Graph API requests to the test server.
type graphTransport struct {
	server *httptest.Server
}

func (g *graphTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if strings.Contains(req.URL.Host, "graph.facebook.com") {
		testURL, _ := url.Parse(g.server.URL + req.URL.Path)
		testURL.RawQuery = req.URL.RawQuery
		req.URL = testURL
	}
	return http.DefaultTransport.RoundTrip(req)
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid config",
			config: &Config{
				ClientID:     "test-client-id",
				ClientSecret: "test-client-secret",
				RedirectURL:  "https://example.com/callback",
			},
			wantErr: false,
		},
		{
			name:    "missing client ID",
			config:  &Config{ClientSecret: "test-client-secret"},
			wantErr: true,
			errMsg:  "client ID is required",
		},
		{
			name:    "missing client secret",
			config:  &Config{ClientID: "test-client-id"},
			wantErr: true,
			errMsg:  "client secret is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewProvider() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr && err != nil && tt.errMsg != "" {
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("NewProvider() error = %v, want error containing %q", err, tt.errMsg)
				}
			}
		})
	}
}

func TestProvider_Name(t *testing.T) {
	provider, err := NewProvider(&Config{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	if got := provider.Name(); got != "instagram" {
		t.Errorf("Name() = %q, want %q", got, "instagram")
	}
}

func TestProvider_AuthorizationURL_UsesFacebookDialect(t *testing.T) {
	provider, err := NewProvider(&Config{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURL:  "https://example.com/callback",
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	authURL := provider.AuthorizationURL("test-state", "", "")

	for _, want := range []string{
		"facebook.com",
		"state=test-state",
		"scope=instagram_basic",
	} {
		if !strings.Contains(authURL, want) {
			t.Errorf("AuthorizationURL() missing %q in URL %q", want, authURL)
		}
	}
}

// newGraphServer serves the token endpoint plus /me/accounts with the given
// page list.
func newGraphServer(t *testing.T, pages []map[string]any) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.URL.Path == testTokenEndpoint:
			if err := r.ParseForm(); err != nil {
				http.Error(w, "invalid form data", http.StatusBadRequest)
				return
			}
			if r.FormValue("code") != "test-code" {
				http.Error(w, "invalid code", http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": testAccessToken,
				"token_type":   "Bearer",
			})

		case strings.HasSuffix(r.URL.Path, "/me/accounts"):
			if r.Header.Get("Authorization") != "Bearer "+testAccessToken {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"data": pages})

		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestProvider(t *testing.T, server *httptest.Server) *Provider {
	t.Helper()

	provider, err := NewProvider(&Config{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURL:  "https://example.com/callback",
		HTTPClient: &http.Client{
			Transport: &graphTransport{server: server},
		},
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	provider.Endpoint.TokenURL = server.URL + testTokenEndpoint
	return provider
}

func TestProvider_ExchangeCode(t *testing.T) {
	server := newGraphServer(t, []map[string]any{
		{
			// Page without a linked business account is skipped.
			"instagram_business_account": nil,
		},
		{
			"instagram_business_account": map[string]any{
				"id":              "ig-17000",
				"username":        "testbrand",
				"followers_count": 9000,
			},
		},
	})
	defer server.Close()

	provider := newTestProvider(t, server)

	exchange, err := provider.ExchangeCode(context.Background(), "test-code", "")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	if exchange.Token.AccessToken != testAccessToken {
		t.Errorf("AccessToken = %q, want %q", exchange.Token.AccessToken, testAccessToken)
	}
	if exchange.Account.ID != "ig-17000" {
		t.Errorf("Account.ID = %q, want %q", exchange.Account.ID, "ig-17000")
	}
	if exchange.Account.Name != "testbrand" {
		t.Errorf("Account.Name = %q, want %q", exchange.Account.Name, "testbrand")
	}
	if exchange.Account.FollowersCount != 9000 {
		t.Errorf("Account.FollowersCount = %d, want 9000", exchange.Account.FollowersCount)
	}
}

func TestProvider_ExchangeCode_NoBusinessAccount(t *testing.T) {
	server := newGraphServer(t, []map[string]any{
		{"instagram_business_account": nil},
	})
	defer server.Close()

	provider := newTestProvider(t, server)

	_, err := provider.ExchangeCode(context.Background(), "test-code", "")
	if err == nil {
		t.Fatal("ExchangeCode() expected error when no business account is linked")
	}
	if !errors.Is(err, providers.ErrExchange) {
		t.Errorf("ExchangeCode() error = %v, want ErrExchange", err)
	}
	if !strings.Contains(err.Error(), "no instagram business account") {
		t.Errorf("ExchangeCode() error = %v, want business account detail", err)
	}
}

func TestProvider_FetchAccount(t *testing.T) {
	server := newGraphServer(t, []map[string]any{
		{
			"instagram_business_account": map[string]any{
				"id":              "ig-17000",
				"username":        "testbrand",
				"followers_count": 9500,
			},
		},
	})
	defer server.Close()

	provider := newTestProvider(t, server)

	account, err := provider.FetchAccount(context.Background(), testAccessToken)
	if err != nil {
		t.Fatalf("FetchAccount() error = %v", err)
	}

	if account.ID != "ig-17000" {
		t.Errorf("Account.ID = %q, want %q", account.ID, "ig-17000")
	}
	if account.FollowersCount != 9500 {
		t.Errorf("Account.FollowersCount = %d, want 9500", account.FollowersCount)
	}
}

func TestProvider_RefreshToken_NotSupported(t *testing.T) {
	provider, err := NewProvider(&Config{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	_, err = provider.RefreshToken(context.Background(), "some-refresh-token")
	if !errors.Is(err, providers.ErrRefreshNotSupported) {
		t.Errorf("RefreshToken() error = %v, want ErrRefreshNotSupported", err)
	}
}
