// Package mock provides a mock implementation of the Provider interface for testing.
package mock

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"

	"github.com/marketloop/socialvault/providers"
)

// Compile-time check that MockProvider implements the providers.Provider interface.
var _ providers.Provider = (*MockProvider)(nil)

// MockProvider is a configurable fake for tests. Each method delegates to the
// corresponding Func field and records the call.
type MockProvider struct {
	NameFunc             func() string
	RequiresPKCEFunc     func() bool
	AuthorizationURLFunc func(state, codeChallenge, codeChallengeMethod string) string
	ExchangeCodeFunc     func(ctx context.Context, code, codeVerifier string) (*providers.Exchange, error)
	FetchAccountFunc     func(ctx context.Context, accessToken string) (*providers.Account, error)
	RefreshTokenFunc     func(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	HealthCheckFunc      func(ctx context.Context) error

	// CallCounts tracks how many times each method was called
	CallCounts map[string]int

	mu sync.RWMutex
}

// NewMockProvider creates a mock provider with working defaults.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		CallCounts: make(map[string]int),
		NameFunc: func() string {
			return "mock"
		},
		RequiresPKCEFunc: func() bool {
			return false
		},
		AuthorizationURLFunc: func(state, codeChallenge, codeChallengeMethod string) string {
			return fmt.Sprintf("https://mock.example.com/authorize?state=%s&code_challenge=%s&code_challenge_method=%s",
				state, codeChallenge, codeChallengeMethod)
		},
		ExchangeCodeFunc: func(_ context.Context, _, _ string) (*providers.Exchange, error) {
			return &providers.Exchange{
				Token: &oauth2.Token{
					AccessToken:  "mock-access-token",
					TokenType:    "Bearer",
					RefreshToken: "mock-refresh-token",
				},
				Account: providers.Account{
					ID:             "mock-account-123",
					Name:           "Mock Account",
					FollowersCount: 42,
				},
			}, nil
		},
		FetchAccountFunc: func(_ context.Context, _ string) (*providers.Account, error) {
			return &providers.Account{
				ID:             "mock-account-123",
				Name:           "Mock Account",
				FollowersCount: 42,
			}, nil
		},
		RefreshTokenFunc: func(_ context.Context, _ string) (*oauth2.Token, error) {
			return &oauth2.Token{
				AccessToken:  "new-mock-access-token",
				TokenType:    "Bearer",
				RefreshToken: "new-mock-refresh-token",
			}, nil
		},
		HealthCheckFunc: func(_ context.Context) error {
			return nil
		},
	}
}

func (m *MockProvider) recordCall(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CallCounts == nil {
		m.CallCounts = make(map[string]int)
	}
	m.CallCounts[method]++
}

// CallCount returns how many times the given method was invoked.
func (m *MockProvider) CallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}

// Name implements providers.Provider.
func (m *MockProvider) Name() string {
	m.recordCall("Name")
	return m.NameFunc()
}

// RequiresPKCE implements providers.Provider.
func (m *MockProvider) RequiresPKCE() bool {
	m.recordCall("RequiresPKCE")
	return m.RequiresPKCEFunc()
}

// AuthorizationURL implements providers.Provider.
func (m *MockProvider) AuthorizationURL(state, codeChallenge, codeChallengeMethod string) string {
	m.recordCall("AuthorizationURL")
	return m.AuthorizationURLFunc(state, codeChallenge, codeChallengeMethod)
}

// ExchangeCode implements providers.Provider.
func (m *MockProvider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*providers.Exchange, error) {
	m.recordCall("ExchangeCode")
	return m.ExchangeCodeFunc(ctx, code, codeVerifier)
}

// FetchAccount implements providers.Provider.
func (m *MockProvider) FetchAccount(ctx context.Context, accessToken string) (*providers.Account, error) {
	m.recordCall("FetchAccount")
	return m.FetchAccountFunc(ctx, accessToken)
}

// RefreshToken implements providers.Provider.
func (m *MockProvider) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	m.recordCall("RefreshToken")
	return m.RefreshTokenFunc(ctx, refreshToken)
}

// HealthCheck implements providers.Provider.
func (m *MockProvider) HealthCheck(ctx context.Context) error {
	m.recordCall("HealthCheck")
	return m.HealthCheckFunc(ctx)
}
