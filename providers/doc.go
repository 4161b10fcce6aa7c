// Package providers defines the adapter interface between the connection
// service and each social platform's OAuth 2.0 dialect.
//
// Implementations are provided in subpackages:
//   - providers/facebook: Facebook Graph API (page identity preferred)
//   - providers/instagram: Instagram business accounts via the Facebook Graph
//   - providers/twitter: Twitter/X API v2 with mandatory PKCE
//   - providers/linkedin: LinkedIn OpenID Connect profile
//   - providers/mock: configurable fake for testing
//
// Adapters handle authorization URL construction, the code-for-token
// exchange, account/metrics normalization, token refresh where the platform
// supports it, and health checks. Credentials are injected at construction
// through each adapter's Config; nothing is read from ambient process state.
//
// Example:
//
//	adapter, err := facebook.NewProvider(&facebook.Config{
//	    ClientID:     "app-id",
//	    ClientSecret: "app-secret",
//	    RedirectURL:  "https://vault.example.com/api/connect/facebook/callback",
//	})
package providers
