package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Compile-time check that JWTVerifier implements the Verifier interface.
var _ Verifier = (*JWTVerifier)(nil)

// DefaultLeeway tolerates small clock skew between the token issuer and
// this service when checking exp/nbf.
const DefaultLeeway = 30 * time.Second

// JWTConfig configures HMAC-signed session token verification.
type JWTConfig struct {
	// Secret is the HMAC signing secret shared with the token issuer.
	Secret string

	// Issuer, when set, must match the token's iss claim.
	Issuer string

	// Leeway is the clock-skew tolerance for time-based claims
	// (default: DefaultLeeway).
	Leeway time.Duration
}

// JWTVerifier validates HMAC-SHA256 session tokens issued by the platform's
// auth layer.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier creates a verifier for the given config.
func NewJWTVerifier(cfg *JWTConfig) (*JWTVerifier, error) {
	if cfg == nil || cfg.Secret == "" {
		return nil, fmt.Errorf("JWT secret is required")
	}

	leeway := cfg.Leeway
	if leeway == 0 {
		leeway = DefaultLeeway
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	return &JWTVerifier{
		secret: []byte(cfg.Secret),
		parser: jwt.NewParser(opts...),
	}, nil
}

// Verify parses and validates the token, returning the identity from its
// claims. The sub claim is required.
func (v *JWTVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	claims := jwt.MapClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: token missing subject", ErrUnauthorized)
	}

	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)

	return &Identity{UserID: sub, Email: email, Name: name}, nil
}
