// Package testutil holds helpers shared by tests across packages.
package testutil

import (
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignSessionToken creates an HS256 session token for the given user, valid
// for one hour. Extra claims override the defaults.
func SignSessionToken(t *testing.T, secret, userID string, extra map[string]any) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub": userID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign session token: %v", err)
	}
	return token
}

// RandomHex returns n random bytes hex-encoded.
func RandomHex(t *testing.T, n int) string {
	t.Helper()

	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		t.Fatalf("failed to read random bytes: %v", err)
	}
	return hex.EncodeToString(buf)
}
