package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrCSRF is returned whenever a state value fails verification: bad
// signature, malformed payload, or a user/platform that does not match the
// authenticated caller. Callers must treat it as a security event and fail
// the whole callback.
var ErrCSRF = errors.New("state verification failed")

// ErrNoStateSecret is returned when the codec is constructed without a
// signing secret.
var ErrNoStateSecret = errors.New("state signing secret is not configured")

const stateNonceSize = 16

// statePayload is the structured content of a state token. Using an encoded
// payload instead of delimiter-joined strings keeps identifiers containing
// arbitrary characters from corrupting the round trip.
type statePayload struct {
	UserID   string `json:"uid"`
	Platform string `json:"plt"`
	Nonce    string `json:"n"`
}

// StateCodec issues and verifies the OAuth state parameter. A state binds one
// connection attempt to one (user, platform) pair and is signed with
// HMAC-SHA256 so it cannot be forged or altered in transit.
type StateCodec struct {
	secret []byte
}

// NewStateCodec creates a codec from the server-held signing secret.
func NewStateCodec(secret string) (*StateCodec, error) {
	if secret == "" {
		return nil, ErrNoStateSecret
	}
	return &StateCodec{secret: []byte(secret)}, nil
}

// Issue returns a fresh state token for the given user and platform.
// Format: base64url(payload) + "." + base64url(hmac-sha256(payload)).
func (c *StateCodec) Issue(userID, platform string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user ID is required")
	}
	if platform == "" {
		return "", fmt.Errorf("platform is required")
	}

	nonce := make([]byte, stateNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate state nonce: %w", err)
	}

	payload, err := json.Marshal(statePayload{
		UserID:   userID,
		Platform: platform,
		Nonce:    base64.RawURLEncoding.EncodeToString(nonce),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode state payload: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + c.sign(encoded), nil
}

// Verify checks that state was issued by this codec for exactly the
// authenticated caller and the expected platform. It fails closed: any
// deviation yields ErrCSRF.
func (c *StateCodec) Verify(state, authenticatedUserID, expectedPlatform string) error {
	payload, err := c.open(state)
	if err != nil {
		return err
	}

	// Constant-time identity comparison. The signature already guarantees
	// integrity; this guards against a valid state replayed by another
	// authenticated user (confused deputy).
	userOK := hmac.Equal([]byte(payload.UserID), []byte(authenticatedUserID))
	platformOK := hmac.Equal([]byte(payload.Platform), []byte(expectedPlatform))
	if !userOK || !platformOK {
		return fmt.Errorf("%w: state does not match authenticated caller", ErrCSRF)
	}
	return nil
}

// open validates the signature and decodes the payload.
func (c *StateCodec) open(state string) (*statePayload, error) {
	encoded, sig, found := strings.Cut(state, ".")
	if !found || encoded == "" || sig == "" {
		return nil, fmt.Errorf("%w: malformed state", ErrCSRF)
	}

	if !hmac.Equal([]byte(c.sign(encoded)), []byte(sig)) {
		return nil, fmt.Errorf("%w: invalid state signature", ErrCSRF)
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid state encoding", ErrCSRF)
	}

	var payload statePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: invalid state payload", ErrCSRF)
	}
	if payload.UserID == "" || payload.Platform == "" || payload.Nonce == "" {
		return nil, fmt.Errorf("%w: incomplete state payload", ErrCSRF)
	}
	return &payload, nil
}

func (c *StateCodec) sign(encodedPayload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(encodedPayload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
