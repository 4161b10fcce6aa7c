package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Envelope layout: base64(salt || nonce || ciphertext). The salt feeds key
// derivation, the nonce feeds AES-GCM, and the GCM tag is carried inside the
// ciphertext section.
const (
	saltSize = 16

	// pbkdf2Iterations is the PBKDF2-SHA256 iteration count used to derive
	// the per-envelope key from the master secret and salt.
	pbkdf2Iterations = 100_000

	derivedKeySize = 32 // AES-256
)

// ErrDecryption is returned for any envelope that cannot be decrypted:
// corrupt encoding, truncated payload, tag mismatch, or a master secret that
// does not match the one the envelope was produced with.
var ErrDecryption = errors.New("decryption failed")

// ErrNoMasterSecret is returned when the cipher is constructed without a
// master secret.
var ErrNoMasterSecret = errors.New("master secret is not configured")

// Cipher encrypts credentials at rest with AES-256-GCM. The encryption key is
// derived per envelope from a master secret and a fresh random salt via
// PBKDF2-SHA256, so rotating the master secret invalidates every envelope.
type Cipher struct {
	masterSecret []byte
}

// NewCipher creates a cipher from the server-held master secret.
func NewCipher(masterSecret string) (*Cipher, error) {
	if masterSecret == "" {
		return nil, ErrNoMasterSecret
	}
	return &Cipher{masterSecret: []byte(masterSecret)}, nil
}

// Encrypt seals plaintext into a self-describing envelope.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := c.aead(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal appends to salt||nonce, producing the storage format in one pass.
	envelope := make([]byte, 0, saltSize+len(nonce))
	envelope = append(envelope, salt...)
	envelope = append(envelope, nonce...)
	envelope = gcm.Seal(envelope, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(envelope), nil
}

// Decrypt opens an envelope produced by Encrypt. It never returns partial
// plaintext: any integrity failure yields ErrDecryption.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: invalid envelope encoding", ErrDecryption)
	}

	if len(raw) < saltSize {
		return "", fmt.Errorf("%w: envelope too short", ErrDecryption)
	}
	salt, rest := raw[:saltSize], raw[saltSize:]

	gcm, err := c.aead(salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(rest) < nonceSize {
		return "", fmt.Errorf("%w: envelope too short", ErrDecryption)
	}
	nonce, ciphertext := rest[:nonceSize], rest[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	return string(plaintext), nil
}

// aead derives the AES-256 key for the given salt and returns the GCM AEAD.
func (c *Cipher) aead(salt []byte) (cipher.AEAD, error) {
	if len(c.masterSecret) == 0 {
		return nil, ErrNoMasterSecret
	}

	key := pbkdf2.Key(c.masterSecret, salt, pbkdf2Iterations, derivedKeySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// GenerateMasterSecret generates a random 32-byte master secret, base64
// encoded for configuration storage.
func GenerateMasterSecret() (string, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("failed to generate master secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secret), nil
}
