// Package security provides the security primitives for the connection
// service: credential encryption at rest, the signed OAuth state codec, rate
// limiting, IP validation, and audit logging.
//
// # Credential encryption
//
// Cipher seals long-lived provider tokens with AES-256-GCM before they reach
// persistent storage. The key is derived per envelope from a server-held
// master secret and a fresh random salt (PBKDF2-SHA256), and the envelope is
// self-describing: base64(salt || nonce || ciphertext). Decryption verifies
// the GCM tag and fails with ErrDecryption rather than ever returning partial
// plaintext.
//
// # State codec
//
// StateCodec issues the OAuth state parameter as an HMAC-signed structured
// payload binding a connection attempt to one (user, platform) pair. Verify
// fails closed with ErrCSRF on any mismatch and must run before a token
// exchange or storage write.
//
// # Rate Limiting
//
// The RateLimiter provides per-identifier rate limiting using a token bucket
// algorithm with automatic memory management through LRU eviction. Default
// configuration: 10,000 max entries, 5 minute cleanup interval, 30 minute
// idle timeout.
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//	    // Rate limit exceeded
//	    return http.StatusTooManyRequests
//	}
//
// GetStats() exposes eviction and memory pressure metrics for alerting.
package security
