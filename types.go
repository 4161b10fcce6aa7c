package socialvault

// Token types accepted by the decrypt-for-use operation.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// ConnectResult is returned by the connect operation: the URL to redirect the
// user's browser to. The state parameter is already embedded in the URL.
type ConnectResult struct {
	Platform         string `json:"platform"`
	AuthorizationURL string `json:"authorization_url"`
}

// CallbackRequest carries the provider redirect parameters the client UI
// relays back to the service.
type CallbackRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

// DecryptRequest names the credential a trusted server-side caller needs in
// plaintext. ConnectionID is optional; when the caller holds several
// connections on the platform it pins the exact row.
type DecryptRequest struct {
	Platform     string `json:"platform"`
	ConnectionID string `json:"connection_id,omitempty"`
	TokenType    string `json:"token_type"`
}

// DecryptResult carries a decrypted provider credential. It exists solely for
// the service-to-service decrypt path and must never be written to a browser
// response.
type DecryptResult struct {
	Platform  string `json:"platform"`
	TokenType string `json:"token_type"`
	Token     string `json:"token"`
}
