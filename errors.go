package socialvault

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/marketloop/socialvault/identity"
	"github.com/marketloop/socialvault/providers"
	"github.com/marketloop/socialvault/security"
	"github.com/marketloop/socialvault/storage"
)

// Error codes surfaced to clients.
const (
	CodeUnauthorized     = "unauthorized"
	CodeCSRF             = "authentication_failed"
	CodeProviderExchange = "provider_exchange_failed"
	CodeDecryption       = "decryption_failed"
	CodeNotFound         = "not_found"
	CodeInvalidRequest   = "invalid_request"
	CodeRateLimited      = "rate_limit_exceeded"
	CodeServerError      = "server_error"
)

// ServiceError is the error shape returned across the service boundary.
// Message is always a generic, non-revealing string; the wrapped cause stays
// in server-side logs only.
type ServiceError struct {
	Code    string
	Message string
	Status  int
	err     error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is/As. The cause is never serialized
// to clients.
func (e *ServiceError) Unwrap() error {
	return e.err
}

// ClientMessage returns the text safe to include in a response body.
func (e *ServiceError) ClientMessage() string {
	return e.Message
}

func newServiceError(code, message string, status int, cause error) *ServiceError {
	return &ServiceError{Code: code, Message: message, Status: status, err: cause}
}

// ErrUnauthorized indicates the caller presented no or invalid session
// credentials.
func ErrUnauthorized(cause error) *ServiceError {
	return newServiceError(CodeUnauthorized, "authentication required", http.StatusUnauthorized, cause)
}

// ErrCSRF indicates state verification failed on callback. The generic
// message deliberately does not distinguish tampered, expired, replayed,
// or cross-user states.
func ErrCSRF(cause error) *ServiceError {
	return newServiceError(CodeCSRF, "authentication failed", http.StatusForbidden, cause)
}

// ErrProviderExchange indicates the OAuth provider rejected the exchange or
// returned malformed data. Provider detail goes to logs, not clients.
func ErrProviderExchange(cause error) *ServiceError {
	return newServiceError(CodeProviderExchange, "could not complete connection with provider", http.StatusBadGateway, cause)
}

// ErrDecryption indicates a stored credential envelope could not be
// decrypted. Always fatal for the request.
func ErrDecryption(cause error) *ServiceError {
	return newServiceError(CodeDecryption, "stored credentials are unavailable", http.StatusInternalServerError, cause)
}

// ErrNotFound indicates the requested connection does not exist or does not
// belong to the caller. The two cases are indistinguishable on purpose.
func ErrNotFound(cause error) *ServiceError {
	return newServiceError(CodeNotFound, "connection not found", http.StatusNotFound, cause)
}

// ErrInvalidRequest indicates a malformed request (unknown platform, missing
// parameters).
func ErrInvalidRequest(message string) *ServiceError {
	return newServiceError(CodeInvalidRequest, message, http.StatusBadRequest, nil)
}

// ErrRateLimited indicates the caller exceeded a rate limit.
func ErrRateLimited() *ServiceError {
	return newServiceError(CodeRateLimited, "too many requests", http.StatusTooManyRequests, nil)
}

// ErrServer wraps an unexpected internal failure.
func ErrServer(cause error) *ServiceError {
	return newServiceError(CodeServerError, "internal server error", http.StatusInternalServerError, cause)
}

// AsServiceError maps any error to a ServiceError, translating the sentinel
// errors of the subpackages into the service taxonomy. Unrecognized errors
// become generic server errors so no internal detail leaks.
func AsServiceError(err error) *ServiceError {
	var svcErr *ServiceError
	switch {
	case errors.As(err, &svcErr):
		return svcErr
	case errors.Is(err, identity.ErrUnauthorized):
		return ErrUnauthorized(err)
	case errors.Is(err, security.ErrCSRF), errors.Is(err, storage.ErrFlowNotFound):
		// A consumed or expired pending flow is treated like a bad state:
		// same rejection, same generic message.
		return ErrCSRF(err)
	case errors.Is(err, providers.ErrExchange):
		return ErrProviderExchange(err)
	case errors.Is(err, security.ErrDecryption):
		return ErrDecryption(err)
	case errors.Is(err, storage.ErrConnectionNotFound):
		return ErrNotFound(err)
	default:
		return ErrServer(err)
	}
}
