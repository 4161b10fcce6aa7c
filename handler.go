package socialvault

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marketloop/socialvault/identity"
	"github.com/marketloop/socialvault/security"
)

// InternalTokenHeader carries the service-to-service token for the
// decrypt-for-use endpoint, in addition to the user bearer token.
const InternalTokenHeader = "X-Internal-Token"

// Handler exposes the service over HTTP. Every /api route runs behind the
// authenticated request gate; the resolved user identity is the only user id
// any operation sees.
type Handler struct {
	service  *Service
	verifier identity.Verifier
	limiter  *security.RateLimiter
	router   chi.Router
}

// NewHandler builds the HTTP handler around a service and an identity
// verifier.
func NewHandler(service *Service, verifier identity.Verifier) *Handler {
	if service == nil {
		panic("socialvault: nil service")
	}
	if verifier == nil {
		panic("socialvault: nil identity verifier")
	}

	h := &Handler{
		service:  service,
		verifier: verifier,
	}
	if service.config.RateLimitPerSecond > 0 {
		h.limiter = security.NewRateLimiter(
			service.config.RateLimitPerSecond,
			service.config.RateLimitBurst,
			service.logger,
		)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.RequestIDMiddleware)
	r.Use(h.observe)

	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.rateLimit)
		r.Use(h.authenticate)
		r.Use(h.userRateLimit)

		r.Route("/connect", func(r chi.Router) {
			r.Post("/{platform}", h.handleConnect)
			r.Post("/{platform}/callback", h.handleCallback)
		})
		r.Route("/connections", func(r chi.Router) {
			r.Get("/", h.handleList)
			r.Post("/{id}/refresh", h.handleRefresh)
			r.Delete("/{id}", h.handleDisconnect)
		})
		r.Post("/internal/tokens/decrypt", h.handleDecrypt)
	})

	h.router = r
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// Close releases handler resources (the rate limiter's cleanup goroutine).
func (h *Handler) Close() {
	if h.limiter != nil {
		h.limiter.Stop()
	}
}

// observe sets security headers and records per-request metrics.
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		security.SetSecurityHeaders(w, "")

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		h.service.metrics.RecordHTTPRequest(
			r.Context(), r.Method, routePattern, ww.Status(),
			float64(time.Since(start).Milliseconds()),
		)
	})
}

// rateLimit applies per-client-IP token-bucket limiting.
func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := security.ClientIP(r, h.service.config.TrustProxy, h.service.config.TrustedProxyCount)
		if !h.limiter.Allow(clientIP) {
			h.service.auditor.LogRateLimitExceeded(clientIP, "")
			h.service.metrics.RecordRateLimitExceeded(r.Context(), "per_ip")
			h.writeError(w, r, ErrRateLimited())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// userRateLimit applies the same token-bucket limiting keyed by the
// authenticated user, so one user behind a shared NAT cannot exhaust the
// per-IP budget for everyone else, and vice versa.
func (h *Handler) userRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident := identity.FromContext(r.Context())
		if h.limiter == nil || ident == nil {
			next.ServeHTTP(w, r)
			return
		}

		if !h.limiter.Allow("user:" + ident.UserID) {
			h.service.auditor.LogRateLimitExceeded("", ident.UserID)
			h.service.metrics.RecordRateLimitExceeded(r.Context(), "per_user")
			h.writeError(w, r, ErrRateLimited())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate is the request gate: it resolves the bearer token to a user
// identity before any operation runs. Client-supplied user ids are never
// consulted.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := identity.BearerToken(r)
		if token == "" {
			h.service.metrics.RecordAuthFailure(r.Context(), "missing_token")
			h.writeError(w, r, ErrUnauthorized(identity.ErrUnauthorized))
			return
		}

		ident, err := h.verifier.Verify(r.Context(), token)
		if err != nil {
			clientIP := security.ClientIP(r, h.service.config.TrustProxy, h.service.config.TrustedProxyCount)
			h.service.auditor.LogAuthFailure("", clientIP, "bearer token rejected")
			h.service.metrics.RecordAuthFailure(r.Context(), "invalid_token")
			h.writeError(w, r, ErrUnauthorized(err))
			return
		}

		next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), ident)))
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.service.HealthCheck(r.Context()); err != nil {
		h.service.logger.ErrorContext(r.Context(), "health check failed", "error", err)
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	if ident == nil {
		h.writeError(w, r, ErrUnauthorized(identity.ErrUnauthorized))
		return
	}

	result, err := h.service.Connect(r.Context(), ident.UserID, chi.URLParam(r, "platform"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	if ident == nil {
		h.writeError(w, r, ErrUnauthorized(identity.ErrUnauthorized))
		return
	}

	var req CallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, ErrInvalidRequest("invalid request body"))
		return
	}

	summary, err := h.service.HandleCallback(r.Context(), ident.UserID, chi.URLParam(r, "platform"), req.Code, req.State)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, summary)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	if ident == nil {
		h.writeError(w, r, ErrUnauthorized(identity.ErrUnauthorized))
		return
	}

	summaries, err := h.service.List(r.Context(), ident.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summaries)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	if ident == nil {
		h.writeError(w, r, ErrUnauthorized(identity.ErrUnauthorized))
		return
	}

	summary, err := h.service.Refresh(r.Context(), ident.UserID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	if ident == nil {
		h.writeError(w, r, ErrUnauthorized(identity.ErrUnauthorized))
		return
	}

	if err := h.service.Disconnect(r.Context(), ident.UserID, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (h *Handler) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	if ident == nil {
		h.writeError(w, r, ErrUnauthorized(identity.ErrUnauthorized))
		return
	}

	var req DecryptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, ErrInvalidRequest("invalid request body"))
		return
	}

	result, err := h.service.DecryptForUse(r.Context(), ident.UserID, r.Header.Get(InternalTokenHeader), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// errorResponse is the JSON error body. It never carries internal detail.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	svcErr := AsServiceError(err)

	// Full detail server-side only, correlated by request id.
	h.service.logger.ErrorContext(r.Context(), "request failed",
		"request_id", security.GetRequestID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"code", svcErr.Code,
		"error", errors.Unwrap(svcErr),
	)

	h.writeJSON(w, svcErr.Status, errorResponse{
		Error:   svcErr.Code,
		Message: svcErr.ClientMessage(),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.service.logger.Error("failed to encode response", "error", err)
	}
}
