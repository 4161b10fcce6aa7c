// Package socialvault implements secure custody of social-platform OAuth
// connections: authorization flows, encrypted credential storage, and
// sanitized connection summaries for client UIs.
//
// Every operation runs behind an authenticated request gate and is scoped to
// the authenticated user. Plaintext provider credentials exist only
// transiently inside an operation; they are encrypted before persistence and
// are released exclusively through the decrypt-for-use path to trusted
// server-side callers.
package socialvault

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/marketloop/socialvault/instrumentation"
	"github.com/marketloop/socialvault/internal/util"
	"github.com/marketloop/socialvault/providers"
	"github.com/marketloop/socialvault/security"
	"github.com/marketloop/socialvault/storage"
)

// expiryWarningWindow is how far ahead of token expiry a refresh on a
// non-rotating platform starts logging that reconnection is coming due.
const expiryWarningWindow = 24 * time.Hour

// accessTokenRenewer is implemented by providers that refresh by trading a
// live access token for a fresh one instead of a refresh-token grant
// (Facebook's long-lived token exchange).
type accessTokenRenewer interface {
	RenewAccessToken(ctx context.Context, accessToken string) (*oauth2.Token, error)
}

// Pinger is implemented by stores that can verify backend connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Service orchestrates connection flows across providers, the credential
// cipher, and the stores.
type Service struct {
	config      Config
	providers   map[string]providers.Provider
	connections storage.ConnectionStore
	flows       storage.FlowStore
	cipher      *security.Cipher
	states      *security.StateCodec
	auditor     *security.Auditor
	logger      *slog.Logger
	inst        *instrumentation.Instrumentation
	metrics     *instrumentation.Metrics
	tracer      trace.Tracer
}

// NewService creates a Service. The provider set is fixed at construction;
// per-provider credentials are injected into the adapters, never read here.
func NewService(config Config, connections storage.ConnectionStore, flows storage.FlowStore, provs ...providers.Provider) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if connections == nil {
		return nil, fmt.Errorf("connection store is required")
	}
	if flows == nil {
		return nil, fmt.Errorf("flow store is required")
	}
	if len(provs) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}

	cipher, err := security.NewCipher(config.MasterSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential cipher: %w", err)
	}
	states, err := security.NewStateCodec(config.StateSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create state codec: %w", err)
	}

	inst := config.Instrumentation
	if inst == nil {
		inst, err = instrumentation.New(instrumentation.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to create instrumentation: %w", err)
		}
	}

	registry := make(map[string]providers.Provider, len(provs))
	for _, p := range provs {
		if p == nil {
			return nil, fmt.Errorf("nil provider")
		}
		if _, exists := registry[p.Name()]; exists {
			return nil, fmt.Errorf("duplicate provider %q", p.Name())
		}
		registry[p.Name()] = p
	}

	metrics := inst.Metrics()
	auditor := security.NewAuditor(config.Logger, config.AuditEnabled)
	auditor.SetObserver(func(eventType string) {
		metrics.RecordAuditEvent(context.Background(), eventType)
	})

	return &Service{
		config:      config,
		providers:   registry,
		connections: &observedConnections{store: connections, metrics: metrics},
		flows:       &observedFlows{store: flows, metrics: metrics},
		cipher:      cipher,
		states:      states,
		auditor:     auditor,
		logger:      config.Logger,
		inst:        inst,
		metrics:     metrics,
		tracer:      inst.Tracer("socialvault"),
	}, nil
}

// Platforms returns the names of the configured providers.
func (s *Service) Platforms() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	return names
}

func (s *Service) provider(platform string) (providers.Provider, error) {
	p, ok := s.providers[platform]
	if !ok {
		return nil, ErrInvalidRequest(fmt.Sprintf("unsupported platform %q", platform))
	}
	return p, nil
}

// Connect starts an authorization flow: issues a signed state token, saves a
// single-use pending flow, and returns the provider authorization URL.
func (s *Service) Connect(ctx context.Context, userID, platform string) (_ *ConnectResult, err error) {
	ctx, span := s.tracer.Start(ctx, "socialvault.connect")
	defer func() { endSpan(span, err) }()
	instrumentation.AddFlowAttributes(span, platform, "")

	p, err := s.provider(platform)
	if err != nil {
		return nil, err
	}

	state, err := s.states.Issue(userID, platform)
	if err != nil {
		return nil, ErrServer(fmt.Errorf("failed to issue state: %w", err))
	}

	var verifier, challenge, challengeMethod string
	if p.RequiresPKCE() {
		verifier = oauth2.GenerateVerifier()
		challenge = oauth2.S256ChallengeFromVerifier(verifier)
		challengeMethod = "S256"
	}

	// The pending flow is what makes callbacks single-use: it is consumed
	// atomically on the first callback, so a replayed state finds nothing.
	now := time.Now()
	flow := &storage.PendingFlow{
		State:        state,
		UserID:       userID,
		Platform:     platform,
		CodeVerifier: verifier,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.config.FlowTTL),
	}
	if err := s.flows.SaveFlow(ctx, flow); err != nil {
		return nil, ErrServer(fmt.Errorf("failed to save pending flow: %w", err))
	}

	s.metrics.RecordConnectFlowStarted(ctx, platform)
	s.logger.InfoContext(ctx, "connect flow started", "platform", platform, "pkce", verifier != "")

	return &ConnectResult{
		Platform:         platform,
		AuthorizationURL: p.AuthorizationURL(state, challenge, challengeMethod),
	}, nil
}

// HandleCallback completes an authorization flow. State verification and
// pending-flow consumption both run strictly before the code exchange; any
// failure there rejects the callback without touching the provider.
func (s *Service) HandleCallback(ctx context.Context, userID, platform, code, state string) (_ *storage.Summary, err error) {
	ctx, span := s.tracer.Start(ctx, "socialvault.callback")
	defer func() { endSpan(span, err) }()
	instrumentation.AddFlowAttributes(span, platform, "")

	p, err := s.provider(platform)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, ErrInvalidRequest("authorization code is required")
	}

	if err := s.states.Verify(state, userID, platform); err != nil {
		s.rejectCallback(ctx, userID, platform, state, "state verification failed")
		return nil, ErrCSRF(err)
	}

	flow, err := s.flows.ConsumeFlow(ctx, state)
	if err != nil {
		s.rejectCallback(ctx, userID, platform, state, "pending flow missing or already consumed")
		return nil, ErrCSRF(err)
	}
	// The signed state already binds user and platform; the flow record is
	// checked too so a desynchronized store fails closed.
	if flow.UserID != userID || flow.Platform != platform {
		s.rejectCallback(ctx, userID, platform, state, "pending flow does not match caller")
		return nil, ErrCSRF(fmt.Errorf("%w: flow binding mismatch", security.ErrCSRF))
	}

	// Codes are single-use on the provider side; this call happens at most
	// once per flow and is never retried.
	start := time.Now()
	exch, err := p.ExchangeCode(ctx, code, flow.CodeVerifier)
	s.metrics.RecordProviderAPICall(ctx, platform, "exchange_code", float64(time.Since(start).Milliseconds()), err)
	if err != nil {
		s.auditor.LogProviderExchangeFailed(userID, platform, "code exchange rejected")
		s.metrics.RecordCallbackProcessed(ctx, platform, false)
		return nil, AsServiceError(err)
	}

	conn, err := s.encryptAndStore(ctx, userID, platform, exch)
	if err != nil {
		s.metrics.RecordCallbackProcessed(ctx, platform, false)
		return nil, err
	}

	s.auditor.LogConnectionEstablished(userID, platform, exch.Account.ID)
	s.metrics.RecordCallbackProcessed(ctx, platform, true)

	return conn.Summarize(), nil
}

func (s *Service) rejectCallback(ctx context.Context, userID, platform, state, reason string) {
	s.auditor.LogCSRFRejected(userID, platform, "", reason)
	s.metrics.RecordCSRFRejected(ctx, platform)
	// Only a short prefix of the rejected state; enough to correlate,
	// useless to replay.
	s.logger.WarnContext(ctx, "callback rejected",
		"platform", platform,
		"reason", reason,
		"state_prefix", util.SafeTruncate(state, 8),
	)
}

// encryptAndStore encrypts the exchanged credentials and upserts the
// connection keyed by (user, platform, platform account).
func (s *Service) encryptAndStore(ctx context.Context, userID, platform string, exch *providers.Exchange) (*storage.Connection, error) {
	encToken, err := s.encryptTimed(ctx, exch.Token.AccessToken)
	if err != nil {
		return nil, ErrServer(fmt.Errorf("failed to encrypt access token: %w", err))
	}
	var encRefresh string
	if exch.Token.RefreshToken != "" {
		encRefresh, err = s.encryptTimed(ctx, exch.Token.RefreshToken)
		if err != nil {
			return nil, ErrServer(fmt.Errorf("failed to encrypt refresh token: %w", err))
		}
	}

	conn, err := s.connections.Upsert(ctx, &storage.Connection{
		UserID:            userID,
		Platform:          platform,
		PlatformAccountID: exch.Account.ID,
		AccountName:       exch.Account.Name,
		FollowersCount:    exch.Account.FollowersCount,
		EncryptedToken:    encToken,
		EncryptedRefresh:  encRefresh,
		TokenExpiresAt:    exch.Token.Expiry,
	})
	if err != nil {
		return nil, ErrServer(fmt.Errorf("failed to store connection: %w", err))
	}
	return conn, nil
}

// List returns the caller's active connections as sanitized summaries.
func (s *Service) List(ctx context.Context, userID string) ([]*storage.Summary, error) {
	summaries, err := s.connections.List(ctx, userID)
	if err != nil {
		return nil, ErrServer(fmt.Errorf("failed to list connections: %w", err))
	}
	return summaries, nil
}

// Refresh re-synchronizes a connection. Where the provider supports it the
// stored credentials are rotated (refresh-token grant, or Facebook's
// long-lived exchange); either way account name and follower count are
// re-pulled and the record's sync time advances.
func (s *Service) Refresh(ctx context.Context, userID, connectionID string) (_ *storage.Summary, err error) {
	ctx, span := s.tracer.Start(ctx, "socialvault.refresh")
	defer func() { endSpan(span, err) }()

	conn, err := s.ownedConnection(ctx, userID, connectionID)
	if err != nil {
		return nil, err
	}
	p, err := s.provider(conn.Platform)
	if err != nil {
		return nil, err
	}
	instrumentation.AddFlowAttributes(span, conn.Platform, conn.ID)

	accessToken, err := s.decryptTimed(ctx, conn.EncryptedToken)
	if err != nil {
		s.auditor.LogDecryptionFailure(userID, conn.Platform, conn.ID)
		return nil, AsServiceError(err)
	}

	token, rotated, err := s.rotateCredentials(ctx, p, conn, accessToken)
	if err != nil {
		s.auditor.LogProviderRefreshFailed(userID, conn.Platform, conn.ID)
		return nil, AsServiceError(err)
	}
	if rotated {
		accessToken = token.AccessToken
	} else if security.IsTokenExpired(conn.TokenExpiresAt) {
		// No server-side rotation path and the stored token has lapsed;
		// the metadata pull below will likely fail until the user reconnects.
		s.logger.WarnContext(ctx, "stored token expired and provider offers no refresh",
			"platform", conn.Platform,
			"connection_id", conn.ID,
		)
	} else if security.IsTokenExpiringSoon(conn.TokenExpiresAt, expiryWarningWindow) {
		s.logger.InfoContext(ctx, "stored token expires soon and provider offers no refresh",
			"platform", conn.Platform,
			"connection_id", conn.ID,
			"expires_at", conn.TokenExpiresAt,
		)
	}

	start := time.Now()
	account, err := p.FetchAccount(ctx, accessToken)
	s.metrics.RecordProviderAPICall(ctx, conn.Platform, "fetch_account", float64(time.Since(start).Milliseconds()), err)
	if err != nil {
		return nil, AsServiceError(err)
	}

	conn.AccountName = account.Name
	conn.FollowersCount = account.FollowersCount
	if rotated {
		conn.EncryptedToken, err = s.encryptTimed(ctx, token.AccessToken)
		if err != nil {
			return nil, ErrServer(fmt.Errorf("failed to encrypt rotated token: %w", err))
		}
		if token.RefreshToken != "" {
			conn.EncryptedRefresh, err = s.encryptTimed(ctx, token.RefreshToken)
			if err != nil {
				return nil, ErrServer(fmt.Errorf("failed to encrypt rotated refresh token: %w", err))
			}
		}
		conn.TokenExpiresAt = token.Expiry
		s.auditor.LogTokenRotated(userID, conn.Platform, conn.ID)
	}

	updated, err := s.connections.Upsert(ctx, conn)
	if err != nil {
		return nil, ErrServer(fmt.Errorf("failed to store refreshed connection: %w", err))
	}

	s.metrics.RecordTokenRefresh(ctx, conn.Platform, rotated)
	return updated.Summarize(), nil
}

// rotateCredentials obtains fresh provider credentials when the platform
// supports server-side refresh. It reports rotated=false for platforms where
// only a metadata refresh is possible.
func (s *Service) rotateCredentials(ctx context.Context, p providers.Provider, conn *storage.Connection, accessToken string) (*oauth2.Token, bool, error) {
	if conn.EncryptedRefresh != "" {
		refreshToken, err := s.decryptTimed(ctx, conn.EncryptedRefresh)
		if err != nil {
			s.auditor.LogDecryptionFailure(conn.UserID, conn.Platform, conn.ID)
			return nil, false, err
		}
		start := time.Now()
		token, err := p.RefreshToken(ctx, refreshToken)
		s.metrics.RecordProviderAPICall(ctx, conn.Platform, "refresh_token", float64(time.Since(start).Milliseconds()), err)
		if err != nil {
			return nil, false, err
		}
		if token.RefreshToken == "" {
			// Provider kept the old refresh token; carry it forward.
			token.RefreshToken = refreshToken
		}
		return token, true, nil
	}

	if renewer, ok := p.(accessTokenRenewer); ok {
		start := time.Now()
		token, err := renewer.RenewAccessToken(ctx, accessToken)
		s.metrics.RecordProviderAPICall(ctx, conn.Platform, "renew_access_token", float64(time.Since(start).Milliseconds()), err)
		if err != nil {
			return nil, false, err
		}
		return token, true, nil
	}

	return nil, false, nil
}

// Disconnect soft-deletes a connection. The row stays behind, inactive, for
// audit history.
func (s *Service) Disconnect(ctx context.Context, userID, connectionID string) (err error) {
	ctx, span := s.tracer.Start(ctx, "socialvault.disconnect")
	defer func() { endSpan(span, err) }()

	conn, err := s.ownedConnection(ctx, userID, connectionID)
	if err != nil {
		return err
	}
	instrumentation.AddFlowAttributes(span, conn.Platform, conn.ID)

	// Keyed by record ID so a sibling connection on the same platform is
	// never touched.
	if err := s.connections.Deactivate(ctx, userID, conn.ID); err != nil {
		return AsServiceError(err)
	}

	s.auditor.LogConnectionDisconnected(userID, conn.Platform, conn.ID)
	s.metrics.RecordDisconnect(ctx, conn.Platform)
	return nil
}

// DecryptForUse releases a plaintext credential to a trusted server-side
// caller. serviceToken must match the configured internal service token; the
// compare is constant-time. This is the only path that returns plaintext.
func (s *Service) DecryptForUse(ctx context.Context, userID, serviceToken string, req DecryptRequest) (_ *DecryptResult, err error) {
	ctx, span := s.tracer.Start(ctx, "socialvault.decrypt_for_use")
	defer func() { endSpan(span, err) }()
	instrumentation.AddFlowAttributes(span, req.Platform, "")

	if s.config.InternalServiceToken == "" {
		return nil, ErrUnauthorized(fmt.Errorf("decrypt-for-use is disabled"))
	}
	if subtle.ConstantTimeCompare([]byte(serviceToken), []byte(s.config.InternalServiceToken)) != 1 {
		s.auditor.LogUntrustedDecryptCaller(userID)
		s.metrics.RecordAuthFailure(ctx, "internal_service_token")
		return nil, ErrUnauthorized(fmt.Errorf("internal service token mismatch"))
	}
	if req.TokenType != TokenTypeAccess && req.TokenType != TokenTypeRefresh {
		return nil, ErrInvalidRequest(fmt.Sprintf("unknown token type %q", req.TokenType))
	}

	// A connection ID pins the exact row; without one the most recently
	// updated active connection for the platform is used.
	var conn *storage.Connection
	if req.ConnectionID != "" {
		conn, err = s.ownedConnection(ctx, userID, req.ConnectionID)
		if err != nil {
			return nil, err
		}
		if conn.Platform != req.Platform {
			return nil, ErrNotFound(storage.ErrConnectionNotFound)
		}
	} else {
		conn, err = s.connections.GetByPlatform(ctx, userID, req.Platform)
		if err != nil {
			return nil, AsServiceError(err)
		}
	}

	envelope := conn.EncryptedToken
	if req.TokenType == TokenTypeRefresh {
		envelope = conn.EncryptedRefresh
	}
	if envelope == "" {
		return nil, ErrInvalidRequest(fmt.Sprintf("no %s token stored for this connection", req.TokenType))
	}

	plaintext, err := s.decryptTimed(ctx, envelope)
	if err != nil {
		s.auditor.LogDecryptionFailure(userID, req.Platform, conn.ID)
		return nil, AsServiceError(err)
	}

	if req.TokenType == TokenTypeAccess && security.IsTokenExpired(conn.TokenExpiresAt) {
		s.logger.WarnContext(ctx, "releasing expired access token",
			"platform", req.Platform,
			"connection_id", conn.ID,
		)
	}

	s.auditor.LogTokenDecrypted(userID, req.Platform, req.TokenType)
	s.metrics.RecordTokenDecrypted(ctx, req.Platform)

	return &DecryptResult{
		Platform:  req.Platform,
		TokenType: req.TokenType,
		Token:     plaintext,
	}, nil
}

// HealthCheck verifies the stores and every provider are reachable. The
// first failure is returned.
func (s *Service) HealthCheck(ctx context.Context) error {
	if pinger, ok := s.connections.(Pinger); ok {
		if err := pinger.Ping(ctx); err != nil {
			return fmt.Errorf("connection store unreachable: %w", err)
		}
	}
	if pinger, ok := s.flows.(Pinger); ok {
		if err := pinger.Ping(ctx); err != nil {
			return fmt.Errorf("flow store unreachable: %w", err)
		}
	}
	for name, p := range s.providers {
		start := time.Now()
		err := p.HealthCheck(ctx)
		s.metrics.RecordProviderAPICall(ctx, name, "health_check", float64(time.Since(start).Milliseconds()), err)
		if err != nil {
			return fmt.Errorf("provider %s unreachable: %w", name, err)
		}
	}
	return nil
}

// ownedConnection resolves a caller's connection by record ID. The store
// lookup is user-scoped, so a foreign ID is simply not found.
func (s *Service) ownedConnection(ctx context.Context, userID, connectionID string) (*storage.Connection, error) {
	if connectionID == "" {
		return nil, ErrInvalidRequest("connection id is required")
	}

	conn, err := s.connections.Get(ctx, userID, connectionID)
	if err != nil {
		return nil, AsServiceError(err)
	}
	return conn, nil
}

func (s *Service) encryptTimed(ctx context.Context, plaintext string) (string, error) {
	start := time.Now()
	envelope, err := s.cipher.Encrypt(plaintext)
	s.metrics.RecordEncryptionOperation(ctx, "encrypt", float64(time.Since(start).Milliseconds()))
	return envelope, err
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	span.End()
}

func (s *Service) decryptTimed(ctx context.Context, envelope string) (string, error) {
	start := time.Now()
	plaintext, err := s.cipher.Decrypt(envelope)
	s.metrics.RecordEncryptionOperation(ctx, "decrypt", float64(time.Since(start).Milliseconds()))
	return plaintext, err
}
