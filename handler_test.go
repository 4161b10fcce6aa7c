package socialvault

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/marketloop/socialvault/identity"
	"github.com/marketloop/socialvault/internal/testutil"
	"github.com/marketloop/socialvault/providers"
	"github.com/marketloop/socialvault/providers/mock"
	"github.com/marketloop/socialvault/security"
	"github.com/marketloop/socialvault/storage"
	"github.com/marketloop/socialvault/storage/memory"
)

const testJWTSecret = "test-jwt-secret"

func newTestHandler(t *testing.T, provs ...providers.Provider) *Handler {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	if len(provs) == 0 {
		provs = []providers.Provider{mock.NewMockProvider()}
	}

	svc, err := NewService(Config{
		MasterSecret:         testMasterSecret,
		StateSecret:          testStateSecret,
		InternalServiceToken: testServiceToken,
		RateLimitPerSecond:   -1, // rate limiting has its own test
		Logger:               testLogger(),
	}, store, store, provs...)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	verifier, err := identity.NewJWTVerifier(&identity.JWTConfig{Secret: testJWTSecret})
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}

	h := NewHandler(svc, verifier)
	t.Cleanup(h.Close)
	return h
}

// doRequest performs an authenticated request against the handler.
func doRequest(t *testing.T, h *Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+testutil.SignSessionToken(t, testJWTSecret, userID, nil))
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response body %q: %v", rec.Body.String(), err)
	}
	return out
}

// runConnectFlow drives connect + callback over HTTP and returns the summary.
func runConnectFlow(t *testing.T, h *Handler, userID string) *storage.Summary {
	t.Helper()

	rec := doRequest(t, h, http.MethodPost, "/api/connect/mock", userID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("connect status = %d, body = %s", rec.Code, rec.Body.String())
	}
	result := decodeJSON[ConnectResult](t, rec)
	state := stateFromURL(t, result.AuthorizationURL)

	rec = doRequest(t, h, http.MethodPost, "/api/connect/mock/callback", userID, CallbackRequest{
		Code:  testAuthCode,
		State: state,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("callback status = %d, body = %s", rec.Code, rec.Body.String())
	}
	summary := decodeJSON[*storage.Summary](t, rec)
	return summary
}

func TestHandler_RequiresAuthentication(t *testing.T) {
	h := newTestHandler(t)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/connect/mock"},
		{http.MethodPost, "/api/connect/mock/callback"},
		{http.MethodGet, "/api/connections"},
		{http.MethodPost, "/api/connections/some-id/refresh"},
		{http.MethodDelete, "/api/connections/some-id"},
		{http.MethodPost, "/api/internal/tokens/decrypt"},
	}

	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			rec := doRequest(t, h, route.method, route.path, "", nil)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
			resp := decodeJSON[errorResponse](t, rec)
			if resp.Error != CodeUnauthorized {
				t.Errorf("error code = %q, want %q", resp.Error, CodeUnauthorized)
			}
		})
	}
}

func TestHandler_RejectsGarbageToken(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/connections", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestHandler_ConnectFlow(t *testing.T) {
	h := newTestHandler(t)

	summary := runConnectFlow(t, h, testUserID)
	if summary.Platform != testMockPlatform {
		t.Errorf("Platform = %q, want %q", summary.Platform, testMockPlatform)
	}
	if summary.AccountName != "Mock Account" {
		t.Errorf("AccountName = %q, want %q", summary.AccountName, "Mock Account")
	}
}

func TestHandler_CallbackNeverLeaksTokens(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/api/connect/mock", testUserID, nil)
	result := decodeJSON[ConnectResult](t, rec)
	state := stateFromURL(t, result.AuthorizationURL)

	rec = doRequest(t, h, http.MethodPost, "/api/connect/mock/callback", testUserID, CallbackRequest{
		Code:  testAuthCode,
		State: state,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("callback status = %d, body = %s", rec.Code, rec.Body.String())
	}

	body := rec.Body.String()
	for _, secret := range []string{testAccessToken, testRefreshToken} {
		if strings.Contains(body, secret) {
			t.Errorf("callback response leaked credential %q", secret)
		}
	}
}

func TestHandler_CallbackTamperedState(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/api/connect/mock", testUserID, nil)
	result := decodeJSON[ConnectResult](t, rec)
	state := stateFromURL(t, result.AuthorizationURL)

	rec = doRequest(t, h, http.MethodPost, "/api/connect/mock/callback", testUserID, CallbackRequest{
		Code:  testAuthCode,
		State: state + "x",
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	resp := decodeJSON[errorResponse](t, rec)
	if resp.Error != CodeCSRF {
		t.Errorf("error code = %q, want %q", resp.Error, CodeCSRF)
	}
	if resp.Message != "authentication failed" {
		t.Errorf("message = %q, want the generic CSRF message", resp.Message)
	}
}

func TestHandler_UnknownPlatform(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/api/connect/myspace", testUserID, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandler_List(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodGet, "/api/connections", testUserID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := decodeJSON[[]*storage.Summary](t, rec); len(got) != 0 {
		t.Fatalf("List before connecting = %d summaries, want 0", len(got))
	}

	runConnectFlow(t, h, testUserID)

	rec = doRequest(t, h, http.MethodGet, "/api/connections", testUserID, nil)
	summaries := decodeJSON[[]*storage.Summary](t, rec)
	if len(summaries) != 1 {
		t.Fatalf("List = %d summaries, want 1", len(summaries))
	}

	// Other users never see the connection.
	rec = doRequest(t, h, http.MethodGet, "/api/connections", testOtherUserID, nil)
	if got := decodeJSON[[]*storage.Summary](t, rec); len(got) != 0 {
		t.Errorf("List for other user = %d summaries, want 0", len(got))
	}
}

func TestHandler_Refresh(t *testing.T) {
	h := newTestHandler(t)

	summary := runConnectFlow(t, h, testUserID)

	rec := doRequest(t, h, http.MethodPost, "/api/connections/"+summary.ID+"/refresh", testUserID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, body = %s", rec.Code, rec.Body.String())
	}
	refreshed := decodeJSON[*storage.Summary](t, rec)
	if refreshed.ID != summary.ID {
		t.Errorf("refresh changed connection ID: %q -> %q", summary.ID, refreshed.ID)
	}
}

func TestHandler_Refresh_ForeignConnection(t *testing.T) {
	h := newTestHandler(t)

	summary := runConnectFlow(t, h, testOtherUserID)

	rec := doRequest(t, h, http.MethodPost, "/api/connections/"+summary.ID+"/refresh", testUserID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandler_Disconnect(t *testing.T) {
	h := newTestHandler(t)

	summary := runConnectFlow(t, h, testUserID)

	rec := doRequest(t, h, http.MethodDelete, "/api/connections/"+summary.ID, testUserID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("disconnect status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodDelete, "/api/connections/"+summary.ID, testUserID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second disconnect status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandler_Decrypt(t *testing.T) {
	h := newTestHandler(t)

	runConnectFlow(t, h, testUserID)

	body, err := json.Marshal(DecryptRequest{Platform: testMockPlatform, TokenType: TokenTypeAccess})
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/internal/tokens/decrypt", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testutil.SignSessionToken(t, testJWTSecret, testUserID, nil))
	req.Header.Set(InternalTokenHeader, testServiceToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("decrypt status = %d, body = %s", rec.Code, rec.Body.String())
	}
	result := decodeJSON[DecryptResult](t, rec)
	if result.Token != testAccessToken {
		t.Errorf("Token = %q, want %q", result.Token, testAccessToken)
	}
}

func TestHandler_Decrypt_MissingInternalToken(t *testing.T) {
	h := newTestHandler(t)

	runConnectFlow(t, h, testUserID)

	rec := doRequest(t, h, http.MethodPost, "/api/internal/tokens/decrypt", testUserID, DecryptRequest{
		Platform:  testMockPlatform,
		TokenType: TokenTypeAccess,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestHandler_Health(t *testing.T) {
	h := newTestHandler(t)

	// No auth required.
	rec := doRequest(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_SecurityHeaders(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodGet, "/healthz", "", nil)
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := rec.Header().Get("Cache-Control"); !strings.Contains(got, "no-store") {
		t.Errorf("Cache-Control = %q, want it to contain no-store", got)
	}
	if rec.Header().Get(security.RequestIDHeader) == "" {
		t.Error("response is missing a request ID header")
	}
}

func TestHandler_RateLimit(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)

	svc, err := NewService(Config{
		MasterSecret:       testMasterSecret,
		StateSecret:        testStateSecret,
		RateLimitPerSecond: 1,
		RateLimitBurst:     1,
		Logger:             testLogger(),
	}, store, store, mock.NewMockProvider())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	verifier, err := identity.NewJWTVerifier(&identity.JWTConfig{Secret: testJWTSecret})
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}
	h := NewHandler(svc, verifier)
	t.Cleanup(h.Close)

	rec := doRequest(t, h, http.MethodGet, "/api/connections", testUserID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, body = %s", rec.Code, rec.Body.String())
	}

	limited := false
	for i := 0; i < 5; i++ {
		rec = doRequest(t, h, http.MethodGet, "/api/connections", testUserID, nil)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("burst of requests was never rate limited")
	}
}

func TestHandler_RateLimitPerUser(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)

	svc, err := NewService(Config{
		MasterSecret:       testMasterSecret,
		StateSecret:        testStateSecret,
		RateLimitPerSecond: 1,
		RateLimitBurst:     1,
		Logger:             testLogger(),
	}, store, store, mock.NewMockProvider())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	verifier, err := identity.NewJWTVerifier(&identity.JWTConfig{Secret: testJWTSecret})
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}
	h := NewHandler(svc, verifier)
	t.Cleanup(h.Close)

	// Every request arrives from a fresh IP, so only the per-user bucket
	// can trip.
	userID := "user-" + testutil.RandomHex(t, 8)
	token := testutil.SignSessionToken(t, testJWTSecret, userID, nil)

	limited := false
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/connections", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req.RemoteAddr = fmt.Sprintf("10.0.0.%d:1234", i+1)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("repeated requests by one user were never rate limited")
	}
}
