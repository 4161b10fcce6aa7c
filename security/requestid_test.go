package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerateRequestID(t *testing.T) {
	id := GenerateRequestID()
	if len(id) != 22 {
		t.Errorf("request ID length = %d, want 22", len(id))
	}
	if !requestIDPattern.MatchString(id) {
		t.Errorf("generated request ID %q does not match its own validation pattern", id)
	}
	if GenerateRequestID() == id {
		t.Error("two generated request IDs are identical")
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name         string
		upstreamID   string
		wantUpstream bool
	}{
		{"no upstream id", "", false},
		{"valid upstream id", "req-abc_123", true},
		{"injection attempt rejected", "bad\r\nSet-Cookie: x", false},
		{"oversized rejected", string(make([]byte, 200)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			r := httptest.NewRequest("GET", "/", nil)
			if tt.upstreamID != "" {
				r.Header.Set(RequestIDHeader, tt.upstreamID)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			if seen == "" {
				t.Fatal("no request ID in handler context")
			}
			if tt.wantUpstream && seen != tt.upstreamID {
				t.Errorf("context request ID = %q, want upstream %q", seen, tt.upstreamID)
			}
			if !tt.wantUpstream && seen == tt.upstreamID {
				t.Error("invalid upstream request ID was preserved")
			}
			if got := w.Header().Get(RequestIDHeader); got != seen {
				t.Errorf("response header request ID = %q, want %q", got, seen)
			}
		})
	}
}
