package security

import (
	"errors"
	"strings"
	"testing"
)

func TestNewStateCodec(t *testing.T) {
	if _, err := NewStateCodec(""); !errors.Is(err, ErrNoStateSecret) {
		t.Errorf("NewStateCodec(\"\") error = %v, want ErrNoStateSecret", err)
	}
	if _, err := NewStateCodec("signing-secret"); err != nil {
		t.Errorf("NewStateCodec() error = %v", err)
	}
}

func TestStateRoundTrip(t *testing.T) {
	codec, _ := NewStateCodec("signing-secret")

	tests := []struct {
		name     string
		userID   string
		platform string
	}{
		{"plain ids", "user-123", "facebook"},
		{"uuid user", "b7a9c1de-4f22-4a0b-9a67-3f6a2b1c0d9e", "twitter"},
		// Identifiers containing characters that would break a
		// delimiter-joined encoding must round-trip intact.
		{"underscore in user id", "user_with_underscores", "linkedin"},
		{"dot and dash", "user.name-here", "instagram"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := codec.Issue(tt.userID, tt.platform)
			if err != nil {
				t.Fatalf("Issue() error = %v", err)
			}
			if err := codec.Verify(state, tt.userID, tt.platform); err != nil {
				t.Errorf("Verify() error = %v", err)
			}
		})
	}
}

func TestStateRejectsWrongCaller(t *testing.T) {
	codec, _ := NewStateCodec("signing-secret")

	state, err := codec.Issue("user-a", "facebook")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	tests := []struct {
		name     string
		userID   string
		platform string
	}{
		{"different user", "user-b", "facebook"},
		{"different platform", "user-a", "twitter"},
		{"both different", "user-b", "twitter"},
		{"empty user", "", "facebook"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := codec.Verify(state, tt.userID, tt.platform); !errors.Is(err, ErrCSRF) {
				t.Errorf("Verify() error = %v, want ErrCSRF", err)
			}
		})
	}
}

func TestStateRejectsTampering(t *testing.T) {
	codec, _ := NewStateCodec("signing-secret")
	otherCodec, _ := NewStateCodec("different-secret")

	state, err := codec.Issue("user-a", "facebook")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	foreignState, err := otherCodec.Issue("user-a", "facebook")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	payload, sig, _ := strings.Cut(state, ".")

	tests := []struct {
		name  string
		state string
	}{
		{"empty", ""},
		{"no delimiter", payload + sig},
		{"missing signature", payload + "."},
		{"missing payload", "." + sig},
		{"truncated signature", payload + "." + sig[:len(sig)-2]},
		{"modified payload", payload[:len(payload)-1] + "x." + sig},
		{"signed with different secret", foreignState},
		{"garbage", "not-a-state-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := codec.Verify(tt.state, "user-a", "facebook"); !errors.Is(err, ErrCSRF) {
				t.Errorf("Verify(%q) error = %v, want ErrCSRF", tt.state, err)
			}
		})
	}
}

func TestStateNoncesAreUnique(t *testing.T) {
	codec, _ := NewStateCodec("signing-secret")

	first, err := codec.Issue("user-a", "facebook")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	second, err := codec.Issue("user-a", "facebook")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if first == second {
		t.Error("two issued states for the same user/platform are identical")
	}
}

func TestStateIssueValidation(t *testing.T) {
	codec, _ := NewStateCodec("signing-secret")

	if _, err := codec.Issue("", "facebook"); err == nil {
		t.Error("Issue() with empty user ID succeeded, want error")
	}
	if _, err := codec.Issue("user-a", ""); err == nil {
		t.Error("Issue() with empty platform succeeded, want error")
	}
}
