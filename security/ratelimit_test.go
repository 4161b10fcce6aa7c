package security

import (
	"fmt"
	"log/slog"
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(1, 2, slog.Default())
	defer rl.Stop()

	// Burst of 2 is allowed, third immediate request is not.
	if !rl.Allow("203.0.113.1") {
		t.Error("first request denied, want allowed")
	}
	if !rl.Allow("203.0.113.1") {
		t.Error("second request denied, want allowed")
	}
	if rl.Allow("203.0.113.1") {
		t.Error("third request allowed, want denied")
	}

	// Separate identifiers have independent buckets.
	if !rl.Allow("203.0.113.2") {
		t.Error("request from fresh identifier denied, want allowed")
	}
}

func TestRateLimiterLRUEviction(t *testing.T) {
	rl := NewRateLimiterWithMaxEntries(10, 10, 3, slog.Default())
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		rl.Allow(fmt.Sprintf("198.51.100.%d", i))
	}

	stats := rl.GetStats()
	if stats.CurrentEntries != 3 {
		t.Errorf("CurrentEntries = %d, want 3", stats.CurrentEntries)
	}
	if stats.TotalEvictions != 2 {
		t.Errorf("TotalEvictions = %d, want 2", stats.TotalEvictions)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(10, 10, slog.Default())
	defer rl.Stop()

	rl.Allow("198.51.100.1")
	rl.Allow("198.51.100.2")

	// Nothing is idle yet.
	rl.Cleanup(time.Minute)
	if got := rl.GetStats().CurrentEntries; got != 2 {
		t.Errorf("CurrentEntries after no-op cleanup = %d, want 2", got)
	}

	// Everything is idle relative to a zero threshold.
	time.Sleep(5 * time.Millisecond)
	rl.Cleanup(time.Millisecond)
	if got := rl.GetStats().CurrentEntries; got != 0 {
		t.Errorf("CurrentEntries after cleanup = %d, want 0", got)
	}
}

func TestRateLimiterStopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(10, 10, slog.Default())
	rl.Stop()
	rl.Stop()
}
