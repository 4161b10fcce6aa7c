package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marketloop/socialvault/storage"
)

func testConnection(userID, platform, accountID string) *storage.Connection {
	return &storage.Connection{
		UserID:            userID,
		Platform:          platform,
		PlatformAccountID: accountID,
		AccountName:       "Test Account",
		FollowersCount:    100,
		EncryptedToken:    "encrypted-access-token",
		EncryptedRefresh:  "encrypted-refresh-token",
		TokenExpiresAt:    time.Now().Add(time.Hour),
	}
}

func TestStore_UpsertAndGet(t *testing.T) {
	store := NewWithInterval(0)
	defer store.Stop()
	ctx := context.Background()

	saved, err := store.Upsert(ctx, testConnection("user-1", "facebook", "acct-1"))
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if saved.ID == "" {
		t.Error("Upsert() should assign an ID")
	}
	if !saved.Active {
		t.Error("Upsert() should activate the connection")
	}
	if saved.CreatedAt.IsZero() || saved.UpdatedAt.IsZero() {
		t.Error("Upsert() should set timestamps")
	}

	got, err := store.Get(ctx, "user-1", saved.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Platform != "facebook" {
		t.Errorf("Get() Platform = %q, want %q", got.Platform, "facebook")
	}
	if got.EncryptedToken != "encrypted-access-token" {
		t.Errorf("Get() EncryptedToken = %q, want stored ciphertext", got.EncryptedToken)
	}
}

func TestStore_Upsert_ReplacesExisting(t *testing.T) {
	store := NewWithInterval(0)
	defer store.Stop()
	ctx := context.Background()

	first, err := store.Upsert(ctx, testConnection("user-1", "facebook", "acct-1"))
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	reconnect := testConnection("user-1", "facebook", "acct-1")
	reconnect.EncryptedToken = "new-ciphertext"
	reconnect.FollowersCount = 250

	second, err := store.Upsert(ctx, reconnect)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("reconnect created new ID %q, want original %q", second.ID, first.ID)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Error("reconnect should keep original CreatedAt")
	}

	got, err := store.Get(ctx, "user-1", first.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.EncryptedToken != "new-ciphertext" {
		t.Errorf("Get() EncryptedToken = %q, want %q", got.EncryptedToken, "new-ciphertext")
	}
	if got.FollowersCount != 250 {
		t.Errorf("Get() FollowersCount = %d, want 250", got.FollowersCount)
	}
}

func TestStore_Upsert_ReactivatesDisconnected(t *testing.T) {
	store := NewWithInterval(0)
	defer store.Stop()
	ctx := context.Background()

	saved, err := store.Upsert(ctx, testConnection("user-1", "facebook", "acct-1"))
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := store.Deactivate(ctx, "user-1", saved.ID); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	if _, err := store.Get(ctx, "user-1", saved.ID); !errors.Is(err, storage.ErrConnectionNotFound) {
		t.Fatalf("Get() after deactivate error = %v, want ErrConnectionNotFound", err)
	}

	if _, err := store.Upsert(ctx, testConnection("user-1", "facebook", "acct-1")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if _, err := store.Get(ctx, "user-1", saved.ID); err != nil {
		t.Errorf("Get() after reconnect error = %v", err)
	}
}

func TestStore_Upsert_Validation(t *testing.T) {
	store := NewWithInterval(0)
	defer store.Stop()
	ctx := context.Background()

	tests := []struct {
		name string
		conn *storage.Connection
	}{
		{"nil connection", nil},
		{"missing user ID", testConnection("", "facebook", "acct-1")},
		{"missing platform", testConnection("user-1", "", "acct-1")},
		{"missing account ID", testConnection("user-1", "facebook", "")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.Upsert(ctx, tt.conn); err == nil {
				t.Error("Upsert() expected error")
			}
		})
	}
}

func TestStore_Get_ScopedToOwner(t *testing.T) {
	store := NewWithInterval(0)
	defer store.Stop()
	ctx := context.Background()

	saved, err := store.Upsert(ctx, testConnection("user-1", "facebook", "acct-1"))
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if _, err := store.Get(ctx, "user-2", saved.ID); !errors.Is(err, storage.ErrConnectionNotFound) {
		t.Errorf("Get() as other user error = %v, want ErrConnectionNotFound", err)
	}
}

func TestStore_List(t *testing.T) {
	store := NewWithInterval(0)
	defer store.Stop()
	ctx := context.Background()

	if _, err := store.Upsert(ctx, testConnection("user-1", "facebook", "acct-1")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if _, err := store.Upsert(ctx, testConnection("user-1", "twitter", "acct-2")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if _, err := store.Upsert(ctx, testConnection("user-2", "linkedin", "acct-3")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	summaries, err := store.List(ctx, "user-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("List() returned %d summaries, want 2", len(summaries))
	}

	for _, s := range summaries {
		if s.Platform == "linkedin" {
			t.Error("List() leaked another user's connection")
		}
	}
}

func TestStore_List_IncludesInactive(t *testing.T) {
	store := NewWithInterval(0)
	defer store.Stop()
	ctx := context.Background()

	fb, err := store.Upsert(ctx, testConnection("user-1", "facebook", "acct-1"))
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if _, err := store.Upsert(ctx, testConnection("user-1", "twitter", "acct-2")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := store.Deactivate(ctx, "user-1", fb.ID); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}

	summaries, err := store.List(ctx, "user-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("List() returned %d summaries, want 2", len(summaries))
	}
	for _, summary := range summaries {
		wantActive := summary.ID != fb.ID
		if summary.Active != wantActive {
			t.Errorf("List() %s Active = %v, want %v", summary.Platform, summary.Active, wantActive)
		}
	}
}

func TestStore_GetByPlatform_ReturnsMostRecent(t *testing.T) {
	store := NewWithInterval(0)
	defer store.Stop()
	ctx := context.Background()

	if _, err := store.Upsert(ctx, testConnection("user-1", "facebook", "acct-1")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	second, err := store.Upsert(ctx, testConnection("user-1", "facebook", "acct-2"))
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := store.GetByPlatform(ctx, "user-1", "facebook")
	if err != nil {
		t.Fatalf("GetByPlatform() error = %v", err)
	}
	if got.ID != second.ID {
		t.Errorf("GetByPlatform() ID = %q, want most recent %q", got.ID, second.ID)
	}

	if _, err := store.GetByPlatform(ctx, "user-1", "twitter"); !errors.Is(err, storage.ErrConnectionNotFound) {
		t.Errorf("GetByPlatform() for unconnected platform error = %v, want ErrConnectionNotFound", err)
	}
}

func TestStore_Deactivate_LeavesSiblingActive(t *testing.T) {
	store := NewWithInterval(0)
	defer store.Stop()
	ctx := context.Background()

	first, err := store.Upsert(ctx, testConnection("user-1", "facebook", "acct-1"))
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	second, err := store.Upsert(ctx, testConnection("user-1", "facebook", "acct-2"))
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if err := store.Deactivate(ctx, "user-1", first.ID); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}

	if _, err := store.Get(ctx, "user-1", first.ID); !errors.Is(err, storage.ErrConnectionNotFound) {
		t.Errorf("Get() deactivated connection error = %v, want ErrConnectionNotFound", err)
	}
	sibling, err := store.Get(ctx, "user-1", second.ID)
	if err != nil {
		t.Fatalf("Get() sibling error = %v", err)
	}
	if !sibling.Active {
		t.Error("sibling connection on the same platform was deactivated")
	}
}

func TestStore_List_Empty(t *testing.T) {
	store := NewWithInterval(0)
	defer store.Stop()

	summaries, err := store.List(context.Background(), "user-without-connections")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(summaries) != 0 {
		t.Errorf("List() returned %d summaries, want 0", len(summaries))
	}
}

func TestStore_Deactivate_NotFound(t *testing.T) {
	store := NewWithInterval(0)
	defer store.Stop()

	err := store.Deactivate(context.Background(), "user-1", "no-such-id")
	if !errors.Is(err, storage.ErrConnectionNotFound) {
		t.Errorf("Deactivate() error = %v, want ErrConnectionNotFound", err)
	}
}

func TestStore_SaveAndConsumeFlow(t *testing.T) {
	store := NewWithInterval(0)
	defer store.Stop()
	ctx := context.Background()

	flow := &storage.PendingFlow{
		State:        "state-abc",
		UserID:       "user-1",
		Platform:     "twitter",
		CodeVerifier: "verifier-xyz",
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(10 * time.Minute),
	}

	if err := store.SaveFlow(ctx, flow); err != nil {
		t.Fatalf("SaveFlow() error = %v", err)
	}

	consumed, err := store.ConsumeFlow(ctx, "state-abc")
	if err != nil {
		t.Fatalf("ConsumeFlow() error = %v", err)
	}
	if consumed.UserID != "user-1" || consumed.Platform != "twitter" {
		t.Errorf("ConsumeFlow() = %+v, want saved flow", consumed)
	}
	if consumed.CodeVerifier != "verifier-xyz" {
		t.Errorf("CodeVerifier = %q, want %q", consumed.CodeVerifier, "verifier-xyz")
	}

	// Second consume is a replay and must fail.
	if _, err := store.ConsumeFlow(ctx, "state-abc"); !errors.Is(err, storage.ErrFlowNotFound) {
		t.Errorf("second ConsumeFlow() error = %v, want ErrFlowNotFound", err)
	}
}

func TestStore_ConsumeFlow_Expired(t *testing.T) {
	store := NewWithInterval(0)
	defer store.Stop()
	ctx := context.Background()

	flow := &storage.PendingFlow{
		State:     "state-expiring",
		UserID:    "user-1",
		Platform:  "facebook",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(30 * time.Millisecond),
	}
	if err := store.SaveFlow(ctx, flow); err != nil {
		t.Fatalf("SaveFlow() error = %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if _, err := store.ConsumeFlow(ctx, "state-expiring"); !errors.Is(err, storage.ErrFlowNotFound) {
		t.Errorf("ConsumeFlow() error = %v, want ErrFlowNotFound for expired flow", err)
	}
}

func TestStore_SaveFlow_RejectsExpired(t *testing.T) {
	store := NewWithInterval(0)
	defer store.Stop()

	flow := &storage.PendingFlow{
		State:     "state-past",
		UserID:    "user-1",
		Platform:  "facebook",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	if err := store.SaveFlow(context.Background(), flow); err == nil {
		t.Error("SaveFlow() expected error for already-expired flow")
	}
}

func TestStore_ConsumeFlow_SingleWinnerUnderConcurrency(t *testing.T) {
	store := NewWithInterval(0)
	defer store.Stop()
	ctx := context.Background()

	flow := &storage.PendingFlow{
		State:     "state-race",
		UserID:    "user-1",
		Platform:  "twitter",
		ExpiresAt: time.Now().Add(time.Minute),
	}
	if err := store.SaveFlow(ctx, flow); err != nil {
		t.Fatalf("SaveFlow() error = %v", err)
	}

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ConsumeFlow(ctx, "state-race"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("ConsumeFlow() succeeded %d times under concurrency, want exactly 1", successes)
	}
}

func TestStore_CleanupRemovesExpiredFlows(t *testing.T) {
	store := NewWithInterval(0)
	defer store.Stop()
	ctx := context.Background()

	live := &storage.PendingFlow{
		State:     "state-live",
		UserID:    "user-1",
		Platform:  "facebook",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	expiring := &storage.PendingFlow{
		State:     "state-stale",
		UserID:    "user-1",
		Platform:  "twitter",
		ExpiresAt: time.Now().Add(10 * time.Millisecond),
	}
	if err := store.SaveFlow(ctx, live); err != nil {
		t.Fatalf("SaveFlow() error = %v", err)
	}
	if err := store.SaveFlow(ctx, expiring); err != nil {
		t.Fatalf("SaveFlow() error = %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	removed := store.removeExpiredFlows(time.Now())
	if removed != 1 {
		t.Errorf("removeExpiredFlows() = %d, want 1", removed)
	}

	_, flows := store.Stats()
	if flows != 1 {
		t.Errorf("Stats() flows = %d, want 1", flows)
	}
}
