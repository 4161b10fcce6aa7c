// Package memory provides an in-memory implementation of the storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marketloop/socialvault/storage"
)

const (
	// defaultCleanupInterval is how often expired pending flows are swept.
	defaultCleanupInterval = time.Minute
)

// Store is an in-memory implementation of storage.ConnectionStore and
// storage.FlowStore.
type Store struct {
	mu sync.RWMutex

	// connections indexed by user ID + platform + platform account ID
	connections map[connectionKey]*storage.Connection

	// pending flows indexed by state token
	flows map[string]*storage.PendingFlow

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

type connectionKey struct {
	userID            string
	platform          string
	platformAccountID string
}

// Compile-time interface checks.
var (
	_ storage.ConnectionStore = (*Store)(nil)
	_ storage.FlowStore       = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval.
func New() *Store {
	return NewWithInterval(defaultCleanupInterval)
}

// NewWithInterval creates a new in-memory store sweeping expired flows at
// the given interval. A non-positive interval disables the sweeper.
func NewWithInterval(interval time.Duration) *Store {
	s := &Store{
		connections:     make(map[connectionKey]*storage.Connection),
		flows:           make(map[string]*storage.PendingFlow),
		cleanupInterval: interval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	if interval > 0 {
		go s.cleanupLoop()
	}

	return s
}

// SetLogger sets the structured logger. Call before the store is shared.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Stop terminates the cleanup goroutine. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := s.removeExpiredFlows(time.Now()); removed > 0 {
				s.logger.Debug("Removed expired pending flows", "count", removed)
			}
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *Store) removeExpiredFlows(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for state, flow := range s.flows {
		if now.After(flow.ExpiresAt) {
			delete(s.flows, state)
			removed++
		}
	}
	return removed
}

// Upsert inserts or replaces a connection, keyed by user, platform, and
// platform account.
func (s *Store) Upsert(_ context.Context, conn *storage.Connection) (*storage.Connection, error) {
	if conn == nil || conn.UserID == "" || conn.Platform == "" || conn.PlatformAccountID == "" {
		return nil, fmt.Errorf("invalid connection")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	key := connectionKey{conn.UserID, conn.Platform, conn.PlatformAccountID}

	stored := *conn
	stored.Active = true
	stored.UpdatedAt = now

	if existing, ok := s.connections[key]; ok {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	} else {
		if stored.ID == "" {
			stored.ID = uuid.New().String()
		}
		stored.CreatedAt = now
	}

	s.connections[key] = &stored

	result := stored
	return &result, nil
}

// Get retrieves a user's active connection by record ID.
func (s *Store) Get(_ context.Context, userID, connectionID string) (*storage.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, conn := range s.connections {
		if conn.UserID != userID || conn.ID != connectionID || !conn.Active {
			continue
		}
		result := *conn
		return &result, nil
	}
	return nil, fmt.Errorf("%w: %s", storage.ErrConnectionNotFound, connectionID)
}

// GetByPlatform retrieves the user's most recently updated active connection
// for a platform.
func (s *Store) GetByPlatform(_ context.Context, userID, platform string) (*storage.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn := s.lookupLocked(userID, platform)
	if conn == nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrConnectionNotFound, platform)
	}

	result := *conn
	return &result, nil
}

// lookupLocked finds the most recently updated active connection for a
// user+platform. Caller must hold at least a read lock.
func (s *Store) lookupLocked(userID, platform string) *storage.Connection {
	var latest *storage.Connection
	for key, conn := range s.connections {
		if key.userID != userID || key.platform != platform || !conn.Active {
			continue
		}
		if latest == nil || conn.UpdatedAt.After(latest.UpdatedAt) {
			latest = conn
		}
	}
	return latest
}

// List returns sanitized summaries of all the user's connections, active
// and inactive, newest first.
func (s *Store) List(_ context.Context, userID string) ([]*storage.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]*storage.Summary, 0)
	for key, conn := range s.connections {
		if key.userID != userID {
			continue
		}
		summaries = append(summaries, conn.Summarize())
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].ConnectedAt.After(summaries[j].ConnectedAt)
	})

	return summaries, nil
}

// Deactivate marks a user's connection inactive by record ID. Sibling
// connections on the same platform stay active.
func (s *Store) Deactivate(_ context.Context, userID, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conn := range s.connections {
		if conn.UserID != userID || conn.ID != connectionID || !conn.Active {
			continue
		}
		conn.Active = false
		conn.UpdatedAt = time.Now()
		return nil
	}
	return fmt.Errorf("%w: %s", storage.ErrConnectionNotFound, connectionID)
}

// SaveFlow saves a pending flow keyed by its state token.
func (s *Store) SaveFlow(_ context.Context, flow *storage.PendingFlow) error {
	if flow == nil || flow.State == "" {
		return fmt.Errorf("invalid pending flow")
	}
	if !flow.ExpiresAt.After(time.Now()) {
		return fmt.Errorf("pending flow already expired")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *flow
	s.flows[flow.State] = &stored
	return nil
}

// ConsumeFlow atomically retrieves and deletes a pending flow. The mutex
// makes the check-and-delete a single critical section, so exactly one
// concurrent caller wins.
func (s *Store) ConsumeFlow(_ context.Context, state string) (*storage.PendingFlow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flow, ok := s.flows[state]
	if !ok {
		return nil, fmt.Errorf("%w: unknown or already consumed state", storage.ErrFlowNotFound)
	}

	delete(s.flows, state)

	if time.Now().After(flow.ExpiresAt) {
		return nil, fmt.Errorf("%w: flow expired", storage.ErrFlowNotFound)
	}

	result := *flow
	return &result, nil
}

// Stats reports current entry counts, for monitoring and tests.
func (s *Store) Stats() (connections, flows int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections), len(s.flows)
}
