// Package mock provides configurable fake stores for testing. Each method
// delegates to an optional Func field, so tests can inject failures without
// a real backend.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/marketloop/socialvault/storage"
)

// ConnectionStore is a configurable mock of storage.ConnectionStore.
type ConnectionStore struct {
	UpsertFunc        func(ctx context.Context, conn *storage.Connection) (*storage.Connection, error)
	GetFunc           func(ctx context.Context, userID, connectionID string) (*storage.Connection, error)
	GetByPlatformFunc func(ctx context.Context, userID, platform string) (*storage.Connection, error)
	ListFunc          func(ctx context.Context, userID string) ([]*storage.Summary, error)
	DeactivateFunc    func(ctx context.Context, userID, connectionID string) error

	mu         sync.Mutex
	CallCounts map[string]int
}

var _ storage.ConnectionStore = (*ConnectionStore)(nil)

// NewConnectionStore creates a mock whose methods fail until configured.
func NewConnectionStore() *ConnectionStore {
	return &ConnectionStore{CallCounts: make(map[string]int)}
}

func (m *ConnectionStore) recordCall(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CallCounts == nil {
		m.CallCounts = make(map[string]int)
	}
	m.CallCounts[method]++
}

// CallCount returns how many times a method was invoked.
func (m *ConnectionStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCounts[method]
}

func (m *ConnectionStore) Upsert(ctx context.Context, conn *storage.Connection) (*storage.Connection, error) {
	m.recordCall("Upsert")
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, conn)
	}
	return nil, fmt.Errorf("UpsertFunc not configured")
}

func (m *ConnectionStore) Get(ctx context.Context, userID, connectionID string) (*storage.Connection, error) {
	m.recordCall("Get")
	if m.GetFunc != nil {
		return m.GetFunc(ctx, userID, connectionID)
	}
	return nil, fmt.Errorf("GetFunc not configured")
}

func (m *ConnectionStore) GetByPlatform(ctx context.Context, userID, platform string) (*storage.Connection, error) {
	m.recordCall("GetByPlatform")
	if m.GetByPlatformFunc != nil {
		return m.GetByPlatformFunc(ctx, userID, platform)
	}
	return nil, fmt.Errorf("GetByPlatformFunc not configured")
}

func (m *ConnectionStore) List(ctx context.Context, userID string) ([]*storage.Summary, error) {
	m.recordCall("List")
	if m.ListFunc != nil {
		return m.ListFunc(ctx, userID)
	}
	return nil, fmt.Errorf("ListFunc not configured")
}

func (m *ConnectionStore) Deactivate(ctx context.Context, userID, connectionID string) error {
	m.recordCall("Deactivate")
	if m.DeactivateFunc != nil {
		return m.DeactivateFunc(ctx, userID, connectionID)
	}
	return fmt.Errorf("DeactivateFunc not configured")
}

// FlowStore is a configurable mock of storage.FlowStore.
type FlowStore struct {
	SaveFlowFunc    func(ctx context.Context, flow *storage.PendingFlow) error
	ConsumeFlowFunc func(ctx context.Context, state string) (*storage.PendingFlow, error)

	mu         sync.Mutex
	CallCounts map[string]int
}

var _ storage.FlowStore = (*FlowStore)(nil)

// NewFlowStore creates a mock whose methods fail until configured.
func NewFlowStore() *FlowStore {
	return &FlowStore{CallCounts: make(map[string]int)}
}

func (m *FlowStore) recordCall(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CallCounts == nil {
		m.CallCounts = make(map[string]int)
	}
	m.CallCounts[method]++
}

// CallCount returns how many times a method was invoked.
func (m *FlowStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCounts[method]
}

func (m *FlowStore) SaveFlow(ctx context.Context, flow *storage.PendingFlow) error {
	m.recordCall("SaveFlow")
	if m.SaveFlowFunc != nil {
		return m.SaveFlowFunc(ctx, flow)
	}
	return fmt.Errorf("SaveFlowFunc not configured")
}

func (m *FlowStore) ConsumeFlow(ctx context.Context, state string) (*storage.PendingFlow, error) {
	m.recordCall("ConsumeFlow")
	if m.ConsumeFlowFunc != nil {
		return m.ConsumeFlowFunc(ctx, state)
	}
	return nil, fmt.Errorf("ConsumeFlowFunc not configured")
}
