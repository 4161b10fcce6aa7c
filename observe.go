package socialvault

import (
	"context"
	"time"

	"github.com/marketloop/socialvault/instrumentation"
	"github.com/marketloop/socialvault/storage"
)

// observedConnections decorates a connection store with per-operation
// metrics. The service only ever talks to stores through these decorators.
type observedConnections struct {
	store   storage.ConnectionStore
	metrics *instrumentation.Metrics
}

var _ storage.ConnectionStore = (*observedConnections)(nil)

func (o *observedConnections) Upsert(ctx context.Context, conn *storage.Connection) (*storage.Connection, error) {
	start := time.Now()
	stored, err := o.store.Upsert(ctx, conn)
	recordStorageOp(ctx, o.metrics, "connections.upsert", start, err)
	return stored, err
}

func (o *observedConnections) Get(ctx context.Context, userID, connectionID string) (*storage.Connection, error) {
	start := time.Now()
	conn, err := o.store.Get(ctx, userID, connectionID)
	recordStorageOp(ctx, o.metrics, "connections.get", start, err)
	return conn, err
}

func (o *observedConnections) GetByPlatform(ctx context.Context, userID, platform string) (*storage.Connection, error) {
	start := time.Now()
	conn, err := o.store.GetByPlatform(ctx, userID, platform)
	recordStorageOp(ctx, o.metrics, "connections.get_by_platform", start, err)
	return conn, err
}

func (o *observedConnections) List(ctx context.Context, userID string) ([]*storage.Summary, error) {
	start := time.Now()
	summaries, err := o.store.List(ctx, userID)
	recordStorageOp(ctx, o.metrics, "connections.list", start, err)
	return summaries, err
}

func (o *observedConnections) Deactivate(ctx context.Context, userID, connectionID string) error {
	start := time.Now()
	err := o.store.Deactivate(ctx, userID, connectionID)
	recordStorageOp(ctx, o.metrics, "connections.deactivate", start, err)
	return err
}

// Ping delegates to the underlying store when it supports connectivity
// checks; stores without one are treated as always reachable.
func (o *observedConnections) Ping(ctx context.Context) error {
	if pinger, ok := o.store.(Pinger); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

// observedFlows decorates a flow store with per-operation metrics.
type observedFlows struct {
	store   storage.FlowStore
	metrics *instrumentation.Metrics
}

var _ storage.FlowStore = (*observedFlows)(nil)

func (o *observedFlows) SaveFlow(ctx context.Context, flow *storage.PendingFlow) error {
	start := time.Now()
	err := o.store.SaveFlow(ctx, flow)
	recordStorageOp(ctx, o.metrics, "flows.save", start, err)
	return err
}

func (o *observedFlows) ConsumeFlow(ctx context.Context, state string) (*storage.PendingFlow, error) {
	start := time.Now()
	flow, err := o.store.ConsumeFlow(ctx, state)
	recordStorageOp(ctx, o.metrics, "flows.consume", start, err)
	return flow, err
}

func (o *observedFlows) Ping(ctx context.Context) error {
	if pinger, ok := o.store.(Pinger); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

func recordStorageOp(ctx context.Context, metrics *instrumentation.Metrics, operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.RecordStorageOperation(ctx, operation, result, float64(time.Since(start).Milliseconds()))
}
