package socialvault

import (
	"context"
	"errors"
	"testing"

	"github.com/marketloop/socialvault/instrumentation"
	"github.com/marketloop/socialvault/storage"
	storagemock "github.com/marketloop/socialvault/storage/mock"
)

func newObserveMetrics(t *testing.T) *instrumentation.Metrics {
	t.Helper()

	inst, err := instrumentation.New(instrumentation.Config{ServiceName: "test-service"})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}
	t.Cleanup(func() { inst.Shutdown(context.Background()) })

	return inst.Metrics()
}

func TestObservedConnections_Delegates(t *testing.T) {
	store := storagemock.NewConnectionStore()
	store.UpsertFunc = func(_ context.Context, conn *storage.Connection) (*storage.Connection, error) {
		return conn, nil
	}
	observed := &observedConnections{store: store, metrics: newObserveMetrics(t)}
	ctx := context.Background()

	if _, err := observed.Upsert(ctx, &storage.Connection{UserID: "u", Platform: "facebook"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	observed.Get(ctx, "u", "conn-1")
	observed.GetByPlatform(ctx, "u", "facebook")
	observed.List(ctx, "u")
	observed.Deactivate(ctx, "u", "conn-1")

	for _, method := range []string{"Upsert", "Get", "GetByPlatform", "List", "Deactivate"} {
		if store.CallCount(method) != 1 {
			t.Errorf("%s call count = %d, want 1", method, store.CallCount(method))
		}
	}
}

func TestObservedFlows_RecordsFailures(t *testing.T) {
	flows := storagemock.NewFlowStore()
	flows.SaveFlowFunc = func(_ context.Context, _ *storage.PendingFlow) error {
		return errors.New("valkey: connection refused")
	}
	observed := &observedFlows{store: flows, metrics: newObserveMetrics(t)}

	err := observed.SaveFlow(context.Background(), &storage.PendingFlow{State: "s"})
	if err == nil {
		t.Fatal("SaveFlow() = nil, want the store's error surfaced")
	}
	if flows.CallCount("SaveFlow") != 1 {
		t.Errorf("SaveFlow call count = %d, want 1", flows.CallCount("SaveFlow"))
	}
}

// pingingConnectionStore adds a failing Ping to the mock store.
type pingingConnectionStore struct {
	*storagemock.ConnectionStore
	pingErr error
}

func (p *pingingConnectionStore) Ping(context.Context) error { return p.pingErr }

func TestObservedStores_PingPassthrough(t *testing.T) {
	metrics := newObserveMetrics(t)

	// A backend Ping failure must surface through the decorator.
	down := &pingingConnectionStore{
		ConnectionStore: storagemock.NewConnectionStore(),
		pingErr:         errors.New("pq: the database system is shutting down"),
	}
	observed := &observedConnections{store: down, metrics: metrics}
	if err := observed.Ping(context.Background()); err == nil {
		t.Error("Ping() via decorator = nil, want the backend error surfaced")
	}

	// A store without connectivity checks reads as reachable.
	plain := &observedFlows{store: storagemock.NewFlowStore(), metrics: metrics}
	if err := plain.Ping(context.Background()); err != nil {
		t.Errorf("Ping() on non-pinging store error = %v", err)
	}
}
