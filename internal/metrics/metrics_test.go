package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/dshills/ledgerbus/internal/event"
	"github.com/dshills/ledgerbus/internal/event/dispatch"
)

type fakeSource struct {
	mu     sync.RWMutex
	stats  dispatch.Stats
	spaces []event.SpaceInfo
}

func (f *fakeSource) DispatcherStats() dispatch.Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.stats
}

func (f *fakeSource) Spaces() []event.SpaceInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.spaces
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		stats: dispatch.Stats{
			Lanes: []dispatch.LaneStats{
				{ID: 0, Name: "yac", Enqueued: 5, Executed: 3, QueueDepth: 2, TotalDuration: time.Second},
				{ID: 1, Name: "metrics", Enqueued: 1, Delayed: 1, Executed: 1, Dropped: 4},
			},
		},
		spaces: []event.SpaceInfo{
			{Name: "node.EventType/node.Outcome", Stats: event.EngineStats{Notifications: 7, Submitted: 6, Pruned: 1, Subscriptions: 2}},
		},
	}
}

func TestCollector_Values(t *testing.T) {
	c := NewCollector("ledgerbus", newFakeSource())

	expected := `
# HELP ledgerbus_dispatch_tasks_executed_total Tasks run by a lane.
# TYPE ledgerbus_dispatch_tasks_executed_total counter
ledgerbus_dispatch_tasks_executed_total{lane="metrics"} 1
ledgerbus_dispatch_tasks_executed_total{lane="yac"} 3
# HELP ledgerbus_dispatch_queue_depth Tasks waiting in a lane queue.
# TYPE ledgerbus_dispatch_queue_depth gauge
ledgerbus_dispatch_queue_depth{lane="metrics"} 0
ledgerbus_dispatch_queue_depth{lane="yac"} 2
# HELP ledgerbus_event_subscriptions Current registrations.
# TYPE ledgerbus_event_subscriptions gauge
ledgerbus_event_subscriptions{space="node.EventType/node.Outcome"} 2
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"ledgerbus_dispatch_tasks_executed_total",
		"ledgerbus_dispatch_queue_depth",
		"ledgerbus_event_subscriptions",
	)
	if err != nil {
		t.Fatal(err)
	}
}

func TestCollector_Count(t *testing.T) {
	c := NewCollector("ledgerbus", newFakeSource())

	// 8 lane series per lane, the disposed gauge and 5 series per space.
	if n := testutil.CollectAndCount(c); n != 2*8+1+5 {
		t.Errorf("expected %d series, got %d", 2*8+1+5, n)
	}
}

func TestRegistryHandler(t *testing.T) {
	reg, err := NewRegistry(NewCollector("ledgerbus", newFakeSource()))
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`ledgerbus_dispatch_tasks_dropped_total{lane="metrics"} 4`,
		`ledgerbus_event_notifications_total{space="node.EventType/node.Outcome"} 7`,
		`go_goroutines`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("expected %q in output", want)
		}
	}
}

func TestNewSource(t *testing.T) {
	lanes := dispatch.NewLaneSet("alpha", "beta")
	m := event.NewManager(dispatch.NewInlineDispatcher(lanes))
	_ = event.SpaceFor[string, int](m)

	src := NewSource(m)
	if n := len(src.DispatcherStats().Lanes); n != 2 {
		t.Errorf("expected 2 lanes, got %d", n)
	}
	if n := len(src.Spaces()); n != 1 {
		t.Errorf("expected 1 space, got %d", n)
	}
}

func TestOTelExporter_Collects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("ledgerbus-test")

	exp, err := NewOTelExporter(meter, newFakeSource())
	if err != nil {
		t.Fatalf("NewOTelExporter failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("expected collected metrics, got none")
	}

	var found bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "ledgerbus.dispatch.tasks.executed" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected data type %T", m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			if total != 4 {
				t.Errorf("executed total = %d, want 4", total)
			}
			found = true
		}
	}
	if !found {
		t.Error("executed counter not collected")
	}
}

func TestOTelExporter_Errors(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("ledgerbus-test")

	if _, err := NewOTelExporter(nil, newFakeSource()); !errors.Is(err, ErrNilMeter) {
		t.Errorf("expected ErrNilMeter, got %v", err)
	}
	if _, err := NewOTelExporter(meter, nil); !errors.Is(err, ErrNilSource) {
		t.Errorf("expected ErrNilSource, got %v", err)
	}

	var nilExp *OTelExporter
	if err := nilExp.Close(); err != nil {
		t.Errorf("Close on nil exporter: %v", err)
	}
}
