package observability

import (
	"testing"
	"time"
)

func TestPerformanceMonitor(t *testing.T) {
	pm := NewPerformanceMonitor()
	defer pm.Stop()

	pm.RecordRequest("/rest/", 10*time.Millisecond, false)
	pm.RecordRequest("/rest/", 20*time.Millisecond, false)
	pm.RecordRequest("/rest/", 30*time.Millisecond, false)

	val, ok := pm.routes.Load("/rest/")
	if !ok {
		t.Fatal("Route metrics not found")
	}

	metrics := val.(*RouteMetrics)
	if count := metrics.Count.Load(); count != 3 {
		t.Errorf("Expected 3 requests, got %d", count)
	}

	avgDuration := time.Duration(metrics.TotalDuration.Load() / metrics.Count.Load())
	if avgDuration != 20*time.Millisecond {
		t.Errorf("Expected 20ms avg, got %v", avgDuration)
	}
}

func TestDispatchOutcomes(t *testing.T) {
	pm := NewPerformanceMonitor()
	defer pm.Stop()

	pm.Dispatched(OutcomeQueued)
	pm.Dispatched(OutcomeQueued)
	pm.Dispatched(OutcomeNotFound)
	pm.Dispatched(OutcomeOverloaded)

	st := pm.Snapshot()
	if st.Queued != 2 {
		t.Errorf("Expected 2 queued, got %d", st.Queued)
	}
	if st.NotFound != 1 {
		t.Errorf("Expected 1 not found, got %d", st.NotFound)
	}
	if st.Overloaded != 1 {
		t.Errorf("Expected 1 overloaded, got %d", st.Overloaded)
	}
	if st.Forbidden != 0 || st.BadMethod != 0 || st.Orphaned != 0 {
		t.Errorf("Expected untouched outcomes to stay zero: %+v", st)
	}
}

func TestSnapshotRoutes(t *testing.T) {
	pm := NewPerformanceMonitor()
	defer pm.Stop()

	pm.RecordRequest("/b/", 4*time.Millisecond, true)
	pm.RecordRequest("/a/", 2*time.Millisecond, false)
	pm.RecordRequest("/a/", 6*time.Millisecond, false)

	st := pm.Snapshot()
	if len(st.Routes) != 2 {
		t.Fatalf("Expected 2 routes, got %d", len(st.Routes))
	}
	if st.Routes[0].Route != "/a/" || st.Routes[1].Route != "/b/" {
		t.Errorf("Expected routes sorted by name, got %s then %s",
			st.Routes[0].Route, st.Routes[1].Route)
	}

	a := st.Routes[0]
	if a.Count != 2 || a.Errors != 0 {
		t.Errorf("Route /a/: got count %d errors %d", a.Count, a.Errors)
	}
	if a.AvgLatency != uint64(4*time.Millisecond) {
		t.Errorf("Route /a/: expected 4ms avg, got %dns", a.AvgLatency)
	}
	if a.MinLatency != uint64(2*time.Millisecond) || a.MaxLatency != uint64(6*time.Millisecond) {
		t.Errorf("Route /a/: min %d max %d", a.MinLatency, a.MaxLatency)
	}

	b := st.Routes[1]
	if b.Errors != 1 {
		t.Errorf("Route /b/: expected 1 error, got %d", b.Errors)
	}
}

func TestRecordingDisabledAfterStop(t *testing.T) {
	pm := NewPerformanceMonitor()
	pm.Stop()

	pm.Dispatched(OutcomeQueued)
	pm.RecordRequest("/rest/", time.Millisecond, false)

	st := pm.Snapshot()
	if st.Queued != 0 || len(st.Routes) != 0 {
		t.Errorf("Expected no recording after Stop, got %+v", st)
	}
}

func TestBottleneckDetection(t *testing.T) {
	pm := NewPerformanceMonitor()
	defer pm.Stop()

	// Simulate a slow route
	for i := 0; i < 100; i++ {
		pm.RecordRequest("/slow/", 150*time.Millisecond, false)
	}

	// Manually trigger detection
	bottlenecks := pm.detectBottlenecks()

	if len(bottlenecks) == 0 {
		t.Error("Expected bottleneck detection for slow route")
	} else {
		t.Logf("✅ Detected %d bottlenecks", len(bottlenecks))
		for _, b := range bottlenecks {
			t.Logf("  - [%s] %s: %s (severity: %d)", b.Type, b.Location, b.Details, b.Severity)
		}
	}
}

func TestIOStats(t *testing.T) {
	st := NewIOStats()

	st.AddAccept()
	st.AddAccept()
	st.AddAccept()
	st.AddClose()
	st.AddRefused()
	st.AddRead(100)
	st.AddRead(50)
	st.AddWrite(200)

	s := st.Snapshot()
	if s.Accepted != 3 || s.Closed != 1 || s.Active != 2 {
		t.Errorf("Connection accounting off: %+v", s)
	}
	if s.Refused != 1 {
		t.Errorf("Expected 1 refused, got %d", s.Refused)
	}
	if s.ReadCalls != 2 || s.BytesRead != 150 {
		t.Errorf("Read accounting off: %d calls, %d bytes", s.ReadCalls, s.BytesRead)
	}
	if s.WriteCalls != 1 || s.BytesSent != 200 {
		t.Errorf("Write accounting off: %d calls, %d bytes", s.WriteCalls, s.BytesSent)
	}
}

func BenchmarkRecordRequest(b *testing.B) {
	pm := NewPerformanceMonitor()
	defer pm.Stop()
	duration := 10 * time.Millisecond

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pm.RecordRequest("/rest/", duration, false)
	}
}

func BenchmarkDispatched(b *testing.B) {
	pm := NewPerformanceMonitor()
	defer pm.Stop()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pm.Dispatched(OutcomeQueued)
	}
}
