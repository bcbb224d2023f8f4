package observability

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Outcome classifies what the dispatcher did with a request.
type Outcome uint8

const (
	// OutcomeQueued: matched a handler and entered the work queue.
	OutcomeQueued Outcome = iota
	// OutcomeForbidden: peer not on the allow list.
	OutcomeForbidden
	// OutcomeBadMethod: method outside the recognized set.
	OutcomeBadMethod
	// OutcomeNotFound: no registered handler matched.
	OutcomeNotFound
	// OutcomeOverloaded: the work queue was full.
	OutcomeOverloaded
	// OutcomeOrphaned: the reply came back after its connection died.
	OutcomeOrphaned

	outcomeCount
)

// PerformanceMonitor counts dispatch outcomes and per-route latency
// with atomics only; recording a request takes no locks.
type PerformanceMonitor struct {
	enabled  atomic.Bool
	routes   sync.Map
	dispatch [outcomeCount]atomic.Uint64
	global   struct {
		totalRequests atomic.Uint64
		totalDuration atomic.Uint64
	}
	bottlenecks  []Bottleneck
	bottleneckMu sync.RWMutex
	stop         chan struct{}
	stopOnce     sync.Once
}

// RouteMetrics stores per-route metrics.
type RouteMetrics struct {
	Route          string
	Count          atomic.Uint64
	Errors         atomic.Uint64
	TotalDuration  atomic.Uint64
	MinDuration    atomic.Uint64
	MaxDuration    atomic.Uint64
	latencyBuckets [10]atomic.Uint64
}

// Bottleneck represents a detected performance issue.
type Bottleneck struct {
	Type       string    `json:"type"`
	Location   string    `json:"location"`
	Severity   int       `json:"severity"`
	Impact     float64   `json:"impact"`
	DetectedAt time.Time `json:"detected_at"`
	Details    string    `json:"details"`
}

// NewPerformanceMonitor creates a monitor and starts its background
// analyzer. Stop it during teardown.
func NewPerformanceMonitor() *PerformanceMonitor {
	pm := &PerformanceMonitor{stop: make(chan struct{})}
	pm.enabled.Store(true)
	go pm.analyzeBottlenecks()
	return pm
}

// Stop halts the background analyzer and disables recording.
func (pm *PerformanceMonitor) Stop() {
	pm.stopOnce.Do(func() {
		pm.enabled.Store(false)
		close(pm.stop)
	})
}

// SetEnabled toggles recording without touching the analyzer.
func (pm *PerformanceMonitor) SetEnabled(v bool) {
	pm.enabled.Store(v)
}

// Dispatched counts one dispatch outcome.
func (pm *PerformanceMonitor) Dispatched(o Outcome) {
	if !pm.enabled.Load() || o >= outcomeCount {
		return
	}
	pm.dispatch[o].Add(1)
}

// RecordRequest records one completed request against its route.
func (pm *PerformanceMonitor) RecordRequest(route string, duration time.Duration, isError bool) {
	if !pm.enabled.Load() {
		return
	}

	val, _ := pm.routes.LoadOrStore(route, &RouteMetrics{Route: route})
	metrics := val.(*RouteMetrics)

	metrics.Count.Add(1)
	if isError {
		metrics.Errors.Add(1)
	}

	durationNs := uint64(duration.Nanoseconds())
	metrics.TotalDuration.Add(durationNs)
	pm.updateMinMax(metrics, durationNs)
	pm.updateLatencyBucket(metrics, durationNs)

	pm.global.totalRequests.Add(1)
	pm.global.totalDuration.Add(durationNs)
}

func (pm *PerformanceMonitor) updateMinMax(m *RouteMetrics, d uint64) {
	for {
		min := m.MinDuration.Load()
		if min == 0 || d < min {
			if m.MinDuration.CompareAndSwap(min, d) {
				break
			}
		} else {
			break
		}
	}
	for {
		max := m.MaxDuration.Load()
		if d > max {
			if m.MaxDuration.CompareAndSwap(max, d) {
				break
			}
		} else {
			break
		}
	}
}

func (pm *PerformanceMonitor) updateLatencyBucket(m *RouteMetrics, durationNs uint64) {
	ms := durationNs / 1_000_000
	idx := 0
	switch {
	case ms < 1:
		idx = 0
	case ms < 5:
		idx = 1
	case ms < 10:
		idx = 2
	case ms < 50:
		idx = 3
	case ms < 100:
		idx = 4
	case ms < 500:
		idx = 5
	case ms < 1000:
		idx = 6
	case ms < 5000:
		idx = 7
	case ms < 10000:
		idx = 8
	default:
		idx = 9
	}
	m.latencyBuckets[idx].Add(1)
}

// BucketLabels names the latency histogram buckets, in order.
var BucketLabels = [10]string{
	"<1ms", "<5ms", "<10ms", "<50ms", "<100ms",
	"<500ms", "<1s", "<5s", "<10s", ">=10s",
}

// DispatchStats is a snapshot of dispatch outcomes and per-route
// latency.
type DispatchStats struct {
	Queued     uint64       `json:"queued"`
	Forbidden  uint64       `json:"forbidden"`
	BadMethod  uint64       `json:"bad_method"`
	NotFound   uint64       `json:"not_found"`
	Overloaded uint64       `json:"overloaded"`
	Orphaned   uint64       `json:"orphaned"`
	Routes     []RouteStats `json:"routes"`
}

// RouteStats is the exported form of one route's metrics.
type RouteStats struct {
	Route      string     `json:"route"`
	Count      uint64     `json:"count"`
	Errors     uint64     `json:"errors"`
	AvgLatency uint64     `json:"avg_latency_ns"`
	MinLatency uint64     `json:"min_latency_ns"`
	MaxLatency uint64     `json:"max_latency_ns"`
	Buckets    [10]uint64 `json:"latency_buckets"`
}

// Snapshot returns current counters, routes sorted by name.
func (pm *PerformanceMonitor) Snapshot() DispatchStats {
	st := DispatchStats{
		Queued:     pm.dispatch[OutcomeQueued].Load(),
		Forbidden:  pm.dispatch[OutcomeForbidden].Load(),
		BadMethod:  pm.dispatch[OutcomeBadMethod].Load(),
		NotFound:   pm.dispatch[OutcomeNotFound].Load(),
		Overloaded: pm.dispatch[OutcomeOverloaded].Load(),
		Orphaned:   pm.dispatch[OutcomeOrphaned].Load(),
	}
	pm.routes.Range(func(key, value any) bool {
		m := value.(*RouteMetrics)
		count := m.Count.Load()
		rs := RouteStats{
			Route:      m.Route,
			Count:      count,
			Errors:     m.Errors.Load(),
			MinLatency: m.MinDuration.Load(),
			MaxLatency: m.MaxDuration.Load(),
		}
		if count > 0 {
			rs.AvgLatency = m.TotalDuration.Load() / count
		}
		for i := range m.latencyBuckets {
			rs.Buckets[i] = m.latencyBuckets[i].Load()
		}
		st.Routes = append(st.Routes, rs)
		return true
	})
	sort.Slice(st.Routes, func(i, j int) bool {
		return st.Routes[i].Route < st.Routes[j].Route
	})
	return st
}

func (pm *PerformanceMonitor) analyzeBottlenecks() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-pm.stop:
			return
		case <-ticker.C:
		}
		if !pm.enabled.Load() {
			continue
		}
		bottlenecks := pm.detectBottlenecks()
		pm.bottleneckMu.Lock()
		pm.bottlenecks = bottlenecks
		pm.bottleneckMu.Unlock()
	}
}

func (pm *PerformanceMonitor) detectBottlenecks() []Bottleneck {
	bottlenecks := make([]Bottleneck, 0)

	pm.routes.Range(func(key, value any) bool {
		m := value.(*RouteMetrics)
		count := m.Count.Load()
		if count == 0 {
			return true
		}

		avgDuration := time.Duration(m.TotalDuration.Load() / count)

		// High latency
		if avgDuration > 100*time.Millisecond {
			bottlenecks = append(bottlenecks, Bottleneck{
				Type:       "latency",
				Location:   m.Route,
				Severity:   8,
				Impact:     100.0,
				DetectedAt: time.Now(),
				Details:    fmt.Sprintf("High latency (%v avg)", avgDuration),
			})
		}

		// High error rate
		errors := m.Errors.Load()
		if errors > 0 && float64(errors)/float64(count) > 0.05 {
			bottlenecks = append(bottlenecks, Bottleneck{
				Type:       "errors",
				Location:   m.Route,
				Severity:   10,
				Impact:     float64(errors) / float64(count) * 100,
				DetectedAt: time.Now(),
				Details:    fmt.Sprintf("%.1f%% error rate", float64(errors)/float64(count)*100),
			})
		}

		return true
	})

	return bottlenecks
}

// GetBottlenecks returns the issues found by the last analyzer pass.
func (pm *PerformanceMonitor) GetBottlenecks() []Bottleneck {
	pm.bottleneckMu.RLock()
	defer pm.bottleneckMu.RUnlock()
	return append([]Bottleneck{}, pm.bottlenecks...)
}

// StartTrace starts timing a unit of work.
func (pm *PerformanceMonitor) StartTrace() int64 {
	if !pm.enabled.Load() {
		return 0
	}
	return time.Now().UnixNano()
}

// EndTrace ends timing and records against route.
func (pm *PerformanceMonitor) EndTrace(route string, startTime int64, isError bool) {
	if startTime == 0 {
		return
	}
	duration := time.Duration(time.Now().UnixNano() - startTime)
	pm.RecordRequest(route, duration, isError)
}
