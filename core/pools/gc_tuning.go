package pools

import (
	"runtime"
	"runtime/debug"
	"time"
)

// ballast is retained for the life of the process so the heap target
// stays above the churn of short-lived request state. See Ballast.
var ballast []byte

// GCConfig holds collector tuning. The request path recycles most of
// its allocations through pools, so what remains is small and
// short-lived; trading a higher heap target for fewer collection
// cycles is usually the right call on a loaded server.
type GCConfig struct {
	// GOGC sets the collection target percentage. 0 leaves the
	// runtime default in place.
	GOGC int

	// MemoryLimit sets a soft memory limit in bytes. 0 means no limit.
	MemoryLimit int64

	// Ballast is a byte slice kept alive to raise the effective heap
	// floor, which spaces collections out during warmup.
	Ballast int64
}

// DefaultGCConfig returns the tuning applied to a serving process.
func DefaultGCConfig() GCConfig {
	return GCConfig{
		GOGC:        200,
		MemoryLimit: 0,
		Ballast:     50 << 20,
	}
}

// ApplyGCConfig applies cfg to the runtime.
func ApplyGCConfig(cfg GCConfig) {
	if cfg.GOGC > 0 {
		debug.SetGCPercent(cfg.GOGC)
	}

	if cfg.MemoryLimit > 0 {
		debug.SetMemoryLimit(cfg.MemoryLimit)
	}

	if cfg.Ballast > 0 {
		ballast = make([]byte, cfg.Ballast)
	}
}

// GCStats is a snapshot of collector activity, published with the rest
// of the server telemetry.
type GCStats struct {
	NumGC        uint32
	PauseTotal   time.Duration
	LastPause    time.Duration
	AvgPause     time.Duration
	AllocBytes   uint64
	TotalAlloc   uint64
	Sys          uint64
	NumGoroutine int
}

// GetGCStats reads current collector statistics.
func GetGCStats() GCStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := GCStats{
		NumGC:        ms.NumGC,
		PauseTotal:   time.Duration(ms.PauseTotalNs),
		AllocBytes:   ms.Alloc,
		TotalAlloc:   ms.TotalAlloc,
		Sys:          ms.Sys,
		NumGoroutine: runtime.NumGoroutine(),
	}

	if ms.NumGC > 0 {
		stats.LastPause = time.Duration(ms.PauseNs[(ms.NumGC+255)%256])
		stats.AvgPause = time.Duration(ms.PauseTotalNs / uint64(ms.NumGC))
	}

	return stats
}

// OptimizeForHighThroughput spaces collections far apart. Meant for
// production serving, where the pools absorb per-request churn.
func OptimizeForHighThroughput() {
	ApplyGCConfig(GCConfig{
		GOGC:    300,
		Ballast: 100 << 20,
	})
}

// OptimizeForLowLatency keeps pauses short at the cost of more
// frequent collections.
func OptimizeForLowLatency() {
	ApplyGCConfig(GCConfig{
		GOGC:    150,
		Ballast: 30 << 20,
	})
}
