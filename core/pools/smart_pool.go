package pools

import (
	"sync"
	"sync/atomic"
	"time"
)

// SmartPool wraps sync.Pool with warmup, reset-on-return and hit-rate
// tracking. The server uses one for reply tickets, where the working
// set tracks queue depth and a cold pool shows up directly as allocation
// churn on the dispatch path.
type SmartPool struct {
	pool      sync.Pool
	newFunc   func() any
	resetFunc func(any)

	gets      atomic.Uint64
	puts      atomic.Uint64
	misses    atomic.Uint64
	startTime time.Time

	warmupSize    int
	targetHitRate float64
}

// SmartPoolConfig configures a smart pool.
type SmartPoolConfig struct {
	New func() any
	// Reset runs on every Put, before the object can be handed out
	// again.
	Reset func(any)
	// WarmupSize is how many objects to pre-allocate at construction.
	WarmupSize int
	// TargetHitRate is the hit rate Optimize tries to hold (0.0-1.0).
	TargetHitRate float64
}

// NewSmartPool creates a warmed-up pool.
func NewSmartPool(config SmartPoolConfig) *SmartPool {
	if config.WarmupSize == 0 {
		config.WarmupSize = 100
	}
	if config.TargetHitRate == 0 {
		config.TargetHitRate = 0.90
	}

	sp := &SmartPool{
		newFunc:       config.New,
		resetFunc:     config.Reset,
		warmupSize:    config.WarmupSize,
		targetHitRate: config.TargetHitRate,
		startTime:     time.Now(),
	}

	sp.pool.New = func() any {
		sp.misses.Add(1)
		return config.New()
	}

	sp.Warmup()

	return sp
}

// Get acquires an object from the pool.
func (sp *SmartPool) Get() any {
	sp.gets.Add(1)
	return sp.pool.Get()
}

// Put resets an object and returns it to the pool. nil is ignored.
func (sp *SmartPool) Put(obj any) {
	if obj == nil {
		return
	}

	sp.puts.Add(1)

	if sp.resetFunc != nil {
		sp.resetFunc(obj)
	}

	sp.pool.Put(obj)
}

// Warmup pre-allocates warmupSize objects.
func (sp *SmartPool) Warmup() {
	for i := 0; i < sp.warmupSize; i++ {
		sp.pool.Put(sp.newFunc())
	}
}

// SmartPoolStats is a snapshot of pool counters.
type SmartPoolStats struct {
	Gets      uint64
	Puts      uint64
	Misses    uint64
	HitRate   float64
	ReuseRate float64
	Uptime    time.Duration
}

// Stats returns current counters. HitRate is the share of Gets served
// without a fresh allocation; ReuseRate is how many handed-out objects
// actually came back.
func (sp *SmartPool) Stats() SmartPoolStats {
	gets := sp.gets.Load()
	puts := sp.puts.Load()
	misses := sp.misses.Load()

	var hitRate, reuseRate float64
	if gets > 0 {
		if hits := gets - misses; hits > 0 {
			hitRate = float64(hits) / float64(gets)
		}
		reuseRate = float64(puts) / float64(gets)
	}

	return SmartPoolStats{
		Gets:      gets,
		Puts:      puts,
		Misses:    misses,
		HitRate:   hitRate,
		ReuseRate: reuseRate,
		Uptime:    time.Since(sp.startTime),
	}
}

// Optimize tops the pool up when the hit rate runs under target. Only
// acts once real traffic has accumulated, so early misses during
// warmup do not trigger it.
func (sp *SmartPool) Optimize() {
	stats := sp.Stats()

	if stats.HitRate < sp.targetHitRate && stats.Gets > 1000 {
		for i := 0; i < sp.warmupSize/10; i++ {
			sp.pool.Put(sp.newFunc())
		}
	}
}

// StartAutoOptimize re-optimizes every interval until the returned
// stop function is called. The stop function is idempotent.
func (sp *SmartPool) StartAutoOptimize(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				sp.Optimize()
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
	}
}
