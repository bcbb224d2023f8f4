package pools

import (
	"sync"
	"sync/atomic"
)

// ConnectionPool recycles connection state objects across accepts.
// Connections churn constantly on a busy listener; reusing the state
// object keeps its read buffer and header slices warm instead of
// feeding them to the collector.
type ConnectionPool struct {
	pool   sync.Pool
	gets   atomic.Uint64
	puts   atomic.Uint64
	misses atomic.Uint64
}

// ConnectionPoolable is implemented by objects the pool may hand out
// again. Reset runs on Put, before the object becomes visible to the
// next Get.
type ConnectionPoolable interface {
	Reset()
	SetFD(fd int)
}

// NewConnectionPool creates a pool backed by newFunc for cold starts.
func NewConnectionPool(newFunc func() any) *ConnectionPool {
	cp := &ConnectionPool{}
	cp.pool.New = func() any {
		cp.misses.Add(1)
		return newFunc()
	}
	return cp
}

// Get retrieves a connection object, reusing a recycled one when
// available.
func (cp *ConnectionPool) Get() any {
	cp.gets.Add(1)
	return cp.pool.Get()
}

// Put resets the object and makes it available for reuse.
func (cp *ConnectionPool) Put(obj any) {
	if poolable, ok := obj.(ConnectionPoolable); ok {
		poolable.Reset()
	}
	cp.puts.Add(1)
	cp.pool.Put(obj)
}

// Stats returns pool counters. hitRate is the share of Gets served
// without a fresh allocation.
func (cp *ConnectionPool) Stats() (gets, puts uint64, hitRate float64) {
	g := cp.gets.Load()
	p := cp.puts.Load()

	if g > 0 {
		hitRate = float64(g-cp.misses.Load()) / float64(g)
	}

	return g, p, hitRate
}
