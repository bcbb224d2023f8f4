package pools

import (
	"sync"
	"sync/atomic"
)

// BytePool is a multi-tiered byte slice pool for different size classes.
// The server draws read and write buffers from it.
type BytePool struct {
	pools  []*sync.Pool
	sizes  []int
	gets   []atomic.Uint64
	puts   []atomic.Uint64
	misses atomic.Uint64
}

// Common buffer sizes for HTTP request and reply traffic
var defaultSizes = []int{
	512,   // Small requests/responses
	2048,  // Medium (most common)
	8192,  // Large
	32768, // Extra large
}

// NewBytePool creates a new byte pool with standard size tiers.
func NewBytePool() *BytePool {
	return NewBytePoolWithSizes(defaultSizes)
}

// NewBytePoolWithSizes creates a byte pool with custom size tiers,
// which must be sorted ascending.
func NewBytePoolWithSizes(sizes []int) *BytePool {
	bp := &BytePool{
		pools: make([]*sync.Pool, len(sizes)),
		sizes: sizes,
		gets:  make([]atomic.Uint64, len(sizes)),
		puts:  make([]atomic.Uint64, len(sizes)),
	}

	for i, size := range sizes {
		sz := size // Capture for closure
		bp.pools[i] = &sync.Pool{
			New: func() any {
				buf := make([]byte, sz)
				return &buf
			},
		}
	}

	return bp
}

// Get returns a byte slice of at least the requested size, with length
// set to the request.
func (bp *BytePool) Get(size int) []byte {
	for i, poolSize := range bp.sizes {
		if size <= poolSize {
			bp.gets[i].Add(1)
			bufPtr := bp.pools[i].Get().(*[]byte)
			buf := *bufPtr
			return buf[:size]
		}
	}

	// Too large for any tier, allocate directly
	bp.misses.Add(1)
	return make([]byte, size)
}

// Put returns a byte slice to its tier. Slices whose capacity matches
// no tier (oversize allocations, or appends that outgrew the tier) are
// left to the GC.
func (bp *BytePool) Put(buf []byte) {
	capacity := cap(buf)

	for i, poolSize := range bp.sizes {
		if capacity == poolSize {
			bp.puts[i].Add(1)
			buf = buf[:capacity]
			bp.pools[i].Put(&buf)
			return
		}
	}
}

// TierStats reports traffic through one size tier.
type TierStats struct {
	Size int    `json:"size"`
	Gets uint64 `json:"gets"`
	Puts uint64 `json:"puts"`
}

// Stats returns per-tier traffic and the count of oversize allocations
// that bypassed the pool.
func (bp *BytePool) Stats() (tiers []TierStats, misses uint64) {
	tiers = make([]TierStats, len(bp.sizes))
	for i, size := range bp.sizes {
		tiers[i] = TierStats{
			Size: size,
			Gets: bp.gets[i].Load(),
			Puts: bp.puts[i].Load(),
		}
	}
	return tiers, bp.misses.Load()
}
