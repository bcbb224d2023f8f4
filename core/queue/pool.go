package queue

import (
	"sync"
	"sync/atomic"
)

// Pool runs a fixed set of worker goroutines, all draining the same
// WorkQueue. Workers are symmetric: any worker may execute any task.
type Pool struct {
	queue      *WorkQueue
	numWorkers int
	wg         sync.WaitGroup
	started    atomic.Bool
}

// NewPool creates a pool of numWorkers workers for q. The count is
// clamped to at least one so the queue always has a consumer.
func NewPool(q *WorkQueue, numWorkers int) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Pool{
		queue:      q,
		numWorkers: numWorkers,
	}
}

// Start launches the workers. Calling Start twice is a no-op.
func (p *Pool) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.queue.Run()
		}()
	}
}

// Join blocks until every worker has returned. Interrupt or Drain the
// queue first, otherwise Join never returns.
func (p *Pool) Join() {
	p.wg.Wait()
}

// NumWorkers returns the configured worker count.
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}
