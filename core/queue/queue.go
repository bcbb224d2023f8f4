package queue

import (
	"sync"
	"sync/atomic"
)

// Task is a single unit of work. The queue calls Execute at most once;
// tasks still queued when the queue is closed are discarded unexecuted.
type Task interface {
	Execute()
}

// TaskFunc adapts a plain function to the Task interface.
type TaskFunc func()

// Execute runs the function.
func (f TaskFunc) Execute() { f() }

// WorkQueue is a fixed-capacity FIFO queue feeding a set of worker
// goroutines. Producers never block: Enqueue rejects synchronously when
// the queue is full. Consumers block on a condition variable and execute
// tasks outside the lock, so a slow task never stalls the queue itself.
type WorkQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	ring     []Task
	head     int
	count    int
	maxDepth int

	running  bool
	draining bool

	// Statistics
	stats struct {
		enqueued atomic.Uint64
		rejected atomic.Uint64
		executed atomic.Uint64
	}
}

// New creates a work queue holding at most maxDepth pending tasks.
func New(maxDepth int) *WorkQueue {
	if maxDepth < 1 {
		maxDepth = 1
	}

	q := &WorkQueue{
		ring:     make([]Task, maxDepth),
		maxDepth: maxDepth,
		running:  true,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends a task and wakes one worker. It returns false without
// blocking when the queue is full or no longer accepting work; the caller
// keeps ownership of a rejected task and must fail it upstream.
func (q *WorkQueue) Enqueue(t Task) bool {
	q.mu.Lock()
	if !q.running || q.draining || q.count == q.maxDepth {
		q.mu.Unlock()
		q.stats.rejected.Add(1)
		return false
	}

	q.ring[(q.head+q.count)%q.maxDepth] = t
	q.count++
	q.mu.Unlock()

	q.stats.enqueued.Add(1)
	q.cond.Signal()
	return true
}

// Run consumes tasks until the queue is interrupted, or drained and empty.
// Each worker goroutine calls Run once; it returns only on shutdown.
func (q *WorkQueue) Run() {
	for {
		q.mu.Lock()
		for q.running && !q.draining && q.count == 0 {
			q.cond.Wait()
		}
		if !q.running || (q.draining && q.count == 0) {
			q.mu.Unlock()
			return
		}

		t := q.ring[q.head]
		q.ring[q.head] = nil
		q.head = (q.head + 1) % q.maxDepth
		q.count--
		q.mu.Unlock()

		t.Execute()
		q.stats.executed.Add(1)
	}
}

// Interrupt stops the queue immediately: workers return as soon as they
// finish their current task, leaving any backlog in place for Close to
// discard. It does not wait for the workers.
func (q *WorkQueue) Interrupt() {
	q.mu.Lock()
	q.running = false
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Drain stops intake but lets the workers finish the backlog. Workers
// return once the queue is empty.
func (q *WorkQueue) Drain() {
	q.mu.Lock()
	q.draining = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Close discards any tasks that never ran and returns how many there
// were. Precondition: the workers have returned from Run (join them
// first); tasks discarded here are dropped without being executed.
func (q *WorkQueue) Close() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.running = false
	discarded := q.count
	for i := 0; i < q.count; i++ {
		q.ring[(q.head+i)%q.maxDepth] = nil
	}
	q.head = 0
	q.count = 0
	return discarded
}

// Depth returns the number of tasks currently waiting.
func (q *WorkQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// MaxDepth returns the queue capacity.
func (q *WorkQueue) MaxDepth() int {
	return q.maxDepth
}

// Stats returns queue counters.
func (q *WorkQueue) Stats() QueueStats {
	return QueueStats{
		Enqueued: q.stats.enqueued.Load(),
		Rejected: q.stats.rejected.Load(),
		Executed: q.stats.executed.Load(),
		Depth:    q.Depth(),
		MaxDepth: q.maxDepth,
	}
}

// QueueStats contains queue counters.
type QueueStats struct {
	Enqueued uint64
	Rejected uint64
	Executed uint64
	Depth    int
	MaxDepth int
}
