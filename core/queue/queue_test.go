package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkQueue_RejectsWhenFull(t *testing.T) {
	q := New(2)
	pool := NewPool(q, 1)
	pool.Start()

	blockA := make(chan struct{})
	started := make(chan struct{})
	var ran atomic.Int64

	// A occupies the single worker
	if !q.Enqueue(TaskFunc(func() {
		close(started)
		<-blockA
		ran.Add(1)
	})) {
		t.Fatal("Enqueue A rejected on empty queue")
	}
	<-started

	// B and C fill the two slots
	if !q.Enqueue(TaskFunc(func() { ran.Add(1) })) {
		t.Fatal("Enqueue B rejected with queue depth 1")
	}
	if !q.Enqueue(TaskFunc(func() { ran.Add(1) })) {
		t.Fatal("Enqueue C rejected below capacity")
	}
	if got := q.Depth(); got != 2 {
		t.Fatalf("Expected depth 2, got %d", got)
	}

	// D must be rejected synchronously
	if q.Enqueue(TaskFunc(func() { ran.Add(1) })) {
		t.Fatal("Enqueue D accepted beyond capacity")
	}

	close(blockA)

	deadline := time.After(5 * time.Second)
	for ran.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("Expected 3 tasks executed, got %d", ran.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	q.Interrupt()
	pool.Join()

	stats := q.Stats()
	if stats.Enqueued != 3 || stats.Rejected != 1 || stats.Executed != 3 {
		t.Errorf("Expected enqueued=3 rejected=1 executed=3, got %+v", stats)
	}
	if discarded := q.Close(); discarded != 0 {
		t.Errorf("Expected 0 discarded, got %d", discarded)
	}
}

func TestWorkQueue_FIFOOrder(t *testing.T) {
	q := New(64)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 50; i++ {
		i := i
		if !q.Enqueue(TaskFunc(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})) {
			t.Fatalf("Enqueue %d rejected", i)
		}
	}

	// Single worker so execution order equals dequeue order
	pool := NewPool(q, 1)
	pool.Start()
	q.Drain()
	pool.Join()

	if len(order) != 50 {
		t.Fatalf("Expected 50 tasks executed, got %d", len(order))
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("Expected task %d at position %d, got %d", i, i, got)
		}
	}
}

func TestWorkQueue_InterruptDiscardsBacklog(t *testing.T) {
	q := New(16)
	pool := NewPool(q, 1)
	pool.Start()

	block := make(chan struct{})
	started := make(chan struct{})
	var ran atomic.Int64

	q.Enqueue(TaskFunc(func() {
		close(started)
		<-block
		ran.Add(1)
	}))
	<-started

	// Backlog that will never run
	for i := 0; i < 5; i++ {
		if !q.Enqueue(TaskFunc(func() { ran.Add(1) })) {
			t.Fatalf("Enqueue %d rejected", i)
		}
	}

	q.Interrupt()
	close(block)
	pool.Join()

	if got := ran.Load(); got != 1 {
		t.Errorf("Expected only the in-flight task to run, got %d", got)
	}
	if discarded := q.Close(); discarded != 5 {
		t.Errorf("Expected 5 discarded tasks, got %d", discarded)
	}
	if got := q.Depth(); got != 0 {
		t.Errorf("Expected depth 0 after Close, got %d", got)
	}
}

func TestWorkQueue_DrainRunsBacklog(t *testing.T) {
	q := New(32)

	var ran atomic.Int64
	for i := 0; i < 20; i++ {
		q.Enqueue(TaskFunc(func() { ran.Add(1) }))
	}

	pool := NewPool(q, 4)
	pool.Start()
	q.Drain()

	// Drain must reject new work
	if q.Enqueue(TaskFunc(func() { ran.Add(1) })) {
		t.Error("Enqueue accepted after Drain")
	}

	done := make(chan struct{})
	go func() {
		pool.Join()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Workers did not exit after draining")
	}

	if got := ran.Load(); got != 20 {
		t.Errorf("Expected 20 tasks executed, got %d", got)
	}
	if discarded := q.Close(); discarded != 0 {
		t.Errorf("Expected 0 discarded after drain, got %d", discarded)
	}
}

func TestWorkQueue_EnqueueAfterInterrupt(t *testing.T) {
	q := New(4)
	q.Interrupt()

	if q.Enqueue(TaskFunc(func() {})) {
		t.Error("Enqueue accepted after Interrupt")
	}
}

func TestWorkQueue_DepthClamped(t *testing.T) {
	q := New(0)
	if got := q.MaxDepth(); got != 1 {
		t.Errorf("Expected maxDepth clamped to 1, got %d", got)
	}

	pool := NewPool(q, -3)
	if got := pool.NumWorkers(); got != 1 {
		t.Errorf("Expected workers clamped to 1, got %d", got)
	}
}

func TestWorkQueue_ManyWorkersRunEverythingOnce(t *testing.T) {
	q := New(128)
	pool := NewPool(q, 8)
	pool.Start()

	var ran atomic.Int64
	accepted := 0
	for i := 0; i < 1000; i++ {
		if q.Enqueue(TaskFunc(func() { ran.Add(1) })) {
			accepted++
		}
	}

	deadline := time.After(5 * time.Second)
	for int(ran.Load()) < accepted {
		select {
		case <-deadline:
			t.Fatalf("Expected %d tasks executed, got %d", accepted, ran.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	q.Interrupt()
	pool.Join()

	if int(ran.Load()) != accepted {
		t.Errorf("Expected %d executions, got %d", accepted, ran.Load())
	}
}

func BenchmarkWorkQueue_Enqueue(b *testing.B) {
	q := New(4096)
	pool := NewPool(q, 8)
	pool.Start()
	defer func() {
		q.Interrupt()
		pool.Join()
		q.Close()
	}()

	var done atomic.Int64
	task := TaskFunc(func() { done.Add(1) })

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			for !q.Enqueue(task) {
				// Queue full, let the workers catch up
				time.Sleep(time.Microsecond)
			}
		}
	})
}
