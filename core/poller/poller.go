package poller

// Event is one readiness notification from Wait.
type Event struct {
	FD       int
	Readable bool
	Writable bool
}

// Poller is the I/O multiplexing interface. Wakeup is the one method
// safe to call from goroutines other than the one calling Wait; it
// forces a concurrent Wait to return with woken set, which is how
// worker goroutines hand completed replies back to the loop.
type Poller interface {
	// Add watches fd for read readiness.
	Add(fd int) error
	// Modify toggles write-readiness interest for an fd already added.
	Modify(fd int, writable bool) error
	// Remove stops watching fd.
	Remove(fd int) error
	// Wait blocks up to timeout milliseconds (-1 blocks indefinitely).
	Wait(timeout int) (events []Event, woken bool, err error)
	// Wakeup makes a concurrent Wait return.
	Wakeup() error
	Close() error
}
