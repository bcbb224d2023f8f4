package core

import (
	"errors"
	"time"
)

// Defaults applied by Options.withDefaults. Worker count and queue
// depth are deliberately small: the queue is a shock absorber, not a
// buffer, and rejecting early beats queueing deep.
const (
	DefaultAddr           = "127.0.0.1:9332"
	DefaultWorkers        = 4
	DefaultQueueDepth     = 16
	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxBodySize    = 32 << 20
	DefaultMaxConnections = 100000
)

const (
	// pollInterval is the poll wait bound in milliseconds. Replies and
	// deferred calls arrive by wakeup, so this only paces the idle
	// sweep.
	pollInterval = 100

	// sweepInterval is how often idle connections are checked.
	sweepInterval = time.Second

	// readBufSize is the initial per-connection read buffer tier.
	readBufSize = 2048

	// respBufHeadroom covers the status line and headers when sizing
	// a response buffer.
	respBufHeadroom = 256
)

var ErrAlreadyStarted = errors.New("core: server already started")
