package core

import (
	"net/netip"
	"time"
)

// ConnState tracks where a connection is in its lifecycle. The loop
// goroutine owns every transition.
type ConnState uint8

const (
	// StateReading: watching the socket for request bytes.
	StateReading ConnState = iota
	// StateProcessing: a parsed request is with the work queue. The
	// descriptor is unwatched until the reply comes back.
	StateProcessing
	// StateWriting: a reply is partially flushed, watching for
	// writability.
	StateWriting
	// StateKeepalive: between requests on a persistent connection.
	StateKeepalive
)

// Poll registration modes for a connection's descriptor.
const (
	watchNone uint8 = iota
	watchRead
	watchWrite
)

// Connection is the loop-side state of one accepted socket. Only the
// loop goroutine touches it; workers reach a connection again solely
// through the completion queue, and only if its generation still
// matches.
type Connection struct {
	fd    int
	state ConnState
	watch uint8

	peer netip.AddrPort

	readBuf    []byte
	readOffset int

	writeBuf    []byte
	writeOffset int
	closeAfter  bool

	lastActive time.Time

	// gen invalidates in-flight replies when the socket dies. Bumped
	// on close and preserved across pool reuse: a recycled Connection
	// must never match a ticket minted for its previous life.
	gen uint64
}

// Reset prepares the connection for pool reuse. gen deliberately
// survives.
func (c *Connection) Reset() {
	c.fd = -1
	c.state = StateReading
	c.watch = watchNone
	c.peer = netip.AddrPort{}
	c.readBuf = nil
	c.readOffset = 0
	c.writeBuf = nil
	c.writeOffset = 0
	c.closeAfter = false
	c.lastActive = time.Time{}
}

// SetFD binds the connection to a freshly accepted descriptor.
func (c *Connection) SetFD(fd int) {
	c.fd = fd
	c.state = StateReading
	c.watch = watchNone
	c.lastActive = time.Now()
}
