package observability

import "sync/atomic"

// IOStats accounts the event loop's socket traffic. The loop feeds it
// from the accept, read and write paths; snapshots are safe from any
// goroutine.
type IOStats struct {
	accepted atomic.Uint64
	closed   atomic.Uint64
	refused  atomic.Uint64

	readCalls  atomic.Uint64
	writeCalls atomic.Uint64
	bytesRead  atomic.Uint64
	bytesSent  atomic.Uint64
}

// NewIOStats creates an empty accounting block.
func NewIOStats() *IOStats {
	return &IOStats{}
}

// AddAccept counts one accepted connection.
func (st *IOStats) AddAccept() { st.accepted.Add(1) }

// AddClose counts one closed connection.
func (st *IOStats) AddClose() { st.closed.Add(1) }

// AddRefused counts an accept turned away at the connection cap.
func (st *IOStats) AddRefused() { st.refused.Add(1) }

// AddRead counts one successful read of n bytes.
func (st *IOStats) AddRead(n int) {
	st.readCalls.Add(1)
	st.bytesRead.Add(uint64(n))
}

// AddWrite counts one successful write of n bytes.
func (st *IOStats) AddWrite(n int) {
	st.writeCalls.Add(1)
	st.bytesSent.Add(uint64(n))
}

// IOSnapshot is a point-in-time copy of the counters.
type IOSnapshot struct {
	Accepted   uint64 `json:"accepted"`
	Closed     uint64 `json:"closed"`
	Active     uint64 `json:"active"`
	Refused    uint64 `json:"refused"`
	ReadCalls  uint64 `json:"read_calls"`
	WriteCalls uint64 `json:"write_calls"`
	BytesRead  uint64 `json:"bytes_read"`
	BytesSent  uint64 `json:"bytes_sent"`
}

// Snapshot copies the counters. Active is derived, so a snapshot taken
// mid-close can be off by the connections in flight.
func (st *IOStats) Snapshot() IOSnapshot {
	s := IOSnapshot{
		Accepted:   st.accepted.Load(),
		Closed:     st.closed.Load(),
		Refused:    st.refused.Load(),
		ReadCalls:  st.readCalls.Load(),
		WriteCalls: st.writeCalls.Load(),
		BytesRead:  st.bytesRead.Load(),
		BytesSent:  st.bytesSent.Load(),
	}
	if s.Accepted > s.Closed {
		s.Active = s.Accepted - s.Closed
	}
	return s
}
