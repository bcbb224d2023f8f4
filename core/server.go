// Package core implements the request dispatch subsystem: an event
// loop frontend, an ordered path-handler table and a fixed pool of
// workers draining a bounded queue.
//
// Threading model: one goroutine runs the event loop and is the only
// one touching sockets and Connection state. Workers execute handlers
// and hand replies back through Defer; they never write to a
// connection. Register, Interrupt and Stats are safe from any
// goroutine.
package core

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/searchktools/rpc-server/core/acl"
	"github.com/searchktools/rpc-server/core/http"
	"github.com/searchktools/rpc-server/core/observability"
	"github.com/searchktools/rpc-server/core/poller"
	"github.com/searchktools/rpc-server/core/pools"
	"github.com/searchktools/rpc-server/core/queue"
	"github.com/searchktools/rpc-server/core/router"
)

// Options configures a Server. The zero value works: every field falls
// back to its default.
type Options struct {
	// Addr is the TCP listen address.
	Addr string
	// Workers is the number of goroutines draining the work queue.
	Workers int
	// QueueDepth bounds how many requests may wait for a worker.
	// Requests past the bound are answered 500 on the spot.
	QueueDepth int
	// RequestTimeout is how long an idle or half-sent connection may
	// sit before the sweep closes it. Requests already with a worker
	// are never timed out.
	RequestTimeout time.Duration
	// MaxBodySize caps the declared request body.
	MaxBodySize int
	// MaxConnections caps concurrently open sockets.
	MaxConnections int
	// AllowList decides which peers may talk to us. nil means
	// loopback only.
	AllowList *acl.AllowList
	// Verbose turns on per-connection logging.
	Verbose bool
}

func (o Options) withDefaults() Options {
	if o.Addr == "" {
		o.Addr = DefaultAddr
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = DefaultQueueDepth
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.MaxBodySize <= 0 {
		o.MaxBodySize = DefaultMaxBodySize
	}
	if o.MaxConnections <= 0 {
		o.MaxConnections = DefaultMaxConnections
	}
	if o.AllowList == nil {
		o.AllowList = acl.New()
	}
	return o
}

// Server owns the event loop, the handler table and the work queue.
type Server struct {
	opts Options

	table   *router.Table
	queue   *queue.WorkQueue
	workers *queue.Pool
	allow   *acl.AllowList

	poll      poller.Poller
	lnFile    *os.File
	lfd       int
	boundAddr net.Addr

	// conns and lastSweep belong to the loop goroutine; after the
	// loop exits, ownership passes to Stop.
	conns     map[int]*Connection
	lastSweep time.Time

	completions struct {
		mu  sync.Mutex
		fns []func()
	}

	connPool      *pools.ConnectionPool
	ticketPool    *pools.SmartPool
	ticketOptStop func()
	bytePool      *pools.BytePool

	monitor *observability.PerformanceMonitor
	iostats *observability.IOStats

	running  atomic.Bool
	started  atomic.Bool
	stopped  atomic.Bool
	loopDone chan struct{}
}

// New builds a Server from opts. Call Start to bind and serve.
func New(opts Options) *Server {
	opts = opts.withDefaults()
	s := &Server{
		opts:     opts,
		table:    router.NewTable(),
		allow:    opts.AllowList,
		conns:    make(map[int]*Connection),
		loopDone: make(chan struct{}),
	}
	s.queue = queue.New(opts.QueueDepth)
	s.workers = queue.NewPool(s.queue, opts.Workers)
	s.connPool = pools.NewConnectionPool(func() any {
		return &Connection{fd: -1}
	})
	s.ticketPool = pools.NewSmartPool(pools.SmartPoolConfig{
		New:   func() any { return new(replyTicket) },
		Reset: func(v any) { v.(*replyTicket).reset() },
		// One ticket per queued request is the steady state.
		WarmupSize: opts.QueueDepth * 2,
	})
	s.bytePool = pools.NewBytePool()
	s.monitor = observability.NewPerformanceMonitor()
	s.iostats = observability.NewIOStats()
	return s
}

// Register adds a handler for prefix. Handlers are consulted in
// registration order: register exact paths before the prefixes that
// cover them.
func (s *Server) Register(prefix string, exactMatch bool, h router.Handler) {
	s.table.Register(prefix, exactMatch, h)
}

// Unregister removes the first handler registered for exactly this
// prefix and match mode.
func (s *Server) Unregister(prefix string, exactMatch bool) bool {
	return s.table.Unregister(prefix, exactMatch)
}

// Start binds the listener, warms the pools and launches the workers
// and the event loop. It returns once the server is accepting.
func (s *Server) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	laddr, err := net.ResolveTCPAddr("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", s.opts.Addr, err)
	}
	ln, err := net.ListenTCP("tcp", laddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	s.boundAddr = ln.Addr()

	// Dup the descriptor out of the runtime's netpoller; the loop
	// owns it from here.
	f, err := ln.File()
	ln.Close()
	if err != nil {
		return fmt.Errorf("detach listener: %w", err)
	}
	s.lnFile = f
	s.lfd = int(f.Fd())
	if err := syscall.SetNonblock(s.lfd, true); err != nil {
		f.Close()
		return fmt.Errorf("set listener non-blocking: %w", err)
	}

	p, err := poller.NewPoller()
	if err != nil {
		f.Close()
		return fmt.Errorf("create poller: %w", err)
	}
	if err := p.Add(s.lfd); err != nil {
		p.Close()
		f.Close()
		return fmt.Errorf("watch listener: %w", err)
	}
	s.poll = p

	s.ticketOptStop = s.ticketPool.StartAutoOptimize(30 * time.Second)

	log.Printf("Creating work queue of depth %d", s.opts.QueueDepth)
	log.Printf("Starting %d worker threads", s.opts.Workers)
	s.workers.Start()

	s.running.Store(true)
	s.lastSweep = time.Now()
	go s.loop()

	log.Printf("🚀 Server listening on %s", s.boundAddr)
	log.Printf("Allowing HTTP connections from: %s", s.allow)
	return nil
}

// Addr returns the bound listen address, or nil before Start. Useful
// with Addr ":0".
func (s *Server) Addr() net.Addr { return s.boundAddr }

// Interrupt begins shutdown: the queue rejects new work and wakes the
// workers, the loop exits after its current pass. Safe from any
// goroutine, including handlers. Call Stop to finish teardown.
func (s *Server) Interrupt() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	log.Printf("Interrupting HTTP server")
	s.queue.Interrupt()
	if p := s.poll; p != nil {
		p.Wakeup()
	}
}

// Stop completes shutdown: waits for the loop, joins the workers,
// discards whatever the queue still held and closes every socket.
// Queued but unstarted requests are dropped without replies; their
// clients see the connection close.
func (s *Server) Stop() {
	if !s.started.Load() || !s.stopped.CompareAndSwap(false, true) {
		return
	}
	log.Printf("Stopping HTTP server")
	s.Interrupt()
	<-s.loopDone
	s.workers.Join()
	if n := s.queue.Close(); n > 0 {
		log.Printf("Discarded %d queued requests during shutdown", n)
	}

	// The loop is gone; teardown owns the connections now. Replies
	// already handed back get a best-effort flush before the close.
	s.runCompletions()
	remaining := make([]*Connection, 0, len(s.conns))
	for _, conn := range s.conns {
		remaining = append(remaining, conn)
	}
	for _, conn := range remaining {
		s.closeConn(conn)
	}

	s.monitor.Stop()
	if s.ticketOptStop != nil {
		s.ticketOptStop()
	}
	if s.poll != nil {
		s.poll.Close()
	}
	if s.lnFile != nil {
		s.lnFile.Close()
	}
	log.Printf("Stopped HTTP server")
}

// Defer schedules fn on the loop goroutine. It never blocks and is
// safe from any goroutine; workers use it to hand replies back.
func (s *Server) Defer(fn func()) {
	s.completions.mu.Lock()
	s.completions.fns = append(s.completions.fns, fn)
	s.completions.mu.Unlock()
	if p := s.poll; p != nil {
		// Wakeup errors are deliberately ignored: after Close the
		// final drain in Stop collects the completion anyway.
		p.Wakeup()
	}
}

// DeferAfter runs fn on the loop goroutine after d. Stopping the
// returned timer cancels the callback if it has not fired.
func (s *Server) DeferAfter(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { s.Defer(fn) })
}

// Stats is a point-in-time snapshot of server counters.
type Stats struct {
	Queue      queue.QueueStats
	QueueDepth int
	Dispatch   observability.DispatchStats
	IO         observability.IOSnapshot
}

// Stats returns current counters. Safe from any goroutine.
func (s *Server) Stats() Stats {
	return Stats{
		Queue:      s.queue.Stats(),
		QueueDepth: s.queue.Depth(),
		Dispatch:   s.monitor.Snapshot(),
		IO:         s.iostats.Snapshot(),
	}
}

func (s *Server) loop() {
	defer close(s.loopDone)
	for s.running.Load() {
		events, _, err := s.poll.Wait(pollInterval)
		if err != nil {
			if s.running.Load() {
				log.Printf("Poll error: %v", err)
			}
			continue
		}
		for _, ev := range events {
			if ev.FD == s.lfd {
				s.accept()
				continue
			}
			s.handleEvent(ev)
		}
		s.runCompletions()
		if now := time.Now(); now.Sub(s.lastSweep) >= sweepInterval {
			s.sweepIdle(now)
			s.lastSweep = now
		}
	}
}

// runCompletions drains the completion queue until it stays empty, so
// a completion that posts another (a pipelined error reply, say) still
// runs this pass.
func (s *Server) runCompletions() {
	for {
		s.completions.mu.Lock()
		fns := s.completions.fns
		s.completions.fns = nil
		s.completions.mu.Unlock()
		if len(fns) == 0 {
			return
		}
		for _, fn := range fns {
			fn()
		}
	}
}

func (s *Server) handleEvent(ev poller.Event) {
	conn, ok := s.conns[ev.FD]
	if !ok {
		return
	}
	switch conn.state {
	case StateReading, StateKeepalive:
		if ev.Readable {
			s.readConn(conn)
		}
	case StateWriting:
		s.flushConn(conn)
	case StateProcessing:
		// Unwatched while a worker holds the request; a stale event
		// from the same batch is ignored.
	}
}

func (s *Server) accept() {
	for {
		nfd, sa, err := syscall.Accept(s.lfd)
		if err != nil {
			switch err {
			case syscall.EAGAIN:
				return
			case syscall.EINTR, syscall.ECONNABORTED:
				continue
			}
			if s.running.Load() {
				log.Printf("Accept error: %v", err)
			}
			return
		}
		if len(s.conns) >= s.opts.MaxConnections {
			syscall.Close(nfd)
			s.iostats.AddRefused()
			continue
		}
		syscall.SetNonblock(nfd, true)
		// Latency beats throughput for small RPC replies.
		syscall.SetsockoptInt(nfd, syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1)
		syscall.SetsockoptInt(nfd, syscall.SOL_SOCKET, syscall.SO_KEEPALIVE, 1)

		conn := s.connPool.Get().(*Connection)
		conn.SetFD(nfd)
		conn.peer = sockaddrToAddrPort(sa)
		conn.readBuf = s.bytePool.Get(readBufSize)
		conn.readOffset = 0
		if err := s.poll.Add(nfd); err != nil {
			log.Printf("Watch new connection: %v", err)
			syscall.Close(nfd)
			s.bytePool.Put(conn.readBuf)
			s.connPool.Put(conn)
			continue
		}
		conn.watch = watchRead
		s.conns[nfd] = conn
		s.iostats.AddAccept()
		if s.opts.Verbose {
			log.Printf("Accepted connection from %s", conn.peer)
		}
	}
}

func (s *Server) readConn(conn *Connection) {
	for {
		if conn.readOffset == len(conn.readBuf) && !s.growReadBuf(conn) {
			// Buffer at cap; the parse below rejects the request.
			break
		}
		n, err := syscall.Read(conn.fd, conn.readBuf[conn.readOffset:])
		if n > 0 {
			conn.readOffset += n
			conn.lastActive = time.Now()
			s.iostats.AddRead(n)
		}
		if err != nil {
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
				break
			}
			if err == syscall.EINTR {
				continue
			}
			s.closeConn(conn)
			return
		}
		if n == 0 {
			// Peer closed.
			s.closeConn(conn)
			return
		}
	}
	s.advance(conn)
}

// growReadBuf doubles the read buffer, bounded by the largest request
// we could ever accept.
func (s *Server) growReadBuf(conn *Connection) bool {
	if len(conn.readBuf) >= http.MaxHeaderBytes+s.opts.MaxBodySize {
		return false
	}
	bigger := s.bytePool.Get(len(conn.readBuf) * 2)
	copy(bigger, conn.readBuf[:conn.readOffset])
	s.bytePool.Put(conn.readBuf)
	conn.readBuf = bigger
	return true
}

// advance parses one request off the read buffer and dispatches it.
// Pipelined requests run strictly one at a time: the next parse
// happens only after the current reply is flushed, so replies cannot
// reorder.
func (s *Server) advance(conn *Connection) {
	if conn.state == StateProcessing || conn.state == StateWriting {
		return
	}
	data := conn.readBuf[:conn.readOffset]
	if len(data) == 0 {
		return
	}
	req, n, err := http.Parse(data, s.opts.MaxBodySize)
	if err != nil {
		if errors.Is(err, http.ErrIncomplete) {
			conn.state = StateReading
			return
		}
		if s.opts.Verbose {
			log.Printf("Rejecting malformed request from %s: %v", conn.peer, err)
		}
		status := parseErrorStatus(err)
		s.replyDirect(conn, status, []byte(http.StatusText(status)), false)
		return
	}

	// Shift the leftover to the front; the worker gets copies, the
	// buffer stays ours.
	conn.readOffset = copy(conn.readBuf, conn.readBuf[n:conn.readOffset])

	conn.state = StateProcessing
	s.setWatch(conn, watchNone)

	t := s.newTicket(conn)
	req.Attach(conn.peer, t)
	s.Dispatch(req)
}

func parseErrorStatus(err error) int {
	switch {
	case errors.Is(err, http.ErrHeadersTooLarge):
		return http.StatusHeadersTooBig
	case errors.Is(err, http.ErrBodyTooLarge):
		return http.StatusBodyTooLarge
	case errors.Is(err, http.ErrUnsupportedEncoding):
		return http.StatusNotImplemented
	default:
		return http.StatusBadRequest
	}
}

// replyDirect answers on the loop goroutine without involving the
// queue, for requests rejected before dispatch.
func (s *Server) replyDirect(conn *Connection, status int, body []byte, keepAlive bool) {
	res := &http.Response{Status: status, Body: body}
	s.deliver(conn, res, keepAlive, false)
}

// deliver serializes a response into the connection's write buffer and
// starts flushing it.
func (s *Server) deliver(conn *Connection, res *http.Response, keepAlive, headOnly bool) {
	buf := s.bytePool.Get(len(res.Body) + respBufHeadroom)[:0]
	conn.writeBuf = http.AppendResponse(buf, res, keepAlive, headOnly)
	conn.writeOffset = 0
	conn.closeAfter = !keepAlive
	conn.state = StateWriting
	s.flushConn(conn)
}

func (s *Server) flushConn(conn *Connection) {
	for conn.writeOffset < len(conn.writeBuf) {
		n, err := syscall.Write(conn.fd, conn.writeBuf[conn.writeOffset:])
		if n > 0 {
			conn.writeOffset += n
			conn.lastActive = time.Now()
			s.iostats.AddWrite(n)
		}
		if err != nil {
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
				conn.state = StateWriting
				s.setWatch(conn, watchWrite)
				return
			}
			if err == syscall.EINTR {
				continue
			}
			s.closeConn(conn)
			return
		}
	}

	s.bytePool.Put(conn.writeBuf)
	conn.writeBuf = nil
	conn.writeOffset = 0
	if conn.closeAfter {
		s.closeConn(conn)
		return
	}
	conn.state = StateKeepalive
	s.advance(conn)
	if conn.fd >= 0 && (conn.state == StateKeepalive || conn.state == StateReading) {
		s.setWatch(conn, watchRead)
	}
}

// setWatch reconciles the descriptor's poll registration with the
// desired mode. Failures are logged and tolerated: an unwatched
// connection goes quiet and the idle sweep reclaims it.
func (s *Server) setWatch(conn *Connection, mode uint8) {
	if conn.watch == mode || conn.fd < 0 {
		return
	}
	var err error
	switch mode {
	case watchNone:
		err = s.poll.Remove(conn.fd)
	case watchRead:
		if conn.watch == watchNone {
			err = s.poll.Add(conn.fd)
		} else {
			err = s.poll.Modify(conn.fd, false)
		}
	case watchWrite:
		if conn.watch == watchNone {
			if err = s.poll.Add(conn.fd); err == nil {
				err = s.poll.Modify(conn.fd, true)
			}
		} else {
			err = s.poll.Modify(conn.fd, true)
		}
	}
	if err != nil {
		log.Printf("Poll update on fd %d: %v", conn.fd, err)
	}
	conn.watch = mode
}

func (s *Server) closeConn(conn *Connection) {
	if conn.fd < 0 {
		return
	}
	delete(s.conns, conn.fd)
	s.setWatch(conn, watchNone)
	syscall.Close(conn.fd)
	if s.opts.Verbose {
		log.Printf("Closed connection from %s", conn.peer)
	}
	if conn.readBuf != nil {
		s.bytePool.Put(conn.readBuf)
	}
	if conn.writeBuf != nil {
		s.bytePool.Put(conn.writeBuf)
	}
	// Orphan any reply still in flight for this socket.
	conn.gen++
	s.connPool.Put(conn)
	s.iostats.AddClose()
}

// sweepIdle closes connections quiet for longer than RequestTimeout.
// Connections whose request is with a worker are exempt: the reply
// path owns their fate.
func (s *Server) sweepIdle(now time.Time) {
	var stale []*Connection
	for _, conn := range s.conns {
		if conn.state == StateProcessing {
			continue
		}
		if now.Sub(conn.lastActive) > s.opts.RequestTimeout {
			stale = append(stale, conn)
		}
	}
	for _, conn := range stale {
		if s.opts.Verbose {
			log.Printf("Closing idle connection from %s", conn.peer)
		}
		s.closeConn(conn)
	}
}

func sockaddrToAddrPort(sa syscall.Sockaddr) netip.AddrPort {
	switch a := sa.(type) {
	case *syscall.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port))
	case *syscall.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr).Unmap(), uint16(a.Port))
	default:
		return netip.AddrPort{}
	}
}
