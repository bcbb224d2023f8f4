package core

import (
	"errors"
	"log"
	"time"

	"github.com/searchktools/rpc-server/core/http"
	"github.com/searchktools/rpc-server/core/observability"
	"github.com/searchktools/rpc-server/core/router"
)

// Dispatch routes a parsed request: allow-list, then method check,
// then handler lookup, then a non-blocking enqueue. Every rejection is
// answered on the spot; only queued requests reach a worker. The
// request must already be attached to its reply sink, which makes
// Dispatch usable by frontends other than the event loop.
func (s *Server) Dispatch(req *http.Request) {
	if !s.allow.Allows(req.Peer().Addr()) {
		s.monitor.Dispatched(observability.OutcomeForbidden)
		if s.opts.Verbose {
			log.Printf("Rejecting request from disallowed peer %s", req.Peer())
		}
		req.WriteReply(http.StatusForbidden, nil)
		return
	}
	if req.Method() == http.MethodUnknown {
		s.monitor.Dispatched(observability.OutcomeBadMethod)
		req.WriteReply(http.StatusBadMethod, nil)
		return
	}
	uri := req.URI()
	handler, path, ok := s.table.Match(uri)
	if !ok {
		s.monitor.Dispatched(observability.OutcomeNotFound)
		req.WriteReply(http.StatusNotFound, nil)
		return
	}
	req.SetRoute(uri[:len(uri)-len(path)])

	item := &workItem{req: req, path: path, handler: handler}
	if !s.queue.Enqueue(item) {
		s.monitor.Dispatched(observability.OutcomeOverloaded)
		log.Printf("WARNING: request rejected because http work queue depth exceeded, it can be increased with the -queuedepth= setting")
		req.WriteReply(http.StatusInternal, []byte("Work queue depth exceeded"))
		return
	}
	s.monitor.Dispatched(observability.OutcomeQueued)
}

// workItem carries one matched request through the queue. Execute runs
// on a worker goroutine: it may block, but it must not touch the
// connection; the reply travels back through the request's sink.
type workItem struct {
	req     *http.Request
	path    string
	handler router.Handler
}

func (w *workItem) Execute() {
	defer func() {
		rec := recover()
		if rec == nil {
			w.req.Finish()
			return
		}
		if err, ok := rec.(error); ok && errors.Is(err, http.ErrDoubleReply) {
			// A double reply is our bug, not the handler's. Crash.
			panic(rec)
		}
		log.Printf("Handler panic serving %s %s: %v", w.req.Method(), w.req.URI(), rec)
		w.req.Finish()
	}()
	w.handler(w.req, w.path)
}

// replyTicket is the reply sink for loop-owned connections. It records
// the Connection and the generation it was minted for; if the socket
// died while the worker held the request, the reply is counted and
// dropped instead of touching a recycled connection.
type replyTicket struct {
	srv  *Server
	conn *Connection
	gen  uint64
}

func (t *replyTicket) reset() {
	t.srv = nil
	t.conn = nil
	t.gen = 0
}

// SendReply hands the finished reply back to the loop goroutine.
// Runs on worker goroutines; never blocks.
func (t *replyTicket) SendReply(req *http.Request, res *http.Response) {
	srv := t.srv
	srv.Defer(func() {
		srv.completeReply(t, req, res)
	})
}

func (s *Server) newTicket(conn *Connection) *replyTicket {
	t := s.ticketPool.Get().(*replyTicket)
	t.srv = s
	t.conn = conn
	t.gen = conn.gen
	return t
}

// completeReply finishes one request on the loop goroutine: record
// metrics, serialize, flush. A generation mismatch means the socket
// died while the request was in flight.
func (s *Server) completeReply(t *replyTicket, req *http.Request, res *http.Response) {
	conn, gen := t.conn, t.gen
	s.ticketPool.Put(t)

	route := req.Route()
	if route == "" {
		route = "(rejected)"
	}
	s.monitor.RecordRequest(route, time.Since(req.Received()), res.Status >= 400)

	if conn.fd < 0 || conn.gen != gen {
		s.monitor.Dispatched(observability.OutcomeOrphaned)
		if s.opts.Verbose {
			log.Printf("Dropping reply for closed connection (%s %s)", req.Method(), req.URI())
		}
		http.ReleaseRequest(req)
		return
	}

	keepAlive := req.KeepAlive() && s.running.Load()
	headOnly := req.Method() == http.MethodHead
	s.deliver(conn, res, keepAlive, headOnly)
	// The response body may alias request memory; release only after
	// it is serialized.
	http.ReleaseRequest(req)
}
