// Package http2 is the cleartext HTTP/2 frontend. It leans on the
// standard library's server for protocol handling and funnels every
// request through the same dispatcher, queue and handler table as the
// event-loop frontend, so handlers cannot tell the two apart.
package http2

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/searchktools/rpc-server/core"
	chttp "github.com/searchktools/rpc-server/core/http"
)

// Server provides HTTP/2 cleartext (h2c) support with multiplexing and
// HPACK compression. Plain HTTP/1.1 clients are served by the same
// listener.
type Server struct {
	addr         string
	core         *core.Server
	server       *http.Server
	h2           *http2.Server
	maxBody      int
	replyTimeout time.Duration

	connections atomic.Uint64
	requests    atomic.Uint64
	timeouts    atomic.Uint64

	routesMu sync.RWMutex
	routes   []directRoute

	mu     sync.RWMutex
	closed bool
}

// directRoute is a net/http handler mounted ahead of the dispatcher
// bridge.
type directRoute struct {
	prefix  string
	handler http.Handler
}

// Config contains HTTP/2 frontend configuration
type Config struct {
	Addr string

	// Core receives every decoded request for dispatch.
	Core *core.Server

	MaxConcurrentStreams uint32
	MaxReadFrameSize     uint32
	IdleTimeout          time.Duration

	// MaxBodySize caps request bodies, like the event-loop frontend.
	MaxBodySize int

	// ReplyTimeout is how long a stream waits for its worker reply
	// before giving up with a 503.
	ReplyTimeout time.Duration
}

// Stats is a snapshot of frontend counters.
type Stats struct {
	Connections uint64 `json:"connections"`
	Requests    uint64 `json:"requests"`
	Timeouts    uint64 `json:"reply_timeouts"`
}

// NewServer creates a new h2c frontend bound to a dispatcher.
func NewServer(cfg Config) *Server {
	if cfg.Core == nil {
		panic("http2: Config.Core must be set")
	}
	if cfg.MaxConcurrentStreams == 0 {
		cfg.MaxConcurrentStreams = 250
	}
	if cfg.MaxReadFrameSize == 0 {
		cfg.MaxReadFrameSize = 1 << 20 // 1MB
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = core.DefaultMaxBodySize
	}
	if cfg.ReplyTimeout == 0 {
		cfg.ReplyTimeout = core.DefaultRequestTimeout
	}

	s := &Server{
		addr:         cfg.Addr,
		core:         cfg.Core,
		maxBody:      cfg.MaxBodySize,
		replyTimeout: cfg.ReplyTimeout,
	}

	// Configure HTTP/2 server
	s.h2 = &http2.Server{
		MaxConcurrentStreams: cfg.MaxConcurrentStreams,
		MaxReadFrameSize:     cfg.MaxReadFrameSize,
		IdleTimeout:          cfg.IdleTimeout,
	}

	s.server = &http.Server{
		Addr:    cfg.Addr,
		Handler: h2c.NewHandler(http.HandlerFunc(s.serveHTTP), s.h2),
		ConnState: func(c net.Conn, st http.ConnState) {
			if st == http.StateNew {
				s.connections.Add(1)
			}
		},
	}

	return s
}

// waitSink parks the stream goroutine until the worker's reply lands.
// The channel holds one reply so SendReply never blocks a worker.
type waitSink struct {
	ch chan *chttp.Response
}

func (ws *waitSink) SendReply(req *chttp.Request, res *chttp.Response) {
	ws.ch <- res
}

// Handle mounts a net/http handler ahead of the dispatcher bridge.
// Streaming endpoints need the raw ResponseWriter, which the dispatch
// path does not expose. The first registered prefix wins, like the
// dispatcher's own table.
func (s *Server) Handle(prefix string, handler http.Handler) {
	s.routesMu.Lock()
	s.routes = append(s.routes, directRoute{prefix: prefix, handler: handler})
	s.routesMu.Unlock()
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)

	s.routesMu.RLock()
	for _, rt := range s.routes {
		if strings.HasPrefix(r.URL.Path, rt.prefix) {
			s.routesMu.RUnlock()
			rt.handler.ServeHTTP(w, r)
			return
		}
	}
	s.routesMu.RUnlock()

	peer, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		http.Error(w, "unparseable remote address", http.StatusInternalServerError)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(s.maxBody)))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		} else {
			http.Error(w, "error reading request body", http.StatusBadRequest)
		}
		return
	}

	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	req := chttp.BuildRequest(chttp.MethodFromString(r.Method), r.URL.RequestURI(), r.Proto, headers, body)
	sink := &waitSink{ch: make(chan *chttp.Response, 1)}
	req.Attach(peer, sink)

	s.core.Dispatch(req)

	select {
	case res := <-sink.ch:
		for _, f := range res.Fields {
			w.Header().Set(f.Key, f.Value)
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(res.Body)))
		w.WriteHeader(res.Status)
		if r.Method != "HEAD" {
			w.Write(res.Body)
		}
		chttp.ReleaseRequest(req)
	case <-time.After(s.replyTimeout):
		// The worker still holds the request, so it cannot be released
		// here; it goes to the garbage collector instead of the pool.
		s.timeouts.Add(1)
		http.Error(w, "timed out waiting for reply", http.StatusServiceUnavailable)
	case <-r.Context().Done():
		// Client went away. Same deal: the request stays unpooled.
	}
}

// ListenAndServe starts the h2c frontend
func (s *Server) ListenAndServe() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("server is closed")
	}
	s.mu.Unlock()

	log.Printf("🚀 HTTP/2 frontend starting on %s (h2c cleartext)", s.addr)
	return s.server.ListenAndServe()
}

// Serve accepts on an existing listener, which is how tests bind to an
// ephemeral port.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("server is closed")
	}
	s.mu.Unlock()

	return s.server.Serve(ln)
}

// Close shuts down the frontend and its connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.server.Close()
}

// Stats returns a snapshot of frontend counters.
func (s *Server) Stats() Stats {
	return Stats{
		Connections: s.connections.Load(),
		Requests:    s.requests.Load(),
		Timeouts:    s.timeouts.Load(),
	}
}
