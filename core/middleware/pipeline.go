// Package middleware composes cross-cutting hooks around dispatcher
// handlers. A hook that answers the request aborts the rest of the
// chain; ReplySent is the abort signal.
package middleware

import (
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/searchktools/rpc-server/core/http"
	"github.com/searchktools/rpc-server/core/router"
)

// HandlerFunc is a middleware hook. It runs before the final handler
// and may answer the request itself to stop the chain.
type HandlerFunc func(req *http.Request, path string)

// Pipeline is an ordered middleware chain.
type Pipeline struct {
	handlers []HandlerFunc
	recovery bool
}

// NewPipeline creates a new middleware pipeline
func NewPipeline() *Pipeline {
	return &Pipeline{
		handlers: make([]HandlerFunc, 0, 16),
	}
}

// Use adds a middleware to the pipeline
func (p *Pipeline) Use(handler HandlerFunc) *Pipeline {
	p.handlers = append(p.handlers, handler)
	return p
}

// WithRecovery turns handler panics into 500 replies instead of
// crashing the worker.
func (p *Pipeline) WithRecovery() *Pipeline {
	p.recovery = true
	return p
}

// Execute runs the chain and then the final handler, unless a hook
// already answered.
func (p *Pipeline) Execute(req *http.Request, path string, finalHandler router.Handler) {
	if p.recovery {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && err == http.ErrDoubleReply {
				// Answering twice is the server's own bug and must not
				// be swallowed here.
				panic(rec)
			}
			log.Printf("Panic recovered: %v", rec)
			if !req.ReplySent() {
				req.WriteReply(http.StatusInternal, []byte("Internal Server Error"))
			}
		}()
	}

	for _, h := range p.handlers {
		h(req, path)
		if req.ReplySent() {
			return
		}
	}

	finalHandler(req, path)
}

// Wrap binds the pipeline and a final handler into a single handler
// suitable for Register.
func (p *Pipeline) Wrap(finalHandler router.Handler) router.Handler {
	return func(req *http.Request, path string) {
		p.Execute(req, path, finalHandler)
	}
}

// Common middleware implementations

// Logger logs requests
func Logger() HandlerFunc {
	return func(req *http.Request, path string) {
		log.Printf("[%s] %s from %s", req.Method(), req.URI(), req.Peer())
	}
}

// RateLimiter rejects requests over the per-second budget with a 429.
func RateLimiter(requestsPerSecond int) HandlerFunc {
	var (
		tokens     int
		lastRefill time.Time
		mu         sync.Mutex
	)

	tokens = requestsPerSecond
	lastRefill = time.Now()

	return func(req *http.Request, path string) {
		mu.Lock()

		now := time.Now()
		if now.Sub(lastRefill) > time.Second {
			tokens = requestsPerSecond
			lastRefill = now
		}

		if tokens > 0 {
			tokens--
			mu.Unlock()
			return
		}

		mu.Unlock()

		req.WriteReply(http.StatusTooManyRequests, []byte("Too Many Requests"))
	}
}

// RequestID adds a unique request ID response header
func RequestID() HandlerFunc {
	var counter atomic.Uint64

	return func(req *http.Request, path string) {
		req.WriteHeader("X-Request-ID", strconv.FormatUint(counter.Add(1), 10))
	}
}
