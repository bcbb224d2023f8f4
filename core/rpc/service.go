// Package rpc exposes registered Go services over JSON-RPC 2.0. The
// HTTP binding is a dispatcher handler, so calls run on the worker pool
// and answer through the usual deferred reply path.
package rpc

import (
	"context"
	"errors"
	"log"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	chttp "github.com/searchktools/rpc-server/core/http"
	"github.com/searchktools/rpc-server/core/router"
	"github.com/searchktools/rpc-server/core/rpc/codec"
	"github.com/searchktools/rpc-server/core/rpc/protocol"
	"github.com/searchktools/rpc-server/core/rpc/registry"
)

// DefaultService is the service bare method names resolve against, so
// "uptime" means "server.uptime".
const DefaultService = "server"

// stopGrace is how long the stop reply gets to reach the wire before
// the shutdown callback fires.
const stopGrace = 200 * time.Millisecond

var jsonCodec = &codec.JSONCodec{}

// Options configures a Service.
type Options struct {
	// Version is reported by server.getserverinfo.
	Version string

	// OnStop runs shortly after a stop call has been answered. Leaving
	// it nil turns the stop method into a no-op reply.
	OnStop func()

	// StatsFunc supplies the stats block of server.getserverinfo.
	StatsFunc func() interface{}

	// CallTimeout bounds each method call. Zero means no limit.
	CallTimeout time.Duration
}

// Service is a JSON-RPC 2.0 endpoint over a method registry. It comes
// with a builtin "server" service for uptime, server info, method
// listing and remote shutdown.
type Service struct {
	registry *registry.ServiceRegistry
	opts     Options
	started  time.Time
	stopOnce sync.Once
}

// NewService creates a Service with the builtin server methods
// registered.
func NewService(opts Options) *Service {
	s := &Service{
		registry: registry.NewRegistry(),
		opts:     opts,
		started:  time.Now(),
	}
	s.registry.Register(DefaultService, &serverService{svc: s})
	return s
}

// Register adds a service so its methods become callable as
// "<name>.<method>".
func (s *Service) Register(name string, service interface{}) error {
	return s.registry.Register(name, service)
}

// Handler returns the dispatcher handler for the JSON-RPC endpoint.
func (s *Service) Handler() router.Handler {
	return s.serveHTTP
}

func (s *Service) serveHTTP(req *chttp.Request, path string) {
	if req.Method() != chttp.MethodPost {
		req.WriteReply(chttp.StatusBadMethod, []byte("JSONRPC server handles only POST requests"))
		return
	}

	body := req.ReadBody()
	reqs, batch, err := protocol.ParseRequests(body)
	if err != nil {
		if errors.Is(err, protocol.ErrInvalidRequest) {
			writeJSON(req, chttp.StatusBadRequest,
				protocol.NewJSONRPCError(protocol.InvalidRequest, "Invalid Request", nil, nil))
			return
		}
		writeJSON(req, chttp.StatusInternal,
			protocol.NewJSONRPCError(protocol.ParseError, "Parse error", nil, nil))
		return
	}

	if batch {
		responses := make([]*protocol.JSONRPCResponse, 0, len(reqs))
		for _, r := range reqs {
			if res := s.dispatch(r); res != nil {
				responses = append(responses, res)
			}
		}
		// A batch of nothing but notifications gets an empty 200.
		if len(responses) == 0 {
			req.WriteReply(chttp.StatusOK, nil)
			return
		}
		writeJSON(req, chttp.StatusOK, responses)
		return
	}

	res := s.dispatch(reqs[0])
	if res == nil {
		req.WriteReply(chttp.StatusOK, nil)
		return
	}
	writeJSON(req, httpStatusFor(res), res)
}

// dispatch runs one request and builds its response. Notifications are
// executed but produce no response.
func (s *Service) dispatch(r *protocol.JSONRPCRequest) *protocol.JSONRPCResponse {
	res := s.call(r)
	if r.IsNotification() {
		return nil
	}
	return res
}

func (s *Service) call(r *protocol.JSONRPCRequest) *protocol.JSONRPCResponse {
	if err := r.Validate(); err != nil {
		return protocol.NewJSONRPCError(protocol.InvalidRequest, "Invalid Request", nil, r.ID)
	}

	ctx := context.Background()
	if s.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.CallTimeout)
		defer cancel()
	}

	svcName, method := splitMethod(r.Method)
	reply, err := s.registry.Call(ctx, svcName, method, r.Params, jsonCodec)
	if err != nil {
		return errorResponse(err, r.ID)
	}
	return protocol.NewJSONRPCResponse(reply, r.ID)
}

// splitMethod resolves "service.method" and bare "method" spellings.
func splitMethod(full string) (service, method string) {
	if i := strings.IndexByte(full, '.'); i >= 0 {
		return full[:i], full[i+1:]
	}
	return DefaultService, full
}

func errorResponse(err error, id json.RawMessage) *protocol.JSONRPCResponse {
	var rpcErr *protocol.JSONRPCError
	switch {
	case errors.Is(err, registry.ErrServiceNotFound), errors.Is(err, registry.ErrMethodNotFound):
		return protocol.NewJSONRPCError(protocol.MethodNotFound, "Method not found", nil, id)
	case errors.Is(err, registry.ErrInvalidParams):
		return protocol.NewJSONRPCError(protocol.InvalidParams, "Invalid params", err.Error(), id)
	case errors.As(err, &rpcErr):
		return protocol.NewJSONRPCError(rpcErr.Code, rpcErr.Message, rpcErr.Data, id)
	default:
		return protocol.NewJSONRPCError(protocol.InternalError, err.Error(), nil, id)
	}
}

// httpStatusFor maps a response to its HTTP status: invalid requests
// are client errors, unknown methods are 404, everything else that
// failed is a 500.
func httpStatusFor(res *protocol.JSONRPCResponse) int {
	if res.Error == nil {
		return chttp.StatusOK
	}
	switch res.Error.Code {
	case protocol.InvalidRequest:
		return chttp.StatusBadRequest
	case protocol.MethodNotFound:
		return chttp.StatusNotFound
	default:
		return chttp.StatusInternal
	}
}

func writeJSON(req *chttp.Request, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Failed to encode JSONRPC reply: %v", err)
		req.WriteReply(chttp.StatusInternal, []byte("Internal error"))
		return
	}
	data = append(data, '\n')
	req.WriteHeader("Content-Type", "application/json")
	req.WriteReply(status, data)
}

// Empty is the argument type for methods that take no parameters.
type Empty struct{}

// ServerInfo is the server.getserverinfo result.
type ServerInfo struct {
	Version    string      `json:"version"`
	PID        int         `json:"pid"`
	Uptime     int64       `json:"uptime"`
	Now        string      `json:"now"`
	GoVersion  string      `json:"goversion"`
	Goroutines int         `json:"goroutines"`
	Stats      interface{} `json:"stats,omitempty"`
}

// MethodList is the server.listmethods result.
type MethodList struct {
	Services map[string][]string `json:"services"`
}

// serverService carries the builtin management methods.
type serverService struct {
	svc *Service
}

func (b *serverService) Uptime(ctx context.Context, _ *Empty) (*int64, error) {
	secs := int64(time.Since(b.svc.started) / time.Second)
	return &secs, nil
}

func (b *serverService) GetServerInfo(ctx context.Context, _ *Empty) (*ServerInfo, error) {
	info := &ServerInfo{
		Version:    b.svc.opts.Version,
		PID:        os.Getpid(),
		Uptime:     int64(time.Since(b.svc.started) / time.Second),
		Now:        time.Now().UTC().Format(time.RFC3339),
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
	}
	if b.svc.opts.StatsFunc != nil {
		info.Stats = b.svc.opts.StatsFunc()
	}
	return info, nil
}

func (b *serverService) ListMethods(ctx context.Context, _ *Empty) (*MethodList, error) {
	out := &MethodList{Services: make(map[string][]string)}
	for _, name := range b.svc.registry.ListServices() {
		methods, err := b.svc.registry.ListMethods(name)
		if err != nil {
			return nil, err
		}
		out.Services[name] = methods
	}
	return out, nil
}

// Stop answers first and shuts down after a grace delay, so the reply
// reaches the client before the listener goes away.
func (b *serverService) Stop(ctx context.Context, _ *Empty) (*string, error) {
	msg := "server stopping"
	b.svc.stopOnce.Do(func() {
		log.Printf("Received stop command, shutting down")
		if b.svc.opts.OnStop != nil {
			time.AfterFunc(stopGrace, b.svc.opts.OnStop)
		}
	})
	return &msg, nil
}
