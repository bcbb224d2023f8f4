package app

import (
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	json "github.com/goccy/go-json"

	"github.com/searchktools/rpc-server/config"
	"github.com/searchktools/rpc-server/core"
	"github.com/searchktools/rpc-server/core/http2"
	"github.com/searchktools/rpc-server/core/middleware"
	"github.com/searchktools/rpc-server/core/pools"
	"github.com/searchktools/rpc-server/core/rpc"
	"github.com/searchktools/rpc-server/core/sse"
	"github.com/searchktools/rpc-server/core/websocket"
)

// Version identifies the build in getserverinfo replies. Override it
// with -ldflags "-X .../app.Version=v1.2.3".
var Version = "dev"

// App wires the event-loop server, the JSON-RPC service and the
// HTTP/2 side frontend into one process with a single shutdown path.
type App struct {
	cfg      *config.Config
	server   *core.Server
	rpc      *rpc.Service
	frontend *http2.Server
	hub      *websocket.Hub
	stream   *sse.Stream

	quit     chan struct{}
	quitOnce sync.Once
	pubDone  chan struct{}
}

// New creates an application instance. The JSON-RPC service mounts at
// "/" behind the recovery pipeline; live telemetry mounts on the
// HTTP/2 frontend at /events (SSE) and /ws (websocket) when the
// frontend is enabled.
func New(cfg *config.Config) (*App, error) {
	opts, err := cfg.CoreOptions()
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		server:  core.New(opts),
		hub:     websocket.NewHub(0),
		stream:  sse.NewStream("server"),
		quit:    make(chan struct{}),
		pubDone: make(chan struct{}),
	}

	a.rpc = rpc.NewService(rpc.Options{
		Version:   Version,
		OnStop:    a.Shutdown,
		StatsFunc: a.statsSnapshot,
	})

	pipeline := middleware.NewPipeline().WithRecovery()
	if cfg.Verbose {
		pipeline.Use(middleware.Logger())
	}
	a.server.Register("/", true, pipeline.Wrap(a.rpc.Handler()))

	if addr := cfg.H2CAddr(); addr != "" {
		a.frontend = http2.NewServer(http2.Config{
			Addr:        addr,
			Core:        a.server,
			MaxBodySize: cfg.MaxBody,
		})
		a.frontend.Handle("/events", sse.NewHandler(a.stream))
		a.frontend.Handle("/ws", websocket.NewHandler(a.hub))
	}

	return a, nil
}

// Server returns the underlying engine for route registration.
func (a *App) Server() *core.Server {
	return a.server
}

// RPC returns the JSON-RPC service so callers can register their own
// services next to the builtin one.
func (a *App) RPC() *rpc.Service {
	return a.rpc
}

// Hub returns the websocket notification hub.
func (a *App) Hub() *websocket.Hub {
	return a.hub
}

// Stream returns the SSE telemetry stream.
func (a *App) Stream() *sse.Stream {
	return a.stream
}

// Run starts the server and blocks until a termination signal arrives
// or the stop RPC fires, then tears everything down in order.
func (a *App) Run() error {
	if a.cfg.Env == "production" {
		pools.OptimizeForHighThroughput()
	}

	if err := a.server.Start(); err != nil {
		return err
	}
	log.Printf("🚀 JSON-RPC server listening on %s [%s]", a.server.Addr(), a.cfg.Env)

	if a.frontend != nil {
		go func() {
			if err := a.frontend.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("HTTP/2 frontend error: %v", err)
			}
		}()
	}

	if a.cfg.StatsInterval > 0 {
		go a.publishStats(time.Duration(a.cfg.StatsInterval) * time.Second)
	} else {
		close(a.pubDone)
	}

	go a.awaitSignal()

	<-a.quit
	a.teardown()
	return nil
}

// Shutdown requests termination. Safe to call from any goroutine and
// more than once; the first call wins.
func (a *App) Shutdown() {
	a.quitOnce.Do(func() { close(a.quit) })
}

func (a *App) teardown() {
	log.Printf("Shutting down...")

	select {
	case <-a.pubDone:
	case <-time.After(2 * time.Second):
	}

	if a.frontend != nil {
		a.frontend.Close()
	}
	a.hub.Stop()
	a.stream.Stop()
	a.server.Stop()

	log.Printf("Shutdown complete")
}

func (a *App) awaitSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case s := <-sig:
		log.Printf("Signal received: %v. Shutting down...", s)
		a.Shutdown()
	case <-a.quit:
	}
}

// publishStats pushes a stats snapshot to every SSE and websocket
// subscriber on a fixed cadence.
func (a *App) publishStats(every time.Duration) {
	defer close(a.pubDone)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snap := a.statsSnapshot()
			if data, err := json.Marshal(snap); err == nil {
				a.stream.Send("stats", string(data))
			}
			a.hub.Notify("stats", snap)
		case <-a.quit:
			return
		}
	}
}

func (a *App) statsSnapshot() interface{} {
	snap := map[string]interface{}{
		"server":    a.server.Stats(),
		"pools":     a.server.GetPoolStats(),
		"gc":        pools.GetGCStats(),
		"websocket": a.hub.Stats(),
		"sse":       a.stream.Stats(),
	}
	if a.frontend != nil {
		snap["frontend"] = a.frontend.Stats()
	}
	return snap
}
