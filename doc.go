/*
Package rpc-server provides an event-driven JSON-RPC server with a bounded
work queue and a fixed worker pool.

The design follows the classic single-loop model: one goroutine owns every
connection and does all socket I/O through epoll (Linux) or kqueue
(BSD/macOS), while parsed requests are handed to a small worker pool over
a bounded FIFO queue. Workers never touch sockets. They compute a reply
and hand it back to the loop, so a slow handler can never wedge the
event loop and a burst past the queue bound is refused immediately with
a 500 instead of piling up latency.

Features

  - Deferred replies: workers produce responses, the event loop writes them
  - Bounded dispatch: queue overflow answers "Work queue depth exceeded"
  - Ordered routing: first registered match wins, exact before prefix
  - Subnet allow-list: loopback always permitted, everything else opt-in
  - JSON-RPC 2.0: single calls, batches and notifications over POST
  - Reflection services: any (ctx, *Args) (*Reply, error) method is callable
  - Codecs: JSON, MessagePack and protobuf encoders behind one interface
  - HTTP/2 frontend: h2c bridge funneling into the same dispatcher
  - Live telemetry: SSE stream and websocket notification hub
  - Smart pooling: buffer, connection and ticket pools with GC tuning

Quick Start

Basic usage example:

	package main

	import (
	    "log"

	    "github.com/searchktools/rpc-server/app"
	    "github.com/searchktools/rpc-server/config"
	)

	func main() {
	    cfg := config.New()

	    application, err := app.New(cfg)
	    if err != nil {
	        log.Fatalf("Startup failed: %v", err)
	    }

	    if err := application.Run(); err != nil {
	        log.Fatalf("Server startup failed: %v", err)
	    }
	}

Then:

	curl -d '{"jsonrpc":"2.0","method":"getserverinfo","id":1}' http://127.0.0.1:9332/

Modules

The server is organized into several modules:

  - app: Application lifecycle and wiring
  - config: Layered configuration (flags, environment, JSON file)
  - core: Event loop, dispatcher, bounded queue and worker pool
  - core/acl: Subnet allow-list
  - core/http: HTTP/1.1 parsing and deferred reply plumbing
  - core/http2: Cleartext HTTP/2 frontend (h2c)
  - core/router: Ordered first-match handler table
  - core/queue: Bounded FIFO work queue and worker pool
  - core/middleware: Dispatch pipeline (recovery, logging, rate limit)
  - core/rpc: JSON-RPC 2.0 service layer and codecs
  - core/websocket: Notification hub with per-client encodings
  - core/sse: Server-Sent Events telemetry stream
  - core/pools: Object pooling and GC tuning
  - core/poller: I/O multiplexing (epoll/kqueue)
  - core/observability: Dispatch outcome and I/O counters

For more information, see https://github.com/searchktools/rpc-server
*/
package rpcserver
