// Package websocket pushes server notifications to subscribed clients
// over RFC 6455 connections. Frame handling comes from
// gorilla/websocket; this package owns fan-out and per-client encoding.
package websocket

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/searchktools/rpc-server/core/rpc/codec"
)

// Notification is the envelope every push wears.
type Notification struct {
	Type string      `json:"type" msgpack:"type"`
	Time int64       `json:"time" msgpack:"time"`
	Data interface{} `json:"data,omitempty" msgpack:"data,omitempty"`
}

// Client is one subscribed connection. Its send channel is buffered; a
// client that cannot keep up loses notifications rather than stalling
// the hub.
type Client struct {
	ID     string
	conn   *websocket.Conn
	codec  codec.Codec
	send   chan []byte
	closed atomic.Bool
}

func NewClient(id string, conn *websocket.Conn, c codec.Codec) *Client {
	return &Client{
		ID:    id,
		conn:  conn,
		codec: c,
		send:  make(chan []byte, 256),
	}
}

func (c *Client) Close() {
	if c.closed.Swap(true) {
		return
	}
	close(c.send)
	c.conn.Close()
}

func (c *Client) IsClosed() bool {
	return c.closed.Load()
}

// messageType picks the websocket frame type for the client's
// encoding: JSON travels as text, everything else as binary.
func (c *Client) messageType() int {
	if c.codec.Type() == codec.CodecJSON {
		return websocket.TextMessage
	}
	return websocket.BinaryMessage
}

// Hub fans notifications out to every subscribed client.
type Hub struct {
	clients    sync.Map
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Notification
	stop       chan struct{}
	stopOnce   sync.Once

	totalClients atomic.Int64
	messageCount atomic.Int64
	droppedCount atomic.Int64
	maxClients   int
}

func NewHub(maxClients int) *Hub {
	if maxClients <= 0 {
		maxClients = 10000
	}

	hub := &Hub{
		register:   make(chan *Client, 100),
		unregister: make(chan *Client, 100),
		broadcast:  make(chan *Notification, 1000),
		stop:       make(chan struct{}),
		maxClients: maxClients,
	}

	go hub.run()

	return hub
}

// Stop shuts the hub down and closes every client.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.clients.Store(client.ID, client)
			h.totalClients.Add(1)

		case client := <-h.unregister:
			h.clients.Delete(client.ID)
			client.Close()

		case note := <-h.broadcast:
			h.fanout(note)

		case <-h.stop:
			h.clients.Range(func(key, value interface{}) bool {
				h.clients.Delete(key)
				value.(*Client).Close()
				return true
			})
			return
		}
	}
}

// fanout encodes once per codec, not once per client.
func (h *Hub) fanout(note *Notification) {
	encoded := make(map[string][]byte)

	h.clients.Range(func(_, value interface{}) bool {
		client := value.(*Client)

		payload, seen := encoded[client.codec.Name()]
		if !seen {
			var err error
			payload, err = client.codec.Encode(note)
			if err != nil {
				log.Printf("Failed to encode %s notification: %v", client.codec.Name(), err)
				payload = nil
			}
			encoded[client.codec.Name()] = payload
		}
		if payload == nil {
			return true
		}

		select {
		case client.send <- payload:
			h.messageCount.Add(1)
		default:
			h.droppedCount.Add(1)
		}
		return true
	})
}

func (h *Hub) Register(client *Client) error {
	if h.ClientCount() >= h.maxClients {
		return fmt.Errorf("max clients reached (%d)", h.maxClients)
	}

	select {
	case h.register <- client:
		return nil
	case <-h.stop:
		return fmt.Errorf("hub stopped")
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stop:
		// The run loop closes every registered client on the way out, and
		// it is the only goroutine allowed to, so nothing to do here.
	}
}

// Notify broadcasts a typed notification to every client.
func (h *Hub) Notify(eventType string, data interface{}) {
	note := &Notification{
		Type: eventType,
		Time: time.Now().Unix(),
		Data: data,
	}

	select {
	case h.broadcast <- note:
	case <-h.stop:
	}
}

func (h *Hub) ClientCount() int {
	count := 0
	h.clients.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

func (h *Hub) Stats() map[string]interface{} {
	return map[string]interface{}{
		"total_clients":    h.totalClients.Load(),
		"current_clients":  h.ClientCount(),
		"messages_sent":    h.messageCount.Load(),
		"messages_dropped": h.droppedCount.Load(),
	}
}
