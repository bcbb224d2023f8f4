// Package sse implements Server-Sent Events fan-out for live server
// telemetry. Streaming needs a flushable writer, so its endpoints mount
// on the net/http frontend instead of the event-loop reply path.
package sse

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Event represents a Server-Sent Event
type Event struct {
	ID    string
	Event string
	Data  string
	Retry int // milliseconds
}

// Client represents one subscriber. Channel is buffered: a subscriber
// that cannot keep up loses events rather than stalling the broker.
type Client struct {
	ID        string
	Channel   chan *Event
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewClient creates a new SSE client
func NewClient(id string, bufferSize int) *Client {
	if bufferSize <= 0 {
		bufferSize = 100
	}

	return &Client{
		ID:      id,
		Channel: make(chan *Event, bufferSize),
		closeCh: make(chan struct{}),
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		close(c.Channel)
	})
}

// IsClosed returns whether the client is closed
func (c *Client) IsClosed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

// Send sends an event to the client (non-blocking)
func (c *Client) Send(event *Event) bool {
	if c.IsClosed() {
		return false
	}

	select {
	case c.Channel <- event:
		return true
	default:
		return false
	}
}

// Broker manages SSE connections
type Broker struct {
	clients     sync.Map
	newClients  chan *Client
	deadClients chan *Client
	messages    chan *Event
	stop        chan struct{}
	stopOnce    sync.Once

	totalClients  atomic.Uint64
	messagesCount atomic.Uint64
	droppedCount  atomic.Uint64

	keepaliveInterval time.Duration
	maxClients        int
}

// NewBroker creates a new SSE broker and starts its fan-out loop.
func NewBroker(maxClients int, keepaliveInterval time.Duration) *Broker {
	if maxClients <= 0 {
		maxClients = 10000
	}
	if keepaliveInterval <= 0 {
		keepaliveInterval = 30 * time.Second
	}

	broker := &Broker{
		newClients:        make(chan *Client, 100),
		deadClients:       make(chan *Client, 100),
		messages:          make(chan *Event, 1000),
		stop:              make(chan struct{}),
		keepaliveInterval: keepaliveInterval,
		maxClients:        maxClients,
	}

	go broker.run()
	go broker.keepalive()

	return broker
}

// Stop shuts the broker down and closes every subscriber.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
	})
}

func (b *Broker) run() {
	for {
		select {
		case client := <-b.newClients:
			b.clients.Store(client.ID, client)
			b.totalClients.Add(1)

		case client := <-b.deadClients:
			b.clients.Delete(client.ID)
			client.Close()

		case event := <-b.messages:
			b.messagesCount.Add(1)
			b.broadcast(event)

		case <-b.stop:
			b.clients.Range(func(key, value interface{}) bool {
				b.clients.Delete(key)
				value.(*Client).Close()
				return true
			})
			return
		}
	}
}

// keepalive feeds periodic comments through the message channel rather
// than broadcasting directly: run is the only goroutine that may touch
// a client, since it is the one that closes them.
func (b *Broker) keepalive() {
	ticker := time.NewTicker(b.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.Publish(&Event{
				Event: "keepalive",
				Data:  fmt.Sprintf("timestamp:%d", time.Now().Unix()),
			})
		case <-b.stop:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.clients.Range(func(key, value interface{}) bool {
		client := value.(*Client)
		if !client.Send(event) {
			b.droppedCount.Add(1)
		}
		return true
	})
}

func (b *Broker) Register(client *Client) error {
	if b.ClientCount() >= b.maxClients {
		return fmt.Errorf("max clients reached (%d)", b.maxClients)
	}

	select {
	case b.newClients <- client:
		return nil
	case <-b.stop:
		return fmt.Errorf("broker stopped")
	}
}

func (b *Broker) Unregister(client *Client) {
	select {
	case b.deadClients <- client:
	case <-b.stop:
		// The run loop closes every registered client on the way out, and
		// it is the only goroutine allowed to, so nothing to do here.
	}
}

func (b *Broker) Publish(event *Event) {
	select {
	case b.messages <- event:
	case <-b.stop:
	}
}

func (b *Broker) GetClient(clientID string) (*Client, bool) {
	val, ok := b.clients.Load(clientID)
	if !ok {
		return nil, false
	}
	return val.(*Client), true
}

func (b *Broker) ClientCount() int {
	count := 0
	b.clients.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

func (b *Broker) Stats() map[string]interface{} {
	return map[string]interface{}{
		"total_clients":    b.totalClients.Load(),
		"current_clients":  b.ClientCount(),
		"messages_sent":    b.messagesCount.Load(),
		"messages_dropped": b.droppedCount.Load(),
	}
}

// FormatEvent renders an event in the text/event-stream framing.
func FormatEvent(event *Event) []byte {
	var buf []byte

	if event.ID != "" {
		buf = append(buf, []byte(fmt.Sprintf("id: %s\n", event.ID))...)
	}

	if event.Event != "" {
		buf = append(buf, []byte(fmt.Sprintf("event: %s\n", event.Event))...)
	}

	if event.Retry > 0 {
		buf = append(buf, []byte(fmt.Sprintf("retry: %d\n", event.Retry))...)
	}

	if event.Data != "" {
		buf = append(buf, []byte(fmt.Sprintf("data: %s\n", event.Data))...)
	}

	buf = append(buf, '\n')
	return buf
}
