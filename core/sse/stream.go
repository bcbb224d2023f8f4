package sse

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Stream is a namespaced event feed over a broker. Every event gets a
// monotonically increasing id so clients can spot gaps.
type Stream struct {
	broker    *Broker
	eventID   atomic.Uint64
	namespace string
}

func NewStream(namespace string) *Stream {
	return &Stream{
		broker:    NewBroker(10000, 30*time.Second),
		namespace: namespace,
	}
}

// WithBroker swaps in a shared broker, for streams that should fan out
// together.
func (s *Stream) WithBroker(broker *Broker) *Stream {
	s.broker = broker
	return s
}

func (s *Stream) Subscribe(clientID string) (*Client, error) {
	client := NewClient(clientID, 100)
	err := s.broker.Register(client)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (s *Stream) Unsubscribe(client *Client) {
	s.broker.Unregister(client)
}

func (s *Stream) Send(eventType, data string) {
	id := s.eventID.Add(1)
	s.broker.Publish(&Event{
		ID:    fmt.Sprintf("%s-%d", s.namespace, id),
		Event: eventType,
		Data:  data,
	})
}

func (s *Stream) Broadcast(message string) {
	s.Send("message", message)
}

func (s *Stream) ClientCount() int {
	return s.broker.ClientCount()
}

// Stop tears down the underlying broker.
func (s *Stream) Stop() {
	s.broker.Stop()
}

func (s *Stream) Stats() map[string]interface{} {
	stats := s.broker.Stats()
	stats["namespace"] = s.namespace
	stats["event_id"] = s.eventID.Load()
	return stats
}
