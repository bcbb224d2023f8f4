package sse

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Handler streams events to net/http clients. Both the HTTP/1.1 and
// h2c paths of the standard server hand out flushable writers; anything
// else is turned away.
type Handler struct {
	stream *Stream
	nextID atomic.Uint64
}

func NewHandler(stream *Stream) *Handler {
	return &Handler{
		stream: stream,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fl, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	clientID := fmt.Sprintf("%s#%d", r.RemoteAddr, h.nextID.Add(1))
	client, err := h.stream.Subscribe(clientID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer h.stream.Unsubscribe(client)

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	connected := &Event{
		Event: "connected",
		Data:  fmt.Sprintf("client_id:%s", clientID),
	}
	if _, err := w.Write(FormatEvent(connected)); err != nil {
		return
	}
	fl.Flush()

	for {
		select {
		case event, ok := <-client.Channel:
			if !ok {
				return
			}
			if _, err := w.Write(FormatEvent(event)); err != nil {
				return
			}
			fl.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// NewNotificationEvent builds a titled notification event.
func NewNotificationEvent(title, body string) *Event {
	return &Event{
		Event: "notification",
		Data:  fmt.Sprintf(`{"title":%q,"body":%q}`, title, body),
	}
}

// NewHeartbeatEvent builds a heartbeat event carrying the current time.
func NewHeartbeatEvent() *Event {
	return &Event{
		Event: "heartbeat",
		Data:  fmt.Sprintf("timestamp:%d", time.Now().Unix()),
	}
}
