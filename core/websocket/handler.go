package websocket

import (
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/searchktools/rpc-server/core/rpc/codec"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades HTTP requests into hub subscriptions. Clients pick
// their encoding with ?format=json or ?format=msgpack.
type Handler struct {
	hub    *Hub
	nextID atomic.Uint64
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{
		hub: hub,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := codec.ByName(r.URL.Query().Get("format"))
	if err != nil || c.Type() == codec.CodecProtobuf {
		// Notifications carry open-ended payloads, which protobuf
		// cannot encode without a schema.
		http.Error(w, "unsupported format", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Websocket upgrade failed: %v", err)
		return
	}

	client := NewClient(fmt.Sprintf("%s#%d", r.RemoteAddr, h.nextID.Add(1)), conn, c)
	if err := h.hub.Register(client); err != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server full")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go h.writePump(client)
	go h.readPump(client)
}

// readPump exists to surface disconnects and answer pings; the feed is
// one-way and inbound payloads are discarded.
func (h *Handler) readPump(client *Client) {
	defer h.hub.Unregister(client)

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Websocket client %s: %v", client.ID, err)
			}
			return
		}
	}
}

func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(client.messageType(), payload); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
