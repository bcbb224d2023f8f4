package websocket

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	json "github.com/goccy/go-json"
)

// startHub brings up a hub behind an httptest server and returns the
// ws:// URL to dial.
func startHub(t *testing.T, maxClients int) (*Hub, string) {
	t.Helper()

	hub := NewHub(maxClients)
	t.Cleanup(hub.Stop)

	ts := httptest.NewServer(NewHandler(hub))
	t.Cleanup(ts.Close)

	return hub, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dialHub(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() < want {
		if time.Now().After(deadline) {
			t.Fatalf("hub has %d clients, want %d", hub.ClientCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNotifyJSON(t *testing.T) {
	hub, url := startHub(t, 100)
	conn := dialHub(t, url)
	waitForClients(t, hub, 1)

	hub.Notify("overload", map[string]int{"depth": 16})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Errorf("message type = %d, want text", msgType)
	}

	var note Notification
	if err := json.Unmarshal(payload, &note); err != nil {
		t.Fatalf("bad payload %q: %v", payload, err)
	}
	if note.Type != "overload" {
		t.Errorf("type = %q", note.Type)
	}
	if note.Time == 0 {
		t.Error("timestamp missing")
	}
	if note.Data.(map[string]interface{})["depth"].(float64) != 16 {
		t.Errorf("data = %v", note.Data)
	}
}

func TestNotifyMsgPack(t *testing.T) {
	hub, url := startHub(t, 100)
	conn := dialHub(t, url+"?format=msgpack")
	waitForClients(t, hub, 1)

	hub.Notify("stats", map[string]int{"queued": 3})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Errorf("message type = %d, want binary", msgType)
	}

	var note Notification
	if err := msgpack.Unmarshal(payload, &note); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if note.Type != "stats" {
		t.Errorf("type = %q", note.Type)
	}
}

func TestMixedEncodings(t *testing.T) {
	hub, url := startHub(t, 100)
	jsonConn := dialHub(t, url)
	mpConn := dialHub(t, url+"?format=msgpack")
	waitForClients(t, hub, 2)

	hub.Notify("ping", nil)

	jsonConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, _, err := jsonConn.ReadMessage()
	if err != nil || msgType != websocket.TextMessage {
		t.Errorf("json client: type %d, err %v", msgType, err)
	}

	mpConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, _, err = mpConn.ReadMessage()
	if err != nil || msgType != websocket.BinaryMessage {
		t.Errorf("msgpack client: type %d, err %v", msgType, err)
	}
}

func TestUnsupportedFormat(t *testing.T) {
	_, url := startHub(t, 100)

	_, res, err := websocket.DefaultDialer.Dial(url+"?format=xml", nil)
	if err == nil {
		t.Fatal("dial with bad format succeeded")
	}
	if res == nil || res.StatusCode != 400 {
		t.Errorf("response = %+v, want 400", res)
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	hub, url := startHub(t, 100)
	conn := dialHub(t, url)
	waitForClients(t, hub, 1)

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never unregistered after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubStats(t *testing.T) {
	hub, url := startHub(t, 100)
	conn := dialHub(t, url)
	waitForClients(t, hub, 1)

	hub.Notify("x", nil)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatal(err)
	}

	stats := hub.Stats()
	if stats["current_clients"].(int) != 1 {
		t.Errorf("current_clients = %v", stats["current_clients"])
	}
	if stats["messages_sent"].(int64) < 1 {
		t.Errorf("messages_sent = %v", stats["messages_sent"])
	}
}
