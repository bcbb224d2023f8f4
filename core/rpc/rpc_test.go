package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	chttp "github.com/searchktools/rpc-server/core/http"
	"github.com/searchktools/rpc-server/core/rpc/protocol"
)

type recordSink struct {
	replies chan *chttp.Response
}

func newRecordSink() *recordSink {
	return &recordSink{replies: make(chan *chttp.Response, 16)}
}

func (rs *recordSink) SendReply(req *chttp.Request, res *chttp.Response) {
	rs.replies <- res
}

// post feeds one JSON-RPC body through the handler and returns the
// reply it produced.
func post(t *testing.T, svc *Service, body string) *chttp.Response {
	t.Helper()
	raw := fmt.Sprintf("POST /rpc HTTP/1.1\r\nHost: test\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
	return roundTrip(t, svc, raw)
}

func roundTrip(t *testing.T, svc *Service, raw string) *chttp.Response {
	t.Helper()

	req, _, err := chttp.Parse([]byte(raw), 32<<20)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	sink := newRecordSink()
	req.Attach(netip.MustParseAddrPort("127.0.0.1:40000"), sink)
	svc.Handler()(req, "")

	select {
	case res := <-sink.replies:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for a reply")
		return nil
	}
}

func decodeResponse(t *testing.T, res *chttp.Response) *protocol.JSONRPCResponse {
	t.Helper()
	out := &protocol.JSONRPCResponse{}
	if err := json.Unmarshal(res.Body, out); err != nil {
		t.Fatalf("Bad JSONRPC reply %q: %v", res.Body, err)
	}
	return out
}

func TestUptime(t *testing.T) {
	svc := NewService(Options{})

	res := post(t, svc, `{"jsonrpc":"2.0","method":"uptime","id":1}`)
	if res.Status != chttp.StatusOK {
		t.Fatalf("status = %d, want 200", res.Status)
	}

	out := decodeResponse(t, res)
	if out.Error != nil {
		t.Fatalf("unexpected error: %+v", out.Error)
	}
	secs, ok := out.Result.(float64)
	if !ok || secs < 0 {
		t.Errorf("uptime result = %v", out.Result)
	}
	if string(out.ID) != "1" {
		t.Errorf("id = %s, want 1", out.ID)
	}
}

func TestQualifiedMethodName(t *testing.T) {
	svc := NewService(Options{})

	res := post(t, svc, `{"jsonrpc":"2.0","method":"server.uptime","id":"q"}`)
	out := decodeResponse(t, res)
	if out.Error != nil {
		t.Fatalf("qualified name failed: %+v", out.Error)
	}
	if string(out.ID) != `"q"` {
		t.Errorf("id = %s, want \"q\"", out.ID)
	}
}

func TestOnlyPost(t *testing.T) {
	svc := NewService(Options{})

	res := roundTrip(t, svc, "GET /rpc HTTP/1.1\r\nHost: test\r\n\r\n")
	if res.Status != chttp.StatusBadMethod {
		t.Errorf("status = %d, want 405", res.Status)
	}
	if string(res.Body) != "JSONRPC server handles only POST requests" {
		t.Errorf("body = %q", res.Body)
	}
}

func TestMethodNotFound(t *testing.T) {
	svc := NewService(Options{})

	res := post(t, svc, `{"jsonrpc":"2.0","method":"nosuch","id":2}`)
	if res.Status != chttp.StatusNotFound {
		t.Errorf("status = %d, want 404", res.Status)
	}
	out := decodeResponse(t, res)
	if out.Error == nil || out.Error.Code != protocol.MethodNotFound {
		t.Errorf("error = %+v, want code %d", out.Error, protocol.MethodNotFound)
	}
}

func TestInvalidVersion(t *testing.T) {
	svc := NewService(Options{})

	res := post(t, svc, `{"jsonrpc":"1.0","method":"uptime","id":3}`)
	if res.Status != chttp.StatusBadRequest {
		t.Errorf("status = %d, want 400", res.Status)
	}
	out := decodeResponse(t, res)
	if out.Error == nil || out.Error.Code != protocol.InvalidRequest {
		t.Errorf("error = %+v, want code %d", out.Error, protocol.InvalidRequest)
	}
}

func TestParseError(t *testing.T) {
	svc := NewService(Options{})

	res := post(t, svc, `{this is not json`)
	if res.Status != chttp.StatusInternal {
		t.Errorf("status = %d, want 500", res.Status)
	}
	out := decodeResponse(t, res)
	if out.Error == nil || out.Error.Code != protocol.ParseError {
		t.Errorf("error = %+v, want code %d", out.Error, protocol.ParseError)
	}
	if string(out.ID) != "null" {
		t.Errorf("id = %s, want null", out.ID)
	}
}

func TestBatch(t *testing.T) {
	svc := NewService(Options{})

	body := `[{"jsonrpc":"2.0","method":"uptime","id":1},` +
		`{"jsonrpc":"2.0","method":"listmethods","id":2},` +
		`{"jsonrpc":"2.0","method":"uptime"}]`
	res := post(t, svc, body)
	if res.Status != chttp.StatusOK {
		t.Fatalf("status = %d, want 200", res.Status)
	}

	var out []*protocol.JSONRPCResponse
	if err := json.Unmarshal(res.Body, &out); err != nil {
		t.Fatalf("bad batch reply %q: %v", res.Body, err)
	}
	// The notification contributes no response.
	if len(out) != 2 {
		t.Fatalf("got %d responses, want 2", len(out))
	}
	for _, r := range out {
		if r.Error != nil {
			t.Errorf("batch member failed: %+v", r.Error)
		}
	}
}

func TestNotificationOnly(t *testing.T) {
	svc := NewService(Options{})

	res := post(t, svc, `{"jsonrpc":"2.0","method":"uptime"}`)
	if res.Status != chttp.StatusOK {
		t.Errorf("status = %d, want 200", res.Status)
	}
	if len(res.Body) != 0 {
		t.Errorf("notification got a body: %q", res.Body)
	}
}

type mathService struct{}

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

type addReply struct {
	Sum int `json:"sum"`
}

func (m *mathService) Add(ctx context.Context, args *addArgs) (*addReply, error) {
	return &addReply{Sum: args.A + args.B}, nil
}

func (m *mathService) Explode(ctx context.Context, args *addArgs) (*addReply, error) {
	return nil, errors.New("arithmetic meltdown")
}

func TestCustomService(t *testing.T) {
	svc := NewService(Options{})
	if err := svc.Register("math", &mathService{}); err != nil {
		t.Fatal(err)
	}

	res := post(t, svc, `{"jsonrpc":"2.0","method":"math.add","params":{"a":19,"b":23},"id":9}`)
	out := decodeResponse(t, res)
	if out.Error != nil {
		t.Fatalf("unexpected error: %+v", out.Error)
	}

	sum := out.Result.(map[string]interface{})["sum"].(float64)
	if sum != 42 {
		t.Errorf("sum = %v, want 42", sum)
	}
}

func TestMethodErrorIsInternal(t *testing.T) {
	svc := NewService(Options{})
	if err := svc.Register("math", &mathService{}); err != nil {
		t.Fatal(err)
	}

	res := post(t, svc, `{"jsonrpc":"2.0","method":"math.explode","id":1}`)
	if res.Status != chttp.StatusInternal {
		t.Errorf("status = %d, want 500", res.Status)
	}
	out := decodeResponse(t, res)
	if out.Error == nil || out.Error.Code != protocol.InternalError {
		t.Fatalf("error = %+v, want code %d", out.Error, protocol.InternalError)
	}
	if out.Error.Message != "arithmetic meltdown" {
		t.Errorf("message = %q", out.Error.Message)
	}
}

func TestInvalidParams(t *testing.T) {
	svc := NewService(Options{})
	if err := svc.Register("math", &mathService{}); err != nil {
		t.Fatal(err)
	}

	res := post(t, svc, `{"jsonrpc":"2.0","method":"math.add","params":{"a":"one"},"id":1}`)
	if res.Status != chttp.StatusInternal {
		t.Errorf("status = %d, want 500", res.Status)
	}
	out := decodeResponse(t, res)
	if out.Error == nil || out.Error.Code != protocol.InvalidParams {
		t.Errorf("error = %+v, want code %d", out.Error, protocol.InvalidParams)
	}
}

func TestGetServerInfo(t *testing.T) {
	svc := NewService(Options{
		Version:   "1.2.3",
		StatsFunc: func() interface{} { return map[string]int{"queued": 7} },
	})

	res := post(t, svc, `{"jsonrpc":"2.0","method":"getserverinfo","id":1}`)
	out := decodeResponse(t, res)
	if out.Error != nil {
		t.Fatalf("unexpected error: %+v", out.Error)
	}

	info := out.Result.(map[string]interface{})
	if info["version"] != "1.2.3" {
		t.Errorf("version = %v", info["version"])
	}
	stats, ok := info["stats"].(map[string]interface{})
	if !ok || stats["queued"].(float64) != 7 {
		t.Errorf("stats = %v", info["stats"])
	}
}

func TestListMethods(t *testing.T) {
	svc := NewService(Options{})

	res := post(t, svc, `{"jsonrpc":"2.0","method":"listmethods","id":1}`)
	out := decodeResponse(t, res)
	if out.Error != nil {
		t.Fatalf("unexpected error: %+v", out.Error)
	}

	data, _ := json.Marshal(out.Result)
	for _, want := range []string{"uptime", "getserverinfo", "stop", "listmethods"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("listmethods result missing %q: %s", want, data)
		}
	}
}

func TestStop(t *testing.T) {
	stopped := make(chan struct{})
	svc := NewService(Options{OnStop: func() { close(stopped) }})

	res := post(t, svc, `{"jsonrpc":"2.0","method":"stop","id":1}`)
	out := decodeResponse(t, res)
	if out.Error != nil {
		t.Fatalf("unexpected error: %+v", out.Error)
	}
	if out.Result != "server stopping" {
		t.Errorf("result = %v", out.Result)
	}

	// The callback fires after the reply, not before.
	select {
	case <-stopped:
		t.Fatal("stop callback ran before the grace delay")
	default:
	}

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop callback never ran")
	}

	// A second stop must not arm the callback again.
	res = post(t, svc, `{"jsonrpc":"2.0","method":"stop","id":2}`)
	if out := decodeResponse(t, res); out.Error != nil {
		t.Errorf("second stop failed: %+v", out.Error)
	}
}
