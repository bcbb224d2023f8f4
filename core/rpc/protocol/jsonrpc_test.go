package protocol

import (
	"strings"
	"testing"

	json "github.com/goccy/go-json"
)

func TestValidate(t *testing.T) {
	req := &JSONRPCRequest{JSONRPC: "2.0", Method: "uptime"}
	if err := req.Validate(); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}

	req = &JSONRPCRequest{JSONRPC: "1.0", Method: "uptime"}
	if err := req.Validate(); err != ErrInvalidRequest {
		t.Errorf("version 1.0: got %v, want ErrInvalidRequest", err)
	}

	req = &JSONRPCRequest{JSONRPC: "2.0"}
	if err := req.Validate(); err != ErrInvalidRequest {
		t.Errorf("missing method: got %v, want ErrInvalidRequest", err)
	}
}

func TestNotificationDetection(t *testing.T) {
	var withID, withNullID, without JSONRPCRequest

	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"m","id":7}`), &withID); err != nil {
		t.Fatal(err)
	}
	if withID.IsNotification() {
		t.Error("request with id detected as notification")
	}

	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"m","id":null}`), &withNullID); err != nil {
		t.Fatal(err)
	}
	if withNullID.IsNotification() {
		t.Error("request with null id detected as notification")
	}

	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"m"}`), &without); err != nil {
		t.Fatal(err)
	}
	if !without.IsNotification() {
		t.Error("request without id not detected as notification")
	}
}

func TestParseRequestsSingle(t *testing.T) {
	reqs, batch, err := ParseRequests([]byte(` {"jsonrpc":"2.0","method":"uptime","id":1}`))
	if err != nil {
		t.Fatalf("ParseRequests error: %v", err)
	}
	if batch {
		t.Error("single object reported as batch")
	}
	if len(reqs) != 1 || reqs[0].Method != "uptime" {
		t.Errorf("unexpected parse result: %+v", reqs)
	}
}

func TestParseRequestsBatch(t *testing.T) {
	body := `[{"jsonrpc":"2.0","method":"a","id":1},{"jsonrpc":"2.0","method":"b"}]`
	reqs, batch, err := ParseRequests([]byte(body))
	if err != nil {
		t.Fatalf("ParseRequests error: %v", err)
	}
	if !batch {
		t.Error("array not reported as batch")
	}
	if len(reqs) != 2 {
		t.Fatalf("got %d requests, want 2", len(reqs))
	}
	if reqs[0].IsNotification() || !reqs[1].IsNotification() {
		t.Error("notification flags wrong within batch")
	}
}

func TestParseRequestsEmptyBatch(t *testing.T) {
	_, batch, err := ParseRequests([]byte(`[]`))
	if !batch {
		t.Error("empty array not reported as batch")
	}
	if err != ErrInvalidRequest {
		t.Errorf("got %v, want ErrInvalidRequest", err)
	}
}

func TestParseRequestsGarbage(t *testing.T) {
	if _, _, err := ParseRequests([]byte(`{not json`)); err == nil {
		t.Error("garbage accepted")
	}
}

func TestErrorResponseShape(t *testing.T) {
	res := NewJSONRPCError(MethodNotFound, "Method not found", nil, nil)
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}

	s := string(data)
	if !strings.Contains(s, `"id":null`) {
		t.Errorf("error reply missing null id: %s", s)
	}
	if strings.Contains(s, `"result"`) {
		t.Errorf("error reply carries a result member: %s", s)
	}
	if !strings.Contains(s, `"code":-32601`) {
		t.Errorf("error reply missing code: %s", s)
	}
}

func TestRequestConstructor(t *testing.T) {
	req, err := NewJSONRPCRequest("getserverinfo", map[string]int{"depth": 3}, 42)
	if err != nil {
		t.Fatal(err)
	}
	if err := req.Validate(); err != nil {
		t.Errorf("constructed request invalid: %v", err)
	}
	if string(req.ID) != "42" {
		t.Errorf("ID = %s, want 42", req.ID)
	}
	if req.IsNotification() {
		t.Error("request with id reported as notification")
	}
}
