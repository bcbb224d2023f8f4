package protocol

import (
	"errors"

	json "github.com/goccy/go-json"
)

// JSON-RPC 2.0 specification: https://www.jsonrpc.org/specification

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrMethodNotFound = errors.New("method not found")
	ErrInvalidParams  = errors.New("invalid params")
	ErrInternalError  = errors.New("internal error")
)

// JSONRPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// NullID is the id used in error replies to requests whose own id never
// made it out of the parser.
var NullID = json.RawMessage("null")

// JSONRPCRequest represents a JSON-RPC 2.0 request. ID is kept raw so a
// request without an id field (a notification) can be told apart from
// one with "id": null.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"` // Must be "2.0"
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"` // Must be "2.0"
	Result  interface{}     `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// JSONRPCError represents a JSON-RPC 2.0 error
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error makes JSONRPCError usable as a Go error.
func (e *JSONRPCError) Error() string {
	return e.Message
}

// NewJSONRPCRequest creates a new JSON-RPC request
func NewJSONRPCRequest(method string, params interface{}, id interface{}) (*JSONRPCRequest, error) {
	var paramsData json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		paramsData = data
	}

	var idData json.RawMessage
	if id != nil {
		data, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		idData = data
	}

	return &JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  paramsData,
		ID:      idData,
	}, nil
}

// NewJSONRPCResponse creates a success response
func NewJSONRPCResponse(result interface{}, id json.RawMessage) *JSONRPCResponse {
	if id == nil {
		id = NullID
	}
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
}

// NewJSONRPCError creates an error response
func NewJSONRPCError(code int, message string, data interface{}, id json.RawMessage) *JSONRPCResponse {
	if id == nil {
		id = NullID
	}
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
}

// Validate validates the JSON-RPC request
func (r *JSONRPCRequest) Validate() error {
	if r.JSONRPC != "2.0" {
		return ErrInvalidRequest
	}
	if r.Method == "" {
		return ErrInvalidRequest
	}
	return nil
}

// IsNotification reports whether the request carries no id and so must
// not be answered.
func (r *JSONRPCRequest) IsNotification() bool {
	return len(r.ID) == 0
}

// ParseRequests decodes a request body that is either a single request
// object or a batch array. batch reports which form it was; an empty
// batch array is a parse-level error per the specification.
func ParseRequests(data []byte) (reqs []*JSONRPCRequest, batch bool, err error) {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '[':
			batch = true
		}
		break
	}

	if batch {
		if err := json.Unmarshal(data, &reqs); err != nil {
			return nil, true, err
		}
		if len(reqs) == 0 {
			return nil, true, ErrInvalidRequest
		}
		return reqs, true, nil
	}

	req := &JSONRPCRequest{}
	if err := json.Unmarshal(data, req); err != nil {
		return nil, false, err
	}
	return []*JSONRPCRequest{req}, false, nil
}
