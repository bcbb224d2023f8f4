package http

import (
	"errors"
	"log"
	"net/netip"
	"net/textproto"
	"strings"
	"sync"
	"time"
)

// Status codes the dispatcher and handlers reply with. StatusInternal
// doubles as the queue-overload and unhandled-request status.
const (
	StatusOK              = 200
	StatusBadRequest      = 400
	StatusForbidden       = 403
	StatusNotFound        = 404
	StatusBadMethod       = 405
	StatusBodyTooLarge    = 413
	StatusTooManyRequests = 429
	StatusHeadersTooBig   = 431
	StatusInternal        = 500
	StatusNotImplemented  = 501
	StatusUnavailable     = 503
)

// Presence bits for the predefined header fields
const (
	hdrContentType = 1 << iota
	hdrContentLength
	hdrUserAgent
	hdrAccept
	hdrHost
	hdrConnection
)

// HeaderField is one response header in write order.
type HeaderField struct {
	Key   string
	Value string
}

// Response is a finished reply as handed to a ReplySink. Status and
// body come from WriteReply, Fields from prior WriteHeader calls.
type Response struct {
	Status int
	Fields []HeaderField
	Body   []byte
}

// ReplySink receives a completed reply for delivery on whatever owns
// the connection. Implementations must not block the caller; workers
// call into the sink from their own goroutines.
type ReplySink interface {
	SendReply(req *Request, res *Response)
}

// Request is a parsed in-flight HTTP request. It is handed from the
// connection owner to a worker and must be answered exactly once:
// WriteReply panics on a second call, and Finish supplies a 500 when a
// handler returns without replying at all.
type Request struct {
	method   Method
	uri      string
	proto    string
	route    string
	peer     netip.AddrPort
	received time.Time

	// Predefined common header fields (zero-allocation), with presence
	// bits so an empty value still reads as present
	contentType   string
	contentLength string
	userAgent     string
	accept        string
	host          string
	connection    string
	present       uint8

	// Extra headers (allocated only when needed)
	extraHeaders map[string]string

	body      []byte
	bodyTaken bool

	sink       ReplySink
	replySent  bool
	respFields []HeaderField
}

var requestPool = sync.Pool{
	New: func() any {
		return &Request{
			body: make([]byte, 0, 1024),
		}
	},
}

// AcquireRequest takes a reset Request from the pool.
func AcquireRequest() *Request {
	return requestPool.Get().(*Request)
}

// ReleaseRequest returns req to the pool. Only the connection owner may
// call this, and only after the reply has been delivered or dropped.
func ReleaseRequest(req *Request) {
	req.Reset()
	requestPool.Put(req)
}

// BuildRequest assembles a request outside the wire parser, for
// frontends that hand over already-decoded requests. The body is
// copied.
func BuildRequest(method Method, uri, proto string, headers map[string]string, body []byte) *Request {
	req := AcquireRequest()
	req.method = method
	req.uri = uri
	req.proto = proto
	for k, v := range headers {
		req.setHeader(k, v)
	}
	req.body = append(req.body[:0], body...)
	return req
}

// Reset clears the request for reuse without freeing its buffers.
func (r *Request) Reset() {
	r.method = MethodUnknown
	r.uri = ""
	r.proto = ""
	r.route = ""
	r.peer = netip.AddrPort{}
	r.received = time.Time{}

	r.contentType = ""
	r.contentLength = ""
	r.userAgent = ""
	r.accept = ""
	r.host = ""
	r.connection = ""
	r.present = 0

	if r.extraHeaders != nil {
		for k := range r.extraHeaders {
			delete(r.extraHeaders, k)
		}
	}

	r.body = r.body[:0]
	r.bodyTaken = false

	r.sink = nil
	r.replySent = false
	r.respFields = r.respFields[:0]
}

// Attach binds the request to its peer and reply sink. The connection
// owner calls this once after parsing, before dispatch.
func (r *Request) Attach(peer netip.AddrPort, sink ReplySink) {
	r.peer = peer
	r.sink = sink
	r.received = time.Now()
}

// Method returns the request method; MethodUnknown for anything outside
// the recognized set.
func (r *Request) Method() Method { return r.method }

// SetRoute records which registered path prefix matched the request.
// The dispatcher sets it; metrics key on it.
func (r *Request) SetRoute(route string) { r.route = route }

// Route returns the matched path prefix, or "" before dispatch.
func (r *Request) Route() string { return r.route }

// URI returns the request URI as received, query string included.
func (r *Request) URI() string { return r.uri }

// Proto returns the protocol token from the request line.
func (r *Request) Proto() string { return r.proto }

// Peer returns the client address.
func (r *Request) Peer() netip.AddrPort { return r.peer }

// Received returns when the request was handed off for dispatch.
func (r *Request) Received() time.Time { return r.received }

// Header looks up a request header by name, case-insensitively. ok is
// false when the header was not present, distinguishing absent from
// empty.
func (r *Request) Header(key string) (value string, ok bool) {
	key = textproto.CanonicalMIMEHeaderKey(key)
	switch key {
	case "Content-Type":
		return r.contentType, r.present&hdrContentType != 0
	case "Content-Length":
		return r.contentLength, r.present&hdrContentLength != 0
	case "User-Agent":
		return r.userAgent, r.present&hdrUserAgent != 0
	case "Accept":
		return r.accept, r.present&hdrAccept != 0
	case "Host":
		return r.host, r.present&hdrHost != 0
	case "Connection":
		return r.connection, r.present&hdrConnection != 0
	}
	if r.extraHeaders != nil {
		value, ok = r.extraHeaders[key]
	}
	return value, ok
}

// setHeader stores a parsed header under its canonical name, preferring
// the predefined fields. Clients are free to case header names however
// they like; lookups must not care.
func (r *Request) setHeader(key, value string) {
	key = textproto.CanonicalMIMEHeaderKey(key)
	switch key {
	case "Content-Type":
		r.contentType = value
		r.present |= hdrContentType
	case "Content-Length":
		r.contentLength = value
		r.present |= hdrContentLength
	case "User-Agent":
		r.userAgent = value
		r.present |= hdrUserAgent
	case "Accept":
		r.accept = value
		r.present |= hdrAccept
	case "Host":
		r.host = value
		r.present |= hdrHost
	case "Connection":
		r.connection = value
		r.present |= hdrConnection
	default:
		if r.extraHeaders == nil {
			r.extraHeaders = make(map[string]string)
		}
		r.extraHeaders[key] = value
	}
}

// ReadBody drains the request body. The first call returns it, every
// later call returns nil.
func (r *Request) ReadBody() []byte {
	if r.bodyTaken {
		return nil
	}
	r.bodyTaken = true
	if len(r.body) == 0 {
		return nil
	}
	return r.body
}

// WriteHeader adds a response header for the eventual reply. Must be
// called before WriteReply.
func (r *Request) WriteHeader(key, value string) {
	r.respFields = append(r.respFields, HeaderField{Key: key, Value: value})
}

// ErrDoubleReply is the panic value of a second WriteReply on the same
// request. Recovery wrappers that turn handler panics into 500s must
// re-panic on it: answering twice is a bug in the server, not in the
// handler, and gets no soft landing.
var ErrDoubleReply = errors.New("http: reply already sent for this request")

// WriteReply finalizes the reply and hands it to the sink. The caller
// gives up the body slice and the request itself: neither may be
// touched afterwards. Calling WriteReply twice is a programming error
// and panics with ErrDoubleReply.
func (r *Request) WriteReply(status int, body []byte) {
	if r.replySent {
		panic(ErrDoubleReply)
	}
	if r.sink == nil {
		panic("http: WriteReply on a request with no reply sink")
	}
	r.replySent = true

	res := &Response{
		Status: status,
		Body:   body,
	}
	if len(r.respFields) > 0 {
		res.Fields = append(res.Fields, r.respFields...)
	}
	r.sink.SendReply(r, res)
}

// ReplySent reports whether a reply has been handed off.
func (r *Request) ReplySent() bool { return r.replySent }

// Finish is the safety net run after a handler returns or panics: a
// request nobody answered gets a 500 so the client is not left hanging.
func (r *Request) Finish() {
	if r.replySent {
		return
	}
	log.Printf("Unhandled request from %s: %s %s", r.peer, r.method, r.uri)
	r.WriteReply(StatusInternal, []byte("Unhandled request"))
}

// KeepAlive reports whether the connection should stay open after this
// request, from the protocol version and Connection header.
func (r *Request) KeepAlive() bool {
	if r.proto == "HTTP/1.1" {
		return !strings.EqualFold(r.connection, "close")
	}
	return strings.EqualFold(r.connection, "keep-alive")
}
