package http

import (
	"bytes"
	"errors"
	"strings"
)

var (
	ErrIncomplete          = errors.New("incomplete HTTP request")
	ErrInvalidRequest      = errors.New("invalid HTTP request")
	ErrHeadersTooLarge     = errors.New("request headers too large")
	ErrBodyTooLarge        = errors.New("request body exceeds limit")
	ErrUnsupportedEncoding = errors.New("transfer encoding not supported")
)

// MaxHeaderBytes bounds the request line plus all headers. Bodies are
// bounded separately by the server's configured limit.
const MaxHeaderBytes = 8 << 10

// Parse consumes one complete request from data and returns it with
// the number of bytes consumed, so callers can feed the remainder of a
// pipelined buffer back in. ErrIncomplete means nothing was consumed
// and more bytes are needed. Header and URI strings are copied out of
// data: the request stays valid after the caller reuses the buffer,
// which it will, since requests cross goroutines.
func Parse(data []byte, maxBody int) (*Request, int, error) {
	headerEnd := bytes.Index(data, []byte("\r\n\r\n"))
	sepLen := 4
	if headerEnd == -1 {
		headerEnd = bytes.Index(data, []byte("\n\n"))
		sepLen = 2
	}
	if headerEnd == -1 {
		if len(data) > MaxHeaderBytes {
			return nil, 0, ErrHeadersTooLarge
		}
		return nil, 0, ErrIncomplete
	}
	if headerEnd > MaxHeaderBytes {
		return nil, 0, ErrHeadersTooLarge
	}

	head := data[:headerEnd]

	// Request line
	lineEnd := bytes.IndexByte(head, '\n')
	line := head
	if lineEnd != -1 {
		line = head[:lineEnd]
	}
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}

	// METHOD URI PROTO
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 == -1 {
		return nil, 0, ErrInvalidRequest
	}
	sp2 := bytes.IndexByte(line[sp1+1:], ' ')
	if sp2 == -1 {
		return nil, 0, ErrInvalidRequest
	}
	sp2 += sp1 + 1

	uri := line[sp1+1 : sp2]
	if len(uri) == 0 || uri[0] != '/' {
		return nil, 0, ErrInvalidRequest
	}

	req := AcquireRequest()
	req.method = parseMethod(line[:sp1])
	req.uri = string(uri)
	req.proto = string(line[sp2+1:])

	if lineEnd != -1 {
		parseHeaders(req, head[lineEnd+1:])
	}

	if te, ok := req.Header("Transfer-Encoding"); ok && !strings.EqualFold(te, "identity") {
		ReleaseRequest(req)
		return nil, 0, ErrUnsupportedEncoding
	}

	contentLen := 0
	if cl, ok := req.Header("Content-Length"); ok {
		n, err := parseContentLength(cl)
		if err != nil {
			ReleaseRequest(req)
			return nil, 0, ErrInvalidRequest
		}
		contentLen = n
	}
	if maxBody > 0 && contentLen > maxBody {
		ReleaseRequest(req)
		return nil, 0, ErrBodyTooLarge
	}

	total := headerEnd + sepLen + contentLen
	if len(data) < total {
		ReleaseRequest(req)
		return nil, 0, ErrIncomplete
	}
	if contentLen > 0 {
		req.body = append(req.body[:0], data[headerEnd+sepLen:total]...)
	}

	return req, total, nil
}

// parseHeaders parses HTTP headers into the request fields.
func parseHeaders(req *Request, data []byte) {
	for len(data) > 0 {
		lineEnd := bytes.IndexByte(data, '\n')
		if lineEnd == -1 {
			lineEnd = len(data)
		}

		line := data[:lineEnd]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}

		if len(line) == 0 {
			break
		}

		colon := bytes.IndexByte(line, ':')
		if colon > 0 {
			key := string(bytes.TrimSpace(line[:colon]))
			value := string(bytes.TrimSpace(line[colon+1:]))
			req.setHeader(key, value)
		}

		if lineEnd == len(data) {
			break
		}
		data = data[lineEnd+1:]
	}
}

// parseContentLength rejects signs, spaces and overflow; the largest
// accepted value still fits comfortably in an int.
func parseContentLength(s string) (int, error) {
	if s == "" {
		return 0, ErrInvalidRequest
	}
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, ErrInvalidRequest
		}
		n = n*10 + int(c-'0')
		if n > 1<<31 {
			return 0, ErrInvalidRequest
		}
	}
	return n, nil
}
