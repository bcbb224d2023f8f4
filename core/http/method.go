package http

// Method is a recognized HTTP request method. Anything outside the
// recognized set parses as MethodUnknown and is rejected with 405 by
// the dispatcher rather than at parse time.
type Method uint8

const (
	MethodUnknown Method = iota
	MethodGet
	MethodPost
	MethodHead
	MethodPut
)

// String returns the method token, or "unknown" for MethodUnknown.
func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodPost:
		return "POST"
	case MethodHead:
		return "HEAD"
	case MethodPut:
		return "PUT"
	default:
		return "unknown"
	}
}

// MethodFromString maps a method name to a Method, for frontends that
// hand over requests already decoded.
func MethodFromString(s string) Method {
	switch s {
	case "GET":
		return MethodGet
	case "POST":
		return MethodPost
	case "HEAD":
		return MethodHead
	case "PUT":
		return MethodPut
	default:
		return MethodUnknown
	}
}

// parseMethod maps a request-line token to a Method without allocating.
func parseMethod(token []byte) Method {
	switch len(token) {
	case 3:
		if token[0] == 'G' && token[1] == 'E' && token[2] == 'T' {
			return MethodGet
		}
		if token[0] == 'P' && token[1] == 'U' && token[2] == 'T' {
			return MethodPut
		}
	case 4:
		if token[0] == 'P' && token[1] == 'O' && token[2] == 'S' && token[3] == 'T' {
			return MethodPost
		}
		if token[0] == 'H' && token[1] == 'E' && token[2] == 'A' && token[3] == 'D' {
			return MethodHead
		}
	}
	return MethodUnknown
}
