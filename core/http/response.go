package http

// AppendResponse serializes res into buf and returns the extended
// buffer. head suppresses the body for HEAD replies while keeping the
// Content-Length of the full response. Content-Length and Connection
// are always written here; a Content-Type from the handler wins over
// the text/plain default.
func AppendResponse(buf []byte, res *Response, keepAlive, head bool) []byte {
	buf = append(buf, "HTTP/1.1 "...)
	buf = appendInt(buf, res.Status)
	buf = append(buf, ' ')
	buf = append(buf, StatusText(res.Status)...)
	buf = append(buf, "\r\n"...)

	hasType := false
	for _, f := range res.Fields {
		if f.Key == "Content-Type" {
			hasType = true
		}
		buf = append(buf, f.Key...)
		buf = append(buf, ": "...)
		buf = append(buf, f.Value...)
		buf = append(buf, "\r\n"...)
	}
	if !hasType && len(res.Body) > 0 {
		buf = append(buf, "Content-Type: text/plain\r\n"...)
	}

	buf = append(buf, "Content-Length: "...)
	buf = appendInt(buf, len(res.Body))
	buf = append(buf, "\r\n"...)

	if keepAlive {
		buf = append(buf, "Connection: keep-alive\r\n"...)
	} else {
		buf = append(buf, "Connection: close\r\n"...)
	}
	buf = append(buf, "\r\n"...)

	if !head {
		buf = append(buf, res.Body...)
	}
	return buf
}

// appendInt appends an integer to a byte slice
func appendInt(b []byte, i int) []byte {
	if i == 0 {
		return append(b, '0')
	}

	if i < 0 {
		b = append(b, '-')
		i = -i
	}

	// Calculate number of digits
	digits := 0
	tmp := i
	for tmp > 0 {
		digits++
		tmp /= 10
	}

	// Pre-allocate space
	start := len(b)
	for j := 0; j < digits; j++ {
		b = append(b, '0')
	}

	// Fill digits from right to left
	for j := digits - 1; j >= 0; j-- {
		b[start+j] = byte('0' + i%10)
		i /= 10
	}

	return b
}

// StatusText returns the HTTP status text for the given code.
func StatusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 204:
		return "No Content"
	case 400:
		return "Bad Request"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 413:
		return "Request Entity Too Large"
	case 429:
		return "Too Many Requests"
	case 431:
		return "Request Header Fields Too Large"
	case 500:
		return "Internal Server Error"
	case 501:
		return "Not Implemented"
	case 503:
		return "Service Unavailable"
	default:
		return "Unknown"
	}
}
