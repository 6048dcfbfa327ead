package evhttp

import (
	"net"
	"strconv"
	"strings"
)

// RequestView is a completed request handed to the dispatcher. It is never
// mutated after the framer builds it, except for the address fields the
// reactor fills in before dispatching.
type RequestView struct {
	Method string
	// URI is the normalized path.
	URI    string
	RawURI string
	Query  string
	Proto  string
	Header Header
	Body   []byte
	// Close is set when the client asked for the connection to be closed
	// after the response.
	Close bool

	// Endpoint is the listening address that accepted the connection.
	Endpoint   string
	RemoteAddr string

	chunked bool
}

// Host returns the Host header without a port.
func (r *RequestView) Host() string {
	h := r.Header.Get(HeaderHost)
	if host, _, err := net.SplitHostPort(h); err == nil {
		return host
	}
	return h
}

// ContentType returns the request Content-Type header.
func (r *RequestView) ContentType() string {
	return r.Header.Get(HeaderContentType)
}

// ContentLength returns the length of the decoded body.
func (r *RequestView) ContentLength() int {
	return len(r.Body)
}

// IsHead reports whether the request method is HEAD.
func (r *RequestView) IsHead() bool { return r.Method == MethodHead }

// Chunked reports whether the body arrived with chunked framing.
func (r *RequestView) Chunked() bool { return r.chunked }

// String returns a short description for logging.
func (r *RequestView) String() string {
	var sb strings.Builder
	sb.WriteString(r.Method)
	sb.WriteByte(' ')
	sb.WriteString(r.URI)
	if r.Query != "" {
		sb.WriteByte('?')
		sb.WriteString(r.Query)
	}
	sb.WriteByte(' ')
	sb.WriteString(r.Proto)
	if len(r.Body) > 0 {
		sb.WriteString(" body=")
		sb.WriteString(strconv.Itoa(len(r.Body)))
	}
	return sb.String()
}

// splitHostPort returns host and port of addr, tolerating a missing port.
func splitHostPort(addr string) (string, string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, ""
	}
	return host, port
}
