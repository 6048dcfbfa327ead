package evhttp

import (
	"strconv"
	"strings"

	"github.com/valyala/bytebufferpool"
)

type headerKV struct {
	key   string
	value string
}

// Response is a fully buffered HTTP response.
//
// Response instance MUST NOT be used from concurrently running goroutines.
type Response struct {
	StatusCode int
	Body       []byte

	// SkipBody suppresses the body while keeping Content-Length, as for HEAD.
	SkipBody bool

	// ConnectionClose asks the reactor to close the connection once this
	// response has been flushed.
	ConnectionClose bool

	h []headerKV
}

// NewResponse returns a response with the given status, content type and body.
func NewResponse(statusCode int, contentType string, body []byte) *Response {
	resp := &Response{StatusCode: statusCode, Body: body}
	if contentType != "" {
		resp.SetHeader(HeaderContentType, contentType)
	}
	return resp
}

// SetHeader replaces every value of key.
func (resp *Response) SetHeader(key, value string) {
	for i := range resp.h {
		if strings.EqualFold(resp.h[i].key, key) {
			resp.h[i].value = value
			n := i + 1
			for j := i + 1; j < len(resp.h); j++ {
				if !strings.EqualFold(resp.h[j].key, key) {
					resp.h[n] = resp.h[j]
					n++
				}
			}
			resp.h = resp.h[:n]
			return
		}
	}
	resp.h = append(resp.h, headerKV{key: key, value: value})
}

// AddHeader appends key: value, keeping earlier values.
func (resp *Response) AddHeader(key, value string) {
	resp.h = append(resp.h, headerKV{key: key, value: value})
}

// Header returns the first value of key.
func (resp *Response) Header(key string) string {
	for _, kv := range resp.h {
		if strings.EqualFold(kv.key, key) {
			return kv.value
		}
	}
	return ""
}

// DelHeader removes every value of key.
func (resp *Response) DelHeader(key string) {
	n := 0
	for _, kv := range resp.h {
		if !strings.EqualFold(kv.key, key) {
			resp.h[n] = kv
			n++
		}
	}
	resp.h = resp.h[:n]
}

// VisitAll calls f for each header in insertion order.
func (resp *Response) VisitAll(f func(key, value string)) {
	for _, kv := range resp.h {
		f(kv.key, kv.value)
	}
}

// isManagedHeader reports headers the serializer always writes itself.
func isManagedHeader(key string) bool {
	return strings.EqualFold(key, HeaderContentLength) ||
		strings.EqualFold(key, HeaderConnection) ||
		strings.EqualFold(key, HeaderTransferEnc) ||
		strings.EqualFold(key, "Date")
}

// AppendBytes serializes resp into dst.
//
// serverName and date are the cached Server and Date values; keepAlive
// selects the Connection header.
func (resp *Response) AppendBytes(dst []byte, proto string, serverName string, date []byte, keepAlive bool) []byte {
	statusCode := resp.StatusCode
	if statusCode <= 0 {
		statusCode = StatusOK
	}
	if proto == "" {
		proto = ProtoHTTP11
	}
	dst = appendStatusLine(dst, proto, statusCode)
	dst = appendHeaderLine(dst, strServer, serverName)
	dst = append(dst, strDate...)
	dst = append(dst, strColonSpace...)
	dst = append(dst, date...)
	dst = append(dst, strCRLF...)
	for _, kv := range resp.h {
		if isManagedHeader(kv.key) {
			continue
		}
		dst = append(dst, kv.key...)
		dst = append(dst, strColonSpace...)
		dst = append(dst, kv.value...)
		dst = append(dst, strCRLF...)
	}
	if !bodyNotAllowedForStatus(statusCode) {
		dst = append(dst, strContentLength...)
		dst = append(dst, strColonSpace...)
		dst = strconv.AppendInt(dst, int64(len(resp.Body)), 10)
		dst = append(dst, strCRLF...)
	}
	if keepAlive {
		if proto == ProtoHTTP10 {
			dst = appendHeaderLine(dst, strConnection, string(strKeepAlive))
		}
	} else {
		dst = appendHeaderLine(dst, strConnection, string(strClose))
	}
	dst = append(dst, strCRLF...)
	if !resp.SkipBody && !bodyNotAllowedForStatus(statusCode) {
		dst = append(dst, resp.Body...)
	}
	return dst
}

// String returns the HTTP/1.1 serialization of resp, mainly for tests.
func (resp *Response) String() string {
	bb := bytebufferpool.Get()
	bb.B = resp.AppendBytes(bb.B, ProtoHTTP11, defaultServerName, AppendHTTPDate(nil, absoluteToUTC(absoluteNano())), !resp.ConnectionClose)
	s := bb.String()
	bytebufferpool.Put(bb)
	return s
}

func appendHeaderLine(dst, key []byte, value string) []byte {
	dst = append(dst, key...)
	dst = append(dst, strColonSpace...)
	dst = append(dst, value...)
	return append(dst, strCRLF...)
}
