package evhttp

import (
	"bytes"
	"strings"

	"golang.org/x/net/http/httpguts"
)

const (
	rChar = byte('\r')
	nChar = byte('\n')
)

var (
	strCRLF     = []byte("\r\n")
	strCRLFCRLF = []byte("\r\n\r\n")
)

// Header is a request header map with first-write-wins semantics.
//
// Keys are matched case-insensitively; the spelling of the first occurrence
// is kept for iteration.
type Header struct {
	names  []string
	values map[string]string
}

// Get returns the value of the named header or "".
func (h *Header) Get(name string) string {
	if h.values == nil {
		return ""
	}
	return h.values[strings.ToLower(name)]
}

// Has reports whether the named header was received.
func (h *Header) Has(name string) bool {
	if h.values == nil {
		return false
	}
	_, ok := h.values[strings.ToLower(name)]
	return ok
}

// Len returns the number of distinct headers.
func (h *Header) Len() int { return len(h.names) }

// VisitAll calls f for each header in arrival order.
func (h *Header) VisitAll(f func(name, value string)) {
	for _, n := range h.names {
		f(n, h.values[strings.ToLower(n)])
	}
}

// Add records name: value. Repeating a header with an identical value is a
// no-op, a differing value is ErrHeaderConflict.
func (h *Header) Add(name, value string) error {
	if h.values == nil {
		h.values = make(map[string]string)
	}
	k := strings.ToLower(name)
	if old, ok := h.values[k]; ok {
		if old != value {
			return ErrHeaderConflict
		}
		return nil
	}
	h.values[k] = value
	h.names = append(h.names, name)
	return nil
}

func (h *Header) reset() {
	h.names = h.names[:0]
	for k := range h.values {
		delete(h.values, k)
	}
}

func isSupportedMethod(m string) bool {
	switch m {
	case MethodGet, MethodHead, MethodPost, MethodPut, MethodDelete:
		return true
	}
	return false
}

func numLeadingCRorLF(v []byte) (n int) {
	for _, b := range v {
		if b == rChar || b == nChar {
			n++
			continue
		}
		break
	}
	return
}

// parseFirstLine splits "METHOD SP request-target SP HTTP-version".
func parseFirstLine(b []byte) (method, uri, proto string, err error) {
	n1 := bytes.IndexByte(b, ' ')
	if n1 <= 0 {
		err = ErrMalformedFirstLine
		return
	}
	method = string(b[:n1])
	b = b[n1+1:]
	n1 = bytes.LastIndexByte(b, ' ')
	if n1 <= 0 {
		err = ErrMalformedFirstLine
		return
	}
	uri = string(b[:n1])
	protoB := b[n1+1:]
	if strings.IndexByte(uri, ' ') >= 0 {
		err = ErrMalformedFirstLine
		return
	}
	if !isSupportedMethod(method) {
		err = ErrUnsupportedMethod
		return
	}
	switch {
	case bytes.Equal(protoB, strHTTP11):
		proto = ProtoHTTP11
	case bytes.Equal(protoB, strHTTP10):
		proto = ProtoHTTP10
	default:
		err = ErrUnsupportedVersion
	}
	return
}

// parseHeaderLines parses the lines between the request line and the blank
// line. b must not contain the terminating empty line.
func parseHeaderLines(h *Header, b []byte) error {
	for len(b) > 0 {
		var line []byte
		if n := bytes.Index(b, strCRLF); n >= 0 {
			line, b = b[:n], b[n+2:]
		} else {
			line, b = b, nil
		}
		if len(line) == 0 {
			continue
		}
		// obs-fold is rejected as permitted by RFC 7230 section 3.2.4.
		if line[0] == ' ' || line[0] == '\t' {
			return ErrInvalidHeaderLine
		}
		n := bytes.IndexByte(line, ':')
		if n <= 0 {
			return ErrInvalidHeaderLine
		}
		name := string(line[:n])
		if !httpguts.ValidHeaderFieldName(name) {
			return ErrInvalidHeaderName
		}
		value := strings.Trim(string(line[n+1:]), " \t")
		if !httpguts.ValidHeaderFieldValue(value) {
			return ErrInvalidHeaderValue
		}
		if err := h.Add(name, value); err != nil {
			return err
		}
	}
	return nil
}

var errNonNumericChars = newParseError("non-numeric chars found")

func parseContentLength(s string) (int64, error) {
	if len(s) == 0 || len(s) > 18 {
		return -1, ErrContentLengthNotInt
	}
	var v int64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return -1, errNonNumericChars
		}
		v = v*10 + int64(c-'0')
	}
	return v, nil
}

// hasHeaderToken reports whether the comma separated list v contains token,
// compared case-insensitively.
func hasHeaderToken(v, token string) bool {
	for _, part := range strings.Split(v, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}
