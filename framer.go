package evhttp

import (
	"bytes"
	"strings"
)

// FramingMode says how the end of a request body is determined.
type FramingMode uint8

const (
	FramingUndecided FramingMode = iota
	FramingNoBody
	FramingContentLength
	FramingChunked
	FramingMalformed
)

func (m FramingMode) String() string {
	switch m {
	case FramingNoBody:
		return "no-body"
	case FramingContentLength:
		return "content-length"
	case FramingChunked:
		return "chunked"
	case FramingMalformed:
		return "malformed"
	}
	return "undecided"
}

// FramingProgress is the result of one Feed call.
type FramingProgress uint8

const (
	// NeedMore means the buffer does not yet hold a complete message.
	NeedMore FramingProgress = iota
	// Complete means RequestDone is set; check BadRequest before dispatching.
	Complete
)

// RequestConfig carries per-request limits resolved once headers are known.
// Zero values keep the FramerConfig defaults.
type RequestConfig struct {
	MaxBodySize int64
}

// FramerConfig holds the limits shared by every message of a connection.
type FramerConfig struct {
	// MaxHeaderSize bounds the request line plus header block, including
	// stray CRLFs before it, and separately the chunked trailer block.
	// Requests above it are rejected with 431.
	MaxHeaderSize int

	// MaxBodySize bounds a request body when HeaderReceived does not
	// override it. A zero or negative value indicates no limit.
	MaxBodySize int64

	// HeaderReceived is called once per message right after its header block
	// is parsed and before any body byte is examined.
	HeaderReceived func(m *FramedMessage) RequestConfig
}

const defaultMaxHeaderSize = 8192

// FramedMessage assembles one HTTP request from a connection buffer.
//
// FramedMessage instance MUST NOT be used from concurrently running
// goroutines.
type FramedMessage struct {
	Method string
	RawURI string
	// Path is the decoded, dot-segment normalized path.
	Path   string
	Query  string
	Proto  string
	Header Header
	Body   []byte

	Mode          FramingMode
	ContentLength int64

	HeadersDone bool
	BodyDone    bool
	RequestDone bool
	BadRequest  bool

	// Status is the response status for a bad request.
	Status int
	Err    error

	cfg            *FramerConfig
	headerLen      int
	consumed       int
	maxBodySize    int64
	chunked        chunkedDecoder
	closeRequested bool
	expectContinue bool
}

// NewFramedMessage returns an empty message bound to cfg. A nil cfg uses
// default limits.
func NewFramedMessage(cfg *FramerConfig) *FramedMessage {
	m := &FramedMessage{}
	m.Reset(cfg)
	return m
}

// Reset prepares m for the next pipelined message.
func (m *FramedMessage) Reset(cfg *FramerConfig) {
	body := m.Body[:0]
	h := m.Header
	h.reset()
	*m = FramedMessage{Body: body, Header: h, cfg: cfg}
}

func (m *FramedMessage) maxHeaderSize() int {
	if m.cfg == nil || m.cfg.MaxHeaderSize <= 0 {
		return defaultMaxHeaderSize
	}
	return m.cfg.MaxHeaderSize
}

// Feed examines the accumulated connection buffer. It never blocks and may
// be called repeatedly with a growing buf. Once it returns Complete, consumed
// is the number of leading bytes of buf that belong to this message; the
// rest belongs to the next pipelined message.
func (m *FramedMessage) Feed(buf []byte) (consumed int, p FramingProgress) {
	if m.RequestDone {
		return m.consumed, Complete
	}
	if !m.HeadersDone {
		if !m.feedHeaders(buf) {
			return 0, NeedMore
		}
		if m.RequestDone {
			return m.consumed, Complete
		}
	}
	switch m.Mode {
	case FramingContentLength:
		avail := int64(len(buf) - m.headerLen)
		if avail < m.ContentLength {
			return 0, NeedMore
		}
		end := m.headerLen + int(m.ContentLength)
		m.Body = append(m.Body[:0], buf[m.headerLen:end]...)
		m.finish(end)
	case FramingChunked:
		var r chunkResult
		m.Body, r = m.chunked.decode(buf, m.Body, m.maxBodySize)
		switch r {
		case chunkNeedMore:
			return 0, NeedMore
		case chunkBroken:
			m.fail(ErrBrokenChunk, StatusBadRequest)
		case chunkTooLarge:
			m.fail(ErrBodyTooLarge, StatusRequestEntityTooLarge)
		case chunkOverhead:
			m.fail(ErrChunkOverhead, StatusBadRequest)
		case chunkTrailersTooLarge:
			m.fail(ErrHeaderTooLarge, StatusRequestHeaderFieldsTooLarge)
		case chunkDone:
			m.finish(m.chunked.pos)
		}
	default:
		m.finish(m.headerLen)
	}
	return m.consumed, Complete
}

// feedHeaders returns false while the header block is incomplete.
func (m *FramedMessage) feedHeaders(buf []byte) bool {
	// stray CRLFs before the request line count toward the header limit
	limit := m.maxHeaderSize()
	if len(buf) > limit {
		buf = buf[:limit+1]
	}
	skip := numLeadingCRorLF(buf)
	b := buf[skip:]
	n := bytes.Index(b, strCRLFCRLF)
	if n < 0 {
		if len(buf) > limit {
			m.fail(ErrHeaderTooLarge, StatusRequestHeaderFieldsTooLarge)
			return true
		}
		return false
	}
	if skip+n+4 > limit {
		m.fail(ErrHeaderTooLarge, StatusRequestHeaderFieldsTooLarge)
		return true
	}
	m.HeadersDone = true
	m.headerLen = skip + n + 4
	m.chunked.pos = m.headerLen
	m.chunked.maxMeta = limit

	head := b[:n]
	line := head
	var rest []byte
	if k := bytes.Index(head, strCRLF); k >= 0 {
		line, rest = head[:k], head[k+2:]
	}
	var err error
	if m.Method, m.RawURI, m.Proto, err = parseFirstLine(line); err != nil {
		m.fail(err, StatusBadRequest)
		return true
	}
	var rawPath string
	if rawPath, m.Query, err = splitRequestURI(m.RawURI); err != nil {
		m.fail(err, StatusBadRequest)
		return true
	}
	if m.Path, err = NormalizePath(rawPath); err != nil {
		m.fail(err, StatusBadRequest)
		return true
	}
	if err = parseHeaderLines(&m.Header, rest); err != nil {
		m.fail(err, StatusBadRequest)
		return true
	}
	if m.Proto == ProtoHTTP11 && !m.Header.Has(HeaderHost) {
		m.fail(ErrMissingHost, StatusBadRequest)
		return true
	}
	m.decideConnection()
	m.decideFraming()
	if m.BadRequest {
		return true
	}

	m.maxBodySize = 0
	if m.cfg != nil {
		m.maxBodySize = m.cfg.MaxBodySize
		if m.cfg.HeaderReceived != nil {
			if rc := m.cfg.HeaderReceived(m); rc.MaxBodySize > 0 {
				m.maxBodySize = rc.MaxBodySize
			}
		}
	}
	if m.Mode == FramingContentLength && m.maxBodySize > 0 && m.ContentLength > m.maxBodySize {
		m.fail(ErrBodyTooLarge, StatusRequestEntityTooLarge)
		return true
	}
	if m.Mode == FramingNoBody {
		m.finish(m.headerLen)
	}
	return true
}

func (m *FramedMessage) decideConnection() {
	v := m.Header.Get(HeaderConnection)
	if m.Proto == ProtoHTTP10 {
		m.closeRequested = !hasHeaderToken(v, string(strKeepAlive))
	} else {
		m.closeRequested = hasHeaderToken(v, string(strClose))
	}
	if m.Proto == ProtoHTTP11 && strings.EqualFold(m.Header.Get(HeaderExpect), "100-continue") {
		m.expectContinue = true
	}
}

// decideFraming applies RFC 7230 section 3.3.3: Transfer-Encoding wins over
// Content-Length.
func (m *FramedMessage) decideFraming() {
	if m.Header.Has(HeaderTransferEnc) {
		if !strings.EqualFold(m.Header.Get(HeaderTransferEnc), "chunked") {
			m.Mode = FramingMalformed
			m.fail(ErrUnsupportedTE, StatusBadRequest)
			return
		}
		m.Mode = FramingChunked
		m.ContentLength = -1
		return
	}
	if m.Header.Has(HeaderContentLength) {
		n, err := parseContentLength(m.Header.Get(HeaderContentLength))
		if err != nil {
			m.Mode = FramingMalformed
			m.fail(ErrContentLengthNotInt, StatusBadRequest)
			return
		}
		m.ContentLength = n
		if n == 0 {
			m.Mode = FramingNoBody
			return
		}
		m.Mode = FramingContentLength
		return
	}
	m.Mode = FramingNoBody
}

func (m *FramedMessage) finish(end int) {
	m.BodyDone = true
	m.RequestDone = true
	m.consumed = end
}

// fail marks the message as a bad request. No byte after this point is
// examined for this message.
func (m *FramedMessage) fail(err error, status int) {
	m.Err = err
	m.Status = status
	m.BadRequest = true
	m.RequestDone = true
	m.consumed = m.headerLen
	m.closeRequested = true
}

// ExpectsContinue reports whether the client waits for "100 Continue" before
// sending the body.
func (m *FramedMessage) ExpectsContinue() bool {
	return m.expectContinue && m.HeadersDone && !m.RequestDone
}

// WantsClose reports whether the connection must be closed after responding.
func (m *FramedMessage) WantsClose() bool { return m.closeRequested }

// Request returns the immutable view of a completed, well-formed message.
// It returns nil while the message is incomplete or bad.
func (m *FramedMessage) Request() *RequestView {
	if !m.RequestDone || m.BadRequest {
		return nil
	}
	rv := &RequestView{
		Method:  m.Method,
		URI:     m.Path,
		RawURI:  m.RawURI,
		Query:   m.Query,
		Proto:   m.Proto,
		Header:  m.Header,
		Body:    append([]byte(nil), m.Body...),
		Close:   m.closeRequested,
		chunked: m.Mode == FramingChunked,
	}
	// detach the header map from m so Reset cannot mutate the view
	m.Header = Header{}
	return rv
}
