package evhttp

import (
	"github.com/pkg/errors"
)

// Framing errors. They are carried on FramedMessage.Err and never returned
// across the reactor loop.
var (
	ErrUnsupportedMethod   = newParseError("unsupported method")
	ErrUnsupportedVersion  = newParseError("unsupported HTTP version")
	ErrMalformedFirstLine  = newParseError("malformed request line")
	ErrNonAbsoluteURI      = newParseError("request uri is not absolute")
	ErrBadPercentEncoding  = newParseError("invalid percent-encoding in uri")
	ErrRootEscape          = newParseError("uri escapes the document root")
	ErrHeaderConflict      = newParseError("header repeated with a different value")
	ErrInvalidHeaderLine   = newParseError("malformed header line")
	ErrInvalidHeaderName   = newParseError("invalid header name")
	ErrInvalidHeaderValue  = newParseError("invalid header value")
	ErrMissingHost         = newParseError("missing Host header")
	ErrContentLengthNotInt = newParseError("Content-Length not int string")
	ErrUnsupportedTE       = newParseError("unsupported Transfer-Encoding")
	ErrBrokenChunk         = newParseError("broken chunked body")
	ErrChunkOverhead       = newParseError("chunk framing overhead exceeds the limit")
	ErrHeaderTooLarge      = newParseError("request header too large")
	ErrBodyTooLarge        = newParseError("request body too large")
)

// Reactor and CGI errors.
var (
	ErrInterpreterNotFound = errors.New("evhttp cgi: interpreter not found or not executable")
	ErrCGINoSeparator      = errors.New("evhttp cgi: output has no header/body separator")
	ErrCGINoContentType    = errors.New("evhttp cgi: output has no Content-Type")
	ErrCGIBadHeader        = errors.New("evhttp cgi: malformed output header")
	ErrCGIExitStatus       = errors.New("evhttp cgi: script exited with non-zero status")
	ErrCGITimeout          = errors.New("evhttp cgi: script exceeded its execution time")
	ErrCGIOutputTooLarge   = errors.New("evhttp cgi: script output exceeds the configured limit")
	ErrIdleTimeout         = errors.New("evhttp: connection idle timeout")
	ErrConcurrencyLimit    = errors.New("evhttp: cannot serve the connection because Server.Concurrency concurrent connections are served")
	ErrServerClosed        = errors.New("evhttp: server closed")
	ErrNoListeners         = errors.New("evhttp: no listening endpoints configured")
)

// ParseError describes why a framed message was rejected.
type ParseError struct {
	s string
}

func (e *ParseError) Error() string { return e.s }

func newParseError(what string) *ParseError {
	return &ParseError{s: "evhttp framer: " + what}
}

// IsParseError reports whether err (or its cause) came from the framer.
func IsParseError(err error) bool {
	_, ok := errors.Cause(err).(*ParseError)
	return ok
}
