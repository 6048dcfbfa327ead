package evhttp

// HTTP methods accepted by the framer.
const (
	MethodGet    = "GET"
	MethodHead   = "HEAD"
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodDelete = "DELETE"
)

const (
	ProtoHTTP10 = "HTTP/1.0"
	ProtoHTTP11 = "HTTP/1.1"
)

var (
	strHTTP10 = []byte(ProtoHTTP10)
	strHTTP11 = []byte(ProtoHTTP11)

	strColonSpace = []byte(": ")
	strClose      = []byte("close")
	strKeepAlive  = []byte("keep-alive")

	strServer        = []byte("Server")
	strDate          = []byte("Date")
	strContentLength = []byte("Content-Length")
	strConnection    = []byte("Connection")

	str100Continue = []byte("HTTP/1.1 100 Continue\r\n\r\n")
)

// Header names used by the dispatcher and CGI glue.
const (
	HeaderAllow           = "Allow"
	HeaderContentType     = "Content-Type"
	HeaderContentLength   = "Content-Length"
	HeaderContentEncoding = "Content-Encoding"
	HeaderLastModified    = "Last-Modified"
	HeaderLocation        = "Location"
	HeaderVary            = "Vary"
	HeaderAcceptEncoding  = "Accept-Encoding"
	HeaderIfModifiedSince = "If-Modified-Since"
	HeaderConnection      = "Connection"
	HeaderTransferEnc     = "Transfer-Encoding"
	HeaderHost            = "Host"
	HeaderExpect          = "Expect"
)

const (
	defaultContentType    = "text/html; charset=utf-8"
	plainTextContentType  = "text/plain; charset=utf-8"
	octetStreamMIME       = "application/octet-stream"
	defaultServerName     = "evhttp"
	defaultServerSoftware = "evhttp/1.0"
)
