package evhttp

import (
	"io/fs"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// CGISpawn asks the reactor to run Script through Interpreter and use its
// output as the response.
type CGISpawn struct {
	Interpreter string
	Script      string
	Request     *RequestView
	Policy      *Policy
}

// Outcome is either a ready Response or a CGI spawn instruction.
type Outcome struct {
	Response *Response
	CGI      *CGISpawn
}

// Dispatcher turns a completed request and its policy into an Outcome.
// It is only called from the reactor goroutine.
type Dispatcher interface {
	Dispatch(req *RequestView, pol *Policy) Outcome
}

// DispatcherFunc adapts a plain function to Dispatcher.
type DispatcherFunc func(req *RequestView, pol *Policy) Outcome

// Dispatch implements Dispatcher.
func (f DispatcherFunc) Dispatch(req *RequestView, pol *Policy) Outcome { return f(req, pol) }

// FileDispatcher serves static files, directory listings, uploads, deletes
// and hands CGI scripts to the reactor.
type FileDispatcher struct {
	Logger zerolog.Logger

	// Compress enables br/zstd/gzip encoding of compressible static files.
	Compress bool
	// CompressMinSize is the smallest body that is compressed.
	// A zero or negative value indicates 1KiB.
	CompressMinSize int
	// CompressLevel is the gzip level. Zero means CompressDefaultCompression.
	CompressLevel int
}

// Dispatch implements Dispatcher.
func (d *FileDispatcher) Dispatch(req *RequestView, pol *Policy) Outcome {
	if r := pol.Redirection; r != nil {
		resp := ErrorResponse(r.StatusCode, pol)
		resp.SetHeader(HeaderLocation, r.URL)
		return Outcome{Response: resp}
	}
	if !pol.MethodAllowed(req.Method) {
		resp := ErrorResponse(StatusMethodNotAllowed, pol)
		resp.SetHeader(HeaderAllow, strings.Join(pol.AllowedMethods, ", "))
		return Outcome{Response: resp}
	}
	if pol.ClientMaxBodySize > 0 && int64(req.ContentLength()) > pol.ClientMaxBodySize {
		return Outcome{Response: ErrorResponse(StatusRequestEntityTooLarge, pol)}
	}
	if interp, ok := pol.Interpreter(pol.ResolvedPath); ok {
		fi, err := os.Stat(pol.ResolvedPath)
		if err != nil {
			return Outcome{Response: d.errorForFS(err, pol)}
		}
		if fi.Mode().IsRegular() {
			return Outcome{CGI: &CGISpawn{
				Interpreter: interp,
				Script:      pol.ResolvedPath,
				Request:     req,
				Policy:      pol,
			}}
		}
	}
	switch req.Method {
	case MethodGet, MethodHead:
		return Outcome{Response: d.serveStatic(req, pol)}
	case MethodPost, MethodPut:
		if pol.UploadStore == "" {
			return Outcome{Response: ErrorResponse(StatusMethodNotAllowed, pol)}
		}
		return Outcome{Response: d.handleUpload(req, pol)}
	case MethodDelete:
		return Outcome{Response: d.handleDelete(pol)}
	}
	return Outcome{Response: ErrorResponse(StatusNotImplemented, pol)}
}

func (d *FileDispatcher) handleDelete(pol *Policy) *Response {
	fi, err := os.Lstat(pol.ResolvedPath)
	if err != nil {
		return d.errorForFS(err, pol)
	}
	if fi.IsDir() {
		return ErrorResponse(StatusConflict, pol)
	}
	if err = os.Remove(pol.ResolvedPath); err != nil {
		d.Logger.Warn().Err(err).Str("path", pol.ResolvedPath).Msg("cannot delete file")
		if errors.Is(err, fs.ErrPermission) {
			return ErrorResponse(StatusForbidden, pol)
		}
		return ErrorResponse(StatusInternalServerError, pol)
	}
	return &Response{StatusCode: StatusNoContent}
}
