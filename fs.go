package evhttp

import (
	"fmt"
	"html"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	pbytes "github.com/newacorn/goutils/bytes"
	"github.com/pkg/errors"
)

// serveStatic answers GET and HEAD for pol.ResolvedPath.
func (d *FileDispatcher) serveStatic(req *RequestView, pol *Policy) *Response {
	path := pol.ResolvedPath
	fi, err := os.Stat(path)
	if err != nil {
		return d.errorForFS(err, pol)
	}
	if fi.IsDir() {
		if !strings.HasSuffix(req.URI, "/") {
			loc := req.URI + "/"
			if req.Query != "" {
				loc += "?" + req.Query
			}
			resp := ErrorResponse(StatusMovedPermanently, pol)
			resp.SetHeader(HeaderLocation, loc)
			return resp
		}
		for _, idx := range pol.IndexFiles {
			p := filepath.Join(path, idx)
			ifi, err := os.Stat(p)
			if err == nil && ifi.Mode().IsRegular() {
				return d.serveFile(req, pol, p, ifi)
			}
		}
		if pol.Autoindex {
			body, err := createDirIndex(req.URI, path)
			if err != nil {
				d.Logger.Error().Err(err).Str("path", path).Msg("cannot generate directory index")
				return d.errorForFS(err, pol)
			}
			resp := NewResponse(StatusOK, defaultContentType, body)
			resp.SkipBody = req.IsHead()
			return resp
		}
		return ErrorResponse(StatusForbidden, pol)
	}
	if !fi.Mode().IsRegular() {
		return ErrorResponse(StatusForbidden, pol)
	}
	return d.serveFile(req, pol, path, fi)
}

func (d *FileDispatcher) serveFile(req *RequestView, pol *Policy, path string, fi fs.FileInfo) *Response {
	lastModified := fi.ModTime().UTC().Truncate(time.Second)
	if ims := req.Header.Get(HeaderIfModifiedSince); ims != "" {
		if t, err := ParseHTTPDate([]byte(ims)); err == nil && !lastModified.After(t) {
			resp := &Response{StatusCode: StatusNotModified}
			resp.SetHeader(HeaderLastModified, string(AppendHTTPDate(nil, lastModified)))
			return resp
		}
	}
	body, err := os.ReadFile(path)
	if err != nil {
		d.Logger.Warn().Err(err).Str("path", path).Msg("cannot read file")
		return d.errorForFS(err, pol)
	}
	resp := NewResponse(StatusOK, contentTypeByPath(path), body)
	resp.SetHeader(HeaderLastModified, string(AppendHTTPDate(nil, lastModified)))
	if d.Compress {
		level := d.CompressLevel
		if level == 0 {
			level = CompressDefaultCompression
		}
		if _, err = compressResponse(resp, req.Header.Get(HeaderAcceptEncoding), d.CompressMinSize, level); err != nil {
			d.Logger.Warn().Err(err).Str("path", path).Msg("cannot compress response, serving identity")
		}
	}
	resp.SkipBody = req.IsHead()
	return resp
}

func (d *FileDispatcher) errorForFS(err error, pol *Policy) *Response {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrorResponse(StatusNotFound, pol)
	case errors.Is(err, fs.ErrPermission):
		return ErrorResponse(StatusForbidden, pol)
	}
	return ErrorResponse(StatusInternalServerError, pol)
}

func contentTypeByPath(path string) string {
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		return octetStreamMIME
	}
	return ct
}

func fsModTime(t time.Time) time.Time {
	return t.In(time.UTC).Truncate(time.Second)
}

// createDirIndex renders an HTML listing of dirPath for the request path base.
func createDirIndex(base, dirPath string) ([]byte, error) {
	dirEntries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, errors.Wrapf(err, "handle dir: %s", dirPath)
	}
	buf := &pbytes.Buffer{}
	basePathEscaped := html.EscapeString(base)
	_, _ = fmt.Fprintf(buf, "<html><head><title>%s</title><style>.dir { font-weight: bold }</style></head><body>", basePathEscaped)
	_, _ = fmt.Fprintf(buf, "<h1>%s</h1>", basePathEscaped)
	_, _ = fmt.Fprintf(buf, "<ul>")

	if len(base) > 1 {
		parent := base[:strings.LastIndexByte(strings.TrimSuffix(base, "/"), '/')+1]
		_, _ = fmt.Fprintf(buf, `<li><a href="%s" class="dir">..</a></li>`, html.EscapeString(parent))
	}

	fm := make(map[string]fs.FileInfo, len(dirEntries))
	filenames := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		fi, err := de.Info()
		if err != nil {
			continue
		}
		fm[de.Name()] = fi
		filenames = append(filenames, de.Name())
	}
	sort.Strings(filenames)
	for _, name := range filenames {
		fi := fm[name]
		href := base + (&url.URL{Path: name}).EscapedPath()
		auxStr := "dir"
		className := "dir"
		if fi.IsDir() {
			href += "/"
		} else {
			auxStr = fmt.Sprintf("file, %d bytes", fi.Size())
			className = "file"
		}
		_, _ = fmt.Fprintf(buf, `<li><a href="%s" class="%s">%s</a>, %s, last modified %s</li>`,
			html.EscapeString(href), className, html.EscapeString(name), auxStr, fsModTime(fi.ModTime()))
	}
	_, _ = fmt.Fprintf(buf, "</ul></body></html>")
	dirIndex := append([]byte(nil), buf.Bytes()...)
	buf.RecycleItems()
	return dirIndex, nil
}
