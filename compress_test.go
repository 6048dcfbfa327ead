package evhttp

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/gookit/goutil/testutil/assert"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
)

func decompress(t *testing.T, enc string, b []byte) string {
	t.Helper()
	switch enc {
	case encodingBrotli:
		out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(b)))
		assert.NoErr(t, err)
		return string(out)
	case encodingZstd:
		d, err := zstd.NewReader(nil)
		assert.NoErr(t, err)
		defer d.Close()
		out, err := d.DecodeAll(b, nil)
		assert.NoErr(t, err)
		return string(out)
	case encodingGzip:
		r, err := gzip.NewReader(bytes.NewReader(b))
		assert.NoErr(t, err)
		out, err := io.ReadAll(r)
		assert.NoErr(t, err)
		return string(out)
	}
	t.Fatalf("unexpected encoding %q", enc)
	return ""
}

func TestCompressResponse(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("evhttp serves static files. ", 100)
	for _, tc := range []struct {
		ae, want string
	}{
		{"gzip, deflate, br", encodingBrotli},
		{"gzip, br;q=0", encodingGzip},
		{"zstd;q=0.5, gzip", encodingZstd},
		{"GZIP", encodingGzip},
		{"identity", ""},
		{"br;q=0.000", ""},
	} {
		resp := NewResponse(StatusOK, "text/plain; charset=utf-8", []byte(text))
		enc, err := compressResponse(resp, tc.ae, 0, CompressDefaultCompression)
		assert.NoErr(t, err, tc.ae)
		assert.Eq(t, tc.want, enc, tc.ae)
		assert.Eq(t, tc.want, resp.Header(HeaderContentEncoding), tc.ae)
		if enc == "" {
			assert.Eq(t, text, string(resp.Body), tc.ae)
			continue
		}
		assert.Eq(t, HeaderAcceptEncoding, resp.Header(HeaderVary))
		assert.True(t, len(resp.Body) < len(text), tc.ae)
		assert.Eq(t, text, decompress(t, enc, resp.Body), tc.ae)
	}
}

func TestCompressResponseSkips(t *testing.T) {
	t.Parallel()
	big := bytes.Repeat([]byte("a"), 4096)

	resp := NewResponse(StatusOK, "text/plain", []byte("short"))
	enc, _ := compressResponse(resp, "gzip", 0, CompressDefaultCompression)
	assert.Eq(t, "", enc)

	resp = NewResponse(StatusOK, "image/png", big)
	enc, _ = compressResponse(resp, "gzip", 0, CompressDefaultCompression)
	assert.Eq(t, "", enc)

	resp = NewResponse(StatusNotFound, "text/html", big)
	enc, _ = compressResponse(resp, "gzip", 0, CompressDefaultCompression)
	assert.Eq(t, "", enc)

	resp = NewResponse(StatusOK, "text/plain", big)
	resp.SetHeader(HeaderContentEncoding, "gzip")
	enc, _ = compressResponse(resp, "br", 0, CompressDefaultCompression)
	assert.Eq(t, "", enc)

	resp = NewResponse(StatusOK, "text/plain", []byte("short but allowed"))
	enc, err := compressResponse(resp, "gzip", 8, CompressBestSpeed)
	assert.NoErr(t, err)
	// too small to shrink, so the identity body stays
	assert.Eq(t, "", enc)
	assert.Eq(t, "short but allowed", string(resp.Body))
}

func TestFileDispatcherCompress(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	text := strings.Repeat("body { margin: 0; padding: 0; }\n", 64)
	assert.NoErr(t, os.WriteFile(filepath.Join(root, "site.css"), []byte(text), 0o644))

	d := &FileDispatcher{Logger: zerolog.Nop(), Compress: true}
	rp := &RootPolicy{Root: root}
	resp := dispatchOne(d, rp, testRequest(MethodGet, "/site.css", nil, HeaderAcceptEncoding, "gzip")).Response
	assert.Eq(t, StatusOK, resp.StatusCode)
	assert.Eq(t, encodingGzip, resp.Header(HeaderContentEncoding))
	assert.Eq(t, text, decompress(t, encodingGzip, resp.Body))

	resp = dispatchOne(d, rp, testRequest(MethodGet, "/site.css", nil)).Response
	assert.Eq(t, "", resp.Header(HeaderContentEncoding))
	assert.Eq(t, text, string(resp.Body))
}
