package evhttp

import (
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
)

// Supported compression levels.
const (
	CompressBestSpeed          = gzip.BestSpeed
	CompressBestCompression    = gzip.BestCompression
	CompressDefaultCompression = gzip.DefaultCompression

	CompressBrotliDefaultCompression = 4
)

const defaultCompressMinSize = 1024

// Encodings in preference order.
const (
	encodingBrotli = "br"
	encodingZstd   = "zstd"
	encodingGzip   = "gzip"
)

var compressOrders = [...]string{encodingBrotli, encodingZstd, encodingGzip}

var (
	zstdEncoderOnce sync.Once
	zstdEncoder     *zstd.Encoder
	zstdEncoderErr  error
)

func sharedZstdEncoder() (*zstd.Encoder, error) {
	zstdEncoderOnce.Do(func() {
		zstdEncoder, zstdEncoderErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return zstdEncoder, zstdEncoderErr
}

// acceptsEncoding reports whether an Accept-Encoding value allows enc with a
// non-zero quality.
func acceptsEncoding(ae, enc string) bool {
	for _, part := range strings.Split(ae, ",") {
		part = strings.TrimSpace(part)
		name, params, _ := strings.Cut(part, ";")
		if !strings.EqualFold(strings.TrimSpace(name), enc) {
			continue
		}
		params = strings.ReplaceAll(params, " ", "")
		return params != "q=0" && params != "q=0.0" && params != "q=0.00" && params != "q=0.000"
	}
	return false
}

func isCompressibleContentType(ct string) bool {
	return strings.HasPrefix(ct, "text/") ||
		strings.HasPrefix(ct, "application/javascript") ||
		strings.HasPrefix(ct, "application/json") ||
		strings.HasPrefix(ct, "application/xml") ||
		strings.HasPrefix(ct, "image/svg+xml")
}

func compressBytes(enc string, src []byte, level int) ([]byte, error) {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	switch enc {
	case encodingBrotli:
		w := brotli.NewWriterLevel(bb, CompressBrotliDefaultCompression)
		if _, err := w.Write(src); err != nil {
			return nil, errors.Wrap(err, "brotli write")
		}
		if err := w.Close(); err != nil {
			return nil, errors.Wrap(err, "brotli close")
		}
	case encodingZstd:
		e, err := sharedZstdEncoder()
		if err != nil {
			return nil, errors.Wrap(err, "zstd encoder")
		}
		bb.B = e.EncodeAll(src, bb.B[:0])
	case encodingGzip:
		w, err := gzip.NewWriterLevel(bb, level)
		if err != nil {
			return nil, errors.Wrap(err, "gzip writer")
		}
		if _, err = w.Write(src); err != nil {
			return nil, errors.Wrap(err, "gzip write")
		}
		if err = w.Close(); err != nil {
			return nil, errors.Wrap(err, "gzip close")
		}
	default:
		return nil, errors.Errorf("unknown encoding %q", enc)
	}
	return append([]byte(nil), bb.B...), nil
}

// compressResponse encodes resp.Body with the first encoding from
// compressOrders the client accepts. The body is left untouched when it is
// small, not compressible, or would not shrink.
func compressResponse(resp *Response, acceptEncoding string, minSize, level int) (string, error) {
	if acceptEncoding == "" || resp.StatusCode != StatusOK {
		return "", nil
	}
	if minSize <= 0 {
		minSize = defaultCompressMinSize
	}
	if len(resp.Body) < minSize || resp.Header(HeaderContentEncoding) != "" {
		return "", nil
	}
	if !isCompressibleContentType(resp.Header(HeaderContentType)) {
		return "", nil
	}
	for _, enc := range compressOrders {
		if !acceptsEncoding(acceptEncoding, enc) {
			continue
		}
		out, err := compressBytes(enc, resp.Body, level)
		if err != nil {
			return "", err
		}
		resp.AddHeader(HeaderVary, HeaderAcceptEncoding)
		if len(out) >= len(resp.Body) {
			return "", nil
		}
		resp.Body = out
		resp.SetHeader(HeaderContentEncoding, enc)
		return enc, nil
	}
	return "", nil
}
