package evhttp

import (
	"bytes"
)

// maxChunkSizeLineLen bounds a chunk-size line including extensions.
const maxChunkSizeLineLen = 4096

// chunkedDecoder incrementally decodes a chunked body held in a caller owned
// buffer. It only tracks offsets, so feeding the same buffer twice never
// duplicates payload.
type chunkedDecoder struct {
	// pos is the offset of the next unparsed chunk-size or trailer line.
	pos      int
	trailers bool
	done     bool

	// maxMeta bounds the trailer block and, on top of the decoded payload,
	// the chunk-size lines and delimiters. Zero means no bound.
	maxMeta    int
	meta       int
	trailerLen int
}

// chunkResult tells the framer what happened during one decode pass.
type chunkResult uint8

const (
	chunkNeedMore chunkResult = iota
	chunkDone
	chunkBroken
	chunkTooLarge
	chunkOverhead
	chunkTrailersTooLarge
)

// decode appends every complete chunk found in buf[d.pos:] to body. On
// chunkDone, d.pos is the offset of the first byte after the message.
func (d *chunkedDecoder) decode(buf []byte, body []byte, maxBodySize int64) ([]byte, chunkResult) {
	if d.done {
		return body, chunkDone
	}
	for {
		b := buf[d.pos:]
		n := bytes.Index(b, strCRLF)
		if n < 0 {
			if len(b) > maxChunkSizeLineLen {
				return body, chunkBroken
			}
			return body, chunkNeedMore
		}
		if d.trailers {
			// trailer fields are read and discarded
			d.pos += n + 2
			if n == 0 {
				d.done = true
				return body, chunkDone
			}
			d.trailerLen += n + 2
			if d.maxMeta > 0 && d.trailerLen > d.maxMeta {
				return body, chunkTrailersTooLarge
			}
			if bytes.IndexByte(b[:n], ':') <= 0 {
				return body, chunkBroken
			}
			continue
		}
		chunkSize, ok := parseChunkSize(b[:n])
		if !ok {
			return body, chunkBroken
		}
		if d.maxMeta > 0 && d.meta+n+4 > d.maxMeta+len(body) {
			return body, chunkOverhead
		}
		if chunkSize == 0 {
			d.trailers = true
			d.pos += n + 2
			continue
		}
		dataStart := n + 2
		if len(b)-dataStart < chunkSize+2 {
			if maxBodySize > 0 && int64(len(body)+chunkSize) > maxBodySize {
				return body, chunkTooLarge
			}
			return body, chunkNeedMore
		}
		if b[dataStart+chunkSize] != rChar || b[dataStart+chunkSize+1] != nChar {
			return body, chunkBroken
		}
		if maxBodySize > 0 && int64(len(body)+chunkSize) > maxBodySize {
			return body, chunkTooLarge
		}
		body = append(body, b[dataStart:dataStart+chunkSize]...)
		d.pos += dataStart + chunkSize + 2
		d.meta += n + 4
	}
}

// parseChunkSize parses the hex size of a chunk-size line, skipping chunk
// extensions after ';'.
func parseChunkSize(line []byte) (int, bool) {
	if n := bytes.IndexByte(line, ';'); n >= 0 {
		line = line[:n]
	}
	line = bytes.TrimRight(line, " \t")
	if len(line) == 0 || len(line) > 15 {
		return -1, false
	}
	n := 0
	for _, c := range line {
		k, ok := unhex(c)
		if !ok {
			return -1, false
		}
		n = n<<4 | int(k)
	}
	return n, true
}
