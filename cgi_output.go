package evhttp

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// splitCGIOutput splits out on the first blank line, accepting both CRLF
// and bare LF line endings.
func splitCGIOutput(out []byte) (head, body []byte, ok bool) {
	crlf := bytes.Index(out, strCRLFCRLF)
	lf := bytes.Index(out, []byte("\n\n"))
	switch {
	case crlf < 0 && lf < 0:
		return nil, nil, false
	case lf < 0 || (crlf >= 0 && crlf < lf):
		return out[:crlf], out[crlf+4:], true
	default:
		return out[:lf], out[lf+2:], true
	}
}

// parseCGIOutput builds the client response from a script's stdout.
func parseCGIOutput(out []byte) (*Response, error) {
	head, body, ok := splitCGIOutput(out)
	if !ok {
		return nil, ErrCGINoSeparator
	}
	resp := &Response{StatusCode: StatusOK, Body: body}
	var (
		hasStatus bool
		hasCT     bool
		location  string
	)
	for len(head) > 0 {
		var line []byte
		if n := bytes.IndexByte(head, nChar); n >= 0 {
			line, head = head[:n], head[n+1:]
		} else {
			line, head = head, nil
		}
		line = bytes.TrimSuffix(line, []byte{rChar})
		if len(line) == 0 {
			continue
		}
		n := bytes.IndexByte(line, ':')
		if n <= 0 {
			return nil, errors.Wrapf(ErrCGIBadHeader, "%q", line)
		}
		name := strings.TrimSpace(string(line[:n]))
		value := strings.TrimSpace(string(line[n+1:]))
		switch {
		case strings.EqualFold(name, "Status"):
			code, err := parseCGIStatus(value)
			if err != nil {
				return nil, err
			}
			resp.StatusCode = code
			hasStatus = true
		case strings.EqualFold(name, HeaderLocation):
			location = value
			resp.SetHeader(HeaderLocation, value)
		case strings.EqualFold(name, HeaderContentType):
			hasCT = true
			resp.SetHeader(HeaderContentType, value)
		case strings.EqualFold(name, HeaderContentLength),
			strings.EqualFold(name, HeaderConnection),
			strings.EqualFold(name, HeaderTransferEnc):
			// framing belongs to the server
		default:
			resp.AddHeader(name, value)
		}
	}
	if location != "" && !hasStatus {
		resp.StatusCode = StatusFound
	}
	if !hasCT && location == "" {
		return nil, ErrCGINoContentType
	}
	return resp, nil
}

// parseCGIStatus parses "404 Not Found" or a bare "404".
func parseCGIStatus(v string) (int, error) {
	if sp := strings.IndexByte(v, ' '); sp >= 0 {
		v = v[:sp]
	}
	code, err := strconv.Atoi(v)
	if err != nil || code < 100 || code > 999 {
		return 0, errors.Wrapf(ErrCGIBadHeader, "bad Status %q", v)
	}
	return code, nil
}
