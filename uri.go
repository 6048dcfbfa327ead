package evhttp

import (
	"strings"
)

// splitRequestURI reduces an origin-form or absolute-form request target to
// its raw path and query. Fragments are dropped.
func splitRequestURI(raw string) (path, query string, err error) {
	if len(raw) == 0 {
		return "", "", ErrNonAbsoluteURI
	}
	if raw[0] != '/' {
		lower := strings.ToLower(raw)
		var rest string
		switch {
		case strings.HasPrefix(lower, "http://"):
			rest = raw[len("http://"):]
		case strings.HasPrefix(lower, "https://"):
			rest = raw[len("https://"):]
		default:
			return "", "", ErrNonAbsoluteURI
		}
		n := strings.IndexAny(rest, "/?")
		if n < 0 {
			raw = "/"
		} else if rest[n] == '?' {
			raw = "/" + rest[n:]
		} else {
			raw = rest[n:]
		}
	}
	if n := strings.IndexByte(raw, '#'); n >= 0 {
		raw = raw[:n]
	}
	path = raw
	if n := strings.IndexByte(raw, '?'); n >= 0 {
		path, query = raw[:n], raw[n+1:]
	}
	return path, query, nil
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// decodePath percent-decodes p once. Invalid escapes and encoded NUL bytes are
// rejected.
func decodePath(p string) (string, error) {
	if strings.IndexByte(p, '%') < 0 {
		if strings.IndexByte(p, 0) >= 0 {
			return "", ErrBadPercentEncoding
		}
		return p, nil
	}
	b := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == 0 {
			return "", ErrBadPercentEncoding
		}
		if c != '%' {
			b = append(b, c)
			continue
		}
		if i+2 >= len(p) {
			return "", ErrBadPercentEncoding
		}
		hi, ok1 := unhex(p[i+1])
		lo, ok2 := unhex(p[i+2])
		if !ok1 || !ok2 {
			return "", ErrBadPercentEncoding
		}
		d := hi<<4 | lo
		if d == 0 {
			return "", ErrBadPercentEncoding
		}
		b = append(b, d)
		i += 2
	}
	return string(b), nil
}

// NormalizePath percent-decodes p and removes "." and ".." segments.
// Empty segments are collapsed and a trailing slash is preserved. A ".." that
// would climb above the root yields ErrRootEscape.
func NormalizePath(p string) (string, error) {
	if len(p) == 0 || p[0] != '/' {
		return "", ErrNonAbsoluteURI
	}
	decoded, err := decodePath(p)
	if err != nil {
		return "", err
	}
	segs := strings.Split(decoded[1:], "/")
	stack := make([]string, 0, len(segs))
	trailing := false
	for i, s := range segs {
		last := i == len(segs)-1
		switch s {
		case "", ".":
			if last {
				trailing = true
			}
		case "..":
			if len(stack) == 0 {
				return "", ErrRootEscape
			}
			stack = stack[:len(stack)-1]
			if last {
				trailing = true
			}
		default:
			stack = append(stack, s)
		}
	}
	if len(stack) == 0 {
		return "/", nil
	}
	var sb strings.Builder
	sb.Grow(len(decoded) + 1)
	for _, s := range stack {
		sb.WriteByte('/')
		sb.WriteString(s)
	}
	if trailing {
		sb.WriteByte('/')
	}
	return sb.String(), nil
}
