package evhttp

import (
	"html"
	"mime"
	"os"
	"path/filepath"
	"strconv"
)

// ErrorResponse builds the response for statusCode, preferring the page
// configured in pol.ErrorPages when it can be read.
func ErrorResponse(statusCode int, pol *Policy) *Response {
	if pol != nil {
		if page, ok := pol.ErrorPages[statusCode]; ok && page != "" {
			if body, err := os.ReadFile(page); err == nil {
				ct := mime.TypeByExtension(filepath.Ext(page))
				if ct == "" {
					ct = defaultContentType
				}
				return NewResponse(statusCode, ct, body)
			}
		}
	}
	return NewResponse(statusCode, defaultContentType, defaultErrorPage(statusCode))
}

func defaultErrorPage(statusCode int) []byte {
	title := strconv.Itoa(statusCode) + " " + html.EscapeString(StatusMessage(statusCode))
	b := make([]byte, 0, 160)
	b = append(b, "<html><head><title>"...)
	b = append(b, title...)
	b = append(b, "</title></head><body><center><h1>"...)
	b = append(b, title...)
	b = append(b, "</h1></center><hr><center>"...)
	b = append(b, defaultServerName...)
	b = append(b, "</center></body></html>\n"...)
	return b
}
