package evhttp

import (
	"time"

	"github.com/newacorn/goutils/unsafefn"
)

// httpTimeFormat is the IMF-fixdate layout used by Date and Last-Modified.
const httpTimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

var (
	startTimeUTC      = time.Now().UTC()
	startAbsoluteNano = unsafefn.NanoTime()
)

// absoluteNano is the monotonic clock every activity timestamp and deadline
// in the reactor is expressed in.
func absoluteNano() int64 {
	return unsafefn.NanoTime()
}

func absoluteToUTC(n int64) time.Time {
	return startTimeUTC.Add(time.Duration(n - startAbsoluteNano))
}

// AppendHTTPDate appends the HTTP-compliant representation of date to dst.
func AppendHTTPDate(dst []byte, date time.Time) []byte {
	return date.UTC().AppendFormat(dst, httpTimeFormat)
}

// ParseHTTPDate parses an HTTP-compliant (RFC1123) date.
func ParseHTTPDate(date []byte) (time.Time, error) {
	return time.Parse(httpTimeFormat, string(date))
}

// dateCache keeps the formatted Date header value. The reactor refreshes it on
// every timer tick so serialization never formats a time.
type dateCache struct {
	b []byte
}

func (d *dateCache) refresh(now int64) {
	d.b = AppendHTTPDate(d.b[:0], absoluteToUTC(now))
}

func (d *dateCache) value() []byte {
	if len(d.b) == 0 {
		d.refresh(absoluteNano())
	}
	return d.b
}
