package evhttp

import (
	"testing"
	"time"

	"github.com/gookit/goutil/testutil/assert"
)

func TestAbsoluteToUTC(t *testing.T) {
	t.Parallel()
	start := time.Now()
	start2 := absoluteNano()
	time.Sleep(time.Millisecond * 50)
	a := (absoluteNano() - start2) / 1e6
	b := time.Since(start).Milliseconds()
	if diff := a - b; diff > 5 || diff < -5 {
		t.Fatalf("expected %d but got %d", b, a)
	}
	c := absoluteToUTC(absoluteNano())
	d := time.Now().UTC()
	diff := c.UnixMilli() - d.UnixMilli()
	if diff > 10 || diff < -10 {
		t.Fatalf("expected %d but got %d", d.UnixMilli(), c.UnixMilli())
	}
}

func TestHTTPDateRoundTrip(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, time.October, 20, 1, 2, 3, 0, time.UTC)
	b := AppendHTTPDate(nil, now)
	assert.Eq(t, "Sun, 20 Oct 2024 01:02:03 GMT", string(b))
	parsed, err := ParseHTTPDate(b)
	assert.NoErr(t, err)
	assert.True(t, parsed.Equal(now))

	var dc dateCache
	assert.Eq(t, len(httpTimeFormat), len(dc.value()))
}
