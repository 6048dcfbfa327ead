package evhttp

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// Stats are updated by the reactor goroutine and may be read from any
// goroutine.
type Stats struct {
	accepted    *xsync.Counter
	open        *xsync.Counter
	requests    *xsync.Counter
	badRequests *xsync.Counter
	cgiSpawned  *xsync.Counter
	cgiFailed   *xsync.Counter
	cgiRunning  *xsync.Counter
	idleClosed  *xsync.Counter
	cgiTimeouts *xsync.Counter
}

func newStats() *Stats {
	return &Stats{
		accepted:    xsync.NewCounter(),
		open:        xsync.NewCounter(),
		requests:    xsync.NewCounter(),
		badRequests: xsync.NewCounter(),
		cgiSpawned:  xsync.NewCounter(),
		cgiFailed:   xsync.NewCounter(),
		cgiRunning:  xsync.NewCounter(),
		idleClosed:  xsync.NewCounter(),
		cgiTimeouts: xsync.NewCounter(),
	}
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Accepted    int64
	Open        int64
	Requests    int64
	BadRequests int64
	CGISpawned  int64
	CGIFailed   int64
	CGIRunning  int64
	IdleClosed  int64
	CGITimeouts int64
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Accepted:    s.accepted.Value(),
		Open:        s.open.Value(),
		Requests:    s.requests.Value(),
		BadRequests: s.badRequests.Value(),
		CGISpawned:  s.cgiSpawned.Value(),
		CGIFailed:   s.cgiFailed.Value(),
		CGIRunning:  s.cgiRunning.Value(),
		IdleClosed:  s.idleClosed.Value(),
		CGITimeouts: s.cgiTimeouts.Value(),
	}
}
