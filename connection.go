package evhttp

import (
	"github.com/rs/zerolog"
)

// slotHandle addresses a response slot without holding a pointer to it, so a
// torn down connection can never be written through a stale reference.
type slotHandle struct {
	conn uint64
	seq  uint64
}

// respSlot is one entry of a connection's ordered response queue. A pending
// slot is waiting for a CGI process to fill it.
type respSlot struct {
	seq   uint64
	proto string
	resp  *Response
	ready bool
	// proc is the CGI process filling a pending slot.
	proc uint64
}

// Connection is the per-socket state owned by the reactor.
//
// Connection instance MUST NOT be used from concurrently running goroutines.
type Connection struct {
	id       uint64
	fd       int
	endpoint string
	peer     string
	log      zerolog.Logger

	inBuf     []byte
	msg       *FramedMessage
	framerCfg FramerConfig
	// policy resolved by the header-received hook for the in-flight message
	policy *Policy

	out    []byte
	outOff int

	queue   []*respSlot
	headSeq uint64

	// procs lists the CGI processes this connection owns.
	procs []uint64

	lastActivity int64
	requests     uint64
	armed        uint32

	// shouldClose is sticky: no request after the one that set it is read
	// or answered.
	shouldClose bool
	// closeAfterFlush is set once the closing response sits in out.
	closeAfterFlush bool
	readClosed      bool
	continueSent    bool
}

func newConnection(id uint64, fd int, endpoint, peer string, now int64) *Connection {
	return &Connection{
		id:           id,
		fd:           fd,
		endpoint:     endpoint,
		peer:         peer,
		lastActivity: now,
	}
}

func (c *Connection) touch(now int64) {
	c.lastActivity = now
}

// enqueue appends a ready response.
func (c *Connection) enqueue(resp *Response, proto string) slotHandle {
	return c.push(&respSlot{proto: proto, resp: resp, ready: true})
}

// enqueuePending appends a placeholder slot that proc will fill.
func (c *Connection) enqueuePending(proto string, proc uint64) slotHandle {
	return c.push(&respSlot{proto: proto, proc: proc})
}

func (c *Connection) push(s *respSlot) slotHandle {
	s.seq = c.headSeq + uint64(len(c.queue))
	c.queue = append(c.queue, s)
	return slotHandle{conn: c.id, seq: s.seq}
}

// slot resolves h. It returns nil when the slot has already been flushed or
// dropped.
func (c *Connection) slot(h slotHandle) *respSlot {
	if h.conn != c.id || h.seq < c.headSeq {
		return nil
	}
	i := h.seq - c.headSeq
	if i >= uint64(len(c.queue)) {
		return nil
	}
	return c.queue[i]
}

// head returns the first queued slot if it is ready.
func (c *Connection) head() *respSlot {
	if len(c.queue) == 0 || !c.queue[0].ready {
		return nil
	}
	return c.queue[0]
}

func (c *Connection) popHead() {
	c.queue[0] = nil
	c.queue = c.queue[1:]
	c.headSeq++
	if len(c.queue) == 0 {
		c.queue = c.queue[:0:0]
	}
}

// dropQueue discards every queued slot; used once a closing response has
// been serialized.
func (c *Connection) dropQueue() {
	c.headSeq += uint64(len(c.queue))
	for i := range c.queue {
		c.queue[i] = nil
	}
	c.queue = c.queue[:0]
}

func (c *Connection) pendingOut() int {
	return len(c.out) - c.outOff
}

// busy reports whether responses are still owed to the peer.
func (c *Connection) busy() bool {
	return len(c.queue) > 0 || c.pendingOut() > 0
}

func (c *Connection) removeProc(id uint64) {
	for i, p := range c.procs {
		if p == id {
			c.procs = append(c.procs[:i], c.procs[i+1:]...)
			return
		}
	}
}
