//go:build linux

package evhttp

import (
	"time"

	pool "github.com/newacorn/simple-bytes-pool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/sys/unix"
)

type fdKind uint8

const (
	fdListener fdKind = iota + 1
	fdClient
	fdCGIStdin
	fdCGIStdout
	fdTimer
	fdWaker
)

// fdRole translates an OS descriptor into the arena entry it belongs to.
type fdRole struct {
	kind fdKind
	id   uint64
}

// reapPollInterval bounds the readiness wait while an exited child has not
// been collected yet.
const reapPollInterval = 5 * time.Millisecond

const clientEvents = evRead | uint32(unix.EPOLLRDHUP)

type reactorConfig struct {
	name         string
	software     string
	resolver     PolicyResolver
	dispatcher   Dispatcher
	concurrency  int
	readBufSize  int
	maxHeader    int
	maxBody      int64
	idleTimeout  int64
	cgiTimeout   int64
	maxCGIOutput int
	tick         time.Duration
	maxEvents    int
}

// reactor multiplexes listeners, client sockets, CGI pipes and the timer on
// one poller. Everything except wakeFd is touched only from the goroutine
// running run.
type reactor struct {
	cfg   reactorConfig
	log   zerolog.Logger
	p     poller
	sys   sysOps
	stats *Stats

	roles map[int]fdRole
	// retired holds descriptors closed during the current batch; later
	// events for them in the same batch are stale.
	retired   map[int]struct{}
	listeners []*listener
	conns     map[uint64]*Connection
	procs     map[uint64]*CgiProcess
	flushable map[uint64]struct{}
	nextID    uint64

	idle    deadlineHeap
	timerFd int
	wakeFd  int
	events  []pollEvent
	readBuf []byte
	date    dateCache

	// putReadBuf returns readBuf to the shared byte pool.
	putReadBuf func()
}

func newReactor(cfg reactorConfig, log zerolog.Logger, p poller, sys sysOps, stats *Stats) *reactor {
	if cfg.readBufSize <= 0 {
		cfg.readBufSize = DefaultReadBufferSize
	}
	r := &reactor{
		cfg:       cfg,
		log:       log,
		p:         p,
		sys:       sys,
		stats:     stats,
		roles:     make(map[int]fdRole),
		retired:   make(map[int]struct{}),
		conns:     make(map[uint64]*Connection),
		procs:     make(map[uint64]*CgiProcess),
		flushable: make(map[uint64]struct{}),
		timerFd:   -1,
		wakeFd:    -1,
	}
	pb := pool.Get(cfg.readBufSize)
	pb.B = pb.B[:cap(pb.B)]
	r.readBuf = pb.B
	r.putReadBuf = func() { pool.Put(pb) }
	return r
}

func (r *reactor) newID() uint64 {
	r.nextID++
	return r.nextID
}

func (r *reactor) register(fd int, role fdRole, events uint32) error {
	if err := r.p.add(fd, events); err != nil {
		return err
	}
	r.roles[fd] = role
	return nil
}

// unregister deregisters fd from the poller and then closes it.
func (r *reactor) unregister(fd int) {
	if err := r.p.del(fd); err != nil {
		r.log.Debug().Err(err).Int("fd", fd).Msg("deregister")
	}
	delete(r.roles, fd)
	r.retired[fd] = struct{}{}
	if err := r.sys.closeFD(fd); err != nil {
		r.log.Debug().Err(err).Int("fd", fd).Msg("close")
	}
}

func (r *reactor) addListener(ln *listener) error {
	id := uint64(len(r.listeners))
	if err := r.register(ln.fd, fdRole{kind: fdListener, id: id}, evRead); err != nil {
		return err
	}
	r.listeners = append(r.listeners, ln)
	return nil
}

// start registers the timer and the wakeup eventfd.
func (r *reactor) start() (err error) {
	tick := r.cfg.tick
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	if r.timerFd, err = newTicker(tick); err != nil {
		return err
	}
	if err = r.register(r.timerFd, fdRole{kind: fdTimer}, evRead); err != nil {
		return err
	}
	if r.wakeFd, err = newWaker(); err != nil {
		return err
	}
	return r.register(r.wakeFd, fdRole{kind: fdWaker}, evRead)
}

// run executes loop iterations until stop reports true. Only a poller
// failure is returned.
func (r *reactor) run(stop func() bool) error {
	r.date.refresh(absoluteNano())
	for !stop() {
		if err := r.iterate(); err != nil {
			return err
		}
	}
	return nil
}

func (r *reactor) iterate() error {
	r.flushQueues()

	timeout := time.Duration(-1)
	if r.awaitingReap() {
		timeout = reapPollInterval
	}
	var err error
	r.events, err = r.p.wait(r.events[:0], timeout)
	if err != nil {
		return err
	}
	now := absoluteNano()
	for _, ev := range r.events {
		if _, ok := r.retired[ev.fd]; ok {
			continue
		}
		r.handleEvent(ev, now)
	}
	for fd := range r.retired {
		delete(r.retired, fd)
	}
	r.reapChildren()
	return nil
}

func (r *reactor) handleEvent(ev pollEvent, now int64) {
	role, ok := r.roles[ev.fd]
	if !ok {
		return
	}
	switch role.kind {
	case fdTimer:
		drainCounter(ev.fd)
		r.onTick(now)
	case fdWaker:
		drainCounter(ev.fd)
	case fdListener:
		r.acceptAll(r.listeners[role.id], now)
	case fdCGIStdin:
		if p := r.procs[role.id]; p != nil {
			r.onCGIStdin(p, ev.events, now)
		}
	case fdCGIStdout:
		if p := r.procs[role.id]; p != nil {
			r.onCGIStdout(p, ev.events, now)
		}
	case fdClient:
		if c := r.conns[role.id]; c != nil {
			r.onClient(c, ev.events, now)
		}
	}
}

func (r *reactor) onTick(now int64) {
	r.date.refresh(now)
	if r.cfg.idleTimeout > 0 {
		r.idle.expire(now, func(id uint64) (int64, bool) {
			c := r.conns[id]
			if c == nil {
				return 0, false
			}
			if deadline := c.lastActivity + r.cfg.idleTimeout; deadline > now {
				return deadline, true
			}
			r.stats.idleClosed.Inc()
			r.closeConn(c, ErrIdleTimeout)
			return 0, false
		})
	}
	if r.cfg.cgiTimeout > 0 {
		for _, p := range r.procs {
			if p.reaped || p.timedOut || p.orphan || now-p.startTime <= r.cfg.cgiTimeout {
				continue
			}
			p.timedOut = true
			r.stats.cgiTimeouts.Inc()
			r.log.Warn().Int("pid", p.pid).Uint64("conn", p.owner).Err(ErrCGITimeout).Send()
			r.killProcess(p)
		}
	}
}

func (r *reactor) acceptAll(ln *listener, now int64) {
	for {
		fd, sa, err := unix.Accept4(ln.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch err {
			case unix.EAGAIN:
			case unix.EINTR, unix.ECONNABORTED:
				continue
			default:
				r.log.Error().Err(err).Str("listen", ln.endpoint).Msg("accept")
			}
			return
		}
		peer := sockaddrString(sa)
		if r.cfg.concurrency > 0 && len(r.conns) >= r.cfg.concurrency {
			r.rejectConn(fd, peer)
			continue
		}
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		c := newConnection(r.newID(), fd, ln.endpoint, peer, now)
		c.log = connLogger(&r.log, c.id, peer)
		c.framerCfg = FramerConfig{
			MaxHeaderSize:  r.cfg.maxHeader,
			MaxBodySize:    r.cfg.maxBody,
			HeaderReceived: r.headerReceived(c),
		}
		if err = r.register(fd, fdRole{kind: fdClient, id: c.id}, clientEvents); err != nil {
			r.log.Error().Err(err).Str("peer", peer).Send()
			_ = r.sys.closeFD(fd)
			continue
		}
		c.armed = clientEvents
		r.conns[c.id] = c
		if r.cfg.idleTimeout > 0 {
			r.idle.push(c.id, now+r.cfg.idleTimeout)
		}
		r.stats.accepted.Inc()
		r.stats.open.Inc()
		c.log.Debug().Str("listen", ln.endpoint).Msg("accepted")
	}
}

// rejectConn answers 503 best-effort and closes fd.
func (r *reactor) rejectConn(fd int, peer string) {
	resp := NewResponse(StatusServiceUnavailable, plainTextContentType, []byte(ErrConcurrencyLimit.Error()))
	b := resp.AppendBytes(nil, ProtoHTTP11, r.cfg.name, r.date.value(), false)
	_, _ = unix.Write(fd, b)
	_ = r.sys.closeFD(fd)
	r.log.Warn().Str("peer", peer).Err(ErrConcurrencyLimit).Send()
}

// headerReceived resolves the policy once the header block of a message is
// known and hands its body limit back to the framer.
func (r *reactor) headerReceived(c *Connection) func(m *FramedMessage) RequestConfig {
	return func(m *FramedMessage) RequestConfig {
		host, _ := splitHostPort(m.Header.Get(HeaderHost))
		c.policy = r.resolve(c.endpoint, host, m.Path)
		return RequestConfig{MaxBodySize: c.policy.ClientMaxBodySize}
	}
}

// resolve never returns nil; an unmatched request gets an empty policy.
func (r *reactor) resolve(endpoint, host, uri string) *Policy {
	if r.cfg.resolver != nil {
		if pol := r.cfg.resolver.Resolve(endpoint, host, uri); pol != nil {
			return pol
		}
	}
	return &Policy{}
}

func (r *reactor) onClient(c *Connection, events uint32, now int64) {
	if events&evErr != 0 {
		r.closeConn(c, unix.ECONNRESET)
		return
	}
	if events&evRead != 0 && !c.readClosed {
		if !r.readClient(c, now) {
			return
		}
	}
	if events&evWrite != 0 && c.pendingOut() > 0 {
		if !r.writeClient(c, now) {
			return
		}
	}
	if events&uint32(unix.EPOLLHUP) != 0 {
		// best effort: whatever is already buffered goes out once
		if c.pendingOut() > 0 {
			_, _ = unix.Write(c.fd, c.out[c.outOff:])
		}
		r.closeConn(c, nil)
	}
}

// readClient reads one chunk and frames it. It returns false once c is gone.
func (r *reactor) readClient(c *Connection, now int64) bool {
	buf := r.readBuf
	n, err := unix.Read(c.fd, buf)
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		return true
	case err != nil:
		r.closeConn(c, err)
		return false
	case n == 0:
		c.readClosed = true
		c.shouldClose = true
		if !c.busy() {
			r.closeConn(c, nil)
			return false
		}
		r.updateEvents(c)
		return true
	}
	c.touch(now)
	if c.shouldClose {
		// bytes after a closing request are discarded
		return true
	}
	c.inBuf = append(c.inBuf, buf[:n]...)
	r.processInput(c, now)
	r.updateEvents(c)
	return true
}

// processInput dispatches every complete message in c.inBuf in order.
func (r *reactor) processInput(c *Connection, now int64) {
	for !c.shouldClose && len(c.inBuf) > 0 {
		if c.msg == nil {
			c.msg = NewFramedMessage(&c.framerCfg)
		}
		consumed, progress := c.msg.Feed(c.inBuf)
		if progress == NeedMore {
			if c.msg.ExpectsContinue() && !c.continueSent && !c.busy() {
				c.out = append(c.out[:0], str100Continue...)
				c.outOff = 0
				c.continueSent = true
			}
			return
		}
		r.dispatch(c, c.msg, now)
		n := copy(c.inBuf, c.inBuf[consumed:])
		c.inBuf = c.inBuf[:n]
		c.continueSent = false
		c.policy = nil
		c.msg.Reset(&c.framerCfg)
	}
}

func (r *reactor) dispatch(c *Connection, m *FramedMessage, now int64) {
	c.requests++
	r.stats.requests.Inc()
	r.markFlushable(c)

	if m.BadRequest {
		r.stats.badRequests.Inc()
		pol := c.policy
		if pol == nil {
			pol = r.resolve(c.endpoint, "", "/")
		}
		resp := ErrorResponse(m.Status, pol)
		resp.ConnectionClose = true
		proto := m.Proto
		if proto != ProtoHTTP10 {
			proto = ProtoHTTP11
		}
		c.shouldClose = true
		c.enqueue(resp, proto)
		c.log.Debug().Err(m.Err).Int("status", m.Status).Msg("bad request")
		return
	}

	req := m.Request()
	req.Endpoint = c.endpoint
	req.RemoteAddr = c.peer
	pol := c.policy
	if pol == nil {
		pol = r.resolve(c.endpoint, req.Host(), req.URI)
	}
	out := r.cfg.dispatcher.Dispatch(req, pol)
	if out.CGI != nil {
		r.startCGI(c, out.CGI, req, now)
		return
	}
	resp := out.Response
	if resp == nil {
		resp = ErrorResponse(StatusInternalServerError, pol)
	}
	if req.IsHead() {
		resp.SkipBody = true
	}
	if req.Close || resp.ConnectionClose {
		resp.ConnectionClose = true
		c.shouldClose = true
	}
	c.enqueue(resp, req.Proto)
	c.log.Debug().Str("method", req.Method).Str("uri", req.RawURI).Int("status", resp.StatusCode).Send()
}

func (r *reactor) failCGI(c *Connection, req *RequestView, pol *Policy, err error) {
	r.stats.cgiFailed.Inc()
	c.log.Warn().Err(err).Str("uri", req.RawURI).Msg("cgi")
	resp := ErrorResponse(StatusBadGateway, pol)
	resp.SkipBody = req.IsHead()
	resp.ConnectionClose = true
	c.shouldClose = true
	c.enqueue(resp, req.Proto)
}

// startCGI spawns the child and leaves a pending slot it will fill. CGI
// responses always close the connection.
func (r *reactor) startCGI(c *Connection, spawn *CGISpawn, req *RequestView, now int64) {
	interp, err := resolveInterpreter(spawn.Interpreter)
	if err != nil {
		r.failCGI(c, req, spawn.Policy, err)
		return
	}
	pid, stdinFd, stdoutFd, err := spawnCGI(interp, spawn, r.cfg.software)
	if err != nil {
		r.failCGI(c, req, spawn.Policy, err)
		return
	}
	p := &CgiProcess{
		id:        r.newID(),
		owner:     c.id,
		pid:       pid,
		stdinFd:   stdinFd,
		stdoutFd:  stdoutFd,
		input:     req.Body,
		output:    bytebufferpool.Get(),
		startTime: now,
		state:     CgiSpawning,
		head:      req.IsHead(),
		policy:    spawn.Policy,
	}
	r.adoptProcess(c, p, req.Proto)
	c.log.Debug().Int("pid", pid).Str("script", spawn.Script).Msg("cgi spawned")
}

// adoptProcess links p to c and registers its pipes.
func (r *reactor) adoptProcess(c *Connection, p *CgiProcess, proto string) {
	p.slot = c.enqueuePending(proto, p.id)
	c.procs = append(c.procs, p.id)
	c.shouldClose = true
	r.procs[p.id] = p
	r.stats.cgiSpawned.Inc()
	r.stats.cgiRunning.Inc()

	if err := r.register(p.stdoutFd, fdRole{kind: fdCGIStdout, id: p.id}, evRead); err != nil {
		p.failure = err
		r.killProcess(p)
		r.closeStdout(p)
	}
	if len(p.input) == 0 || p.failure != nil {
		_ = r.sys.closeFD(p.stdinFd)
		p.stdinFd = -1
		p.input = nil
		p.state = CgiAwaitingOutput
		return
	}
	if err := r.register(p.stdinFd, fdRole{kind: fdCGIStdin, id: p.id}, evWrite); err != nil {
		_ = r.sys.closeFD(p.stdinFd)
		p.stdinFd = -1
		p.input = nil
		p.state = CgiAwaitingOutput
		return
	}
	p.state = CgiStreamingInput
}

func (r *reactor) touchOwner(p *CgiProcess, now int64) {
	if c := r.conns[p.owner]; c != nil && !p.orphan {
		c.touch(now)
	}
}

func (r *reactor) onCGIStdin(p *CgiProcess, events uint32, now int64) {
	if events&evWrite != 0 {
		n, err := unix.Write(p.stdinFd, p.input[p.inputSent:])
		if n > 0 {
			p.inputSent += n
			r.touchOwner(p, now)
		}
		switch {
		case err == unix.EAGAIN || err == unix.EINTR:
		case err != nil:
			r.terminateCGI(p, now)
		case p.inputSent >= len(p.input):
			r.closeStdin(p)
		}
		return
	}
	if events&(evErr|evHup) != 0 {
		r.terminateCGI(p, now)
	}
}

func (r *reactor) onCGIStdout(p *CgiProcess, events uint32, now int64) {
	if events&(evRead|evHup) != 0 {
		r.readCGIOutput(p, true, now)
		return
	}
	if events&evErr != 0 {
		r.terminateCGI(p, now)
	}
}

// terminateCGI stops a child whose pipe broke. Whatever it already wrote
// becomes the response once the pid is reaped.
func (r *reactor) terminateCGI(p *CgiProcess, now int64) {
	p.terminated = true
	r.killProcess(p)
	r.readCGIOutput(p, false, now)
	r.closeStdout(p)
	r.closeStdin(p)
	r.log.Debug().Int("pid", p.pid).Uint64("conn", p.owner).Msg("cgi pipe broken")
}

// readCGIOutput appends the child's stdout to p.output. With once set it
// performs a single read; otherwise it drains until EAGAIN or EOF.
func (r *reactor) readCGIOutput(p *CgiProcess, once bool, now int64) {
	buf := r.readBuf
	for p.stdoutFd >= 0 {
		n, err := r.sys.read(p.stdoutFd, buf)
		if n > 0 {
			_, _ = p.output.Write(buf[:n])
			r.touchOwner(p, now)
			if r.cfg.maxCGIOutput > 0 && p.output.Len() > r.cfg.maxCGIOutput {
				p.failure = ErrCGIOutputTooLarge
				r.killProcess(p)
				r.closeStdout(p)
				return
			}
			if once {
				return
			}
			continue
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return
		}
		// EOF or a read error
		r.closeStdout(p)
		return
	}
}

func (r *reactor) closeStdin(p *CgiProcess) {
	if p.stdinFd < 0 {
		return
	}
	r.unregister(p.stdinFd)
	p.stdinFd = -1
	p.input = nil
	if p.state == CgiStreamingInput || p.state == CgiSpawning {
		p.state = CgiAwaitingOutput
	}
}

func (r *reactor) closeStdout(p *CgiProcess) {
	if p.stdoutFd < 0 {
		return
	}
	r.unregister(p.stdoutFd)
	p.stdoutFd = -1
}

func (r *reactor) killProcess(p *CgiProcess) {
	if p.reaped {
		return
	}
	if err := r.sys.kill(p.pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		r.log.Warn().Err(err).Int("pid", p.pid).Msg("kill")
	}
}

// awaitingReap reports whether a child is known or likely to have exited
// without being collected.
func (r *reactor) awaitingReap() bool {
	for _, p := range r.procs {
		if !p.reaped && (p.stdoutFd < 0 || p.orphan || p.timedOut) {
			return true
		}
	}
	return false
}

// reapChildren collects every exited child without blocking.
func (r *reactor) reapChildren() {
	for _, p := range r.procs {
		if p.reaped {
			continue
		}
		var ws unix.WaitStatus
		wpid, err := r.sys.wait4(p.pid, &ws)
		switch {
		case err == unix.ECHILD:
			// collected elsewhere; the exit status is unknown
			p.reaped = true
			if p.failure == nil {
				p.failure = err
			}
		case err != nil || wpid == 0:
			continue
		default:
			p.reaped = true
			p.status = ws
		}
		r.onReaped(p)
	}
}

func (r *reactor) onReaped(p *CgiProcess) {
	p.state = CgiReaped
	r.stats.cgiRunning.Dec()
	if p.stdoutFd >= 0 {
		r.readCGIOutput(p, false, absoluteNano())
		r.closeStdout(p)
	}
	r.closeStdin(p)
	if !p.orphan {
		r.fillSlot(p)
	}
	r.releaseProcess(p)
}

// fillSlot completes the pending slot p was linked to, if it still exists.
func (r *reactor) fillSlot(p *CgiProcess) {
	c := r.conns[p.owner]
	if c == nil {
		return
	}
	s := c.slot(p.slot)
	if s == nil || s.ready || s.proc != p.id {
		return
	}
	s.resp = p.cgiResponse()
	s.ready = true
	s.proc = 0
	if p.failure != nil || p.timedOut {
		r.stats.cgiFailed.Inc()
		c.log.Warn().Err(p.failure).Int("pid", p.pid).Bool("timeout", p.timedOut).
			Int("status", s.resp.StatusCode).Msg("cgi failed")
	} else {
		c.log.Debug().Int("pid", p.pid).Int("status", s.resp.StatusCode).Msg("cgi done")
	}
	c.shouldClose = true
	r.markFlushable(c)
}

func (r *reactor) releaseProcess(p *CgiProcess) {
	if !p.closed() || !p.reaped {
		return
	}
	p.state = CgiClosed
	p.releaseOutput()
	delete(r.procs, p.id)
	if c := r.conns[p.owner]; c != nil {
		c.removeProc(p.id)
	}
}

// abandonProcess detaches p from its torn down owner: both pipes are
// deregistered and closed, then the child is signalled. The entry stays
// until the pid is reaped.
func (r *reactor) abandonProcess(p *CgiProcess) {
	r.closeStdin(p)
	r.closeStdout(p)
	r.killProcess(p)
	p.orphan = true
	r.releaseProcess(p)
}

// closeConn tears c down. Owned CGI processes are released first so none
// of their descriptors outlive the connection's.
func (r *reactor) closeConn(c *Connection, reason error) {
	for _, id := range append([]uint64(nil), c.procs...) {
		if p := r.procs[id]; p != nil {
			r.abandonProcess(p)
		}
	}
	c.procs = nil
	r.unregister(c.fd)
	delete(r.conns, c.id)
	delete(r.flushable, c.id)
	c.dropQueue()
	r.stats.open.Dec()
	if reason != nil {
		c.log.Debug().Err(reason).Uint64("requests", c.requests).Msg("closed")
	} else {
		c.log.Debug().Uint64("requests", c.requests).Msg("closed")
	}
}

func (r *reactor) markFlushable(c *Connection) {
	r.flushable[c.id] = struct{}{}
}

func (r *reactor) flushQueues() {
	for id := range r.flushable {
		delete(r.flushable, id)
		if c := r.conns[id]; c != nil {
			r.fillOutput(c)
		}
	}
}

// fillOutput serializes the head response of c once the previous one has
// been written.
func (r *reactor) fillOutput(c *Connection) {
	if c.pendingOut() > 0 || c.closeAfterFlush {
		return
	}
	s := c.head()
	if s == nil {
		return
	}
	closing := s.resp.ConnectionClose || (c.shouldClose && len(c.queue) == 1)
	c.out = s.resp.AppendBytes(c.out[:0], s.proto, r.cfg.name, r.date.value(), !closing)
	c.outOff = 0
	if closing {
		c.closeAfterFlush = true
		c.dropQueue()
	} else {
		c.popHead()
	}
	r.updateEvents(c)
}

// writeClient writes buffered output. It returns false once c is gone.
func (r *reactor) writeClient(c *Connection, now int64) bool {
	for c.pendingOut() > 0 {
		n, err := unix.Write(c.fd, c.out[c.outOff:])
		if n > 0 {
			c.outOff += n
			c.touch(now)
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			break
		}
		if err != nil {
			r.closeConn(c, errors.Wrap(err, "write"))
			return false
		}
	}
	if c.pendingOut() > 0 {
		return true
	}
	if cap(c.out) > maxRetainedOutBuffer {
		c.out = nil
	} else {
		c.out = c.out[:0]
	}
	c.outOff = 0
	if c.closeAfterFlush || (c.readClosed && !c.busy()) {
		r.lingerClose(c)
		return false
	}
	r.markFlushable(c)
	r.updateEvents(c)
	return true
}

const maxRetainedOutBuffer = 64 << 10

// lingerClose half-closes the socket and discards pending input so the peer
// is not reset before reading the final response.
func (r *reactor) lingerClose(c *Connection) {
	_ = unix.Shutdown(c.fd, unix.SHUT_WR)
	buf := r.readBuf
	for i := 0; i < 4; i++ {
		if n, err := unix.Read(c.fd, buf); n <= 0 || err != nil {
			break
		}
	}
	r.closeConn(c, nil)
}

// updateEvents adjusts the interest set of c to its state.
func (r *reactor) updateEvents(c *Connection) {
	var ev uint32
	if !c.readClosed && !c.shouldClose {
		ev |= clientEvents
	}
	if c.pendingOut() > 0 {
		ev |= evWrite
	}
	if ev == c.armed {
		return
	}
	if err := r.p.mod(c.fd, ev); err != nil {
		c.log.Debug().Err(err).Send()
		return
	}
	c.armed = ev
}

// shutdown closes every connection, kills remaining children and releases
// the reactor's own descriptors.
func (r *reactor) shutdown() {
	for _, c := range r.conns {
		r.closeConn(c, ErrServerClosed)
	}
	for i := 0; i < 100 && len(r.procs) > 0; i++ {
		for _, p := range r.procs {
			r.abandonProcess(p)
		}
		r.reapChildren()
		if len(r.procs) > 0 {
			time.Sleep(time.Millisecond)
		}
	}
	for _, ln := range r.listeners {
		r.unregister(ln.fd)
	}
	r.listeners = nil
	if r.timerFd >= 0 {
		r.unregister(r.timerFd)
		r.timerFd = -1
	}
	if r.wakeFd >= 0 {
		r.unregister(r.wakeFd)
		r.wakeFd = -1
	}
	if err := r.p.close(); err != nil {
		r.log.Debug().Err(err).Msg("close poller")
	}
	if r.putReadBuf != nil {
		r.putReadBuf()
		r.putReadBuf = nil
		r.readBuf = nil
	}
}
