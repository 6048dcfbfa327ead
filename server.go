//go:build linux

package evhttp

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultConcurrency is the maximum number of concurrent connections
// the Server may serve by default (i.e. if Server.Concurrency isn't set).
const DefaultConcurrency = 256 * 1024

// DefaultMaxRequestBodySize is the maximum request body size the server
// reads by default.
//
// See Server.MaxRequestBodySize for details.
const DefaultMaxRequestBodySize = 4 * 1024 * 1024

const (
	DefaultReadBufferSize   = 16 * 1024
	DefaultIdleTimeout      = 60 * time.Second
	DefaultCGITimeout       = 30 * time.Second
	DefaultTickInterval     = time.Second
	DefaultMaxCGIOutputSize = 32 * 1024 * 1024
)

// Server serves HTTP/1.x on one goroutine driving an epoll reactor.
//
// It is forbidden copying Server instances. Create new Server instances
// instead.
type Server struct {
	noCopy noCopy

	// Server name for sending in response headers. default value is evhttp
	Name string

	// Endpoints are the "host:port" addresses to listen on.
	Endpoints []string

	// Resolver maps (endpoint, Host, URI) to the policy of a request.
	Resolver PolicyResolver

	// Dispatcher builds responses. A FileDispatcher is used if not set.
	Dispatcher Dispatcher

	// Logger receives server and per-connection events.
	// The zero value discards everything.
	Logger zerolog.Logger

	// The maximum number of concurrent connections the server may serve.
	// Connections above the limit get a 503 and are closed.
	//
	// DefaultConcurrency is used if not set.
	// A zero or negative value indicates the default value.
	Concurrency int

	// Size of the scratch buffer each socket or pipe read goes through.
	//
	// A zero or negative value indicates DefaultReadBufferSize.
	ReadBufferSize int

	// MaxHeaderSize bounds the request line plus header block. Larger
	// headers are answered with 431 and the connection is closed.
	// A zero or negative value indicates 8KiB.
	MaxHeaderSize int

	// Maximum request body size when the policy sets no
	// client_max_body_size. Larger bodies get 413.
	// A zero or negative value indicates DefaultMaxRequestBodySize.
	MaxRequestBodySize int64

	// IdleTimeout closes connections without socket or CGI activity for
	// this long, killing any CGI process they own.
	//
	// A zero value indicates DefaultIdleTimeout; negative disables it.
	IdleTimeout time.Duration

	// CGITimeout bounds the runtime of a CGI script. Scripts exceeding it are
	// killed and answered with 504.
	//
	// A zero value indicates DefaultCGITimeout; negative disables it.
	CGITimeout time.Duration

	// MaxCGIOutputSize bounds the buffered stdout of one script.
	// A zero or negative value indicates DefaultMaxCGIOutputSize.
	MaxCGIOutputSize int

	// TickInterval is the period of the timer driving timeout sweeps and
	// the cached Date header.
	// A zero or negative value indicates DefaultTickInterval.
	TickInterval time.Duration

	// ReusePort sets SO_REUSEPORT on listening sockets.
	ReusePort bool

	// Backlog is the listen(2) backlog. Zero uses the kernel maximum.
	Backlog int

	mu    sync.Mutex
	r     *reactor
	stop  atomic.Bool
	stats *Stats
	addrs []net.Addr
}

type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

func (s *Server) getConcurrency() int {
	n := s.Concurrency
	if n <= 0 {
		n = DefaultConcurrency
	}
	return n
}

func durationOr(d, def time.Duration) int64 {
	switch {
	case d < 0:
		return 0
	case d == 0:
		return int64(def)
	}
	return int64(d)
}

func (s *Server) reactorConfig() reactorConfig {
	cfg := reactorConfig{
		name:         s.Name,
		software:     defaultServerSoftware,
		resolver:     s.Resolver,
		dispatcher:   s.Dispatcher,
		concurrency:  s.getConcurrency(),
		readBufSize:  s.ReadBufferSize,
		maxHeader:    s.MaxHeaderSize,
		maxBody:      s.MaxRequestBodySize,
		idleTimeout:  durationOr(s.IdleTimeout, DefaultIdleTimeout),
		cgiTimeout:   durationOr(s.CGITimeout, DefaultCGITimeout),
		maxCGIOutput: s.MaxCGIOutputSize,
		tick:         s.TickInterval,
	}
	if cfg.name == "" {
		cfg.name = defaultServerName
	}
	if cfg.dispatcher == nil {
		cfg.dispatcher = &FileDispatcher{Logger: s.Logger}
	}
	if cfg.maxBody <= 0 {
		cfg.maxBody = DefaultMaxRequestBodySize
	}
	if cfg.maxCGIOutput <= 0 {
		cfg.maxCGIOutput = DefaultMaxCGIOutputSize
	}
	return cfg
}

// Stats returns live counters. It is safe to call from any goroutine.
func (s *Server) Stats() *Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stats == nil {
		s.stats = newStats()
	}
	return s.stats
}

// Addrs returns the bound addresses after Listen.
func (s *Server) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]net.Addr(nil), s.addrs...)
}

// Listen binds every endpoint and prepares the reactor. Any failure is
// fatal and leaves nothing open.
func (s *Server) Listen() (err error) {
	if len(s.Endpoints) == 0 {
		return ErrNoListeners
	}
	stats := s.Stats()
	p, err := newEpollPoller(256)
	if err != nil {
		return err
	}
	r := newReactor(s.reactorConfig(), s.Logger, p, defaultSysOps, stats)
	defer func() {
		if err != nil {
			r.shutdown()
		}
	}()
	if err = r.start(); err != nil {
		return err
	}
	addrs := make([]net.Addr, 0, len(s.Endpoints))
	for _, ep := range s.Endpoints {
		ln, err := listen(ep, s.ReusePort, s.Backlog)
		if err != nil {
			return err
		}
		if err = r.addListener(ln); err != nil {
			_ = r.sys.closeFD(ln.fd)
			return errors.Wrapf(err, "register listener %q", ep)
		}
		addrs = append(addrs, ln.addr)
		s.Logger.Info().Str("listen", ep).Str("addr", ln.addr.String()).Msg("listening")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.r != nil {
		return errors.New("evhttp: server already listening")
	}
	s.r = r
	s.addrs = addrs
	s.stop.Store(false)
	return nil
}

// Serve runs the reactor on the calling goroutine until ctx is done or
// Shutdown is called. It returns nil after a clean stop.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	r := s.r
	s.mu.Unlock()
	if r == nil {
		return ErrNoListeners
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Shutdown()
		case <-done:
		}
	}()

	err := r.run(s.stop.Load)

	s.mu.Lock()
	s.r = nil
	s.addrs = nil
	s.mu.Unlock()
	r.shutdown()
	if err != nil {
		s.Logger.Error().Err(err).Msg("reactor stopped")
		return err
	}
	s.Logger.Info().Msg("server stopped")
	return nil
}

// ListenAndServe binds s.Endpoints and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Shutdown asks the reactor to stop. Open connections are closed and their
// CGI processes killed; Serve returns once that is done.
func (s *Server) Shutdown() error {
	s.stop.Store(true)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.r == nil {
		return ErrServerClosed
	}
	wake(s.r.wakeFd)
	return nil
}
