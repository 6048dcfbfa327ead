//go:build linux

package evhttp

import (
	"net"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/valyala/tcplisten"
	"golang.org/x/sys/unix"
)

// listener is a bound, non-blocking listening socket detached from the Go
// runtime poller.
type listener struct {
	fd       int
	endpoint string
	addr     net.Addr
}

// listen binds endpoint ("host:port") with tcplisten and returns its raw
// descriptor. The net.Listener used for binding is closed before returning.
func listen(endpoint string, reusePort bool, backlog int) (*listener, error) {
	network := "tcp4"
	host, _, err := net.SplitHostPort(endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid listen address %q", endpoint)
	}
	if strings.Contains(host, ":") {
		network = "tcp6"
	}
	cfg := tcplisten.Config{ReusePort: reusePort, Backlog: backlog}
	ln, err := cfg.NewListener(network, endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot listen on %q", endpoint)
	}
	defer ln.Close()

	sc, ok := ln.(syscall.Conn)
	if !ok {
		return nil, errors.Errorf("listener %T exposes no descriptor", ln)
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return nil, errors.Wrap(err, "listener SyscallConn")
	}
	fd := -1
	var dupErr error
	if err = rc.Control(func(s uintptr) {
		fd, dupErr = unix.FcntlInt(s, unix.F_DUPFD_CLOEXEC, 0)
	}); err != nil {
		return nil, errors.Wrap(err, "listener Control")
	}
	if dupErr != nil {
		return nil, errors.Wrap(dupErr, "dup listening socket")
	}
	if err = unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "set listener non-blocking")
	}
	return &listener{fd: fd, endpoint: endpoint, addr: ln.Addr()}, nil
}

// sockaddrString formats an accepted peer address.
func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrUnix:
		return a.Name
	}
	return ""
}
