//go:build linux

package evhttp

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Readiness bits reported by a poller.
const (
	evRead  = uint32(unix.EPOLLIN)
	evWrite = uint32(unix.EPOLLOUT)
	evErr   = uint32(unix.EPOLLERR)
	evHup   = uint32(unix.EPOLLHUP | unix.EPOLLRDHUP)
)

type pollEvent struct {
	fd     int
	events uint32
}

// poller is the readiness multiplexer used by the reactor.
type poller interface {
	add(fd int, events uint32) error
	mod(fd int, events uint32) error
	del(fd int) error
	// wait blocks up to timeout (negative blocks indefinitely) and appends
	// ready descriptors to dst.
	wait(dst []pollEvent, timeout time.Duration) ([]pollEvent, error)
	close() error
}

// epollPoller is a level-triggered epoll instance.
type epollPoller struct {
	fd     int
	events []unix.EpollEvent
}

func newEpollPoller(maxEvents int) (*epollPoller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}
	if maxEvents <= 0 {
		maxEvents = 256
	}
	return &epollPoller{fd: fd, events: make([]unix.EpollEvent, maxEvents)}, nil
}

func (p *epollPoller) add(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return errors.Wrapf(unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev), "epoll_ctl add fd=%d", fd)
}

func (p *epollPoller) mod(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return errors.Wrapf(unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev), "epoll_ctl mod fd=%d", fd)
}

func (p *epollPoller) del(fd int) error {
	return errors.Wrapf(unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil), "epoll_ctl del fd=%d", fd)
}

func (p *epollPoller) wait(dst []pollEvent, timeout time.Duration) ([]pollEvent, error) {
	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
		if msec == 0 && timeout > 0 {
			msec = 1
		}
	}
	n, err := unix.EpollWait(p.fd, p.events, msec)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, errors.Wrap(err, "epoll_wait")
	}
	for i := 0; i < n; i++ {
		dst = append(dst, pollEvent{fd: int(p.events[i].Fd), events: p.events[i].Events})
	}
	return dst, nil
}

func (p *epollPoller) close() error {
	return unix.Close(p.fd)
}

// newTicker returns a periodic non-blocking timerfd.
func newTicker(interval time.Duration) (int, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return -1, errors.Wrap(err, "timerfd_create")
	}
	ts := unix.NsecToTimespec(int64(interval))
	its := unix.ItimerSpec{Interval: ts, Value: ts}
	if err = unix.TimerfdSettime(fd, 0, &its, nil); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "timerfd_settime")
	}
	return fd, nil
}

// drainCounter consumes the 8-byte counter of a timerfd or eventfd.
func drainCounter(fd int) {
	var b [8]byte
	for {
		if _, err := unix.Read(fd, b[:]); err != nil {
			return
		}
	}
}

func newWaker() (int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	return fd, errors.Wrap(err, "eventfd")
}

// wake may be called from any goroutine.
func wake(fd int) {
	b := [8]byte{1}
	_, _ = unix.Write(fd, b[:])
}
