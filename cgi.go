//go:build linux

package evhttp

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/sys/unix"
)

// CgiState is the lifecycle state of a CGI child.
type CgiState uint8

const (
	CgiSpawning CgiState = iota
	// CgiStreamingInput is skipped for requests without a body.
	CgiStreamingInput
	CgiAwaitingOutput
	CgiReaped
	CgiClosed
)

func (s CgiState) String() string {
	switch s {
	case CgiSpawning:
		return "spawning"
	case CgiStreamingInput:
		return "streaming-input"
	case CgiAwaitingOutput:
		return "awaiting-output"
	case CgiReaped:
		return "reaped"
	}
	return "closed"
}

// CgiProcess tracks one child spawned for a request. Its two pipe ends close
// independently of the pid being reaped; the entry is released only when
// both have happened.
type CgiProcess struct {
	id    uint64
	owner uint64
	slot  slotHandle

	pid      int
	stdinFd  int
	stdoutFd int

	input     []byte
	inputSent int
	output    *bytebufferpool.ByteBuffer

	startTime int64
	state     CgiState
	reaped    bool
	status    unix.WaitStatus

	// failure, when set, replaces the parsed output with an error response.
	failure  error
	timedOut bool
	// terminated is set when the child was killed after a pipe failure; its
	// exit status no longer says anything about the output.
	terminated bool
	// orphan is set once the owning connection is gone; the entry only waits
	// to be reaped.
	orphan bool

	head   bool
	policy *Policy
}

// ID returns the stable identifier of p.
func (p *CgiProcess) ID() uint64 { return p.id }

// Pid returns the child's process id.
func (p *CgiProcess) Pid() int { return p.pid }

// State returns the current lifecycle state.
func (p *CgiProcess) State() CgiState { return p.state }

// closed reports whether both pipe ends are gone.
func (p *CgiProcess) closed() bool {
	return p.stdinFd < 0 && p.stdoutFd < 0
}

func (p *CgiProcess) releaseOutput() {
	if p.output != nil {
		bytebufferpool.Put(p.output)
		p.output = nil
	}
}

// sysOps holds the process and pipe syscalls of the CGI lifecycle.
type sysOps struct {
	closeFD func(fd int) error
	read    func(fd int, p []byte) (int, error)
	kill    func(pid int, sig unix.Signal) error
	// wait4 must not block.
	wait4 func(pid int, ws *unix.WaitStatus) (int, error)
}

var defaultSysOps = sysOps{
	closeFD: unix.Close,
	read:    unix.Read,
	kill:    unix.Kill,
	wait4: func(pid int, ws *unix.WaitStatus) (int, error) {
		return unix.Wait4(pid, ws, unix.WNOHANG, nil)
	},
}

// resolveInterpreter returns the absolute path of an executable interpreter.
// Bare names are looked up in PATH.
func resolveInterpreter(interp string) (string, error) {
	if interp == "" {
		return "", ErrInterpreterNotFound
	}
	if !strings.ContainsRune(interp, filepath.Separator) {
		p, err := exec.LookPath(interp)
		if err != nil {
			return "", errors.Wrap(ErrInterpreterNotFound, interp)
		}
		interp = p
	}
	fi, err := os.Stat(interp)
	if err != nil || !fi.Mode().IsRegular() {
		return "", errors.Wrap(ErrInterpreterNotFound, interp)
	}
	if err = unix.Access(interp, unix.X_OK); err != nil {
		return "", errors.Wrap(ErrInterpreterNotFound, interp)
	}
	return interp, nil
}

// spawnCGI forks interp with script as its argument. The returned stdin and
// stdout descriptors are the parent's non-blocking pipe ends.
func spawnCGI(interp string, spawn *CGISpawn, software string) (pid, stdinFd, stdoutFd int, err error) {
	var in, out [2]int
	if err = unix.Pipe2(in[:], unix.O_CLOEXEC); err != nil {
		return 0, -1, -1, errors.Wrap(err, "cgi stdin pipe")
	}
	if err = unix.Pipe2(out[:], unix.O_CLOEXEC); err != nil {
		unix.Close(in[0])
		unix.Close(in[1])
		return 0, -1, -1, errors.Wrap(err, "cgi stdout pipe")
	}
	attr := &syscall.ProcAttr{
		Dir:   filepath.Dir(spawn.Script),
		Env:   cgiEnv(spawn, software),
		Files: []uintptr{uintptr(in[0]), uintptr(out[1]), uintptr(unix.Stderr)},
	}
	pid, err = syscall.ForkExec(interp, []string{interp, spawn.Script}, attr)
	// the child's ends are duplicated into it; the parent never uses them
	unix.Close(in[0])
	unix.Close(out[1])
	if err != nil {
		unix.Close(in[1])
		unix.Close(out[0])
		return 0, -1, -1, errors.Wrapf(err, "cannot exec %q", interp)
	}
	if err = unix.SetNonblock(in[1], true); err == nil {
		err = unix.SetNonblock(out[0], true)
	}
	if err != nil {
		unix.Close(in[1])
		unix.Close(out[0])
		_ = unix.Kill(pid, unix.SIGKILL)
		var ws unix.WaitStatus
		_, _ = unix.Wait4(pid, &ws, 0, nil)
		return 0, -1, -1, errors.Wrap(err, "set cgi pipes non-blocking")
	}
	return pid, in[1], out[0], nil
}

// cgiResponse turns the finished process into the response for its slot.
func (p *CgiProcess) cgiResponse() *Response {
	var resp *Response
	switch {
	case p.timedOut:
		resp = ErrorResponse(StatusGatewayTimeout, p.policy)
	case p.failure != nil:
		resp = ErrorResponse(StatusBadGateway, p.policy)
	case p.reaped && !p.terminated && !(p.status.Exited() && p.status.ExitStatus() == 0):
		p.failure = ErrCGIExitStatus
		resp = ErrorResponse(StatusBadGateway, p.policy)
	default:
		var out []byte
		if p.output != nil {
			out = append(out, p.output.B...)
		}
		var err error
		if resp, err = parseCGIOutput(out); err != nil {
			p.failure = err
			resp = ErrorResponse(StatusBadGateway, p.policy)
		}
	}
	resp.SkipBody = p.head
	resp.ConnectionClose = true
	return resp
}
