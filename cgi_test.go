//go:build linux

package evhttp

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gookit/goutil/testutil/assert"
	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/sys/unix"
)

func TestParseCGIOutput(t *testing.T) {
	t.Parallel()
	resp, err := parseCGIOutput([]byte("Content-Type: text/plain\r\nX-Script: yes\r\nContent-Length: 99\r\n\r\nhello\n"))
	assert.NoErr(t, err)
	assert.Eq(t, StatusOK, resp.StatusCode)
	assert.Eq(t, "text/plain", resp.Header(HeaderContentType))
	assert.Eq(t, "yes", resp.Header("X-Script"))
	assert.Eq(t, "", resp.Header(HeaderContentLength))
	assert.Eq(t, "hello\n", string(resp.Body))

	// bare LF and a Status line
	resp, err = parseCGIOutput([]byte("Status: 404 Not Found\ncontent-type: text/html\n\n<h1>no</h1>"))
	assert.NoErr(t, err)
	assert.Eq(t, StatusNotFound, resp.StatusCode)
	assert.Eq(t, "<h1>no</h1>", string(resp.Body))

	resp, err = parseCGIOutput([]byte("Location: /elsewhere\r\n\r\n"))
	assert.NoErr(t, err)
	assert.Eq(t, StatusFound, resp.StatusCode)
	assert.Eq(t, "/elsewhere", resp.Header(HeaderLocation))

	resp, err = parseCGIOutput([]byte("Status: 301\r\nLocation: /moved\r\n\r\n"))
	assert.NoErr(t, err)
	assert.Eq(t, StatusMovedPermanently, resp.StatusCode)

	// the earlier separator wins even when the body holds the other kind
	resp, err = parseCGIOutput([]byte("Content-Type: text/plain\n\nline1\r\n\r\nline2"))
	assert.NoErr(t, err)
	assert.Eq(t, "line1\r\n\r\nline2", string(resp.Body))
}

func TestParseCGIOutputErrors(t *testing.T) {
	t.Parallel()
	_, err := parseCGIOutput([]byte("Content-Type: text/plain\r\nno separator"))
	assert.Eq(t, ErrCGINoSeparator, err)

	_, err = parseCGIOutput([]byte("X-Only: 1\r\n\r\nbody"))
	assert.Eq(t, ErrCGINoContentType, err)

	_, err = parseCGIOutput([]byte("Content-Type: text/plain\r\ngarbage line\r\n\r\n"))
	assert.True(t, errors.Is(err, ErrCGIBadHeader))

	_, err = parseCGIOutput([]byte("Status: abc\r\nContent-Type: text/plain\r\n\r\n"))
	assert.True(t, errors.Is(err, ErrCGIBadHeader))

	_, err = parseCGIOutput(nil)
	assert.Eq(t, ErrCGINoSeparator, err)
}

func envMap(env []string) map[string]string {
	m := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		m[k] = v
	}
	return m
}

func TestCGIEnv(t *testing.T) {
	t.Parallel()
	req := testRequest(MethodPost, "/cgi/run.py", []byte("a=1&b=2"),
		HeaderContentType, "application/x-www-form-urlencoded",
		HeaderContentLength, "7",
		"X-Forwarded-For", "10.0.0.1",
		"Proxy", "http://evil.example:3128",
	)
	req.RawURI = "/cgi/run.py?x=1"
	req.Query = "x=1"
	req.Endpoint = "0.0.0.0:8080"
	req.RemoteAddr = "192.0.2.7:51234"
	spawn := &CGISpawn{
		Interpreter: "/usr/bin/python3",
		Script:      "/srv/www/cgi/run.py",
		Request:     req,
		Policy:      &Policy{},
	}
	env := envMap(cgiEnv(spawn, "evhttp"))

	assert.Eq(t, "CGI/1.1", env["GATEWAY_INTERFACE"])
	assert.Eq(t, "evhttp", env["SERVER_SOFTWARE"])
	assert.Eq(t, ProtoHTTP11, env["SERVER_PROTOCOL"])
	assert.Eq(t, "localhost", env["SERVER_NAME"])
	assert.Eq(t, "8080", env["SERVER_PORT"])
	assert.Eq(t, MethodPost, env["REQUEST_METHOD"])
	assert.Eq(t, "/cgi/run.py?x=1", env["REQUEST_URI"])
	assert.Eq(t, "/srv/www/cgi/run.py", env["SCRIPT_FILENAME"])
	assert.Eq(t, "x=1", env["QUERY_STRING"])
	assert.Eq(t, "192.0.2.7", env["REMOTE_ADDR"])
	assert.Eq(t, "51234", env["REMOTE_PORT"])
	assert.Eq(t, "7", env["CONTENT_LENGTH"])
	assert.Eq(t, "application/x-www-form-urlencoded", env["CONTENT_TYPE"])
	assert.Eq(t, "10.0.0.1", env["HTTP_X_FORWARDED_FOR"])
	assert.Eq(t, "localhost", env["HTTP_HOST"])

	_, ok := env["HTTP_PROXY"]
	assert.False(t, ok)
	_, ok = env["HTTP_CONTENT_TYPE"]
	assert.False(t, ok)

	spawn.Policy.ServerName = "example.com"
	spawn.Request = testRequest(MethodGet, "/cgi/run.py", nil)
	env = envMap(cgiEnv(spawn, "evhttp"))
	assert.Eq(t, "example.com", env["SERVER_NAME"])
	_, ok = env["CONTENT_LENGTH"]
	assert.False(t, ok)
}

func TestCGIHeaderKey(t *testing.T) {
	t.Parallel()
	assert.Eq(t, "USER_AGENT", cgiHeaderKey("User-Agent"))
	assert.Eq(t, "X_A1_B", cgiHeaderKey("x-a1-b"))
}

func finishedProcess(out string, status unix.WaitStatus) *CgiProcess {
	p := &CgiProcess{stdinFd: -1, stdoutFd: -1, reaped: true, status: status, policy: &Policy{}}
	if out != "" {
		p.output = bytebufferpool.Get()
		p.output.B = append(p.output.B, out...)
	}
	return p
}

func TestCGIResponse(t *testing.T) {
	t.Parallel()
	p := finishedProcess("Content-Type: text/plain\r\n\r\nok", 0)
	resp := p.cgiResponse()
	assert.Eq(t, StatusOK, resp.StatusCode)
	assert.Eq(t, "ok", string(resp.Body))
	assert.True(t, resp.ConnectionClose)
	assert.False(t, resp.SkipBody)
	assert.True(t, p.closed())
	p.releaseOutput()

	// exit status 3
	p = finishedProcess("Content-Type: text/plain\r\n\r\nok", unix.WaitStatus(3<<8))
	assert.Eq(t, StatusBadGateway, p.cgiResponse().StatusCode)
	assert.Eq(t, ErrCGIExitStatus, p.failure)

	// killed by SIGKILL
	p = finishedProcess("", unix.WaitStatus(unix.SIGKILL))
	assert.Eq(t, StatusBadGateway, p.cgiResponse().StatusCode)

	p = finishedProcess("no header separator", 0)
	assert.Eq(t, StatusBadGateway, p.cgiResponse().StatusCode)
	assert.Eq(t, ErrCGINoSeparator, p.failure)

	p = finishedProcess("", 0)
	p.timedOut = true
	assert.Eq(t, StatusGatewayTimeout, p.cgiResponse().StatusCode)

	p = finishedProcess("Content-Type: text/plain\r\n\r\nbody", 0)
	p.head = true
	resp = p.cgiResponse()
	assert.True(t, resp.SkipBody)
	assert.Eq(t, "body", string(resp.Body))

	assert.Eq(t, "awaiting-output", CgiAwaitingOutput.String())
	assert.Eq(t, "closed", CgiClosed.String())
}

func TestResolveInterpreter(t *testing.T) {
	t.Parallel()
	p, err := resolveInterpreter("/bin/sh")
	assert.NoErr(t, err)
	assert.Eq(t, "/bin/sh", p)

	p, err = resolveInterpreter("sh")
	assert.NoErr(t, err)
	assert.True(t, filepath.IsAbs(p))

	dir := t.TempDir()
	plain := filepath.Join(dir, "not-exec")
	assert.NoErr(t, os.WriteFile(plain, []byte("#!/bin/sh\n"), 0o644))
	for _, interp := range []string{"", "/nonexistent/python", "no-such-interpreter-here", dir, plain} {
		_, err = resolveInterpreter(interp)
		assert.True(t, errors.Is(err, ErrInterpreterNotFound), interp)
	}
}
