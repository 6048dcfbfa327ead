//go:build linux

package evhttp

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gookit/goutil/testutil/assert"
	"github.com/rs/zerolog"
	"github.com/xyproto/randomstring"
)

type testServer struct {
	s    *Server
	addr string
	root string
}

func startTestServer(t *testing.T, tmpl Policy, mutate func(s *Server)) *testServer {
	t.Helper()
	root := t.TempDir()
	s := &Server{
		Endpoints:    []string{"127.0.0.1:0"},
		Resolver:     &RootPolicy{Root: root, Template: tmpl},
		Logger:       zerolog.Nop(),
		TickInterval: 10 * time.Millisecond,
	}
	if mutate != nil {
		mutate(s)
	}
	assert.NoErr(t, s.Listen())
	addrs := s.Addrs()
	assert.Len(t, addrs, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoErr(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return &testServer{s: s, addr: addrs[0].String(), root: root}
}

func (ts *testServer) writeFile(t *testing.T, name, body string, mode os.FileMode) string {
	t.Helper()
	p := filepath.Join(ts.root, name)
	assert.NoErr(t, os.MkdirAll(filepath.Dir(p), 0o755))
	assert.NoErr(t, os.WriteFile(p, []byte(body), mode))
	return p
}

func (ts *testServer) dial(t *testing.T) (net.Conn, *bufio.Reader) {
	t.Helper()
	c, err := net.DialTimeout("tcp", ts.addr, time.Second)
	assert.NoErr(t, err)
	t.Cleanup(func() { c.Close() })
	assert.NoErr(t, c.SetDeadline(time.Now().Add(5*time.Second)))
	return c, bufio.NewReader(c)
}

func readResponse(t *testing.T, br *bufio.Reader, method string) (*http.Response, string) {
	t.Helper()
	resp, err := http.ReadResponse(br, &http.Request{Method: method})
	assert.NoErr(t, err)
	body, err := io.ReadAll(resp.Body)
	assert.NoErr(t, err)
	resp.Body.Close()
	return resp, string(body)
}

func TestServerStaticGet(t *testing.T) {
	t.Parallel()
	ts := startTestServer(t, Policy{}, nil)
	ts.writeFile(t, "index.html", "<h1>hi</h1>", 0o644)

	c, br := ts.dial(t)
	// first fragment ends in the middle of the header block
	_, err := c.Write([]byte("GET /index.html HTTP/1.1\r\nHo"))
	assert.NoErr(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = c.Write([]byte("st: h\r\n\r\n"))
	assert.NoErr(t, err)

	resp, body := readResponse(t, br, http.MethodGet)
	assert.Eq(t, http.StatusOK, resp.StatusCode)
	assert.Eq(t, "<h1>hi</h1>", body)
	assert.StrContains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Eq(t, defaultServerName, resp.Header.Get("Server"))
	assert.NotEmpty(t, resp.Header.Get("Date"))
	assert.False(t, resp.Close)
}

func TestServerPipelinedOrder(t *testing.T) {
	t.Parallel()
	ts := startTestServer(t, Policy{}, nil)
	ts.writeFile(t, "a.txt", "aaa", 0o644)
	ts.writeFile(t, "b.txt", "bbb", 0o644)

	c, br := ts.dial(t)
	_, err := c.Write([]byte("GET /a.txt HTTP/1.1\r\nHost: h\r\n\r\n" +
		"GET /missing HTTP/1.1\r\nHost: h\r\n\r\n" +
		"HEAD /b.txt HTTP/1.1\r\nHost: h\r\n\r\n" +
		"GET /b.txt HTTP/1.1\r\nHost: h\r\nConnection: close\r\n\r\n"))
	assert.NoErr(t, err)

	resp, body := readResponse(t, br, http.MethodGet)
	assert.Eq(t, http.StatusOK, resp.StatusCode)
	assert.Eq(t, "aaa", body)

	resp, _ = readResponse(t, br, http.MethodGet)
	assert.Eq(t, http.StatusNotFound, resp.StatusCode)

	resp, body = readResponse(t, br, http.MethodHead)
	assert.Eq(t, http.StatusOK, resp.StatusCode)
	assert.Eq(t, "", body)
	assert.Eq(t, int64(3), resp.ContentLength)

	resp, body = readResponse(t, br, http.MethodGet)
	assert.Eq(t, "bbb", body)
	assert.True(t, resp.Close)

	_, err = br.ReadByte()
	assert.Eq(t, io.EOF, err)
	assert.Eq(t, int64(4), ts.s.Stats().Snapshot().Requests)
}

func TestServerContentLengthLeftover(t *testing.T) {
	t.Parallel()
	ts := startTestServer(t, Policy{UploadStore: "up"}, nil)
	assert.NoErr(t, os.Mkdir(filepath.Join(ts.root, "up"), 0o755))
	ts.writeFile(t, "x.txt", "x", 0o644)

	c, br := ts.dial(t)
	payload := randomstring.HumanFriendlyString(32)
	_, err := c.Write([]byte("PUT /up/p.txt HTTP/1.1\r\nHost: h\r\nContent-Length: 32\r\n\r\n" +
		payload + "GET /x.txt HTTP/1.1\r\nHost: h\r\n\r\n"))
	assert.NoErr(t, err)

	resp, _ := readResponse(t, br, http.MethodPut)
	assert.Eq(t, http.StatusCreated, resp.StatusCode)
	resp, body := readResponse(t, br, http.MethodGet)
	assert.Eq(t, http.StatusOK, resp.StatusCode)
	assert.Eq(t, "x", body)

	got, err := os.ReadFile(filepath.Join(ts.root, "up", "p.txt"))
	assert.NoErr(t, err)
	assert.Eq(t, payload, string(got))
}

func TestServerBadRequestCloses(t *testing.T) {
	t.Parallel()
	ts := startTestServer(t, Policy{}, nil)

	c, br := ts.dial(t)
	_, err := c.Write([]byte("GET /../etc/passwd HTTP/1.1\r\nHost: h\r\n\r\nGET / HTTP/1.1\r\nHost: h\r\n\r\n"))
	assert.NoErr(t, err)

	resp, _ := readResponse(t, br, http.MethodGet)
	assert.Eq(t, http.StatusBadRequest, resp.StatusCode)
	assert.True(t, resp.Close)
	_, err = br.ReadByte()
	assert.Eq(t, io.EOF, err)
	assert.Eq(t, int64(1), ts.s.Stats().Snapshot().BadRequests)
}

func TestServerExpectContinue(t *testing.T) {
	t.Parallel()
	ts := startTestServer(t, Policy{UploadStore: "up"}, nil)
	assert.NoErr(t, os.Mkdir(filepath.Join(ts.root, "up"), 0o755))

	c, br := ts.dial(t)
	_, err := c.Write([]byte("PUT /up/c.txt HTTP/1.1\r\nHost: h\r\nContent-Length: 5\r\nExpect: 100-continue\r\n\r\n"))
	assert.NoErr(t, err)
	line, err := br.ReadString('\n')
	assert.NoErr(t, err)
	assert.Eq(t, "HTTP/1.1 100 Continue\r\n", line)
	line, err = br.ReadString('\n')
	assert.NoErr(t, err)
	assert.Eq(t, "\r\n", line)

	_, err = c.Write([]byte("hello"))
	assert.NoErr(t, err)
	resp, _ := readResponse(t, br, http.MethodPut)
	assert.Eq(t, http.StatusCreated, resp.StatusCode)
}

func TestServerIdleTimeout(t *testing.T) {
	t.Parallel()
	ts := startTestServer(t, Policy{}, func(s *Server) {
		s.IdleTimeout = 50 * time.Millisecond
	})

	_, br := ts.dial(t)
	start := time.Now()
	_, err := br.ReadByte()
	assert.Eq(t, io.EOF, err)
	assert.True(t, time.Since(start) < 3*time.Second)
	assert.Eq(t, int64(1), ts.s.Stats().Snapshot().IdleClosed)
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
}

func cgiPolicy() Policy {
	return Policy{CGIPass: map[string]string{".sh": "/bin/sh"}}
}

func TestServerCGIEcho(t *testing.T) {
	t.Parallel()
	requireShell(t)
	ts := startTestServer(t, cgiPolicy(), nil)
	ts.writeFile(t, "echo.sh", "printf 'Content-Type: text/plain\\r\\nX-Method: %s\\r\\n\\r\\n' \"$REQUEST_METHOD\"\n"+
		"printf '%s|' \"$QUERY_STRING\"\ncat\n", 0o644)

	c, br := ts.dial(t)
	body := randomstring.HumanFriendlyString(64)
	_, err := c.Write([]byte("POST /echo.sh?a=1 HTTP/1.1\r\nHost: h\r\nContent-Length: 64\r\n\r\n" + body))
	assert.NoErr(t, err)

	resp, got := readResponse(t, br, http.MethodPost)
	assert.Eq(t, http.StatusOK, resp.StatusCode)
	assert.Eq(t, "POST", resp.Header.Get("X-Method"))
	assert.Eq(t, "a=1|"+body, got)
	assert.True(t, resp.Close)

	snap := ts.s.Stats().Snapshot()
	assert.Eq(t, int64(1), snap.CGISpawned)
	assert.Eq(t, int64(0), snap.CGIFailed)
}

func TestServerCGIStatusAndLocation(t *testing.T) {
	t.Parallel()
	requireShell(t)
	ts := startTestServer(t, cgiPolicy(), nil)
	ts.writeFile(t, "go.sh", "printf 'Location: /elsewhere\\n\\n'\n", 0o644)
	ts.writeFile(t, "teapot.sh", "printf 'Status: 418 I am a teapot\\nContent-Type: text/plain\\n\\nshort'\n", 0o644)

	_, br := ts.dialAndSend(t, "GET /go.sh HTTP/1.1\r\nHost: h\r\n\r\n")
	resp, _ := readResponse(t, br, http.MethodGet)
	assert.Eq(t, http.StatusFound, resp.StatusCode)
	assert.Eq(t, "/elsewhere", resp.Header.Get("Location"))

	_, br = ts.dialAndSend(t, "GET /teapot.sh HTTP/1.0\r\n\r\n")
	resp, body := readResponse(t, br, http.MethodGet)
	assert.Eq(t, 418, resp.StatusCode)
	assert.Eq(t, "short", body)
}

func (ts *testServer) dialAndSend(t *testing.T, req string) (net.Conn, *bufio.Reader) {
	t.Helper()
	c, br := ts.dial(t)
	_, err := c.Write([]byte(req))
	assert.NoErr(t, err)
	return c, br
}

func TestServerCGIFailures(t *testing.T) {
	t.Parallel()
	requireShell(t)
	ts := startTestServer(t, Policy{CGIPass: map[string]string{
		".sh": "/bin/sh",
		".py": "/nonexistent/python3",
	}}, nil)
	ts.writeFile(t, "fail.sh", "printf 'Content-Type: text/plain\\n\\n'\nexit 3\n", 0o644)
	ts.writeFile(t, "nosep.sh", "printf 'Content-Type: text/plain'\n", 0o644)
	ts.writeFile(t, "noct.sh", "printf 'X-A: b\\n\\nbody'\n", 0o644)
	ts.writeFile(t, "x.py", "print('never')\n", 0o644)

	for _, uri := range []string{"/x.py", "/fail.sh", "/nosep.sh", "/noct.sh"} {
		_, br := ts.dialAndSend(t, "GET "+uri+" HTTP/1.1\r\nHost: h\r\n\r\n")
		resp, _ := readResponse(t, br, http.MethodGet)
		assert.Eq(t, http.StatusBadGateway, resp.StatusCode, uri)
	}
	snap := ts.s.Stats().Snapshot()
	// the missing interpreter is rejected before any fork
	assert.Eq(t, int64(3), snap.CGISpawned)
	assert.Eq(t, int64(4), snap.CGIFailed)
}

func TestServerCGITimeout(t *testing.T) {
	t.Parallel()
	requireShell(t)
	ts := startTestServer(t, cgiPolicy(), func(s *Server) {
		s.CGITimeout = 100 * time.Millisecond
	})
	ts.writeFile(t, "slow.sh", "sleep 10\n", 0o644)

	start := time.Now()
	_, br := ts.dialAndSend(t, "GET /slow.sh HTTP/1.1\r\nHost: h\r\n\r\n")
	resp, _ := readResponse(t, br, http.MethodGet)
	assert.Eq(t, http.StatusGatewayTimeout, resp.StatusCode)
	assert.True(t, time.Since(start) < 5*time.Second)
	assert.Eq(t, int64(1), ts.s.Stats().Snapshot().CGITimeouts)
}

func TestServerCGIClosedStdin(t *testing.T) {
	t.Parallel()
	requireShell(t)
	ts := startTestServer(t, cgiPolicy(), nil)
	ts.writeFile(t, "deaf.sh", "exec 0<&-\nsleep 3\nprintf 'Content-Type: text/plain\\n\\nlate'\n", 0o644)

	body := strings.Repeat("x", 2<<20)
	start := time.Now()
	c, br := ts.dial(t)
	go func() {
		_, _ = c.Write([]byte("POST /deaf.sh HTTP/1.1\r\nHost: h\r\nContent-Length: 2097152\r\n\r\n" + body))
	}()
	resp, got := readResponse(t, br, http.MethodPost)
	// the child is killed as soon as its stdin goes away
	assert.Eq(t, http.StatusBadGateway, resp.StatusCode)
	assert.NotContains(t, got, "late")
	assert.True(t, time.Since(start) < 2*time.Second)
}

func TestServerHalfCloseStillAnswers(t *testing.T) {
	t.Parallel()
	requireShell(t)
	ts := startTestServer(t, cgiPolicy(), nil)
	ts.writeFile(t, "nap.sh", "sleep 0.2\nprintf 'Content-Type: text/plain\\n\\nawake'\n", 0o644)

	c, br := ts.dialAndSend(t, "GET /nap.sh HTTP/1.1\r\nHost: h\r\n\r\n")
	assert.NoErr(t, c.(*net.TCPConn).CloseWrite())
	resp, body := readResponse(t, br, http.MethodGet)
	assert.Eq(t, http.StatusOK, resp.StatusCode)
	assert.Eq(t, "awake", body)
}

func TestServerConcurrencyLimit(t *testing.T) {
	t.Parallel()
	ts := startTestServer(t, Policy{}, func(s *Server) {
		s.Concurrency = 1
	})
	ts.writeFile(t, "a.txt", "aaa", 0o644)

	first, br := ts.dialAndSend(t, "GET /a.txt HTTP/1.1\r\nHost: h\r\n\r\n")
	resp, _ := readResponse(t, br, http.MethodGet)
	assert.Eq(t, http.StatusOK, resp.StatusCode)

	_, br2 := ts.dial(t)
	resp, body := readResponse(t, br2, http.MethodGet)
	assert.Eq(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Eq(t, ErrConcurrencyLimit.Error(), body)
	assert.True(t, resp.Close)
	assert.Eq(t, int64(1), ts.s.Stats().Snapshot().Accepted)

	// the slot frees up once the first client leaves
	first.Close()
	deadline := time.Now().Add(2 * time.Second)
	for ts.s.Stats().Snapshot().Open > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	_, br3 := ts.dialAndSend(t, "GET /a.txt HTTP/1.1\r\nHost: h\r\n\r\n")
	resp, body = readResponse(t, br3, http.MethodGet)
	assert.Eq(t, http.StatusOK, resp.StatusCode)
	assert.Eq(t, "aaa", body)
}

func TestServerShutdownKillsCGI(t *testing.T) {
	requireShell(t)
	ts := startTestServer(t, cgiPolicy(), nil)
	ts.writeFile(t, "hang.sh", "sleep 30\n", 0o644)

	_, br := ts.dialAndSend(t, "GET /hang.sh HTTP/1.1\r\nHost: h\r\n\r\n")
	deadline := time.Now().Add(2 * time.Second)
	for ts.s.Stats().Snapshot().CGIRunning == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.NoErr(t, ts.s.Shutdown())
	_, err := br.ReadByte()
	assert.Err(t, err)
	assert.False(t, strings.Contains(err.Error(), "timeout"))
}

func TestServerNoEndpoints(t *testing.T) {
	t.Parallel()
	s := &Server{}
	assert.Eq(t, ErrNoListeners, s.Listen())
	assert.Eq(t, ErrServerClosed, s.Shutdown())
}
