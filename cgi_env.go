package evhttp

import (
	"os"
	"strconv"
	"strings"
)

// cgiEnv builds the RFC 3875 meta-variables for spawn.
func cgiEnv(spawn *CGISpawn, software string) []string {
	req := spawn.Request
	env := make([]string, 0, 24+req.Header.Len())
	add := func(k, v string) {
		env = append(env, k+"="+v)
	}

	serverName := spawn.Policy.ServerName
	if serverName == "" {
		serverName = req.Host()
	}
	_, serverPort := splitHostPort(req.Endpoint)
	remoteAddr, remotePort := splitHostPort(req.RemoteAddr)

	add("GATEWAY_INTERFACE", "CGI/1.1")
	add("SERVER_SOFTWARE", software)
	add("SERVER_PROTOCOL", req.Proto)
	add("SERVER_NAME", serverName)
	add("SERVER_PORT", serverPort)
	add("REQUEST_METHOD", req.Method)
	add("REQUEST_URI", req.RawURI)
	add("SCRIPT_NAME", req.URI)
	add("SCRIPT_FILENAME", spawn.Script)
	add("PATH_INFO", req.URI)
	add("PATH_TRANSLATED", spawn.Script)
	add("QUERY_STRING", req.Query)
	add("REMOTE_ADDR", remoteAddr)
	add("REMOTE_PORT", remotePort)
	add("REDIRECT_STATUS", "200")
	if req.ContentLength() > 0 || req.Header.Has(HeaderContentLength) || req.Chunked() {
		add("CONTENT_LENGTH", strconv.Itoa(req.ContentLength()))
	}
	if ct := req.ContentType(); ct != "" {
		add("CONTENT_TYPE", ct)
	}

	req.Header.VisitAll(func(name, value string) {
		switch {
		case strings.EqualFold(name, HeaderContentType),
			strings.EqualFold(name, HeaderContentLength):
			// already exported without the HTTP_ prefix
			return
		case strings.EqualFold(name, "Proxy"):
			// httpoxy: never let a client set HTTP_PROXY
			return
		}
		add("HTTP_"+cgiHeaderKey(name), value)
	})
	if p := os.Getenv("PATH"); p != "" {
		add("PATH", p)
	}
	return env
}

// cgiHeaderKey upper-cases name and maps '-' to '_'.
func cgiHeaderKey(name string) string {
	b := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'a' && c <= 'z' {
			c -= 0x20 // to upper
		} else if c == '-' {
			c = '_'
		}
		b[i] = c
	}
	return string(b)
}
