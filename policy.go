package evhttp

import (
	"path/filepath"
	"strings"
)

// Redirect is a configured "return status url" directive.
type Redirect struct {
	StatusCode int
	URL        string
}

// Policy is the per-request configuration resolved from the listening
// endpoint, the Host header and the normalized URI.
type Policy struct {
	AllowedMethods    []string
	ClientMaxBodySize int64
	// ResolvedPath is the filesystem path the URI maps to.
	ResolvedPath string
	IndexFiles   []string
	Autoindex    bool
	UploadStore  string
	// CGIPass maps a file extension (".py") to its interpreter.
	CGIPass     map[string]string
	ErrorPages  map[int]string
	Redirection *Redirect

	// ServerName is reported to CGI scripts as SERVER_NAME.
	ServerName string
}

// MethodAllowed reports whether method may be used. An empty list allows
// every method the framer accepts.
func (p *Policy) MethodAllowed(method string) bool {
	if len(p.AllowedMethods) == 0 {
		return true
	}
	for _, m := range p.AllowedMethods {
		if m == method || (method == MethodHead && m == MethodGet) {
			return true
		}
	}
	return false
}

// Interpreter returns the CGI interpreter registered for path's extension.
func (p *Policy) Interpreter(path string) (string, bool) {
	if len(p.CGIPass) == 0 {
		return "", false
	}
	ext := filepath.Ext(path)
	if ext == "" {
		return "", false
	}
	interp, ok := p.CGIPass[strings.ToLower(ext)]
	return interp, ok
}

// PolicyResolver resolves the policy of a request. Implementations are only
// called from the reactor goroutine.
type PolicyResolver interface {
	Resolve(endpoint, host, uri string) *Policy
}

// RootPolicy resolves every request against a single document root.
type RootPolicy struct {
	Root string
	// Template is copied for each request; its ResolvedPath is ignored and a
	// relative UploadStore is taken relative to Root.
	Template Policy
}

// Resolve implements PolicyResolver.
func (rp *RootPolicy) Resolve(_, _, uri string) *Policy {
	p := rp.Template
	p.ResolvedPath = filepath.Join(rp.Root, filepath.FromSlash(uri))
	if strings.HasSuffix(uri, "/") && !strings.HasSuffix(p.ResolvedPath, string(filepath.Separator)) {
		p.ResolvedPath += string(filepath.Separator)
	}
	if p.UploadStore != "" && !filepath.IsAbs(p.UploadStore) {
		p.UploadStore = filepath.Join(rp.Root, p.UploadStore)
	}
	return &p
}
