package evhttpconf

import (
	"path/filepath"
	"testing"

	"github.com/gookit/goutil/testutil/assert"
)

func loadSample(t *testing.T) (*Resolver, string) {
	t.Helper()
	p := writeConfig(t, "evhttp.yaml", sampleYAML)
	cfg, err := Load(p)
	assert.NoErr(t, err)
	return NewResolver(cfg), filepath.Dir(p)
}

func TestResolveLongestPrefix(t *testing.T) {
	r, base := loadSample(t)

	pol := r.Resolve("127.0.0.1:8080", "example.com", "/cgi-bin/run.py")
	assert.Eq(t, filepath.Join(base, "www", "cgi-bin", "run.py"), pol.ResolvedPath)
	interp, ok := pol.Interpreter(pol.ResolvedPath)
	assert.True(t, ok)
	assert.Eq(t, "/usr/bin/python3", interp)
	assert.Eq(t, "example.com", pol.ServerName)

	// segment boundary: /cgi-binary is not under /cgi-bin
	pol = r.Resolve("127.0.0.1:8080", "example.com", "/cgi-binary")
	assert.Len(t, pol.CGIPass, 0)
	assert.Eq(t, []string{"index.html", "index.htm"}, pol.IndexFiles)

	pol = r.Resolve("127.0.0.1:8080", "example.com", "/upload/")
	assert.Eq(t, int64(10<<10), pol.ClientMaxBodySize)
	assert.Eq(t, filepath.Join(base, "uploads"), pol.UploadStore)
	assert.StrContains(t, pol.ResolvedPath, string(filepath.Separator)+"upload"+string(filepath.Separator))

	pol = r.Resolve("127.0.0.1:8080", "example.com", "/old/page")
	assert.NotNil(t, pol.Redirection)
	assert.Eq(t, 301, pol.Redirection.StatusCode)
	assert.Eq(t, "", pol.ResolvedPath)

	// server level limits apply where the location sets none
	pol = r.Resolve("127.0.0.1:8080", "example.com", "/")
	assert.Eq(t, int64(1<<20), pol.ClientMaxBodySize)
	assert.Eq(t, filepath.Join(base, "pages/404.html"), pol.ErrorPages[404])
	assert.True(t, pol.MethodAllowed("HEAD"))
	assert.False(t, pol.MethodAllowed("DELETE"))
}

func TestResolveServerSelection(t *testing.T) {
	r, _ := loadSample(t)

	pol := r.Resolve("127.0.0.1:8080", "OTHER.test", "/x")
	assert.Eq(t, filepath.Join("/srv/other", "x"), pol.ResolvedPath)
	assert.True(t, pol.Autoindex)

	// unknown host falls back to the first server on the endpoint
	pol = r.Resolve("127.0.0.1:8080", "unknown", "/x")
	assert.Eq(t, "example.com", pol.ServerName)

	// only the second server listens on 9090
	pol = r.Resolve("127.0.0.1:9090", "example.com", "/x")
	assert.Eq(t, "other.test", pol.ServerName)
}
