// Package evhttpconf loads evhttp server configuration files and resolves
// per-request policies from them.
package evhttpconf

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the root of a configuration file.
type Config struct {
	LogLevel       string        `mapstructure:"log_level"`
	Name           string        `mapstructure:"name"`
	Concurrency    int           `mapstructure:"concurrency"`
	ReadBufferSize int           `mapstructure:"read_buffer_size"`
	MaxHeaderSize  int           `mapstructure:"max_header_size"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	CGITimeout     time.Duration `mapstructure:"cgi_timeout"`
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	ReusePort      bool          `mapstructure:"reuse_port"`
	Backlog        int           `mapstructure:"backlog"`
	// Compress enables br/zstd/gzip encoding of static files.
	Compress bool `mapstructure:"compress"`

	Servers []ServerBlock `mapstructure:"servers"`
}

// ServerBlock is one virtual server.
type ServerBlock struct {
	Listen      []string `mapstructure:"listen"`
	ServerNames []string `mapstructure:"server_names"`
	// ClientMaxBodySize accepts a byte count with an optional k/m/g suffix.
	ClientMaxBodySize string            `mapstructure:"client_max_body_size"`
	ErrorPages        map[string]string `mapstructure:"error_pages"`
	Locations         []LocationBlock   `mapstructure:"locations"`

	maxBodySize int64
	errorPages  map[int]string
}

// LocationBlock configures the requests whose path starts with Prefix.
type LocationBlock struct {
	Prefix            string            `mapstructure:"prefix"`
	Root              string            `mapstructure:"root"`
	Index             []string          `mapstructure:"index"`
	Autoindex         bool              `mapstructure:"autoindex"`
	Methods           []string          `mapstructure:"methods"`
	UploadStore       string            `mapstructure:"upload_store"`
	CGI               map[string]string `mapstructure:"cgi"`
	Return            *ReturnBlock      `mapstructure:"return"`
	ClientMaxBodySize string            `mapstructure:"client_max_body_size"`

	maxBodySize int64
}

// ReturnBlock is a configured redirection.
type ReturnBlock struct {
	Status int    `mapstructure:"status"`
	URL    string `mapstructure:"url"`
}

// Load reads the file at path. The format follows the file extension
// (yaml, json, toml, ...).
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(err, "config file")
	}
	// cgi maps are keyed by ".ext"; keep viper from splitting those keys
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigFile(path)
	v.SetDefault("log_level", "info")
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "error reading config file %q", path)
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrapf(err, "error parsing config file %q", path)
	}
	if err := cfg.normalize(filepath.Dir(path)); err != nil {
		return nil, errors.Wrapf(err, "invalid config file %q", path)
	}
	return cfg, nil
}

var supportedMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true, "DELETE": true,
}

// normalize validates cfg and fills the derived fields. Relative paths are
// taken relative to base.
func (cfg *Config) normalize(base string) error {
	if len(cfg.Servers) == 0 {
		return errors.New("no servers configured")
	}
	for i := range cfg.Servers {
		sb := &cfg.Servers[i]
		if err := sb.normalize(base); err != nil {
			return errors.Wrapf(err, "servers[%d]", i)
		}
	}
	return nil
}

func (sb *ServerBlock) normalize(base string) (err error) {
	if len(sb.Listen) == 0 {
		return errors.New("listen is empty")
	}
	for _, l := range sb.Listen {
		if _, _, err = net.SplitHostPort(l); err != nil {
			return errors.Wrapf(err, "listen %q", l)
		}
	}
	for i, n := range sb.ServerNames {
		sb.ServerNames[i] = strings.ToLower(n)
	}
	if sb.maxBodySize, err = ParseSize(sb.ClientMaxBodySize); err != nil {
		return errors.Wrap(err, "client_max_body_size")
	}
	sb.errorPages = make(map[int]string, len(sb.ErrorPages))
	for k, page := range sb.ErrorPages {
		code, err := strconv.Atoi(k)
		if err != nil || code < 100 || code > 599 {
			return errors.Errorf("error_pages: invalid status %q", k)
		}
		sb.errorPages[code] = absPath(base, page)
	}
	if len(sb.Locations) == 0 {
		return errors.New("no locations configured")
	}
	for i := range sb.Locations {
		if err = sb.Locations[i].normalize(base); err != nil {
			return errors.Wrapf(err, "locations[%d]", i)
		}
	}
	return nil
}

func (lb *LocationBlock) normalize(base string) (err error) {
	if !strings.HasPrefix(lb.Prefix, "/") {
		return errors.Errorf("prefix %q must start with '/'", lb.Prefix)
	}
	if lb.Root == "" && lb.Return == nil {
		return errors.New("root is required without return")
	}
	if lb.Root != "" {
		lb.Root = absPath(base, lb.Root)
	}
	if lb.UploadStore != "" {
		lb.UploadStore = absPath(base, lb.UploadStore)
	}
	for i, m := range lb.Methods {
		m = strings.ToUpper(m)
		if !supportedMethods[m] {
			return errors.Errorf("unsupported method %q", m)
		}
		lb.Methods[i] = m
	}
	cgi := make(map[string]string, len(lb.CGI))
	for ext, interp := range lb.CGI {
		if !strings.HasPrefix(ext, ".") || interp == "" {
			return errors.Errorf("cgi: invalid mapping %q -> %q", ext, interp)
		}
		cgi[strings.ToLower(ext)] = interp
	}
	lb.CGI = cgi
	if r := lb.Return; r != nil {
		if r.Status < 300 || r.Status > 399 || r.URL == "" {
			return errors.Errorf("return: invalid redirection %d %q", r.Status, r.URL)
		}
	}
	if lb.maxBodySize, err = ParseSize(lb.ClientMaxBodySize); err != nil {
		return errors.Wrap(err, "client_max_body_size")
	}
	return nil
}

func absPath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// ParseSize parses "512", "10k", "1m" or "2g" (case-insensitive, an optional
// trailing "b" is accepted). An empty string is 0.
func ParseSize(s string) (int64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	s = strings.TrimSuffix(s, "b")
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "k"):
		mult = 1 << 10
	case strings.HasSuffix(s, "m"):
		mult = 1 << 20
	case strings.HasSuffix(s, "g"):
		mult = 1 << 30
	}
	if mult != 1 {
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0, errors.Errorf("invalid size %q", s)
	}
	return n * mult, nil
}

// Endpoints returns the distinct listen addresses in configuration order.
func (cfg *Config) Endpoints() []string {
	var eps []string
	seen := make(map[string]bool)
	for _, sb := range cfg.Servers {
		for _, l := range sb.Listen {
			if !seen[l] {
				seen[l] = true
				eps = append(eps, l)
			}
		}
	}
	return eps
}
