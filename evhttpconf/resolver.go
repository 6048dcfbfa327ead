package evhttpconf

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/newacorn/evhttp"
)

// Resolver implements evhttp.PolicyResolver over a loaded Config.
type Resolver struct {
	servers    []*ServerBlock
	byEndpoint map[string][]*ServerBlock
	// locations per server, longest prefix first
	locations map[*ServerBlock][]*LocationBlock
}

// NewResolver indexes cfg. cfg must come from Load.
func NewResolver(cfg *Config) *Resolver {
	r := &Resolver{
		byEndpoint: make(map[string][]*ServerBlock),
		locations:  make(map[*ServerBlock][]*LocationBlock),
	}
	for i := range cfg.Servers {
		sb := &cfg.Servers[i]
		r.servers = append(r.servers, sb)
		for _, l := range sb.Listen {
			r.byEndpoint[l] = append(r.byEndpoint[l], sb)
		}
		locs := make([]*LocationBlock, 0, len(sb.Locations))
		for j := range sb.Locations {
			locs = append(locs, &sb.Locations[j])
		}
		sort.SliceStable(locs, func(a, b int) bool {
			return len(locs[a].Prefix) > len(locs[b].Prefix)
		})
		r.locations[sb] = locs
	}
	return r
}

// server picks the first block on endpoint naming host, else the first block
// on endpoint, else the first block overall.
func (r *Resolver) server(endpoint, host string) *ServerBlock {
	candidates := r.byEndpoint[endpoint]
	if len(candidates) == 0 {
		candidates = r.servers
	}
	host = strings.ToLower(host)
	for _, sb := range candidates {
		for _, n := range sb.ServerNames {
			if n == host {
				return sb
			}
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	return candidates[0]
}

func prefixMatches(prefix, uri string) bool {
	if !strings.HasPrefix(uri, prefix) {
		return false
	}
	return len(uri) == len(prefix) || strings.HasSuffix(prefix, "/") || uri[len(prefix)] == '/'
}

func (r *Resolver) location(sb *ServerBlock, uri string) *LocationBlock {
	for _, lb := range r.locations[sb] {
		if prefixMatches(lb.Prefix, uri) {
			return lb
		}
	}
	return nil
}

// Resolve implements evhttp.PolicyResolver.
func (r *Resolver) Resolve(endpoint, host, uri string) *evhttp.Policy {
	sb := r.server(endpoint, host)
	if sb == nil {
		return nil
	}
	pol := &evhttp.Policy{
		ClientMaxBodySize: sb.maxBodySize,
		ErrorPages:        sb.errorPages,
	}
	if len(sb.ServerNames) > 0 {
		pol.ServerName = sb.ServerNames[0]
	}
	lb := r.location(sb, uri)
	if lb == nil {
		return pol
	}
	if lb.maxBodySize > 0 {
		pol.ClientMaxBodySize = lb.maxBodySize
	}
	pol.AllowedMethods = lb.Methods
	pol.IndexFiles = lb.Index
	pol.Autoindex = lb.Autoindex
	pol.UploadStore = lb.UploadStore
	pol.CGIPass = lb.CGI
	if lb.Return != nil {
		pol.Redirection = &evhttp.Redirect{StatusCode: lb.Return.Status, URL: lb.Return.URL}
	}
	if lb.Root != "" {
		pol.ResolvedPath = filepath.Join(lb.Root, filepath.FromSlash(uri))
		if strings.HasSuffix(uri, "/") && !strings.HasSuffix(pol.ResolvedPath, string(filepath.Separator)) {
			pol.ResolvedPath += string(filepath.Separator)
		}
	}
	return pol
}
