//go:build linux

package evhttpconf

import (
	"github.com/rs/zerolog"

	"github.com/newacorn/evhttp"
)

// NewServer builds a server for every listen address of cfg.
func NewServer(cfg *Config, logger zerolog.Logger) *evhttp.Server {
	return &evhttp.Server{
		Name:           cfg.Name,
		Endpoints:      cfg.Endpoints(),
		Resolver:       NewResolver(cfg),
		Dispatcher:     &evhttp.FileDispatcher{Logger: logger, Compress: cfg.Compress},
		Logger:         logger,
		Concurrency:    cfg.Concurrency,
		ReadBufferSize: cfg.ReadBufferSize,
		MaxHeaderSize:  cfg.MaxHeaderSize,
		IdleTimeout:    cfg.IdleTimeout,
		CGITimeout:     cfg.CGITimeout,
		TickInterval:   cfg.TickInterval,
		ReusePort:      cfg.ReusePort,
		Backlog:        cfg.Backlog,
	}
}
