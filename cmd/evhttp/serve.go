//go:build linux

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/newacorn/evhttp/evhttpconf"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start serving",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := evhttpconf.Load(ConfigPath)
		if err != nil {
			return err
		}
		logger := newLogger(cfg.LogLevel)
		s := evhttpconf.NewServer(cfg, logger)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err = s.Listen(); err != nil {
			return err
		}
		logger.Info().Str("config", ConfigPath).Strs("listen", s.Endpoints).Msg("evhttp started")
		err = s.Serve(ctx)
		snap := s.Stats().Snapshot()
		logger.Info().
			Int64("accepted", snap.Accepted).
			Int64("requests", snap.Requests).
			Int64("cgi", snap.CGISpawned).
			Msg("evhttp exited")
		return err
	},
}

func init() {
	RootCmd.AddCommand(serveCmd)
}
