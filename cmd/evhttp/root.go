package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/newacorn/evhttp"
)

var (
	// ConfigPath is the path to the configuration file
	ConfigPath string

	// LogLevel overrides the log_level of the configuration file
	LogLevel string

	// JSONLog disables the console writer
	JSONLog bool

	// RootCmd is the root command for CLI
	RootCmd = &cobra.Command{
		Use:   "evhttp",
		Short: "evhttp - single-threaded HTTP/1.x server with CGI",
		Long: `evhttp serves static files, directory listings, uploads and CGI
scripts from one epoll event loop.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level string) zerolog.Logger {
	if LogLevel != "" {
		level = LogLevel
	}
	if JSONLog {
		return evhttp.NewLogger(os.Stderr, level)
	}
	return evhttp.NewLogger(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}, level)
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&ConfigPath, "config", "c", "evhttp.yaml", "Path to configuration file")
	RootCmd.PersistentFlags().StringVar(&LogLevel, "log-level", "", "Set logging level (debug, info, warn, error)")
	RootCmd.PersistentFlags().BoolVar(&JSONLog, "json-log", false, "Write JSON log lines instead of console output")
}
