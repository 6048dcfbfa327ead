package evhttp

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.CallerFieldName = "C"
	zerolog.MessageFieldName = "M"
	zerolog.LevelFieldName = "L"
	zerolog.ErrorFieldName = "E"
	zerolog.TimestampFieldName = "T"
	zerolog.ErrorStackFieldName = "S"
}

// NewLogger returns a timestamped logger writing to w at the given level.
// An unknown level falls back to info.
//
// A nil w means os.Stderr.
func NewLogger(w io.Writer, level string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// connLogger derives the per-connection sub-logger used by the reactor.
func connLogger(l *zerolog.Logger, id uint64, peer string) zerolog.Logger {
	return l.With().Uint64("conn", id).Str("peer", peer).Logger()
}
