// Package sysutil holds small process-level helpers shared across the
// engine: zerolog level plumbing and logger construction.
package sysutil

import (
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// SetLogLevel configures the global zerolog level based on a string value.
// Supported values (case-insensitive): debug, info, warn, error, fatal, panic.
func SetLogLevel(lvl string) {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info", "":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case "panic":
		zerolog.SetGlobalLevel(zerolog.PanicLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// NewLogger builds the engine logger. pretty switches to the human-readable
// console writer for development.
func NewLogger(out io.Writer, pretty bool) zerolog.Logger {
	log := zerolog.New(out).With().Timestamp().Str("component", "inapp").Logger()
	if pretty {
		log = log.Output(zerolog.ConsoleWriter{Out: out})
	}
	return log
}
