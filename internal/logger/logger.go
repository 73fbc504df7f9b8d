package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options controls how the global logger is set up
type Options struct {
	Debug  bool
	Pretty bool      // Console output instead of JSON lines
	Output io.Writer // Defaults to os.Stderr
}

// Initialize sets up the global logger with the specified settings
func Initialize(opts Options) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	// Pretty print logs in development
	if opts.Debug || opts.Pretty {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if opts.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Add caller info to log
	log.Logger = log.With().Caller().Logger()
}

// Get returns the global logger instance
func Get() *zerolog.Logger {
	return &log.Logger
}
