// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Options controls logger construction.
type Options struct {
	// Level is the minimum level to emit ("debug", "info", "warn", "error").
	// Unknown or empty values fall back to info.
	Level string
	// Pretty enables the human-readable console writer instead of JSON.
	Pretty bool
	// Output overrides the destination. Defaults to stderr.
	Output io.Writer
}

// New builds a logger with the service name attached to every event.
func New(service string, opts Options) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}
	logger := zerolog.New(out).With().Timestamp().Str("service", service).Logger()
	return logger.Level(parseLevel(opts.Level))
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
