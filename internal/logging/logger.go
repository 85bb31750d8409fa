// Package logging wraps zerolog with the orchestrator's startup conventions:
// a single configured root logger, pretty-printed in development, structured
// JSON in production, with every component deriving a Str("component", ...)
// child logger from it rather than constructing loggers ad hoc.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls how the root logger is constructed.
type Config struct {
	Level  string // trace|debug|info|warn|error|fatal
	Pretty bool   // human-readable console output instead of JSON
}

// New builds the root logger. Call once at process start and derive
// component loggers from the result via log.With().Str("component", "x").Logger().
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Pretty {
		console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(console).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
