// Package paprikalog provides the engine's structured logging setup: a
// package-level zerolog.Logger configured once at startup.
//
// Adapted from cuemby-warren/pkg/log's Init(Config)/package-level Logger
// shape, dropping its Kubernetes-oriented WithNodeID/WithServiceID helpers
// and adding a WithComponent helper used by pkg/blockchain and
// cmd/paprika-bench to tag which subsystem emitted a log line.
package paprikalog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance. Init must be called before it is
// used for anything but the zero-value default (a disabled logger that
// discards everything).
var Logger zerolog.Logger = zerolog.Nop()

// Level names a logging verbosity, mirroring the teacher's string-typed
// enum.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config configures Init.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init (re)configures the global Logger.
func Init(cfg Config) {
	var level zerolog.Level

	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent returns a child logger tagging every line with component.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}
