// Package logger builds the zerolog loggers shared by the pipeline packages.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level returns the log level for the verbose flag.
func Level(verbose bool) zerolog.Level {
	if verbose {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

// New returns a JSON logger writing to w.
func New(w io.Writer, verbose bool) zerolog.Logger {
	return zerolog.New(w).
		Level(Level(verbose)).
		With().
		Timestamp().
		Logger()
}

// NewConsole returns a human-readable logger on stderr for the CLI.
func NewConsole(verbose bool) zerolog.Logger {
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return New(consoleWriter, verbose)
}

// Nop returns a logger that discards everything.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// Component returns a child logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Sample returns a child logger tagged with the stage and sample.
func Sample(l zerolog.Logger, stage, sample string) zerolog.Logger {
	return l.With().Str("stage", stage).Str("sample", sample).Logger()
}
