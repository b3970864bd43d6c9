// Package logging builds the slog loggers shared by the CLI and the library
// packages.
package logging

import (
	"io"
	"log/slog"
)

// New creates a text logger at the given level.
// The CLI passes stderr so logs never mix with JSON on stdout.
// The "error" key is standardized to "err".
func New(level slog.Level, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == "error" {
				a.Key = "err"
			}
			return a
		},
	}))
}

// NewNop returns a logger that discards everything.
func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// LevelFor maps the CLI verbosity flag to a level.
func LevelFor(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelWarn
}
