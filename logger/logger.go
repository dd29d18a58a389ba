// Package logger builds the collector's JSON logger. Every record carries
// the service name; connection loops add "conn" and "remote" through
// WithConnection and session handling adds "session" through WithSession,
// so all lines of one profiling run can be grepped together.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"flowScope/config"
)

// New creates a *slog.Logger from the given Logging config.
// Output is JSON to stdout with a "service" attribute on every record.
func New(cfg config.Logging) *slog.Logger {
	return NewWithWriter(os.Stdout, cfg)
}

// NewWithWriter is New with a caller supplied destination.
func NewWithWriter(w io.Writer, cfg config.Logging) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	})

	return slog.New(handler).With("service", cfg.Service)
}

// ParseLevel converts a string log level to slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithConnection tags log with a client connection id and its remote address.
func WithConnection(log *slog.Logger, id, remote string) *slog.Logger {
	return log.With("conn", id, "remote", remote)
}

// WithSession tags log with a profiling session identifier.
func WithSession(log *slog.Logger, identifier string) *slog.Logger {
	return log.With("session", identifier)
}
