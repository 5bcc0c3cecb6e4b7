// Package observability provides the ambient logging and metrics stack
// shared by every mcpcassette command: a configured slog.Logger and a set
// of Prometheus metrics, of which the recording proxy and the replay
// matcher update their own.
package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a config/flag log level name to a slog.Level, defaulting
// to Info for anything unrecognized.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// NewLogger returns a structured logger writing to stderr (stdout is
// reserved for any piped cassette JSON output), at the given level and in
// the given format ("text" or "json"; anything else falls back to text).
func NewLogger(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// Discard returns a logger that drops all output, for tests and library
// callers that haven't configured one.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
