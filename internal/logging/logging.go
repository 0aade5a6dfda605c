package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps "debug", "info", "warn", "error" (case-insensitive) to a
// slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// Setup creates a configured *slog.Logger writing to stderr, sets it as the
// default, and returns it.
func Setup(level string) *slog.Logger {
	logger := New(os.Stderr, level)
	slog.SetDefault(logger)
	return logger
}

// New builds a text logger on w without touching the process default.
func New(w io.Writer, level string) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return slog.New(handler)
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
