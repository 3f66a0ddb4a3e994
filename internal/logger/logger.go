package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewJSONLogger initializes and returns a structured logger using slog.
// It outputs JSON-formatted logs to stdout at the given level.
func NewJSONLogger(level string) *slog.Logger {
	return New(os.Stdout, level)
}

// New builds a JSON logger writing to w.
func New(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}))
}

// ParseLevel maps a LOG_LEVEL value to a slog level, defaulting to info.
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
