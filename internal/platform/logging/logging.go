package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/animus-labs/loadrunner/internal/platform/env"
)

// ParseLevel maps debug|info|warn|error to a slog level; anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// FromEnv builds the process logger from LOG_LEVEL.
func FromEnv(w io.Writer) *slog.Logger {
	return New(w, ParseLevel(env.String("LOG_LEVEL", "info")))
}
