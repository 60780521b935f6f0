package env

import (
	"log/slog"
	"strings"
)

// ParseLogLevel maps LOG_LEVEL ("debug", "info", "warn" or "warning", "error")
// to a slog.Level, returning fallback for empty or unknown values.
func ParseLogLevel(fallback slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(Get("LOG_LEVEL", ""))) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}
