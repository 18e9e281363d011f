// Package logger builds the process-wide slog logger. Services receive it via
// their WithLogger option; nothing in this repo logs through the global
// default except early main startup.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// New returns a structured logger: human-readable text in dev, JSON elsewhere.
// Level accepts debug, info, warn, error (case-insensitive); anything else
// falls back to info.
func New(env, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(env, "dev") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
