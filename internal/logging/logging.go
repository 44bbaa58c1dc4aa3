// Package logging centralizes the structured-logger setup every cmd/
// entrypoint repeats, following the teacher's cmd/worker and cmd/api
// main.go convention of a JSON slog.Handler installed as the process
// default. Env-var sourcing follows internal/settings's getEnv style.
package logging

import (
	"log/slog"
	"os"
)

// New builds the process-wide structured logger and installs it as the
// slog default, returning it so callers can also hold a reference
// explicitly (workers and the orchestrator take a *slog.Logger directly
// rather than always reaching for slog.Default()).
func New(service string) *slog.Logger {
	level := parseLevel(getEnv("LOG_LEVEL", "info"))

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if getEnv("LOG_FORMAT", "json") == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(s string) slog.Level {
	switch s {
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

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
