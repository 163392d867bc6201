// Package observability is the proxy's error-and-observability spine:
// structured logging, tracing spans for connections and requests, and
// Prometheus metrics.
package observability

import (
	"log/slog"
	"os"
	"strings"

	"github.com/searchktools/fast-proxy/config"
)

// NewLogger builds the process logger from config. Format "json" emits
// machine-readable records; anything else emits text.
func NewLogger(cfg config.LogConfig) *slog.Logger {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
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
