// Package logging provides structured logging for udsrelay.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/hollowpath/udsrelay/internal/config"
)

// NewLogger builds the process-wide logger from an endpoint's agent config.
// Every record carries KeyComponent="udsrelay" so log aggregation can
// separate relay output from anything else sharing its destination, and
// debug level additionally attaches the call site (AddSource) since that is
// the level operators reach for when chasing a wedged Connection or a
// handshake rejection loop, not when everything is healthy.
func NewLogger(cfg config.AgentConfig) *slog.Logger {
	return NewLoggerWithWriter(cfg.LogLevel, cfg.LogFormat, os.Stderr)
}

// NewLoggerWithWriter builds a logger against a caller-supplied writer,
// used directly by tests that need to inspect output without touching
// os.Stderr.
func NewLoggerWithWriter(level, format string, w io.Writer) *slog.Logger {
	lvl := parseLevel(level)

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl <= slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler).With(KeyComponent, "udsrelay")
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NopLogger returns a logger that discards all output.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Common attribute keys for consistent logging across the relay core.
const (
	KeyConnID      = "conn_id"
	KeyChannel     = "channel_id"
	KeyRemoteAddr  = "remote_addr"
	KeyInboundAddr = "inbound_addr"
	KeyOutbound    = "outbound_addr"
	KeyBytes       = "bytes"
	KeyError       = "error"
	KeyComponent   = "component"
	KeyDuration    = "duration"
	KeyAlignment   = "alignment"
	KeyReason      = "reason"
)
