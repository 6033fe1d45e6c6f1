package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var current atomic.Pointer[slog.Logger]

// InitLogger initializes structured logging. Output goes to stderr because
// stdout carries the MCP stdio transport.
func InitLogger(level, format string) {
	Init(os.Stderr, level, format)
}

// Init initializes structured logging on w
func Init(w io.Writer, level, format string) {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	l := slog.New(handler)
	current.Store(l)
	l.Debug("Structured logging initialized", "level", lvl.String(), "format", format)
}

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info
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

// Get returns the active logger, or nil before initialization
func Get() *slog.Logger {
	return current.Load()
}

// With returns a child logger carrying args. Before initialization it
// returns a logger that discards everything.
func With(args ...any) *slog.Logger {
	if l := current.Load(); l != nil {
		return l.With(args...)
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Helper functions for common log operations
func Info(msg string, args ...any) {
	if l := current.Load(); l != nil {
		l.Info(msg, args...)
	}
}

func Error(msg string, args ...any) {
	if l := current.Load(); l != nil {
		l.Error(msg, args...)
	}
}

func Debug(msg string, args ...any) {
	if l := current.Load(); l != nil {
		l.Debug(msg, args...)
	}
}

func Warn(msg string, args ...any) {
	if l := current.Load(); l != nil {
		l.Warn(msg, args...)
	}
}
