// Package logging provides a tiny abstraction over slog so downstream code
// can depend on a minimal interface (Logger) while allowing users to plug
// any structured logger. It also offers a ChatLogger with contextual helpers
// (component, session) and a generation-call helper.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger defines the minimal logging interface for semachat. Users can
// provide their own implementation or use the built-in adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// NoOpLogger discards all log messages. Useful for testing or when logging
// is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}

// Config configures construction of a ChatLogger.
type Config struct {
	Level     slog.Level
	Format    string // json or text
	Output    io.Writer
	AddSource bool
	Component string
}

// DefaultConfig returns a baseline JSON info-level configuration.
func DefaultConfig() *Config {
	return &Config{Level: slog.LevelInfo, Format: "json", Output: os.Stdout}
}

// ParseLevel maps a config-level string to a slog level. Unknown values fall
// back to info.
func ParseLevel(s string) slog.Level {
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

// ChatLogger wraps slog with contextual cloning helpers and a domain
// convenience method for model calls. It is cheap to copy via With*.
type ChatLogger struct {
	logger *slog.Logger
}

// NewChatLogger builds a ChatLogger from a config (or defaults if nil).
func NewChatLogger(cfg *Config) *ChatLogger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	logger := slog.New(handler)
	if cfg.Component != "" {
		logger = logger.With("component", cfg.Component)
	}
	return &ChatLogger{logger: logger}
}

// WithComponent returns a logger tagged with the logical component
// (orchestrator, manager, store, backend id).
func (l *ChatLogger) WithComponent(component string) *ChatLogger {
	return &ChatLogger{logger: l.logger.With("component", component)}
}

// WithSession returns a logger tagged with a session identifier.
func (l *ChatLogger) WithSession(sessionID string) *ChatLogger {
	return &ChatLogger{logger: l.logger.With("session_id", sessionID)}
}

// Debug logs at debug level.
func (l *ChatLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }

// Info logs at info level.
func (l *ChatLogger) Info(msg string, args ...any) { l.logger.Info(msg, args...) }

// Warn logs at warn level.
func (l *ChatLogger) Warn(msg string, args ...any) { l.logger.Warn(msg, args...) }

// Error logs at error level.
func (l *ChatLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

// LogGeneration records latency, token usage and outcome of one model call.
func (l *ChatLogger) LogGeneration(model string, tokens int, dur time.Duration, err error) {
	if err != nil {
		l.logger.Error("generation failed", "model", model, "duration", dur, "error", err)
		return
	}
	l.logger.Info("generation completed", "model", model, "token_count", tokens, "duration", dur)
}
