package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger is the minimal logging interface used throughout codecrew.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NoOpLogger discards all log messages. Useful for tests or when logging is
// disabled.
type NoOpLogger struct{}

// Debug discards a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info discards an info message.
func (NoOpLogger) Info(string, ...any) {}

// Warn discards a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error discards an error message.
func (NoOpLogger) Error(string, ...any) {}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger { return &SlogAdapter{Logger: logger} }

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger { return NewSlogAdapter(slog.Default()) }

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// Config configures construction of a CrewLogger.
type Config struct {
	Level     slog.Level
	Format    string // json or text
	Output    io.Writer
	AddSource bool
	Agent     string
	SessionID string
}

// DefaultConfig returns a baseline JSON info level configuration.
func DefaultConfig() *Config {
	return &Config{Level: slog.LevelInfo, Format: "json", Output: os.Stdout}
}

// CrewLogger wraps slog.Logger adding contextual cloning helpers plus domain
// convenience methods. It is cheap to copy via the With* methods.
type CrewLogger struct {
	logger    *slog.Logger
	agent     string
	sessionID string
}

// New builds a CrewLogger from a config (or defaults if nil).
func New(cfg *Config) *CrewLogger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	return &CrewLogger{logger: slog.New(handler), agent: cfg.Agent, sessionID: cfg.SessionID}
}

// WithAgent returns a copy bound to the given agent name.
func (l *CrewLogger) WithAgent(name string) *CrewLogger {
	nl := *l
	nl.agent = name
	return &nl
}

// WithSession returns a copy bound to the given session id.
func (l *CrewLogger) WithSession(sid string) *CrewLogger {
	nl := *l
	nl.sessionID = sid
	return &nl
}

func (l *CrewLogger) attrs(extra []any) []any {
	args := make([]any, 0, len(extra)+4)
	if l.agent != "" {
		args = append(args, "agent", l.agent)
	}
	if l.sessionID != "" {
		args = append(args, "session_id", l.sessionID)
	}
	return append(args, extra...)
}

// Debug logs at debug level with bound context attributes.
func (l *CrewLogger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, l.attrs(args)...)
}

// Info logs at info level with bound context attributes.
func (l *CrewLogger) Info(msg string, args ...any) {
	l.logger.Info(msg, l.attrs(args)...)
}

// Warn logs at warn level with bound context attributes.
func (l *CrewLogger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, l.attrs(args)...)
}

// Error logs at error level with bound context attributes.
func (l *CrewLogger) Error(msg string, args ...any) {
	l.logger.Error(msg, l.attrs(args)...)
}

// LogToolCall records execution details for a tool invocation.
func (l *CrewLogger) LogToolCall(tool string, dur time.Duration, success bool, err error) {
	args := l.attrs([]any{"tool_name", tool, "duration_ms", dur.Milliseconds(), "success", success})
	level := slog.LevelInfo
	msg := "tool execution completed"
	if !success {
		level = slog.LevelError
		msg = "tool execution failed"
		if err != nil {
			args = append(args, "error", err.Error())
		}
	}
	l.logger.Log(context.Background(), level, msg, args...)
}

// LogCompletionCall records completion round-trip latency and outcome.
func (l *CrewLogger) LogCompletionCall(dur time.Duration, success bool, err error) {
	args := l.attrs([]any{"duration_ms", dur.Milliseconds(), "success", success})
	level := slog.LevelInfo
	msg := "completion call finished"
	if !success {
		level = slog.LevelError
		msg = "completion call failed"
		if err != nil {
			args = append(args, "error", err.Error())
		}
	}
	l.logger.Log(context.Background(), level, msg, args...)
}
