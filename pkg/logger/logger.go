// Package logger provides structured logging for faultline components
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	ferrors "github.com/armorclaw/faultline/pkg/errors"
)

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// LogLevel represents the logging level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Logger wraps slog.Logger with faultline-specific functionality
type Logger struct {
	*slog.Logger
	component string
}

// Config holds logger configuration
type Config struct {
	Level     string
	Format    string // "json" or "text"
	Output    string // "stdout", "stderr", "discard", or file path
	Component string // Component name for logs
}

// New creates a new logger instance
func New(cfg Config) (*Logger, error) {
	output := cfg.Output
	if output == "" {
		output = "stderr"
	}

	var writer io.Writer
	switch output {
	case "stdout":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	case "discard":
		writer = io.Discard
	default:
		if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writer = file
	}

	return NewWithWriter(cfg, writer), nil
}

// NewWithWriter creates a logger writing to w
func NewWithWriter(cfg Config, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler).With("service", "faultline")
	if cfg.Component != "" {
		logger = logger.With("component", cfg.Component)
	}

	return &Logger{
		Logger:    logger,
		component: cfg.Component,
	}
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	return NewWithWriter(Config{}, io.Discard)
}

// ParseLevel maps a level name to slog.Level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch LogLevel(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Initialize sets up the global logger with configuration
func Initialize(cfg Config) error {
	if cfg.Component == "" {
		cfg.Component = "faultline"
	}
	l, err := New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()

	l.Debug("logger initialized",
		"level", cfg.Level,
		"format", cfg.Format,
		"output", cfg.Output,
	)
	return nil
}

// Global returns the global logger instance
func Global() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger == nil {
		return NewWithWriter(Config{Level: "info", Format: "text", Component: "faultline"}, os.Stderr)
	}
	return globalLogger
}

// Component returns the component name
func (l *Logger) Component() string {
	return l.component
}

// WithComponent returns a new logger with the component name set
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger:    l.Logger.With("component", component),
		component: component,
	}
}

// WithRequestID returns a new logger with a request ID for tracing
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{
		Logger:    l.Logger.With("request_id", requestID),
		component: l.component,
	}
}

// FaultEvent logs a classified fault at a level derived from its severity.
// The context is expected to be sanitized already.
func (l *Logger) FaultEvent(ctx context.Context, message string, c *ferrors.ErrorContext, attrs ...slog.Attr) {
	if c == nil {
		return
	}
	baseAttrs := []slog.Attr{
		slog.String("code", c.Code),
		slog.String("kind", string(c.Kind)),
		slog.String("severity", string(c.Severity)),
		slog.Bool("recoverable", c.Recoverable),
	}
	if origin := c.Origin.String(); origin != "" {
		baseAttrs = append(baseAttrs, slog.String("origin", origin))
	}
	if c.Cause != "" {
		baseAttrs = append(baseAttrs, slog.String("cause", c.Cause))
	}

	l.LogAttrs(ctx, SeverityLevel(c.Severity), message, append(baseAttrs, attrs...)...)
}

// SeverityLevel maps a fault severity to a slog level
func SeverityLevel(s ferrors.Severity) slog.Level {
	switch s {
	case ferrors.SeverityInfo:
		return slog.LevelInfo
	case ferrors.SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// ErrorEvent logs an error with context
func (l *Logger) ErrorEvent(ctx context.Context, message string, err error, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("error", err.Error()),
		slog.String("error_type", fmt.Sprintf("%T", err)),
	}

	l.LogAttrs(ctx, slog.LevelError, message, append(baseAttrs, attrs...)...)
}

// Convenience methods that use global logger

// Info logs an info message
func Info(msg string, args ...any) {
	Global().Info(msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	Global().Warn(msg, args...)
}

// Error logs an error message
func Error(msg string, args ...any) {
	Global().Error(msg, args...)
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	Global().Debug(msg, args...)
}
