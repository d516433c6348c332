// Package logging provides structured logging for netscope using Go's slog package.
// It supports text and JSON output, configurable log levels, and component
// scoped loggers for the diagnostics, discovery and service scanning engines.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	// File permissions for directories and log files.
	logDirPerm  = 0750
	logFilePerm = 0600
)

// LogLevel represents the available log levels.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogFormat represents the available log formats.
type LogFormat string

const (
	FormatText LogFormat = "text"
	FormatJSON LogFormat = "json"
)

// Config holds logging configuration.
type Config struct {
	Level     LogLevel  `yaml:"level" json:"level"`
	Format    LogFormat `yaml:"format" json:"format"`
	Output    string    `yaml:"output" json:"output"`
	AddSource bool      `yaml:"add_source" json:"add_source"`
}

// DefaultConfig returns a default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:     LevelInfo,
		Format:    FormatText,
		Output:    "stdout",
		AddSource: false,
	}
}

// Logger wraps slog.Logger with additional functionality.
type Logger struct {
	*slog.Logger
	config Config
}

// New creates a new structured logger with the given configuration.
func New(cfg Config) (*Logger, error) {
	writer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	return newWithWriter(cfg, writer), nil
}

// newWithWriter creates a logger that writes to w, ignoring cfg.Output.
func newWithWriter(cfg Config, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		config: cfg,
	}
}

// parseLevel maps a configured level to a slog level. Unknown levels map to info.
func parseLevel(level LogLevel) slog.Level {
	switch strings.ToLower(string(level)) {
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

// openOutput resolves stdout, stderr, or a file path to a writer.
func openOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}

	if err := os.MkdirAll(filepath.Dir(output), logDirPerm); err != nil {
		return nil, err
	}
	return os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePerm)
}

// Config returns the configuration the logger was built with.
func (l *Logger) Config() Config {
	return l.config
}

// NewDefault creates a logger with default configuration.
func NewDefault() *Logger {
	logger, _ := New(DefaultConfig())
	return logger
}

// with returns a child logger carrying fields.
func (l *Logger) with(fields ...any) *Logger {
	return &Logger{
		Logger: l.With(fields...),
		config: l.config,
	}
}

// WithComponent adds a component field to the logger.
func (l *Logger) WithComponent(component string) *Logger {
	return l.with("component", component)
}

// WithRunID adds a run ID field to the logger.
func (l *Logger) WithRunID(runID string) *Logger {
	return l.with("run_id", runID)
}

// ErrorScan logs service scan errors for a target.
func (l *Logger) ErrorScan(msg, target string, err error, fields ...any) {
	allFields := append([]any{"target", target, "error", err}, fields...)
	l.Error(msg, allFields...)
}

// InfoDiscovery logs discovery-related information.
func (l *Logger) InfoDiscovery(msg, network string, fields ...any) {
	allFields := append([]any{"network", network}, fields...)
	l.Info(msg, allFields...)
}

// ErrorDiscovery logs discovery-related errors.
func (l *Logger) ErrorDiscovery(msg, network string, err error, fields ...any) {
	allFields := append([]any{"network", network, "error", err}, fields...)
	l.Error(msg, allFields...)
}

// InfoDiagnostics logs diagnostic step information.
func (l *Logger) InfoDiagnostics(msg, step string, fields ...any) {
	allFields := append([]any{"component", "diagnostics", "step", step}, fields...)
	l.Info(msg, allFields...)
}

// WarnDiagnostics logs a diagnostic step that did not pass.
func (l *Logger) WarnDiagnostics(msg, step string, fields ...any) {
	allFields := append([]any{"component", "diagnostics", "step", step}, fields...)
	l.Warn(msg, allFields...)
}

// Global logger instance - can be replaced for testing.
var defaultLogger = NewDefault()

// SetDefault sets the default logger instance.
func SetDefault(logger *Logger) {
	defaultLogger = logger
}

// Default returns the default logger instance.
func Default() *Logger {
	return defaultLogger
}

// Debug logs at debug level using the default logger.
func Debug(msg string, fields ...any) {
	defaultLogger.Debug(msg, fields...)
}

// Info logs at info level using the default logger.
func Info(msg string, fields ...any) {
	defaultLogger.Info(msg, fields...)
}
