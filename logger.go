package kernel

import "log/slog"

// Logger defines the interface for kernel logging.
// The kernel uses structured logging with key-value pairs to provide
// consistent, parseable log output across both subsystems.
//
// The Logger interface uses variadic arguments in key-value pairs:
//
//	logger.Info("message", "key1", "value1", "key2", "value2")
//
// This approach is compatible with popular structured logging libraries
// like slog, logrus, zap, and others. The same interface shape is consumed
// by the eventhub and plugin packages, so one implementation serves the
// whole kernel.
type Logger interface {
	// Info logs an informational message with optional key-value pairs.
	// Used for normal kernel events like phase transitions, plugin
	// startup, topic creation, etc.
	Info(msg string, args ...any)

	// Error logs an error message with optional key-value pairs.
	// Used for errors that don't halt the kernel but should be noted.
	Error(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs.
	// Used for conditions that are unusual but don't prevent operation,
	// like a plugin that succeeded without advancing its state.
	Warn(msg string, args ...any)

	// Debug logs a debug message with optional key-value pairs.
	// Used for detailed diagnostics, typically disabled in production.
	Debug(msg string, args ...any)
}

// SlogLogger adapts a *slog.Logger to the kernel Logger interface.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps the given slog logger; nil wraps slog.Default().
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger}
}

// Debug implements Logger.
func (l *SlogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }

// Info implements Logger.
func (l *SlogLogger) Info(msg string, args ...any) { l.logger.Info(msg, args...) }

// Warn implements Logger.
func (l *SlogLogger) Warn(msg string, args ...any) { l.logger.Warn(msg, args...) }

// Error implements Logger.
func (l *SlogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NopLogger returns a logger that discards everything.
func NopLogger() Logger { return nopLogger{} }
