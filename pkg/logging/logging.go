// Package logging provides structured logging for slotmap.
//
// The zap logger is exposed through the logr interface so that klog and
// library code can share one sink. It supports:
// - JSON and text output formats
// - Dynamic log level adjustment
// - Structured key-value logging
// - Context-aware logging
//
// Usage:
//
//	logger, err := logging.NewLogger(logging.Options{Level: "info", Format: "json"})
//	logger.Info("Slot claimed", "slot", 5)
//	logger.Error(err, "Failed to persist slot index", "backend", "badger")
package logging

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log level constants
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Log format constants
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Options contains configuration options for the logger
type Options struct {
	// Level is the log level: debug, info, warn, error
	// Default: info
	Level string

	// Format is the log format: json or text
	// Default: json
	Format string

	// OutputPath is the output file path
	// If empty, logs to stderr
	OutputPath string

	// Development enables development mode with more verbose output
	Development bool

	// AddCaller adds caller information to log entries
	AddCaller bool
}

// DefaultOptions returns default logging options
func DefaultOptions() Options {
	return Options{
		Level:     LevelInfo,
		Format:    FormatJSON,
		AddCaller: true,
	}
}

// Logger wraps a zap logger with dynamic level support
type Logger struct {
	zapLogger   *zap.Logger
	atomicLevel zap.AtomicLevel
	logr        logr.Logger
}

var (
	globalLogger atomic.Value
	initOnce     sync.Once
)

// NewLogger creates a new logger with the given options
func NewLogger(opts Options) (*Logger, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	atomicLevel := zap.NewAtomicLevelAt(level)

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if opts.Format == FormatText {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	// Stdout is reserved for command output
	var output zapcore.WriteSyncer
	if opts.OutputPath != "" {
		file, err := os.OpenFile(opts.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		output = zapcore.AddSync(file)
	} else {
		output = zapcore.Lock(os.Stderr)
	}

	zapOpts := []zap.Option{}
	if opts.AddCaller {
		zapOpts = append(zapOpts, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	if opts.Development {
		zapOpts = append(zapOpts, zap.Development())
	}

	zapLogger := zap.New(zapcore.NewCore(encoder, output, atomicLevel), zapOpts...)

	return &Logger{
		zapLogger:   zapLogger,
		atomicLevel: atomicLevel,
		logr:        zapr.NewLogger(zapLogger),
	}, nil
}

// NewNop returns a logger that discards everything, for tests
func NewNop() *Logger {
	z := zap.NewNop()
	return &Logger{
		zapLogger:   z,
		atomicLevel: zap.NewAtomicLevel(),
		logr:        zapr.NewLogger(z),
	}
}

// parseLevel parses a string log level to zapcore.Level.
// An empty level means info.
func parseLevel(level string) (zapcore.Level, error) {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel, nil
	case LevelInfo, "":
		return zapcore.InfoLevel, nil
	case LevelWarn:
		return zapcore.WarnLevel, nil
	case LevelError:
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// SetLevel dynamically changes the log level
func (l *Logger) SetLevel(level string) error {
	zapLevel, err := parseLevel(level)
	if err != nil {
		return err
	}
	l.atomicLevel.SetLevel(zapLevel)
	return nil
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() string {
	switch l.atomicLevel.Level() {
	case zapcore.DebugLevel:
		return LevelDebug
	case zapcore.WarnLevel:
		return LevelWarn
	case zapcore.ErrorLevel:
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger returns the logr.Logger interface
func (l *Logger) Logger() logr.Logger {
	return l.logr
}

// ZapLogger returns the underlying zap.Logger
func (l *Logger) ZapLogger() *zap.Logger {
	return l.zapLogger
}

// WithName returns a new logger with the given name
func (l *Logger) WithName(name string) *Logger {
	return &Logger{
		zapLogger:   l.zapLogger.Named(name),
		atomicLevel: l.atomicLevel,
		logr:        l.logr.WithName(name),
	}
}

// WithValues returns a new logger with the given key-value pairs
func (l *Logger) WithValues(keysAndValues ...interface{}) *Logger {
	return &Logger{
		zapLogger:   l.zapLogger.With(toZapFields(keysAndValues)...),
		atomicLevel: l.atomicLevel,
		logr:        l.logr.WithValues(keysAndValues...),
	}
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.logr.V(1).Info(msg, keysAndValues...)
}

// Info logs an info message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.logr.Info(msg, keysAndValues...)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	// logr has no warn level
	l.zapLogger.Warn(msg, toZapFields(keysAndValues)...)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logr.Error(err, msg, keysAndValues...)
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() error {
	return l.zapLogger.Sync()
}

// toZapFields converts key-value pairs to zap fields
func toZapFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields = append(fields, zap.Any(key, keysAndValues[i+1]))
		}
	}
	return fields
}

// InitGlobalLogger initializes the global logger.
// Only the first call has an effect.
func InitGlobalLogger(opts Options) error {
	var initErr error
	initOnce.Do(func() {
		logger, err := NewLogger(opts)
		if err != nil {
			initErr = err
			return
		}
		globalLogger.Store(logger)
	})
	return initErr
}

// GetGlobalLogger returns the global logger instance.
// Returns a default logger if not initialized.
func GetGlobalLogger() *Logger {
	if l := globalLogger.Load(); l != nil {
		return l.(*Logger)
	}
	logger, _ := NewLogger(DefaultOptions())
	return logger
}

// L is a shorthand for GetGlobalLogger()
func L() *Logger {
	return GetGlobalLogger()
}
