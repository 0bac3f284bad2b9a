// Package logging provides structured logging for slotmap.
package logging

import (
	"context"
)

// contextKey is the type for context keys
type contextKey string

// loggerKey is the context key for the logger
const loggerKey contextKey = "logger"

// FromContext returns the logger from the context.
// If no logger is found, returns the global logger.
func FromContext(ctx context.Context) *Logger {
	if ctx == nil {
		return GetGlobalLogger()
	}
	if logger, ok := ctx.Value(loggerKey).(*Logger); ok {
		return logger
	}
	return GetGlobalLogger()
}

// IntoContext returns a new context with the logger
func IntoContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerForSlot returns a logger with slot-specific fields
func LoggerForSlot(ctx context.Context, slot uint64) *Logger {
	return FromContext(ctx).WithValues("slot", slot)
}

// LoggerForStore returns a logger for a persistence backend
func LoggerForStore(backend string) *Logger {
	return GetGlobalLogger().WithName("store").WithValues("backend", backend)
}

// LoggerForRequest returns a logger for one HTTP request
func LoggerForRequest(ctx context.Context, method, path string) *Logger {
	return FromContext(ctx).WithName("api").WithValues("method", method, "path", path)
}
