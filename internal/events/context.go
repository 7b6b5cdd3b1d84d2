package events

import (
	"context"
	"os"
)

type contextKey int

const (
	loggerKey contextKey = iota
	syncIDKey
	userIDKey
	deviceIDKey
)

// FromContext extracts logger from context.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return defaultLogger
}

// WithLogger adds logger to context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithSyncID adds a sync request ID to context.
func WithSyncID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("sync_id", id)
	ctx = context.WithValue(ctx, syncIDKey, id)
	return WithLogger(ctx, logger)
}

// WithUserID adds a user ID to context.
func WithUserID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("user_id", id)
	ctx = context.WithValue(ctx, userIDKey, id)
	return WithLogger(ctx, logger)
}

// WithDeviceID adds a device ID to context.
func WithDeviceID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("device_id", id)
	ctx = context.WithValue(ctx, deviceIDKey, id)
	return WithLogger(ctx, logger)
}

// GetSyncID retrieves the sync request ID from context.
func GetSyncID(ctx context.Context) string {
	if id, ok := ctx.Value(syncIDKey).(string); ok {
		return id
	}
	return ""
}

// GetUserID retrieves the user ID from context.
func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

// GetDeviceID retrieves the device ID from context.
func GetDeviceID(ctx context.Context) string {
	if id, ok := ctx.Value(deviceIDKey).(string); ok {
		return id
	}
	return ""
}

var defaultLogger = &Logger{
	level:  InfoLevel,
	format: "text",
	output: os.Stdout,
	fields: make(map[string]interface{}),
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	defaultLogger = logger
}
