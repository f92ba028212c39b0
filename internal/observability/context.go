package observability

import (
	"context"

	"go.uber.org/zap"
)

type contextKey string

const (
	// CorrelationIDKey carries the request correlation ID (string).
	CorrelationIDKey contextKey = "correlation_id"
	// LoggerKey carries a request-scoped *zap.Logger.
	LoggerKey contextKey = "logger"
)

// LoggerFromContext returns the request-scoped logger, or fallback when none is set.
func LoggerFromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(LoggerKey).(*zap.Logger); ok && l != nil {
			return l
		}
	}
	if fallback == nil {
		return zap.NewNop()
	}
	return fallback
}

// CorrelationID returns the correlation ID stored in ctx, if any.
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(CorrelationIDKey).(string)
	return id
}
