package relay

import (
	"context"
	"log/slog"
)

type ContextKey string

const LoggerContextKey ContextKey = "logger"

// WithLogger returns a context carrying the logger. The orchestrator
// attaches the execution-scoped logger before the first attempt, so
// invokers can log under the execution's attributes without carrying a
// logger themselves.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, LoggerContextKey, logger)
}

func GetLoggerFromContext(ctx context.Context) (*slog.Logger, bool) {
	logger, ok := ctx.Value(LoggerContextKey).(*slog.Logger)
	return logger, ok
}
