package logger

import (
	"context"

	"go.uber.org/zap"
)

type contextKey struct{}

var loggerContextKey = contextKey{}

// ToContext attaches logger to ctx; FromContext returns it later.
func ToContext(ctx context.Context, logger *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}

// ContextWithKV attaches a child logger enriched with the key/value pairs.
// Non-string keys and a trailing unpaired value are skipped.
func ContextWithKV(ctx context.Context, kvs ...interface{}) context.Context {
	l := FromContext(ctx).Desugar()
	fields := make([]zap.Field, 0, len(kvs)/2)
	for i := 0; i+1 < len(kvs); i += 2 {
		key, ok := kvs[i].(string)
		if !ok {
			l.Warn("logger key is not a string", zap.Any("key", kvs[i]))
			continue
		}
		fields = append(fields, zap.Any(key, kvs[i+1]))
	}
	return ToContext(ctx, l.With(fields...).Sugar())
}

// FromContext returns the logger attached to ctx, or the fallback logger.
func FromContext(ctx context.Context) *zap.SugaredLogger {
	l, ok := ctx.Value(loggerContextKey).(*zap.SugaredLogger)
	if !ok {
		return fallbackLogger
	}
	return l
}
