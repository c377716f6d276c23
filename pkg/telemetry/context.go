package telemetry

import "context"

type loggerKey struct{}

// WithLogger attaches logger to ctx for components constructed under it.
func WithLogger(ctx context.Context, logger StructuredLogger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger attached to ctx, or a logger discarding everything.
func LoggerFrom(ctx context.Context) StructuredLogger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(StructuredLogger); ok && logger != nil {
			return logger
		}
	}
	return Nop{}
}
