package ports

import "context"

// Logger is the structured logging contract used across the core. Keeping it
// behind a port lets adapters swap the backing implementation without
// touching the pipeline.
type Logger interface {
	// Debug logs a message at Debug level.
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	// Info logs a message at Info level.
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	// Warn logs a message at Warning level.
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	// Error logs an error with a message at Error level.
	Error(ctx context.Context, err error, msg string, fields ...map[string]interface{})
}
