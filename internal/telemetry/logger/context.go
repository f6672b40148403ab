package logger

import (
	"context"
	"log/slog"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	canvasIDKey
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithCanvasID tags the context with the canvas being served.
func WithCanvasID(ctx context.Context, canvasID string) context.Context {
	return context.WithValue(ctx, canvasIDKey, canvasID)
}

// CanvasIDFromContext extracts the canvas ID from context.
func CanvasIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(canvasIDKey).(string)
	return id
}

// For returns l annotated with the request and canvas IDs in ctx.
func For(ctx context.Context, l *slog.Logger) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	var attrs []any
	if id := RequestIDFromContext(ctx); id != "" {
		attrs = append(attrs, "request_id", id)
	}
	if id := CanvasIDFromContext(ctx); id != "" {
		attrs = append(attrs, "canvas_id", id)
	}
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}
