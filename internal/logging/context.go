package logging

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	traceIDKey contextKey = "trace_id"

	// TraceHeader carries the trace id in and out of HTTP requests
	TraceHeader = "X-Trace-ID"
)

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	return uuid.NewString()
}

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// TraceID returns the trace id stored in ctx, if any
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// WithTraceContext adds a trace ID to the context and returns a logger with it
func WithTraceContext(ctx context.Context, base zerolog.Logger, traceID string) (context.Context, zerolog.Logger) {
	if traceID == "" {
		traceID = GenerateTraceID()
	}
	l := base.With().Str("trace_id", traceID).Logger()
	newCtx := context.WithValue(ctx, traceIDKey, traceID)
	newCtx = context.WithValue(newCtx, loggerKey, l)
	return newCtx, l
}

// GinMiddleware attaches a trace id and request logger to every request and
// logs the outcome once the handler chain returns.
func GinMiddleware(base zerolog.Logger) gin.HandlerFunc {
	base = base.With().Str("component", "HTTP").Logger()

	return func(c *gin.Context) {
		start := time.Now()

		ctx, l := WithTraceContext(c.Request.Context(), base, c.GetHeader(TraceHeader))
		c.Request = c.Request.WithContext(ctx)
		c.Header(TraceHeader, TraceID(ctx))

		c.Next()

		status := c.Writer.Status()
		event := l.Info()
		switch {
		case status >= 500:
			event = l.Error()
		case status >= 400:
			event = l.Warn()
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}
