// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Context key types for storing values in context
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// BrokerIDKey is the context key for the broker (tenant) ID
	BrokerIDKey contextKey = "broker_id"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	return NewWithWriter(env, os.Stdout)
}

// NewWithWriter creates a logger writing to w. Tests pass io.Discard.
func NewWithWriter(env string, w io.Writer) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") || strings.EqualFold(env, "test") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWithWriter("test", io.Discard)
}

// WithContext returns a logger with request_id and broker_id extracted from ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		newLogger = &Logger{Logger: newLogger.With(slog.String("request_id", requestID))}
	}

	if brokerID, ok := ctx.Value(BrokerIDKey).(string); ok && brokerID != "" {
		newLogger = &Logger{Logger: newLogger.With(slog.String("broker_id", brokerID))}
	}

	return newLogger
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// ProviderCall logs a completed call to the pricing provider.
func (l *Logger) ProviderCall(endpoint string, production bool, status int, tariffs int, latency time.Duration) {
	l.Info("provider_call",
		slog.String("endpoint", endpoint),
		slog.Bool("production", production),
		slog.Int("status", status),
		slog.Int("tariffs", tariffs),
		slog.Float64("latency_ms", float64(latency.Microseconds())/1000),
	)
}

// ProviderError logs a failed call to the pricing provider.
func (l *Logger) ProviderError(endpoint string, production bool, kind string, err error) {
	l.Error("provider_error",
		slog.String("endpoint", endpoint),
		slog.Bool("production", production),
		slog.String("kind", kind),
		slog.String("error", err.Error()),
	)
}

// FallbackApplied warns that an absent profile field was replaced by a documented default.
func (l *Logger) FallbackApplied(field, value string) {
	l.Warn("wire_fallback_applied",
		slog.String("field", field),
		slog.String("value", value),
	)
}

// DatabaseError logs database errors
func (l *Logger) DatabaseError(operation string, err error) {
	l.Error("database_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// RateLimitExceeded logs rate limit events
func (l *Logger) RateLimitExceeded(clientIP, path string) {
	l.Warn("rate_limit_exceeded",
		slog.String("client_ip", clientIP),
		slog.String("path", path),
	)
}
