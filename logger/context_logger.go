package logger

import (
	"context"
	"log/slog"
	"time"
)

// ContextKey is the type for context keys used in logging
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	OperationKey ContextKey = "operation"

	// Sync context keys, following OpenTelemetry attribute naming
	IndexKey      ContextKey = "search.index"
	RecordTypeKey ContextKey = "search.record.type"
	RecordIDKey   ContextKey = "search.record.id"
	JobIDKey      ContextKey = "search.job.id"
	JobTypeKey    ContextKey = "search.job.type"
	ChainIDKey    ContextKey = "search.chain.id"
)

var businessKeys = []ContextKey{IndexKey, RecordTypeKey, RecordIDKey, JobIDKey, JobTypeKey, ChainIDKey}

// GlobalContext is the global ContextLogger instance
var GlobalContext *ContextLogger

// ContextLogger wraps a slog.Logger to add context-aware logging
type ContextLogger struct {
	logger *slog.Logger
}

// NewContextLogger creates a new ContextLogger wrapping the provided logger
func NewContextLogger(logger *slog.Logger) *ContextLogger {
	return &ContextLogger{logger: logger}
}

// WithContext returns a logger whose entries carry ctx's values. A logger
// built by New is bound to ctx, so trace ids follow as well.
func (cl *ContextLogger) WithContext(ctx context.Context) *slog.Logger {
	if h, ok := cl.logger.Handler().(*ContextHandler); ok {
		return slog.New(h.bind(ctx))
	}

	attrs := contextAttrs(ctx)
	args := make([]any, 0, len(attrs))
	for _, a := range attrs {
		args = append(args, a)
	}
	return cl.logger.With(args...)
}

func contextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		attrs = append(attrs, slog.String("request_id", requestID))
	}
	if operation, ok := ctx.Value(OperationKey).(string); ok {
		attrs = append(attrs, slog.String("operation", operation))
	}
	for _, key := range businessKeys {
		if v, ok := ctx.Value(key).(string); ok {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}
	return attrs
}

// LogDuration logs an operation completion with duration in milliseconds
func (cl *ContextLogger) LogDuration(ctx context.Context, operation string, durationMs int64) {
	cl.WithContext(ctx).Info("operation completed",
		"operation", operation,
		"duration_ms", durationMs,
	)
}

// LogError logs an operation failure with error details
func (cl *ContextLogger) LogError(ctx context.Context, operation string, err error) {
	cl.WithContext(ctx).Error("operation failed",
		"operation", operation,
		"error", err,
	)
}

// LogDurationTime is a convenience function that takes time.Duration
func (cl *ContextLogger) LogDurationTime(ctx context.Context, operation string, duration time.Duration) {
	cl.LogDuration(ctx, operation, duration.Milliseconds())
}

// FromContext returns a logger carrying ctx's business keys. It falls back to
// the default slog logger before Init has run.
func FromContext(ctx context.Context) *slog.Logger {
	if GlobalContext == nil {
		return NewContextLogger(slog.Default()).WithContext(ctx)
	}
	return GlobalContext.WithContext(ctx)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithIndex(ctx context.Context, index string) context.Context {
	return context.WithValue(ctx, IndexKey, index)
}

func WithRecord(ctx context.Context, recordType, recordID string) context.Context {
	ctx = context.WithValue(ctx, RecordTypeKey, recordType)
	if recordID != "" {
		ctx = context.WithValue(ctx, RecordIDKey, recordID)
	}
	return ctx
}

// WithJob tags ctx with a job and, when non-empty, its chain.
func WithJob(ctx context.Context, jobID, jobType, chainID string) context.Context {
	ctx = context.WithValue(ctx, JobIDKey, jobID)
	ctx = context.WithValue(ctx, JobTypeKey, jobType)
	if chainID != "" {
		ctx = context.WithValue(ctx, ChainIDKey, chainID)
	}
	return ctx
}
