package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging.
// Use these constants instead of raw strings.
const (
	// Identity and context
	FieldRequestID = "request_id"
	FieldDatasetID = "dataset_id"
	FieldDID       = "did"
	FieldTask      = "task"
	FieldInstance  = "instance"

	// Components
	FieldComponent = "component"

	// Transport
	FieldEndpoint = "endpoint"
	FieldQueue    = "queue"
	FieldAttempt  = "attempt"
	FieldStatus   = "status"

	// Timing
	FieldElapsed = "elapsed_seconds"

	// Errors
	FieldError     = "error"
	FieldErrorCode = "error_code"

	// Counts and sizes
	FieldCount     = "count"
	FieldBatchSize = "batch_size"
	FieldFiles     = "files"
	FieldSkipped   = "files_skipped"
	FieldBytes     = "total_bytes"
	FieldEvents    = "total_events"

	// Resolution
	FieldMode      = "mode"
	FieldFileCount = "file_count"
	FieldState     = "state"
)

// Context keys for propagating logging context
type contextKey string

const (
	requestIDKey contextKey = "logger_request_id"
	datasetIDKey contextKey = "logger_dataset_id"
	componentKey contextKey = "logger_component"
)

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithDatasetID adds a dataset ID to the context for logging
func WithDatasetID(ctx context.Context, datasetID string) context.Context {
	return context.WithValue(ctx, datasetIDKey, datasetID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}
	if datasetID, ok := ctx.Value(datasetIDKey).(string); ok && datasetID != "" {
		fields = append(fields, FieldDatasetID, datasetID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// FromContext returns base enriched with the fields carried by ctx.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = NewNop()
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named child of parent for a specific component.
// This is the preferred way to hand a logger to a constructor.
//
// Example:
//
//	type Consumer struct {
//	    log *zap.SugaredLogger
//	}
//
//	func NewConsumer(log *zap.SugaredLogger) *Consumer {
//	    return &Consumer{log: logger.ComponentLogger(log, "queue.consumer")}
//	}
func ComponentLogger(parent *zap.SugaredLogger, name string) *zap.SugaredLogger {
	if parent == nil {
		parent = NewNop()
	}
	return parent.Named(name)
}

// ChildLogger creates a child logger with additional context.
//
//	reqLog := logger.ChildLogger(baseLogger, logger.FieldRequestID, req.RequestID)
func ChildLogger(parent *zap.SugaredLogger, keysAndValues ...interface{}) *zap.SugaredLogger {
	if parent == nil {
		parent = NewNop()
	}
	return parent.With(keysAndValues...)
}
