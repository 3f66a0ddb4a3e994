package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TracerInterface defines the methods for tracing
type TracerInterface interface {
	StartServerSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span)
	StartClientSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span)
	StartInternalSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span)
	RecordError(span trace.Span, err error)
	AddAttributes(span trace.Span, attrs ...attribute.KeyValue)
	AddRequestAttributes(span trace.Span, method, path, userAgent string, statusCode int)
	AddDatabaseAttributes(span trace.Span, operation, table string, duration time.Duration)
	AddKafkaAttributes(span trace.Span, topic, operation string, partition int32, offset int64)
}
