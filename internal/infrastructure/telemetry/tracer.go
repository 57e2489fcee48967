package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Helper functions for common span operations

// StartStageSpan starts an internal span for one reconciliation stage.
func StartStageSpan(ctx context.Context, tracer trace.Tracer, stage string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("reconciliation.stage", stage),
		attribute.String("component", "reconciliation"),
	)
	return tracer.Start(ctx, "reconciliation."+stage,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// StartHTTPClientSpan starts a span for an outbound HTTP request.
func StartHTTPClientSpan(ctx context.Context, tracer trace.Tracer, method, url string) (context.Context, trace.Span) {
	return tracer.Start(ctx, fmt.Sprintf("HTTP %s", method),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", url),
			attribute.String("component", "http"),
		),
	)
}

// StartDatabaseSpan starts a span for database operations
func StartDatabaseSpan(ctx context.Context, tracer trace.Tracer, operation, table string) (context.Context, trace.Span) {
	return tracer.Start(ctx, fmt.Sprintf("db.%s %s", operation, table),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.operation", operation),
			attribute.String("db.table", table),
			attribute.String("db.system", "postgresql"),
			attribute.String("component", "database"),
		),
	)
}

// StartDirectorySpan starts a span for a directory group lookup.
func StartDirectorySpan(ctx context.Context, tracer trace.Tracer, group string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "directory.resolve_group",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("directory.group", group),
			attribute.String("component", "directory"),
		),
	)
}
