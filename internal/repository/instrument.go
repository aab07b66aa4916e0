package repository

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"userstore/pkg/metrics"
	"userstore/pkg/tracing"
)

// startOperation opens a span for a storage call. The returned func records
// the outcome in both the span and the operation metrics.
func startOperation(ctx context.Context, operation, entity string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, entity+"."+operation,
		attribute.String("db.operation", operation),
		attribute.String("db.entity", entity),
	)

	return ctx, func(err error) {
		metrics.RecordDatabaseOperation(operation, entity, time.Since(start), err)
		tracing.EndSpan(span, err)
	}
}
