package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/datanika-io/datanika-core/bridge"
)

// tracerName is the instrumentation scope for task execution tracing.
const tracerName = "github.com/datanika-io/datanika-core"

// Tracing returns middleware that wraps task execution in an OpenTelemetry
// span. Without a globally configured TracerProvider the noop tracer makes
// this a pass-through.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, t *bridge.Task, next Handler) error {
		ctx, span := tracer.Start(ctx, "datanika.task.execute",
			trace.WithAttributes(
				attribute.String("datanika.task.id", t.ID.String()),
				attribute.String("datanika.run.id", t.RunID.String()),
				attribute.String("datanika.entity.kind", string(t.Target.Kind)),
				attribute.Int64("datanika.entity.id", t.Target.ID),
				attribute.String("datanika.queue", t.Queue),
			),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
