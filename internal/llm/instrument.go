package llm

import (
	"context"
	"time"

	"github.com/josinaldojr/smart-mrag/internal/rag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/josinaldojr/smart-mrag/internal/llm"

var (
	tracer = otel.Tracer(instrumentationName)
	meter  = otel.Meter(instrumentationName)

	callDuration, _ = meter.Float64Histogram(
		"llm.client.request.duration",
		metric.WithDescription("Provider API call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
)

// observe starts a span for one provider call. The returned func ends it
// and records the call duration.
func observe(ctx context.Context, provider rag.Provider, op, model string) (context.Context, func(error)) {
	attrs := []attribute.KeyValue{
		attribute.String("llm.provider", string(provider)),
		attribute.String("llm.operation", op),
		attribute.String("llm.model", model),
	}

	ctx, span := tracer.Start(ctx, string(provider)+"_"+op, trace.WithAttributes(attrs...))
	start := time.Now()

	return ctx, func(err error) {
		ok := err == nil
		if !ok {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if callDuration != nil {
			callDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
				metric.WithAttributes(append(attrs, attribute.Bool("llm.success", ok))...))
		}
		span.End()
	}
}
