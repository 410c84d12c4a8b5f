// Package tracer wires an OTLP trace exporter behind a small component so
// provider HTTP calls can be traced when an endpoint is configured.
package tracer

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"
)

const serviceName = "cityvisitorparking"

type Tracer struct {
	tp   trace.TracerProvider
	name string
}

// NewNoopTracer never exports spans. It keeps the tracing call sites alive
// for library consumers that do not run the fx application.
func NewNoopTracer() *Tracer {
	return &Tracer{tp: noop.NewTracerProvider(), name: serviceName}
}

func NewTracer(lc fx.Lifecycle, c *Config) (*Tracer, error) {
	propagators := []propagation.TextMapPropagator{propagation.TraceContext{}}
	if c == nil || !c.DisableBaggagePropagation {
		propagators = append(propagators, propagation.Baggage{})
	}

	propagator := propagation.NewCompositeTextMapPropagator(propagators...)
	otel.SetTextMapPropagator(propagator)

	if c == nil || !c.Enabled {
		noopTp := noop.NewTracerProvider()
		otel.SetTracerProvider(noopTp)

		return &Tracer{tp: noopTp, name: serviceName}, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	exporter, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(c.Url),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	spanProc := sdktrace.NewBatchSpanProcessor(exporter, c.BatchSpanProcessor.options()...)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(spanProc),
	)

	otel.SetTracerProvider(tp)

	tracer := &Tracer{
		tp:   tp,
		name: serviceName,
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})

	return tracer, nil
}

func (t *Tracer) StartSpan(ctx context.Context, span string) (context.Context, trace.Span) {
	return t.tp.Tracer(t.name).Start(ctx, span)
}

// TraceSafeString strips invalid UTF-8 from values coming off the wire
// before they are attached as span attributes.
func TraceSafeString(s string) string {
	return strings.ToValidUTF8(s, "?")
}
