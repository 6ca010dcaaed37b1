package tracing

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	ServiceName    = "lessoncast"
	ServiceVersion = "1.0.0"
)

// Options selects the span exporter and sampling
type Options struct {
	// Endpoint is the OTLP gRPC collector address, used when UseOTLP is set
	Endpoint string
	UseOTLP  bool
	// SampleRatio is the fraction of new traces recorded; <= 0 or >= 1 records all
	SampleRatio float64
	// Writer receives spans from the stdout exporter; nil means os.Stdout
	Writer io.Writer
}

// Provider owns the installed trace provider
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider builds a batching trace provider and installs it globally
// along with the W3C trace-context propagator
func NewProvider(ctx context.Context, opts Options) (*Provider, error) {
	exp, err := newExporter(ctx, opts)
	if err != nil {
		return nil, err
	}

	sampler := sdktrace.AlwaysSample()
	if opts.SampleRatio > 0 && opts.SampleRatio < 1 {
		sampler = sdktrace.TraceIDRatioBased(opts.SampleRatio)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(ServiceVersion),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return &Provider{tp: tp}, nil
}

func newExporter(ctx context.Context, opts Options) (sdktrace.SpanExporter, error) {
	if opts.UseOTLP {
		exp, err := otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(opts.Endpoint),
			otlptracegrpc.WithInsecure(),
		))
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		return exp, nil
	}

	stdoutOpts := []stdouttrace.Option{}
	if opts.Writer != nil {
		stdoutOpts = append(stdoutOpts, stdouttrace.WithWriter(opts.Writer))
	}
	exp, err := stdouttrace.New(stdoutOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}
	return exp, nil
}

// Shutdown flushes pending spans and stops the provider
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// Start begins a span on the global provider. With no provider installed the span is a no-op.
func Start(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(ServiceName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// AddEvent attaches an event to the span carried by ctx, if any
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// SetSpanError records err on the span carried by ctx and flags it as failed
func SetSpanError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// LessonTracingAttrs returns common attributes for lesson operations
func LessonTracingAttrs(component string, lessonID int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("component", component),
		attribute.Int64("lesson.id", lessonID),
	}
}

// JobProcessingTracingAttrs returns common attributes for background job processing
func JobProcessingTracingAttrs(jobID, queue, jobType string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("component", "job.processing"),
	}
	if jobID != "" {
		attrs = append(attrs, attribute.String("job.id", jobID))
	}
	if queue != "" {
		attrs = append(attrs, attribute.String("job.queue", queue))
	}
	if jobType != "" {
		attrs = append(attrs, attribute.String("job.type", jobType))
	}
	return attrs
}

// FiberMiddleware starts a server span per request and stores its context for handlers
func FiberMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		carrier := propagation.MapCarrier{}
		c.Request().Header.VisitAll(func(k, v []byte) {
			carrier.Set(string(k), string(v))
		})
		ctx := otel.GetTextMapPropagator().Extract(c.UserContext(), carrier)

		ctx, span := otel.Tracer(ServiceName).Start(ctx, c.Method()+" "+c.Path(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(c.Method()),
				semconv.URLPath(c.Path()),
			),
		)
		defer span.End()

		c.SetUserContext(ctx)
		err := c.Next()

		status := c.Response().StatusCode()
		span.SetAttributes(
			semconv.HTTPRoute(c.Route().Path),
			attribute.String("http.response.status_code", strconv.Itoa(status)),
		)
		if err != nil || status >= fiber.StatusInternalServerError {
			span.SetStatus(codes.Error, "request failed")
		}
		return err
	}
}
