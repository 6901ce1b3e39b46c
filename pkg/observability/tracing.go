package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// ExporterType selects the trace exporter.
type ExporterType string

const (
	// ExporterTypeOTLPGRPC exports traces via OTLP over gRPC.
	ExporterTypeOTLPGRPC ExporterType = "otlp-grpc"

	// ExporterTypeOTLPHTTP exports traces via OTLP over HTTP.
	ExporterTypeOTLPHTTP ExporterType = "otlp-http"

	// ExporterTypeNoop disables export, for tests.
	ExporterTypeNoop ExporterType = "noop"
)

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	ExporterType ExporterType
	Endpoint     string
	Headers      map[string]string
	Insecure     bool

	// SampleRate is the fraction of traces sampled, 0.0 to 1.0. Zero means
	// sample everything.
	SampleRate float64
}

// TracingProvider manages the tracer used for session spans.
type TracingProvider struct {
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

// NewTracingProvider creates the provider and installs it as the global
// tracer provider.
func NewTracingProvider(cfg TracingConfig) (*TracingProvider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "mcp-core"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	)

	exporter, err := createExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(createSampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracingProvider{
		tracer:   tp.Tracer("mcp-core-go"),
		shutdown: tp.Shutdown,
	}, nil
}

func createExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.ExporterType {
	case ExporterTypeOTLPGRPC:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithHeaders(cfg.Headers),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))

	case ExporterTypeOTLPHTTP:
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithHeaders(cfg.Headers),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))

	case ExporterTypeNoop, "":
		return &noopExporter{}, nil

	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
	}
}

func createSampler(rate float64) sdktrace.Sampler {
	if rate >= 1.0 {
		return sdktrace.AlwaysSample()
	}
	if rate <= 0.0 {
		return sdktrace.NeverSample()
	}
	return sdktrace.TraceIDRatioBased(rate)
}

// StartMethodSpan opens a span for one protocol method.
func (tp *TracingProvider) StartMethodSpan(ctx context.Context, method string, kind trace.SpanKind) (context.Context, trace.Span) {
	return tp.tracer.Start(ctx, "mcp."+method,
		trace.WithSpanKind(kind),
		trace.WithAttributes(attribute.String("mcp.method", method)),
	)
}

// Shutdown flushes and stops the provider.
func (tp *TracingProvider) Shutdown(ctx context.Context) error {
	if tp.shutdown != nil {
		return tp.shutdown(ctx)
	}
	return nil
}

func endSpan(span trace.Span, status string) {
	if status != "ok" {
		span.SetStatus(codes.Error, status)
	}
	span.SetAttributes(attribute.String("mcp.status", status))
	span.End()
}

// noopExporter drops every span.
type noopExporter struct{}

func (*noopExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }

func (*noopExporter) Shutdown(context.Context) error { return nil }
