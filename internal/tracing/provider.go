package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// provider owns the process-wide TracerProvider lifecycle. Every span in
// this package goes through the otel global (tracer.go's StartSpan), so
// callers never see this type directly — they get back a plain cleanup
// func from InitTracing and call that at shutdown.
type provider struct {
	tp       *sdktrace.TracerProvider
	shutdown sync.Once
}

// InitTracing points the otel global TracerProvider at the configured
// exporter (OTLP, console, or none) and returns a cleanup func to flush
// and shut it down. When cfg is disabled, the global stays a no-op and
// cleanup is a no-op too.
func InitTracing(ctx context.Context, cfg *TracingConfig) (func(), error) {
	if cfg == nil {
		cfg = &TracingConfig{Enabled: false}
	}

	if err := cfg.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("invalid tracing configuration: %w", err)
	}

	if !cfg.Enabled {
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
		return func() {}, nil
	}

	res, err := createResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(exporter,
		sdktrace.WithMaxQueueSize(cfg.BatchConfig.MaxQueueSize),
		sdktrace.WithBatchTimeout(time.Duration(cfg.BatchConfig.BatchTimeoutMs)*time.Millisecond),
		sdktrace.WithExportTimeout(time.Duration(cfg.BatchConfig.ExportTimeoutMs)*time.Millisecond),
		sdktrace.WithMaxExportBatchSize(cfg.BatchConfig.MaxExportBatchSize),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(bsp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(createSampler(cfg.SamplingRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p := &provider{tp: tp}

	slog.Info("tracing initialized",
		"service_name", cfg.ServiceName,
		"exporter_type", cfg.ExporterType,
		"endpoint", cfg.ExporterEndpoint,
		"sampling_rate", cfg.SamplingRate,
	)

	return func() { p.Shutdown(context.Background()) }, nil
}

// createResource creates an OpenTelemetry resource with service information
func createResource(ctx context.Context, cfg *TracingConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
	}

	// Add custom resource attributes
	for key, value := range cfg.ResourceAttributes {
		attrs = append(attrs, attribute.String(key, value))
	}

	return resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithProcessRuntimeDescription(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
	)
}

// createExporter creates a trace exporter based on configuration
func createExporter(ctx context.Context, cfg *TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.ExporterType {
	case ExporterTypeOTLP, ExporterTypeJaeger:
		// Both OTLP and Jaeger now use OTLP exporter (Jaeger supports OTLP natively)
		return createOTLPExporter(ctx, cfg)
	case ExporterTypeConsole:
		return createConsoleExporter()
	case ExporterTypeNone:
		return &noopExporter{}, nil
	default:
		return createOTLPExporter(ctx, cfg)
	}
}

// createOTLPExporter creates an OTLP gRPC exporter
func createOTLPExporter(ctx context.Context, cfg *TracingConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.ExporterEndpoint),
	}

	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	}

	// Add headers if configured
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	return otlptracegrpc.New(ctx, opts...)
}

// createConsoleExporter creates a stdout exporter for debugging
func createConsoleExporter() (sdktrace.SpanExporter, error) {
	return stdouttrace.New(
		stdouttrace.WithPrettyPrint(),
		stdouttrace.WithWriter(os.Stdout),
	)
}

// createSampler creates a sampler based on the sampling rate
func createSampler(rate float64) sdktrace.Sampler {
	if rate >= 1.0 {
		return sdktrace.AlwaysSample()
	}
	if rate <= 0.0 {
		return sdktrace.NeverSample()
	}
	return sdktrace.TraceIDRatioBased(rate)
}

// Shutdown flushes and shuts down the underlying tracer provider exactly
// once, regardless of how many times (or from how many goroutines) it's
// called.
func (p *provider) Shutdown(ctx context.Context) {
	p.shutdown.Do(func() {
		if err := p.tp.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
	})
}

// noopExporter is a no-operation span exporter
type noopExporter struct{}

func (e *noopExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	return nil
}

func (e *noopExporter) Shutdown(ctx context.Context) error {
	return nil
}
