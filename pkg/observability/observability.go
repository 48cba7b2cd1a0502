// Package observability provides OpenTelemetry tracing and metrics for the
// services that run the verification kernel. The kernel itself stays pure;
// callers record its results here.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/certkernel/pkg/diag"
)

const instrumentationName = "certkernel"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // e.g. "localhost:4317" for gRPC
	SampleRate     float64       // 0.0 to 1.0
	BatchTimeout   time.Duration // How long to wait before sending batched spans
	ExportInterval time.Duration // Metric export period
	Enabled        bool
	Insecure       bool // Plaintext gRPC (dev only)
}

// DefaultConfig returns production defaults. Telemetry is off until an
// endpoint is configured.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "certkernel",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		ExportInterval: 15 * time.Second,
		Enabled:        false,
	}
}

// Provider owns the trace and metric providers and the verification
// instruments.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	verifications metric.Int64Counter
	diagnostics   metric.Int64Counter
	duration      metric.Float64Histogram
	cacheLookups  metric.Int64Counter
	errors        metric.Int64Counter
}

// New creates a provider exporting over OTLP/gRPC. A disabled config yields a
// provider backed by the global no-op implementations.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		p.tracer = otel.Tracer(instrumentationName)
		p.meter = otel.Meter(instrumentationName)
		return p, p.initInstruments()
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("observability: init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("observability: init metric provider: %w", err)
	}

	p.tracer = p.tracerProvider.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(config.ServiceVersion),
	)
	p.meter = p.meterProvider.Meter(instrumentationName,
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)
	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("observability: init instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
		"insecure", config.Insecure,
	)
	return p, nil
}

// NewWithProviders wires caller-owned providers, e.g. an SDK meter provider
// with a manual reader.
func NewWithProviders(tp trace.TracerProvider, mp metric.MeterProvider) (*Provider, error) {
	p := &Provider{
		config: DefaultConfig(),
		tracer: tp.Tracer(instrumentationName),
		meter:  mp.Meter(instrumentationName),
		logger: slog.Default().With("component", "observability"),
	}
	if err := p.initInstruments(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create metric exporter: %w", err)
	}

	interval := p.config.ExportInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments() error {
	var err error

	p.verifications, err = p.meter.Int64Counter("certkernel.verifications.total",
		metric.WithDescription("Certificates verified, by result"),
		metric.WithUnit("{certificate}"),
	)
	if err != nil {
		return err
	}

	p.diagnostics, err = p.meter.Int64Counter("certkernel.diagnostics.total",
		metric.WithDescription("Diagnostics emitted, by code"),
		metric.WithUnit("{diagnostic}"),
	)
	if err != nil {
		return err
	}

	p.duration, err = p.meter.Float64Histogram("certkernel.verification.duration",
		metric.WithDescription("Verification duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0),
	)
	if err != nil {
		return err
	}

	p.cacheLookups, err = p.meter.Int64Counter("certkernel.cache.lookups",
		metric.WithDescription("Result cache lookups, by hit"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return err
	}

	p.errors, err = p.meter.Int64Counter("certkernel.errors.total",
		metric.WithDescription("Runtime errors outside the kernel (storage, cache)"),
		metric.WithUnit("{error}"),
	)
	return err
}

// Shutdown flushes and stops the providers it created.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Meter returns the configured meter.
func (p *Provider) Meter() metric.Meter { return p.meter }

// StartVerification opens a span for one verification. The returned function
// records the result and ends the span.
func (p *Provider) StartVerification(ctx context.Context, attrs ...attribute.KeyValue) (context.Context, func(diag.Result)) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "certkernel.verify",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	return ctx, func(res diag.Result) {
		p.RecordVerification(ctx, res, time.Since(start), attrs...)
		span.SetAttributes(
			attribute.Bool("certkernel.ok", res.OK),
			attribute.Int("certkernel.diagnostics", len(res.Diagnostics)),
		)
		span.End()
	}
}

// RecordVerification counts one verification and each diagnostic by code.
func (p *Provider) RecordVerification(ctx context.Context, res diag.Result, d time.Duration, attrs ...attribute.KeyValue) {
	withOK := append(append([]attribute.KeyValue(nil), attrs...), attribute.Bool("ok", res.OK))
	p.verifications.Add(ctx, 1, metric.WithAttributes(withOK...))
	p.duration.Record(ctx, d.Seconds(), metric.WithAttributes(withOK...))

	for code, n := range res.CodeCounts() {
		codeAttrs := append(append([]attribute.KeyValue(nil), attrs...), attribute.String("code", string(code)))
		p.diagnostics.Add(ctx, int64(n), metric.WithAttributes(codeAttrs...))
	}
}

// RecordCacheLookup counts a result cache lookup.
func (p *Provider) RecordCacheLookup(ctx context.Context, hit bool) {
	p.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.Bool("hit", hit)))
}

// RecordError counts a runtime error in the named operation.
func (p *Provider) RecordError(ctx context.Context, op string, err error) {
	p.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("error.type", fmt.Sprintf("%T", err)),
	))
}
