package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "beefetch/fetch"

// Config controls observability initialisation.
type Config struct {
	Enabled        bool
	ServiceName    string
	Environment    string
	RunID          string
	OTLPEndpoint   string
	OTLPHeaders    map[string]string
	OTLPInsecure   bool
	MetricsAddress string
}

// Providers exposes configured telemetry providers.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Propagator     propagation.TextMapPropagator
	MetricsHandler http.Handler
	Shutdown       func(ctx context.Context) error
	Config         Config
}

// Instruments are rebound by every Init so they always report to the
// latest providers.
var (
	fetchTracer trace.Tracer

	transferDuration metric.Float64Histogram
	transferTotal    metric.Int64Counter
	transferBytes    metric.Int64Counter
	visitTotal       metric.Int64Counter
)

// Init configures tracing and metrics exporters. When cfg.Enabled is false the function is a no-op.
func Init(ctx context.Context, cfg Config) (*Providers, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "beefetch"
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.DeploymentEnvironment(cfg.Environment),
	}
	if cfg.RunID != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(cfg.RunID))
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(attrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	var spanExporter sdktrace.SpanExporter
	if cfg.OTLPEndpoint != "" {
		clientOpts := []otlptracehttp.Option{
			getOTLPEndpointOption(cfg.OTLPEndpoint),
		}
		if cfg.OTLPInsecure {
			clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
		}
		if len(cfg.OTLPHeaders) > 0 {
			clientOpts = append(clientOpts, otlptracehttp.WithHeaders(cfg.OTLPHeaders))
		}

		exp, err := otlptracehttp.New(ctx, clientOpts...)
		if err != nil {
			// Callers run without telemetry when Init fails
			return nil, fmt.Errorf("create OTLP trace exporter for %s: %w", cfg.OTLPEndpoint, err)
		}
		spanExporter = exp
	}

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}
	if spanExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(spanExporter))
	}

	tracerProvider := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tracerProvider)

	prop := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(prop)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	promExporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
	)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx) // best-effort cleanup
		return nil, fmt.Errorf("create Prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)
	otel.SetMeterProvider(meterProvider)

	fetchTracer = tracerProvider.Tracer(instrumentationName)
	if err := initFetchInstruments(meterProvider); err != nil {
		_ = meterProvider.Shutdown(ctx)
		_ = tracerProvider.Shutdown(ctx)
		return nil, fmt.Errorf("register fetch instruments: %w", err)
	}

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		var allErr error
		if err := meterProvider.Shutdown(ctx); err != nil {
			allErr = errors.Join(allErr, fmt.Errorf("metric provider shutdown: %w", err))
		}
		if err := tracerProvider.Shutdown(ctx); err != nil {
			allErr = errors.Join(allErr, fmt.Errorf("trace provider shutdown: %w", err))
		}
		return allErr
	}

	return &Providers{
		TracerProvider: tracerProvider,
		MeterProvider:  meterProvider,
		Propagator:     prop,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Shutdown:       shutdown,
		Config:         cfg,
	}, nil
}

func getOTLPEndpointOption(endpoint string) otlptracehttp.Option {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return otlptracehttp.WithEndpointURL(endpoint)
	}
	return otlptracehttp.WithEndpoint(endpoint)
}

// WrapTransport applies OpenTelemetry client instrumentation to rt when the providers are active.
func WrapTransport(rt http.RoundTripper, prov *Providers) http.RoundTripper {
	if prov == nil || prov.TracerProvider == nil {
		return rt
	}

	return otelhttp.NewTransport(rt,
		otelhttp.WithTracerProvider(prov.TracerProvider),
		otelhttp.WithPropagators(prov.Propagator),
		otelhttp.WithMeterProvider(prov.MeterProvider),
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Host)
		}),
	)
}

func initFetchInstruments(meterProvider *sdkmetric.MeterProvider) error {
	if meterProvider == nil {
		return nil
	}

	meter := meterProvider.Meter(instrumentationName)

	var err error
	transferDuration, err = meter.Float64Histogram(
		"beefetch.transfer.duration_ms",
		metric.WithUnit("ms"),
		metric.WithDescription("Time taken to fetch a single resource"),
	)
	if err != nil {
		return err
	}

	transferTotal, err = meter.Int64Counter(
		"beefetch.transfer.total",
		metric.WithDescription("Counts transfer outcomes"),
	)
	if err != nil {
		return err
	}

	transferBytes, err = meter.Int64Counter(
		"beefetch.transfer.bytes",
		metric.WithUnit("By"),
		metric.WithDescription("Bytes written to destination files"),
	)
	if err != nil {
		return err
	}

	visitTotal, err = meter.Int64Counter(
		"beefetch.traverse.visit.total",
		metric.WithDescription("Counts traversal visit decisions"),
	)
	return err
}

// TransferSpanInfo describes the attributes used when starting a transfer span.
type TransferSpanInfo struct {
	URL    string
	Path   string
	Resume bool
	Force  bool
}

// TransferMetrics describes a finished transfer for metric recording.
type TransferMetrics struct {
	Outcome  string
	Bytes    int64
	Duration time.Duration
}

// StartTransferSpan starts a span for a single resource transfer.
func StartTransferSpan(ctx context.Context, info TransferSpanInfo) (context.Context, trace.Span) {
	t := fetchTracer
	if t == nil {
		t = otel.Tracer(instrumentationName)
	}

	attrs := []attribute.KeyValue{
		attribute.String("transfer.url", info.URL),
		attribute.String("transfer.path", info.Path),
		attribute.Bool("transfer.resume", info.Resume),
		attribute.Bool("transfer.force", info.Force),
	}

	return t.Start(ctx, "fetch.transfer", trace.WithAttributes(attrs...))
}

// RecordTransfer emits transfer metrics when instrumentation is initialised.
func RecordTransfer(ctx context.Context, metrics TransferMetrics) {
	outcome := metric.WithAttributes(attribute.String("transfer.outcome", metrics.Outcome))

	if transferDuration != nil {
		transferDuration.Record(ctx, float64(metrics.Duration.Milliseconds()), outcome)
	}

	if transferTotal != nil {
		transferTotal.Add(ctx, 1, outcome)
	}

	if transferBytes != nil && metrics.Bytes > 0 {
		transferBytes.Add(ctx, metrics.Bytes, outcome)
	}
}

// RecordVisit counts a traversal decision (fetched, duplicate, depth_exceeded, ...).
func RecordVisit(ctx context.Context, result string, depth int) {
	if visitTotal != nil {
		visitTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("visit.result", result), attribute.Int("visit.depth", depth)))
	}
}
