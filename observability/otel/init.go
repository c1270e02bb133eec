package otel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const (
	defaultCollector = "localhost:4318"
	// Lending calls are short; a quick batch keeps spans near their logs.
	spanBatchTimeout = 2 * time.Second
	spanBatchSize    = 512
	metricInterval   = 15 * time.Second
	namespace        = "lendhub"
)

// Config selects which lendingd signals leave the process and where they go.
type Config struct {
	ServiceName string
	Environment string
	// Endpoint is the OTLP/HTTP collector as host:port.
	Endpoint string
	Insecure bool
	Headers  map[string]string
	Metrics  bool
	Traces   bool
	// SampleRatio is the fraction of root spans kept. Zero keeps all.
	SampleRatio float64
}

func (c Config) collector() string {
	if c.Endpoint == "" {
		return defaultCollector
	}
	return c.Endpoint
}

// Shutdown flushes and stops the providers installed by Init.
type Shutdown func(context.Context) error

// Init installs the W3C propagators and, for each enabled signal, an OTLP
// provider tagged with the service identity.
func Init(ctx context.Context, cfg Config) (Shutdown, error) {
	if strings.TrimSpace(cfg.ServiceName) == "" {
		return nil, fmt.Errorf("service name required for telemetry")
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	var stops []Shutdown
	if !cfg.Metrics && !cfg.Traces {
		return chain(stops), nil
	}
	res, err := serviceResource(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Traces {
		tp, err := tracerProvider(ctx, cfg, res)
		if err != nil {
			return nil, err
		}
		otel.SetTracerProvider(tp)
		stops = append(stops, tp.Shutdown)
	}
	if cfg.Metrics {
		mp, err := meterProvider(ctx, cfg, res)
		if err != nil {
			return nil, err
		}
		otel.SetMeterProvider(mp)
		stops = append(stops, mp.Shutdown)
	}
	return chain(stops), nil
}

// chain stops providers in reverse install order and reports every failure.
func chain(stops []Shutdown) Shutdown {
	return func(ctx context.Context) error {
		var errs []error
		for i := len(stops) - 1; i >= 0; i-- {
			if err := stops[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

func serviceResource(cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(strings.TrimSpace(cfg.ServiceName)),
		semconv.ServiceNamespaceKey.String(namespace),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(cfg.Environment))
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}
	return res, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio > 0 && ratio < 1 {
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
	return sdktrace.AlwaysSample()
}

func tracerProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.collector())}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("trace exporter %s: %w", cfg.collector(), err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(spanBatchTimeout),
			sdktrace.WithMaxExportBatchSize(spanBatchSize),
		),
	), nil
}

func meterProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.collector())}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(cfg.Headers))
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("metric exporter %s: %w", cfg.collector(), err)
	}
	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(metricInterval))
	return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader)), nil
}

// ParseHeaders reads OTEL_EXPORTER_OTLP_HEADERS style "k=v,k2=v2" input.
// Pairs without a key are skipped.
func ParseHeaders(raw string) map[string]string {
	headers := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found {
			continue
		}
		if key = strings.TrimSpace(key); key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers
}
