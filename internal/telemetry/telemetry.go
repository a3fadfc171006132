// Package telemetry wires OpenTelemetry tracing and metrics for the Recast
// service. Spans and instruments are always created through the global
// providers; with no collector endpoint configured those stay no-ops.
package telemetry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DefaultServiceName is reported when OTEL_SERVICE_NAME is unset.
const DefaultServiceName = "recast"

// Settings configure the exporters and the resource every span and metric
// carries.
type Settings struct {
	Endpoint       string // OTLP/HTTP collector host:port; empty disables export
	Insecure       bool
	ServiceName    string
	Version        string
	Environment    string
	SampleRatio    float64 // fraction of root traces kept, in (0, 1]
	MetricInterval time.Duration

	// Pipeline backends, attached as resource attributes.
	LLMProvider   string
	SearchBackend string
}

func (s Settings) withDefaults() Settings {
	s.ServiceName = cmp.Or(s.ServiceName, DefaultServiceName)
	s.Version = cmp.Or(s.Version, "dev")
	if s.SampleRatio <= 0 || s.SampleRatio > 1 {
		s.SampleRatio = 1
	}
	if s.MetricInterval <= 0 {
		s.MetricInterval = 15 * time.Second
	}
	return s
}

// Shutdown flushes and stops the exporters.
type Shutdown func(ctx context.Context) error

// Init installs the global tracer and meter providers. With no endpoint it
// only installs the propagator and returns a no-op shutdown.
func Init(ctx context.Context, s Settings) (Shutdown, error) {
	s = s.withDefaults()

	// W3C trace context on the run API and the rendering callbacks.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if s.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := newResource(ctx, s)
	if err != nil {
		return nil, err
	}

	traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(s.Endpoint)}
	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(s.Endpoint)}
	if s.Insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}

	traceExp, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(s.SampleRatio))),
		sdktrace.WithResource(res),
	)

	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(s.MetricInterval))),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// newResource describes this process: service identity, deployment
// environment, host instance, and the configured pipeline backends.
func newResource(ctx context.Context, s Settings) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(s.ServiceName),
		semconv.ServiceVersion(s.Version),
	}
	if s.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(s.Environment))
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(host))
	}
	if s.LLMProvider != "" {
		attrs = append(attrs, attribute.String("recast.llm_provider", s.LLMProvider))
	}
	if s.SearchBackend != "" {
		attrs = append(attrs, attribute.String("recast.search_backend", s.SearchBackend))
	}

	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}
	return res, nil
}

// Meter returns the global meter for the given instrumentation scope.
func Meter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}
