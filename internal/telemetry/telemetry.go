// Package telemetry wires the engine's OpenTelemetry providers: OTLP/HTTP
// span and metric export when an endpoint is configured, no-op globals
// otherwise. The pipeline's instruments go through Meter, so an unexported
// run costs nothing to observe.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	spanFlushInterval  = 5 * time.Second
	metricReadInterval = 15 * time.Second
)

// Shutdown flushes and stops whatever Init installed.
type Shutdown func(ctx context.Context) error

// Init installs global tracer and meter providers exporting to the given
// OTLP endpoint. An empty endpoint leaves the no-op globals in place and
// returns a no-op Shutdown. Call Shutdown when the engine closes so
// buffered spans and metrics reach the collector.
func Init(ctx context.Context, endpoint, service, version string, insecure bool) (Shutdown, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	rsrc, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(service),
		semconv.ServiceVersionKey.String(version),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	tp, err := spanProvider(ctx, endpoint, insecure, rsrc)
	if err != nil {
		return nil, err
	}
	mp, err := meterProvider(ctx, endpoint, insecure, rsrc)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	// W3C propagation, so spans around outgoing model API calls join the
	// caller's trace.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		terr := tp.Shutdown(ctx)
		merr := mp.Shutdown(ctx)
		if terr != nil {
			return terr
		}
		return merr
	}, nil
}

func spanProvider(ctx context.Context, endpoint string, insecure bool, rsrc *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(spanFlushInterval)),
		sdktrace.WithResource(rsrc),
	), nil
}

func meterProvider(ctx context.Context, endpoint string, insecure bool, rsrc *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(endpoint)}
	if insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exp, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(metricReadInterval))),
		sdkmetric.WithResource(rsrc),
	), nil
}

// Meter returns a meter on the installed global provider for the given
// instrumentation scope.
func Meter(scope string) metric.Meter {
	return otel.GetMeterProvider().Meter(scope)
}
