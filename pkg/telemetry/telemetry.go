package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/litup/indexer/pkg/config"
	"github.com/litup/indexer/pkg/logging"
)

const defaultScope = "litup-indexer"

var (
	tracer trace.Tracer
	scope  = defaultScope
)

type shutdownFunc func(context.Context) error

// Init installs the global tracer and meter providers. Spans go to Jaeger
// when a collector URL is set. Meter instruments are bridged into the
// default Prometheus registry, next to the promauto collectors, so both are
// served from the same /metrics endpoint.
func Init(cfg *config.TelemetryConfig) (func(), error) {
	if !cfg.Enabled {
		logging.GetLogger().Info("Telemetry disabled")
		return func() {}, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("0.1.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var shutdowns []shutdownFunc

	if cfg.JaegerURL != "" {
		fn, err := setupTracing(cfg.JaegerURL, res)
		if err != nil {
			return nil, err
		}
		shutdowns = append(shutdowns, fn)
	}

	if cfg.PrometheusEnabled {
		fn, err := setupMetrics(res)
		if err != nil {
			return nil, err
		}
		shutdowns = append(shutdowns, fn)
		logging.GetLogger().Info("Meter bridged to Prometheus", zap.Int("port", cfg.PrometheusPort))
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.ServiceName != "" {
		scope = cfg.ServiceName
	}
	tracer = otel.Tracer(scope)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, fn := range shutdowns {
			if err := fn(ctx); err != nil {
				logging.GetLogger().Error("Error shutting down telemetry", zap.Error(err))
			}
		}
	}, nil
}

func setupTracing(url string, res *resource.Resource) (shutdownFunc, error) {
	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(url)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logging.GetLogger().Info("Jaeger exporter initialized", zap.String("url", url))
	return tp.Shutdown, nil
}

func setupMetrics(res *resource.Resource) (shutdownFunc, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

// Tracer returns the global tracer
func Tracer() trace.Tracer {
	if tracer == nil {
		return noop.NewTracerProvider().Tracer(defaultScope)
	}
	return tracer
}

// StartSpan starts a new span
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// Meter returns the meter for the service scope. Instruments created before
// Init report to whichever provider Init installs.
func Meter() metric.Meter {
	return otel.Meter(scope)
}
