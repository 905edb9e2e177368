package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/ca-srg/slackself/internal/config"
)

const defaultShutdownTimeout = 5 * time.Second

// ShutdownFunc flushes pending telemetry and stops the providers.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Init installs the global tracer and meter providers. When telemetry is
// disabled the providers are still installed, sampling nothing and exporting
// nothing, so instrumented packages need no special casing.
func Init(ctx context.Context, rootCfg *config.Config, logger *log.Logger) (ShutdownFunc, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	cfg, err := LoadConfig(rootCfg)
	if err != nil {
		return noopShutdown, err
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))
		mp := sdkmetric.NewMeterProvider()
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		return newShutdown(logger, tp, mp), nil
	}

	target, err := resolveCollector(cfg)
	if err != nil {
		return noopShutdown, fmt.Errorf("observability: invalid OTLP endpoint: %w", err)
	}

	res, err := buildResource(ctx, cfg)
	if err != nil {
		return noopShutdown, fmt.Errorf("observability: failed to build resource information: %w", err)
	}

	spans, err := target.spanExporter(ctx)
	if err != nil {
		return noopShutdown, fmt.Errorf("observability: failed to create OTLP trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler(cfg)),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(spans),
	)

	metrics, err := target.metricExporter(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return noopShutdown, fmt.Errorf("observability: failed to create OTLP metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metrics, sdkmetric.WithInterval(cfg.MetricExportInterval))),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	logger.Printf("OpenTelemetry exporting to %s (%s) as %s", cfg.ExporterEndpoint, cfg.ExporterProtocol, cfg.ServiceName)

	return newShutdown(logger, tp, mp), nil
}

func sampler(cfg *Config) sdktrace.Sampler {
	switch strings.ToLower(strings.TrimSpace(cfg.TracesSampler)) {
	case "always_off":
		return sdktrace.NeverSample()
	case "traceidratio":
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.TracesSamplerArg))
	case "parentbased_always_on":
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	default:
		return sdktrace.AlwaysSample()
	}
}

func buildResource(ctx context.Context, cfg *Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{attribute.String(resourceServiceNameKey, cfg.ServiceName)}
	for key, value := range cfg.ResourceAttributes {
		if strings.EqualFold(key, resourceServiceNameKey) {
			continue
		}
		attrs = append(attrs, attribute.String(key, value))
	}

	return resource.New(
		ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(attrs...),
	)
}

func newShutdown(logger *log.Logger, tp *sdktrace.TracerProvider, mp *sdkmetric.MeterProvider) ShutdownFunc {
	return func(ctx context.Context) error {
		if ctx == nil {
			ctx = context.Background()
		}
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, defaultShutdownTimeout)
			defer cancel()
		}

		var errs []error
		if err := tp.Shutdown(ctx); err != nil {
			logger.Printf("failed to shutdown tracer provider: %v", err)
			errs = append(errs, fmt.Errorf("tracer provider: %w", err))
		}
		if err := mp.Shutdown(ctx); err != nil {
			logger.Printf("failed to shutdown meter provider: %v", err)
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
		return errors.Join(errs...)
	}
}
