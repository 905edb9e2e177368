package observability

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	otlpmetricgrpc "go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	otlpmetrichttp "go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otlptracegrpc "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	tracesPath  = "/v1/traces"
	metricsPath = "/v1/metrics"
)

// collector is a resolved OTLP destination shared by the trace and metric exporters.
type collector struct {
	protocol string
	// base is the endpoint URL for http/protobuf, host:port for grpc.
	base     string
	insecure bool
}

func resolveCollector(cfg *Config) (collector, error) {
	raw := strings.TrimSpace(cfg.ExporterEndpoint)
	if raw == "" {
		return collector{}, fmt.Errorf("endpoint cannot be empty")
	}

	switch cfg.ExporterProtocol {
	case defaultExporterProtocol:
		return collector{
			protocol: defaultExporterProtocol,
			base:     raw,
			insecure: strings.HasPrefix(raw, "http://"),
		}, nil
	case protocolGRPC:
		if !strings.Contains(raw, "://") {
			// bare host:port
			return collector{protocol: protocolGRPC, base: raw, insecure: true}, nil
		}
		parsed, err := url.Parse(raw)
		if err != nil {
			return collector{}, err
		}
		if parsed.Host == "" {
			return collector{}, fmt.Errorf("endpoint must include host")
		}
		var insecure bool
		switch parsed.Scheme {
		case "http", "grpc":
			insecure = true
		case "https", "grpcs":
		default:
			return collector{}, fmt.Errorf("unsupported scheme %q", parsed.Scheme)
		}
		return collector{protocol: protocolGRPC, base: parsed.Host, insecure: insecure}, nil
	default:
		return collector{}, fmt.Errorf("unsupported protocol %q", cfg.ExporterProtocol)
	}
}

// signalURL appends the per-signal OTLP path unless the endpoint already ends with it.
// Query strings are kept.
func (c collector) signalURL(suffix string) (string, error) {
	parsed, err := url.Parse(c.base)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}

	path := strings.TrimSuffix(parsed.Path, "/")
	if !strings.HasSuffix(path, suffix) {
		path += suffix
	}
	parsed.Path = path
	return parsed.String(), nil
}

func (c collector) spanExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	if c.protocol == protocolGRPC {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(c.base)}
		if c.insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	}

	endpoint, err := c.signalURL(tracesPath)
	if err != nil {
		return nil, err
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(endpoint)}
	if c.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.New(ctx, opts...)
}

func (c collector) metricExporter(ctx context.Context) (sdkmetric.Exporter, error) {
	if c.protocol == protocolGRPC {
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(c.base)}
		if c.insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)
	}

	endpoint, err := c.signalURL(metricsPath)
	if err != nil {
		return nil, err
	}
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpointURL(endpoint)}
	if c.insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	return otlpmetrichttp.New(ctx, opts...)
}
