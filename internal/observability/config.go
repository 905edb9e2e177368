package observability

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ca-srg/slackself/internal/config"
)

const (
	defaultServiceName      = "slackself"
	defaultExporterProtocol = "http/protobuf"
	protocolGRPC            = "grpc"
	resourceServiceNameKey  = "service.name"

	defaultSampler        = "always_on"
	defaultExportInterval = time.Minute
)

var knownSamplers = map[string]bool{
	"always_on":             true,
	"always_off":            true,
	"traceidratio":          true,
	"parentbased_always_on": true,
}

// Config is the OpenTelemetry subset of the application configuration.
type Config struct {
	Enabled              bool
	ServiceName          string
	ExporterEndpoint     string
	ExporterProtocol     string
	ResourceAttributes   map[string]string
	TracesSampler        string
	TracesSamplerArg     float64
	MetricExportInterval time.Duration
}

// LoadConfig extracts and validates telemetry settings.
func LoadConfig(root *config.Config) (*Config, error) {
	if root == nil {
		return nil, fmt.Errorf("observability: nil root configuration provided")
	}

	attrs, err := parseResourceAttributes(root.OTelResourceAttributes)
	if err != nil {
		return nil, fmt.Errorf("observability: failed to parse resource attributes: %w", err)
	}

	cfg := &Config{
		Enabled:            root.OTelEnabled,
		ServiceName:        strings.TrimSpace(root.OTelServiceName),
		ExporterEndpoint:   strings.TrimSpace(root.OTelExporterOTLPEndpoint),
		ExporterProtocol:   root.OTelExporterOTLPProtocol,
		ResourceAttributes: attrs,
		TracesSampler:      root.OTelTracesSampler,
		TracesSamplerArg:   root.OTelTracesSamplerArg,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fills defaults and, when telemetry is enabled, checks the exporter
// endpoint and sampler settings.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("observability: config is nil")
	}
	c.applyDefaults()

	if !c.Enabled {
		return nil
	}

	if c.ExporterEndpoint == "" {
		return fmt.Errorf("observability: OTLP exporter endpoint is required when OpenTelemetry is enabled")
	}
	if c.ExporterProtocol == defaultExporterProtocol {
		parsed, err := url.Parse(c.ExporterEndpoint)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("observability: OTLP exporter endpoint %q must be an http(s) URL with a host", c.ExporterEndpoint)
		}
	}
	if _, err := resolveCollector(c); err != nil {
		return fmt.Errorf("observability: invalid OTLP exporter endpoint: %w", err)
	}

	if !knownSamplers[c.TracesSampler] {
		return fmt.Errorf("observability: unsupported traces sampler %q", c.TracesSampler)
	}
	if c.TracesSampler == "traceidratio" && (c.TracesSamplerArg <= 0 || c.TracesSamplerArg > 1) {
		return fmt.Errorf("observability: traces sampler argument must be between 0 and 1 when sampler is traceidratio")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}
	c.ExporterProtocol = strings.ToLower(strings.TrimSpace(c.ExporterProtocol))
	if c.ExporterProtocol == "" {
		c.ExporterProtocol = defaultExporterProtocol
	}
	c.TracesSampler = strings.ToLower(strings.TrimSpace(c.TracesSampler))
	if c.TracesSampler == "" {
		c.TracesSampler = defaultSampler
	}
	if c.MetricExportInterval <= 0 {
		c.MetricExportInterval = defaultExportInterval
	}
	if c.ResourceAttributes == nil {
		c.ResourceAttributes = map[string]string{}
	}
	if _, ok := c.ResourceAttributes[resourceServiceNameKey]; !ok {
		c.ResourceAttributes[resourceServiceNameKey] = c.ServiceName
	}
}

// parseResourceAttributes reads the OTEL_RESOURCE_ATTRIBUTES form "k1=v1,k2=v2".
func parseResourceAttributes(input string) (map[string]string, error) {
	attrs := map[string]string{}
	for _, pair := range strings.Split(input, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid resource attribute %q", pair)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("resource attribute key cannot be empty")
		}
		attrs[key] = strings.TrimSpace(value)
	}
	return attrs, nil
}
