package mcpserver

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	mcpTracer = otel.Tracer("slackself/mcpserver")
	mcpMeter  = otel.Meter("slackself/mcpserver")
)

type toolInstruments struct {
	calls    metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
}

var instruments = func() *toolInstruments {
	inst := &toolInstruments{}
	inst.calls, _ = mcpMeter.Int64Counter("slackself.mcp.requests",
		metric.WithDescription("MCP tool calls"))
	inst.failures, _ = mcpMeter.Int64Counter("slackself.mcp.errors",
		metric.WithDescription("MCP tool calls that ended in an error"))
	inst.latency, _ = mcpMeter.Float64Histogram("slackself.mcp.response_time",
		metric.WithDescription("MCP tool response time"),
		metric.WithUnit("ms"))
	return inst
}()

// toolCall tracks one tool invocation from span start to metric recording.
type toolCall struct {
	span    trace.Span
	attrs   []attribute.KeyValue
	started time.Time
}

func startToolCall(ctx context.Context, tool, authMethod string) (context.Context, *toolCall) {
	attrs := []attribute.KeyValue{
		attribute.String("mcp.tool.name", tool),
		attribute.String("mcp.auth.method", authMethod),
	}
	ctx, span := mcpTracer.Start(ctx, "mcpserver."+tool, trace.WithAttributes(attrs...))
	return ctx, &toolCall{span: span, attrs: attrs, started: time.Now()}
}

// fail marks the span as failed. kind becomes the error.type metric attribute.
func (c *toolCall) fail(kind string, err error) {
	c.span.RecordError(err)
	c.span.SetStatus(codes.Error, kind)
	c.attrs = append(c.attrs, attribute.String("error.type", kind))
}

func (c *toolCall) end(ctx context.Context) {
	defer c.span.End()

	elapsed := float64(time.Since(c.started).Milliseconds())
	base := metric.WithAttributes(c.attrs[:2]...)
	if instruments.calls != nil {
		instruments.calls.Add(ctx, 1, base)
	}
	if instruments.latency != nil {
		instruments.latency.Record(ctx, elapsed, base)
	}
	if len(c.attrs) > 2 && instruments.failures != nil {
		instruments.failures.Add(ctx, 1, metric.WithAttributes(c.attrs...))
	}
}
