package selfmessages

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("slackself/selfmessages")
	meter  = otel.Meter("slackself/selfmessages")
)

type instruments struct {
	runs        metric.Int64Counter
	pages       metric.Int64Counter
	degraded    metric.Int64Counter
	runDuration metric.Float64Histogram
}

func newInstruments() *instruments {
	inst := &instruments{}
	inst.runs, _ = meter.Int64Counter("slackself.runs",
		metric.WithDescription("Aggregation runs by outcome"))
	inst.pages, _ = meter.Int64Counter("slackself.search.pages",
		metric.WithDescription("search.messages pages fetched"))
	inst.degraded, _ = meter.Int64Counter("slackself.resolution.degraded",
		metric.WithDescription("Conversation resolutions that fell back to a placeholder"))
	inst.runDuration, _ = meter.Float64Histogram("slackself.run.duration",
		metric.WithDescription("Wall-clock duration of aggregation runs"),
		metric.WithUnit("s"))
	return inst
}

var defaultInstruments = newInstruments()

func (i *instruments) recordRun(ctx context.Context, outcome string, started time.Time) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if i.runs != nil {
		i.runs.Add(ctx, 1, attrs)
	}
	if i.runDuration != nil {
		i.runDuration.Record(ctx, time.Since(started).Seconds(), attrs)
	}
}

func (i *instruments) recordPage(ctx context.Context) {
	if i != nil && i.pages != nil {
		i.pages.Add(ctx, 1)
	}
}

func (i *instruments) recordDegraded(ctx context.Context, kind ConversationKind) {
	if i != nil && i.degraded != nil {
		i.degraded.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
	}
}

func telemetryFingerprint(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	sum := sha256.Sum256([]byte(trimmed))
	return fmt.Sprintf("%x", sum[:8])
}
