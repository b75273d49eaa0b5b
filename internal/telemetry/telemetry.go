// Package telemetry exposes agent counters through OpenTelemetry metrics.
package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const instrumentationName = "github.com/sidekick-chat/sidekick/agent"

// Setup installs a global meter provider that periodically writes metrics
// as JSON to w. The returned function flushes and shuts the provider down.
func Setup(ctx context.Context, w io.Writer, interval time.Duration) (func(context.Context) error, error) {
	if interval <= 0 {
		interval = time.Minute
	}
	exp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

// Metrics holds the agent's instruments. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	admissions metric.Int64Counter
	tasks      metric.Int64Counter
	replies    metric.Int64Counter
	latency    metric.Float64Histogram
}

// New creates instruments from the given provider, or the global one when
// mp is nil.
func New(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	var errs []error
	admissions, err := meter.Int64Counter("sidekick.ratelimit.decisions",
		metric.WithDescription("Rate limit admission decisions"),
		metric.WithUnit("{request}"))
	errs = append(errs, err)
	tasks, err := meter.Int64Counter("sidekick.tasks.finished",
		metric.WithDescription("On-demand tasks reaching a terminal state"),
		metric.WithUnit("{task}"))
	errs = append(errs, err)
	replies, err := meter.Int64Counter("sidekick.autoreply.outcomes",
		metric.WithDescription("Agent mode outcomes per eligible user"),
		metric.WithUnit("{reply}"))
	errs = append(errs, err)
	latency, err := meter.Float64Histogram("sidekick.completion.duration",
		metric.WithDescription("Completion call latency"),
		metric.WithUnit("s"))
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		slog.Error("Failed to create metric instruments", "error", err)
		return nil, err
	}
	return &Metrics{admissions: admissions, tasks: tasks, replies: replies, latency: latency}, nil
}

// Admission records one rate limit decision.
func (m *Metrics) Admission(ctx context.Context, mode string, admitted bool) {
	if m == nil {
		return
	}
	m.admissions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.Bool("admitted", admitted),
	))
}

// TaskFinished records a task reaching state for command.
func (m *Metrics) TaskFinished(ctx context.Context, command, state string) {
	if m == nil {
		return
	}
	m.tasks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("state", state),
	))
}

// AutoReply records one agent mode outcome.
func (m *Metrics) AutoReply(ctx context.Context, trigger, action string) {
	if m == nil {
		return
	}
	m.replies.Add(ctx, 1, metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("action", action),
	))
}

// CompletionLatency records how long a completion call took.
func (m *Metrics) CompletionLatency(ctx context.Context, mode string, d time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.latency.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.Bool("ok", ok),
	))
}
