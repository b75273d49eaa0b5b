package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *metric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					out[m.Name] += dp.Value
				}
			}
		}
	}
	return out
}

func TestCountersRecord(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m, err := New(mp)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	m.Admission(ctx, "auto_dm", true)
	m.Admission(ctx, "auto_dm", false)
	m.TaskFinished(ctx, "summary", "completed")
	m.AutoReply(ctx, "mention", "draft_created")
	m.CompletionLatency(ctx, "summarize", 150*time.Millisecond, true)

	got := collect(t, reader)
	if got["sidekick.ratelimit.decisions"] != 2 {
		t.Fatalf("expected 2 admissions, got %v", got)
	}
	if got["sidekick.tasks.finished"] != 1 || got["sidekick.autoreply.outcomes"] != 1 {
		t.Fatalf("unexpected counters: %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Admission(context.Background(), "auto_dm", true)
	m.TaskFinished(context.Background(), "summary", "failed")
	m.AutoReply(context.Background(), "dm", "auto_reply")
	m.CompletionLatency(context.Background(), "summarize", time.Second, false)
}
