package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestNewMetrics_RecordsCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.Runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "converged")))
	m.Records.Add(ctx, 2, metric.WithAttributes(attribute.String("kind", "substitution")))
	m.Passes.Record(ctx, 3)
	m.ModelDuration.Record(ctx, 0.12, metric.WithAttributes(attribute.String("model", "classifier")))

	got := collect(t, reader)
	for _, name := range []string{
		"kosei.correction.runs",
		"kosei.correction.records",
		"kosei.correction.passes",
		"kosei.model.duration",
	} {
		if _, ok := got[name]; !ok {
			t.Errorf("expected metric %q to be collected", name)
		}
	}

	sum, ok := got["kosei.correction.records"].Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", got["kosei.correction.records"].Data)
	}
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 2 {
		t.Errorf("expected single data point with value 2, got %+v", sum.DataPoints)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a == nil || a != b {
		t.Error("expected the same non-nil instance")
	}
}

func TestLogger_WithoutSpan(t *testing.T) {
	if Logger(context.Background()) == nil {
		t.Error("expected non-nil logger")
	}
}

func TestStartSpan_PropagatesContext(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "parent")
	defer span.End()

	child, childSpan := StartSpan(ctx, "child")
	defer childSpan.End()
	if child == nil {
		t.Fatal("expected non-nil context")
	}
}
