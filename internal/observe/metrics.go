// Package observe provides the OpenTelemetry metrics, tracing helpers and
// trace-aware slog logger used across kosei.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) records
// through the global meter provider, which is a no-op until [InitProvider]
// installs the SDK. Tests should use [NewMetrics] with their own provider.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all kosei metrics.
const meterName = "github.com/valpere/kosei"

// Metrics holds the metric instruments of the correction loop.
type Metrics struct {
	// Runs counts finished correction runs. Use with attribute:
	//   attribute.String("outcome", "converged"|"exhausted"|"failed"|"canceled")
	Runs metric.Int64Counter

	// Passes records how many passes each run needed.
	Passes metric.Int64Histogram

	// Records counts error records by kind and policy. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("policy", ...)
	Records metric.Int64Counter

	// DriftWarnings counts passes whose mask placeholders did not line up
	// between the classifier and the fill predictor.
	DriftWarnings metric.Int64Counter

	// ModelDuration tracks model call latency. Use with attributes:
	//   attribute.String("model", "classifier"|"predictor"), attribute.String("op", ...)
	ModelDuration metric.Float64Histogram

	// HTTPRequestDuration tracks API request latency. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, sized for model
// inference on CPU and GPU.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

var passBuckets = []float64{1, 2, 3, 4, 5, 7, 10, 15, 20}

// NewMetrics creates a fully initialised [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Runs, err = m.Int64Counter("kosei.correction.runs",
		metric.WithDescription("Finished correction runs by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Passes, err = m.Int64Histogram("kosei.correction.passes",
		metric.WithDescription("Passes needed per correction run."),
		metric.WithExplicitBucketBoundaries(passBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Records, err = m.Int64Counter("kosei.correction.records",
		metric.WithDescription("Error records by kind and policy."),
	); err != nil {
		return nil, err
	}
	if met.DriftWarnings, err = m.Int64Counter("kosei.correction.drift_warnings",
		metric.WithDescription("Passes with mask placeholders the fill predictor could not resolve."),
	); err != nil {
		return nil, err
	}
	if met.ModelDuration, err = m.Float64Histogram("kosei.model.duration",
		metric.WithDescription("Latency of model calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("kosei.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] built on
// [otel.GetMeterProvider]. The global provider is a delegating proxy, so
// instruments created before [InitProvider] start recording once it runs.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}
