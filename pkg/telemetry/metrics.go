package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vango-dev/pulse/pkg/reactive"
)

// MetricsConfig configures the Prometheus observer.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "pulse").
	Namespace string

	// Subsystem is the metrics subsystem (default: "reactive").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for run duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus observer.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the run duration buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "pulse",
		Subsystem: "reactive",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics is a reactive.Observer recording Prometheus metrics.
type Metrics struct {
	writes      prometheus.Counter
	runs        prometheus.Counter
	panics      prometheus.Counter
	runDuration prometheus.Histogram
	depth       prometheus.Histogram
}

var _ reactive.Observer = (*Metrics)(nil)

// NewMetrics registers the reactive metrics and returns an observer that
// records them.
//
// Metrics collected:
//   - pulse_reactive_signal_writes_total: Counter of Signal.Set calls
//   - pulse_reactive_subscriber_runs_total: Counter of subscriber executions
//   - pulse_reactive_subscriber_panics_total: Counter of executions that panicked
//   - pulse_reactive_subscriber_run_duration_seconds: Histogram of execution time
//   - pulse_reactive_propagation_depth: Histogram of execution stack height at write time
//
// Like promauto, NewMetrics panics if the metrics are already registered on
// the registry.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		writes: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "signal_writes_total",
			Help:        "Total number of signal writes",
			ConstLabels: config.ConstLabels,
		}),

		runs: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "subscriber_runs_total",
			Help:        "Total number of subscriber executions",
			ConstLabels: config.ConstLabels,
		}),

		panics: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "subscriber_panics_total",
			Help:        "Total number of subscriber executions that panicked",
			ConstLabels: config.ConstLabels,
		}),

		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "subscriber_run_duration_seconds",
			Help:        "Subscriber execution duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		depth: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "propagation_depth",
			Help:        "Execution context height when a signal is written",
			ConstLabels: config.ConstLabels,
			Buckets:     []float64{0, 1, 2, 4, 8, 16, 32},
		}),
	}
}

// SignalWritten implements reactive.Observer.
func (m *Metrics) SignalWritten(info reactive.WriteInfo) {
	m.writes.Inc()
	m.depth.Observe(float64(info.Depth))
}

// SubscriberExecuted implements reactive.Observer.
func (m *Metrics) SubscriberExecuted(info reactive.ExecInfo) {
	m.runs.Inc()
	m.runDuration.Observe(info.Duration.Seconds())
	if info.Panicked {
		m.panics.Inc()
	}
}
