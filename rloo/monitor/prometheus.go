package monitor

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/inference-sim/rloo-trainer/rloo"
)

// PrometheusLogger exposes the latest value of every logged metric as a
// gauge labelled by rank, prefix and name.
type PrometheusLogger struct {
	rank     string
	values   *prometheus.GaugeVec
	step     *prometheus.GaugeVec
	examples *prometheus.CounterVec
	finished *prometheus.GaugeVec
}

// NewPrometheusLogger registers its collectors on registry, or on a fresh
// registry when nil. Several ranks of an in-process fleet may share one
// registry; each registers the collectors only once.
func NewPrometheusLogger(registry *prometheus.Registry, rank int) *PrometheusLogger {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	p := &PrometheusLogger{
		rank: strconv.Itoa(rank),
		values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rloo",
			Name:      "metric",
			Help:      "Latest value of a training metric.",
		}, []string{"rank", "prefix", "name"}),
		step: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rloo",
			Name:      "step",
			Help:      "Step of the latest logged metrics.",
		}, []string{"rank"}),
		examples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rloo",
			Name:      "example_tables_logged_total",
			Help:      "Example tables logged.",
		}, []string{"rank", "table"}),
		finished: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rloo",
			Name:      "finished",
			Help:      "1 once the run has finished.",
		}, []string{"rank"}),
	}
	p.values = register(registry, p.values)
	p.step = register(registry, p.step)
	p.examples = register(registry, p.examples)
	p.finished = register(registry, p.finished)
	return p
}

// register returns the collector already registered under the same
// descriptor, if any, so ranks sharing a registry share the vectors.
func register[C prometheus.Collector](registry *prometheus.Registry, c C) C {
	if err := registry.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(C)
		}
		panic(err)
	}
	return c
}

// LogMetrics implements rloo.MetricLogger.
func (p *PrometheusLogger) LogMetrics(metrics map[string]float64, step int, prefix string) {
	for _, name := range sortedKeys(metrics) {
		p.values.WithLabelValues(p.rank, prefix, name).Set(metrics[name])
	}
	p.step.WithLabelValues(p.rank).Set(float64(step))
}

// LogTable implements rloo.MetricLogger.
func (p *PrometheusLogger) LogTable(key string, _ []rloo.ExampleRow, _ int) {
	p.examples.WithLabelValues(p.rank, key).Inc()
}

// Finalize implements rloo.MetricLogger.
func (p *PrometheusLogger) Finalize() error {
	p.finished.WithLabelValues(p.rank).Set(1)
	return nil
}
