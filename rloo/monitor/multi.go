package monitor

import (
	"errors"

	"github.com/inference-sim/rloo-trainer/rloo"
)

// Multi forwards every call to each of its loggers in order.
type Multi []rloo.MetricLogger

// LogMetrics implements rloo.MetricLogger.
func (m Multi) LogMetrics(metrics map[string]float64, step int, prefix string) {
	for _, l := range m {
		l.LogMetrics(metrics, step, prefix)
	}
}

// LogTable implements rloo.MetricLogger.
func (m Multi) LogTable(key string, rows []rloo.ExampleRow, step int) {
	for _, l := range m {
		l.LogTable(key, rows, step)
	}
}

// Finalize finalizes every logger and joins their errors.
func (m Multi) Finalize() error {
	var errs []error
	for _, l := range m {
		if err := l.Finalize(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
