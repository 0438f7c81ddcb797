package monitor

import (
	"maps"
	"os"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/rloo-trainer/rloo"
)

// ProcessStats decorates a logger: every timers/ dictionary gains the
// resident memory and CPU usage of the current process.
type ProcessStats struct {
	rloo.MetricLogger
	proc *process.Process
}

// WithProcessStats wraps next. If the process cannot be inspected, next is
// returned unchanged.
func WithProcessStats(next rloo.MetricLogger) rloo.MetricLogger {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logrus.Warnf("process stats disabled: %v", err)
		return next
	}
	return &ProcessStats{MetricLogger: next, proc: proc}
}

// LogMetrics implements rloo.MetricLogger.
func (p *ProcessStats) LogMetrics(metrics map[string]float64, step int, prefix string) {
	if prefix != rloo.TimersPrefix {
		p.MetricLogger.LogMetrics(metrics, step, prefix)
		return
	}
	out := maps.Clone(metrics)
	if mem, err := p.proc.MemoryInfo(); err == nil {
		out["rss_bytes"] = float64(mem.RSS)
	}
	if cpu, err := p.proc.Percent(0); err == nil {
		out["cpu_percent"] = cpu
	}
	p.MetricLogger.LogMetrics(out, step, prefix)
}
