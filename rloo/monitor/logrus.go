package monitor

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/rloo-trainer/rloo"
)

// LogrusLogger writes every metric dictionary as one structured log line.
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger logs through entry, or the standard logger when nil.
func NewLogrusLogger(entry *logrus.Entry) *LogrusLogger {
	if entry == nil {
		entry = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LogrusLogger{entry: entry}
}

// LogMetrics implements rloo.MetricLogger.
func (l *LogrusLogger) LogMetrics(metrics map[string]float64, step int, prefix string) {
	fields := make(logrus.Fields, len(metrics)+1)
	for k, v := range metrics {
		fields[prefix+k] = v
	}
	fields["step"] = step
	l.entry.WithFields(fields).Info("metrics")
}

// LogTable implements rloo.MetricLogger. Only the newest row is printed;
// the table itself is kept by the caller.
func (l *LogrusLogger) LogTable(key string, rows []rloo.ExampleRow, step int) {
	if len(rows) == 0 {
		return
	}
	last := rows[len(rows)-1]
	l.entry.WithFields(logrus.Fields{
		"table":             key,
		"step":              step,
		"rows":              len(rows),
		"prompt":            last.Prompt,
		"response":          last.Response,
		"reward":            last.Reward,
		"rm_reward":         last.RMReward,
		"constraint_reward": last.ConstraintReward,
	}).Info("example")
}

// Finalize implements rloo.MetricLogger.
func (l *LogrusLogger) Finalize() error {
	l.entry.Info("run finished")
	return nil
}

// sortedKeys is used where output order must be stable.
func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
