package monitor

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/rloo-trainer/rloo"
)

func TestLogrusLogger_LogMetrics_PrefixedFields(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	l := NewLogrusLogger(logrus.NewEntry(logger).WithField("rank", 1))

	l.LogMetrics(map[string]float64{"global_rewards": 0.5}, 3, "train_rollouts/")

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, 0.5, entry.Data["train_rollouts/global_rewards"])
	assert.Equal(t, 3, entry.Data["step"])
	assert.Equal(t, 1, entry.Data["rank"])
}

func TestLogrusLogger_LogTable_NewestRow(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	l := NewLogrusLogger(logrus.NewEntry(logger))

	l.LogTable("table/train_rollouts", nil, 0)
	assert.Empty(t, hook.AllEntries())

	rows := []rloo.ExampleRow{
		{Step: 0, RolloutExample: rloo.RolloutExample{Prompt: "old"}},
		{Step: 1, RolloutExample: rloo.RolloutExample{Prompt: "new", Reward: 2}},
	}
	l.LogTable("table/train_rollouts", rows, 1)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "new", entry.Data["prompt"])
	assert.Equal(t, 2, entry.Data["rows"])
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) (float64, bool) {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metrics:
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			if m.GetGauge() != nil {
				return m.GetGauge().GetValue(), true
			}
			return m.GetCounter().GetValue(), true
		}
	}
	return 0, false
}

func TestPrometheusLogger_SharedRegistry_PerRankSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	r0 := NewPrometheusLogger(reg, 0)
	r1 := NewPrometheusLogger(reg, 1)

	r0.LogMetrics(map[string]float64{"global_rewards": 1.5}, 2, "train_rollouts/")
	r1.LogMetrics(map[string]float64{"global_rewards": 2.5}, 2, "train_rollouts/")
	r1.LogTable("table/val_rollouts", nil, 2)
	require.NoError(t, r0.Finalize())

	v, ok := gaugeValue(t, reg, "rloo_metric", map[string]string{"rank": "1", "name": "global_rewards"})
	require.True(t, ok)
	assert.Equal(t, 2.5, v)
	v, ok = gaugeValue(t, reg, "rloo_metric", map[string]string{"rank": "0", "name": "global_rewards"})
	require.True(t, ok)
	assert.Equal(t, 1.5, v)
	v, ok = gaugeValue(t, reg, "rloo_example_tables_logged_total", map[string]string{"table": "table/val_rollouts"})
	require.True(t, ok)
	assert.Equal(t, 1.0, v)
	v, ok = gaugeValue(t, reg, "rloo_finished", map[string]string{"rank": "0"})
	require.True(t, ok)
	assert.Equal(t, 1.0, v)
}

type recordingLogger struct {
	prefixes []string
	last     map[string]float64
	err      error
}

func (r *recordingLogger) LogMetrics(m map[string]float64, _ int, prefix string) {
	r.prefixes = append(r.prefixes, prefix)
	r.last = m
}
func (r *recordingLogger) LogTable(string, []rloo.ExampleRow, int) {}
func (r *recordingLogger) Finalize() error                         { return r.err }

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	a := &recordingLogger{err: errors.New("a failed")}
	b := &recordingLogger{}
	m := Multi{a, b}

	m.LogMetrics(map[string]float64{"x": 1}, 0, "p/")
	assert.Equal(t, []string{"p/"}, a.prefixes)
	assert.Equal(t, []string{"p/"}, b.prefixes)

	err := m.Finalize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a failed")
}

func TestWithProcessStats_AddsUsageToTimers(t *testing.T) {
	next := &recordingLogger{}
	l := WithProcessStats(next)

	l.LogMetrics(map[string]float64{"loss": 1}, 0, "train_optim/")
	assert.NotContains(t, next.last, "rss_bytes")

	timers := map[string]float64{"rollout_time": 0.5}
	l.LogMetrics(timers, 0, rloo.TimersPrefix)
	assert.Contains(t, next.last, "rss_bytes")
	assert.Equal(t, 0.5, next.last["rollout_time"])
	assert.NotContains(t, timers, "rss_bytes", "input map is not modified")
}
