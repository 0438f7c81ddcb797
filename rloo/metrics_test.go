package rloo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/rloo-trainer/rloo/collective"
	"github.com/inference-sim/rloo-trainer/rloo/internal/testutil"
)

func metricsBatch(rewards []float64, promptLen, seqLen int) *RolloutBatch {
	n := len(rewards)
	b := &RolloutBatch{Rewards: rewards, RMRewards: make([]float64, n), ConstraintRewards: make([]float64, n)}
	for i := 0; i < n; i++ {
		b.ResponseTokens = append(b.ResponseTokens, make([]int64, seqLen))
		b.PromptLengths = append(b.PromptLengths, promptLen)
		b.ResponseLengths = append(b.ResponseLengths, seqLen)
		b.RMRewards[i] = 2 * rewards[i]
	}
	return b
}

func TestReduceRolloutMetrics_MeanOverAllWorkers(t *testing.T) {
	local := [][]*RolloutBatch{
		{metricsBatch([]float64{1, 2}, 3, 5)},
		{metricsBatch([]float64{3}, 1, 5), metricsBatch([]float64{4, 5, 6}, 1, 2)},
		nil,
	}
	err := collective.RunSPMD(context.Background(), 3, func(ctx context.Context, g collective.Group) error {
		m, err := ReduceRolloutMetrics(ctx, g, local[g.Topology().Rank])
		if err != nil {
			return err
		}
		testutil.AssertFloat64Equal(t, "samples", 6, m.Samples, 0)
		testutil.AssertFloat64Equal(t, "rewards", 21.0/(6+metricsEpsilon), m.Rewards, 1e-12)
		testutil.AssertFloat64Equal(t, "rm rewards", 42.0/(6+metricsEpsilon), m.RMRewards, 1e-12)
		// generated lengths: 2,2,4,1,1,1
		testutil.AssertFloat64Equal(t, "response length", 11.0/(6+metricsEpsilon), m.ResponseLengthsMean, 1e-12)
		testutil.AssertFloat64Equal(t, "prompt length", 10.0/(6+metricsEpsilon), m.PromptLengths, 1e-12)
		return nil
	})
	require.NoError(t, err)
}

func TestReduceRolloutMetrics_IndependentOfWorkerCount(t *testing.T) {
	all := []*RolloutBatch{metricsBatch([]float64{1, 2}, 1, 3), metricsBatch([]float64{7}, 1, 3)}

	var single GlobalMetrics
	err := collective.RunSPMD(context.Background(), 1, func(ctx context.Context, g collective.Group) error {
		var err error
		single, err = ReduceRolloutMetrics(ctx, g, all)
		return err
	})
	require.NoError(t, err)

	err = collective.RunSPMD(context.Background(), 2, func(ctx context.Context, g collective.Group) error {
		m, err := ReduceRolloutMetrics(ctx, g, all[g.Topology().Rank:g.Topology().Rank+1])
		if err != nil {
			return err
		}
		testutil.AssertFloat64Equal(t, "rewards", single.Rewards, m.Rewards, 1e-12)
		return nil
	})
	require.NoError(t, err)
}

func TestReduceRolloutMetrics_NoSamples_Zero(t *testing.T) {
	g := collective.NewFabric(1).Group(0)
	m, err := ReduceRolloutMetrics(context.Background(), g, nil)
	require.NoError(t, err)
	assert.Equal(t, GlobalMetrics{}, m)
}

func TestGlobalMetrics_AsMap_Keys(t *testing.T) {
	m := GlobalMetrics{Rewards: 1.5}.AsMap()
	assert.Len(t, m, 5)
	assert.Equal(t, 1.5, m["global_rewards"])
	assert.Contains(t, m, "global_response_lengths_mean")
	assert.Contains(t, m, "global_constraint_rewards")
}
