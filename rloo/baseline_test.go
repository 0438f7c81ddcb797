package rloo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/rloo-trainer/rloo/internal/testutil"
)

func TestRLOOBaseline_PairSwapsRewards(t *testing.T) {
	prompts := [][]int64{{7, 8}, {7, 8}}
	got, err := RLOOBaseline(prompts, []float64{1.5, -2}, SingletonZero)
	require.NoError(t, err)
	assert.Equal(t, []float64{-2, 1.5}, got)
}

func TestRLOOBaseline_EachSampleGetsMeanOfOthers(t *testing.T) {
	// two interleaved groups, as produced by duplicating a microbatch of two prompts
	prompts := [][]int64{{1}, {2}, {1}, {2}, {1}, {2}}
	rewards := []float64{1, 10, 2, 20, 6, 60}

	got, err := RLOOBaseline(prompts, rewards, SingletonZero)
	require.NoError(t, err)
	testutil.AssertSliceClose(t, "baseline", []float64{4, 40, 3.5, 35, 1.5, 15}, got, 1e-12)

	// baseline_i * (n-1) == sum(r) - r_i
	for _, group := range GroupByPrompt(prompts) {
		var sum float64
		for _, i := range group {
			sum += rewards[i]
		}
		for _, i := range group {
			testutil.AssertFloat64Equal(t, "identity", sum-rewards[i], got[i]*float64(len(group)-1), 1e-12)
		}
	}
}

func TestRLOOBaseline_PaddedPromptsCompareWholeRow(t *testing.T) {
	prompts := [][]int64{{1, 2, 0}, {1, 2, 3}, {1, 2, 0}, {1, 2, 3}}
	assert.Equal(t, [][]int{{0, 2}, {1, 3}}, GroupByPrompt(prompts))
}

func TestRLOOBaseline_SingletonZeroPolicy_ZeroBaseline(t *testing.T) {
	prompts := [][]int64{{1}, {2}, {1}}
	got, err := RLOOBaseline(prompts, []float64{3, 5, 7}, SingletonZero)
	require.NoError(t, err)
	assert.Equal(t, []float64{7, 0, 3}, got)
}

func TestRLOOBaseline_SingletonRejectPolicy_ReturnsError(t *testing.T) {
	_, err := RLOOBaseline([][]int64{{1}, {2}, {1}}, []float64{3, 5, 7}, SingletonReject)
	assert.ErrorIs(t, err, ErrSingletonGroup)
}

func TestRLOOBaseline_LengthMismatch_ReturnsError(t *testing.T) {
	_, err := RLOOBaseline([][]int64{{1}}, []float64{1, 2}, SingletonZero)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestRegularizedRewards_SubtractsScaledKL(t *testing.T) {
	got, err := RegularizedRewards([]float64{1, 2}, []float64{0.5, -1}, 0.2)
	require.NoError(t, err)
	testutil.AssertSliceClose(t, "regularized", []float64{0.9, 2.2}, got, 1e-12)

	unchanged, err := RegularizedRewards([]float64{1, 2}, nil, 0.2)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, unchanged)
}
