package rloo

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/inference-sim/rloo-trainer/rloo/collective"
)

// metricsEpsilon keeps the global means finite on a cycle with no samples.
const metricsEpsilon = 1e-6

// GlobalMetrics are rollout means over every sample of every worker.
type GlobalMetrics struct {
	ResponseLengthsMean float64 // generated tokens per sample
	PromptLengths       float64
	Rewards             float64
	RMRewards           float64
	ConstraintRewards   float64
	Samples             float64 // global sample count
}

// AsMap returns the metrics under their logged names.
func (m GlobalMetrics) AsMap() map[string]float64 {
	return map[string]float64{
		"global_response_lengths_mean": m.ResponseLengthsMean,
		"global_prompt_lengths":        m.PromptLengths,
		"global_rewards":               m.Rewards,
		"global_rm_rewards":            m.RMRewards,
		"global_constraint_rewards":    m.ConstraintRewards,
	}
}

// RolloutMetrics is what one rollout cycle reports.
type RolloutMetrics struct {
	Global GlobalMetrics
	// Example is the first sample of this worker's first batch; nil when the
	// worker produced nothing. It is not reduced and differs across workers.
	Example *RolloutExample
	// InitPolicyKL is this worker's mean per-sample KL. Not reduced.
	InitPolicyKL float64
}

// ReduceRolloutMetrics sums the per-sample quantities of batches locally,
// all-reduces the sums across g and divides by the global sample count.
// Every rank issues exactly one collective, even with no batches.
func ReduceRolloutMetrics(ctx context.Context, g collective.Group, batches []*RolloutBatch) (GlobalMetrics, error) {
	// fixed order: response length, prompt length, reward, rm reward, constraint reward, count
	local := make([]float64, 6)
	for _, b := range batches {
		for i := range b.ResponseLengths {
			local[0] += float64(b.ResponseLengths[i] - b.PromptLengths[i])
			local[1] += float64(b.PromptLengths[i])
		}
		local[2] += floats.Sum(b.Rewards)
		local[3] += floats.Sum(b.RMRewards)
		local[4] += floats.Sum(b.ConstraintRewards)
		local[5] += float64(b.Size())
	}

	global, err := g.AllReduce(ctx, collective.OpSum, local)
	if err != nil {
		return GlobalMetrics{}, fmt.Errorf("reduce rollout metrics: %w", err)
	}
	count := global[5]
	floats.Scale(1/(count+metricsEpsilon), global[:5])
	return GlobalMetrics{
		ResponseLengthsMean: global[0],
		PromptLengths:       global[1],
		Rewards:             global[2],
		RMRewards:           global[3],
		ConstraintRewards:   global[4],
		Samples:             count,
	}, nil
}

// RolloutExample is one decoded sample for human-facing logs.
type RolloutExample struct {
	Prompt           string
	Response         string
	Reward           float64
	RMReward         float64
	ConstraintReward float64
}

// NewRolloutExample decodes the first sample of b.
func NewRolloutExample(tok Tokenizer, b *RolloutBatch) RolloutExample {
	tokens := b.ResponseTokens[0]
	p := min(b.PromptLengths[0], len(tokens))
	r := min(max(b.ResponseLengths[0], p), len(tokens))
	return RolloutExample{
		Prompt:           tok.IDsToText(tokens[:p]),
		Response:         tok.IDsToText(tokens[p:r]),
		Reward:           b.Rewards[0],
		RMReward:         b.RMRewards[0],
		ConstraintReward: b.ConstraintRewards[0],
	}
}
