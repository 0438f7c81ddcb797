package rloo

import (
	"context"
	"fmt"

	"github.com/inference-sim/rloo-trainer/rloo/collective"
)

// Assemble flattens the training-path batches of one rollout cycle into a
// single TrainingBuffer whose sequence width is agreed across the group.
//
// Response tokens are padded with eos to the global width S (at least
// seqLength when seqLength > 0); log-probs are padded with zero to S-1 and
// the response mask is rebuilt from the lengths at that width. Rewards are
// regularized by the KL penalty. Prompt tokens and the per-batch masks are
// dropped. One collective is issued regardless of the local data.
func Assemble(ctx context.Context, g collective.Group, batches []*RolloutBatch, eos int64, klCoef float64, seqLength int) (TrainingBuffer, error) {
	var buf TrainingBuffer
	var tokens [][]int64
	var logProbs [][]float64
	for i, b := range batches {
		if b.InitPolicyKL == nil || b.Baseline == nil {
			return TrainingBuffer{}, fmt.Errorf("batch %d is missing kl or baseline: %w", i, ErrShapeMismatch)
		}
		rewards, err := RegularizedRewards(b.Rewards, b.InitPolicyKL, klCoef)
		if err != nil {
			return TrainingBuffer{}, fmt.Errorf("batch %d: %w", i, err)
		}
		tokens = append(tokens, b.ResponseTokens...)
		logProbs = append(logProbs, b.LogProbs...)
		buf.PromptLengths = append(buf.PromptLengths, b.PromptLengths...)
		buf.ResponseLengths = append(buf.ResponseLengths, b.ResponseLengths...)
		buf.Rewards = append(buf.Rewards, rewards...)
		buf.Baseline = append(buf.Baseline, b.Baseline...)
	}

	padded, err := PadToGlobal(ctx, g, tokens, eos, seqLength)
	if err != nil {
		return TrainingBuffer{}, err
	}
	width := max(Width(padded)-1, 0)
	buf.ResponseTokens = padded
	buf.LogProbs = PadRows(logProbs, width, 0)
	buf.Mask = ResponseMask(buf.PromptLengths, buf.ResponseLengths, width)
	return buf, nil
}
