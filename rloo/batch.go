package rloo

import (
	"fmt"
	"slices"
)

// Microbatch is one unit of prompts handed to the policy for sampling.
type Microbatch struct {
	PromptTokens  [][]int64 // B x P, right padded
	PromptLengths []int
	Args          []ConstraintArgs
}

// Size returns the number of prompts in the microbatch.
func (m Microbatch) Size() int {
	return len(m.PromptTokens)
}

// Duplicate stacks n copies of the microbatch along the batch axis.
// Copy k of sample i lands at index k*B + i.
func (m Microbatch) Duplicate(n int) Microbatch {
	out := Microbatch{
		PromptTokens:  make([][]int64, 0, n*m.Size()),
		PromptLengths: make([]int, 0, n*m.Size()),
		Args:          make([]ConstraintArgs, 0, n*m.Size()),
	}
	for k := 0; k < n; k++ {
		for i := range m.PromptTokens {
			out.PromptTokens = append(out.PromptTokens, slices.Clone(m.PromptTokens[i]))
			out.PromptLengths = append(out.PromptLengths, m.PromptLengths[i])
			var args ConstraintArgs
			if i < len(m.Args) {
				args = m.Args[i]
			}
			out.Args = append(out.Args, args)
		}
	}
	return out
}

// Generation is what the policy returns for one Infer call.
// ResponseTokens holds the full prompt+response sequence; ResponseLengths
// are the total sequence lengths. LogProbs has one column fewer than
// ResponseTokens: nothing is predicted for the last token.
type Generation struct {
	ResponseTokens  [][]int64
	LogProbs        [][]float64
	PromptLengths   []int
	ResponseLengths []int
}

// Size returns the number of samples.
func (g Generation) Size() int {
	return len(g.ResponseTokens)
}

func (g Generation) validate(want int) error {
	if err := sameLength(want, "response_tokens", len(g.ResponseTokens)); err != nil {
		return err
	}
	if err := sameLength(want, "logprobs", len(g.LogProbs)); err != nil {
		return err
	}
	if err := sameLength(want, "prompt_lengths", len(g.PromptLengths)); err != nil {
		return err
	}
	return sameLength(want, "response_lengths", len(g.ResponseLengths))
}

// RolloutBatch is the record produced for one microbatch. Every populated
// field has leading dimension Size(). Sequence fields may differ in width
// from batch to batch until they are padded.
//
// Validation batches leave PromptTokens, InitLogProbs, Mask, Baseline and
// InitPolicyKL nil.
type RolloutBatch struct {
	PromptTokens      [][]int64
	ResponseTokens    [][]int64
	PromptLengths     []int
	ResponseLengths   []int
	LogProbs          [][]float64
	InitLogProbs      [][]float64
	Rewards           []float64 // blended reward
	RMRewards         []float64 // reward-model score only
	ConstraintRewards []float64 // rule-based score only
	Mask              [][]float64
	Baseline          []float64
	InitPolicyKL      []float64
}

// Size returns the batch dimension B.
func (b *RolloutBatch) Size() int {
	return len(b.ResponseTokens)
}

// Validate checks that every populated field has leading dimension B.
func (b *RolloutBatch) Validate() error {
	n := b.Size()
	required := []struct {
		name string
		len  int
	}{
		{"prompt_lengths", len(b.PromptLengths)},
		{"response_lengths", len(b.ResponseLengths)},
		{"logprobs", len(b.LogProbs)},
		{"rewards", len(b.Rewards)},
		{"rm_rewards", len(b.RMRewards)},
		{"constraint_rewards", len(b.ConstraintRewards)},
	}
	for _, f := range required {
		if err := sameLength(n, f.name, f.len); err != nil {
			return err
		}
	}
	optional := []struct {
		name string
		set  bool
		len  int
	}{
		{"prompt_tokens", b.PromptTokens != nil, len(b.PromptTokens)},
		{"init_logprobs", b.InitLogProbs != nil, len(b.InitLogProbs)},
		{"mask", b.Mask != nil, len(b.Mask)},
		{"baseline", b.Baseline != nil, len(b.Baseline)},
		{"init_policy_kl", b.InitPolicyKL != nil, len(b.InitPolicyKL)},
	}
	for _, f := range optional {
		if !f.set {
			continue
		}
		if err := sameLength(n, f.name, f.len); err != nil {
			return err
		}
	}
	return nil
}

// appendRound concatenates next onto b along the batch axis. Sequence fields
// are padded to a common width first: response tokens with eos, everything
// else with zero.
func (b *RolloutBatch) appendRound(next *RolloutBatch, eos int64) {
	b.PromptTokens = concatRows(b.PromptTokens, next.PromptTokens, 0)
	b.ResponseTokens = concatRows(b.ResponseTokens, next.ResponseTokens, eos)
	b.LogProbs = concatRows(b.LogProbs, next.LogProbs, 0)
	b.InitLogProbs = concatRows(b.InitLogProbs, next.InitLogProbs, 0)
	b.PromptLengths = append(b.PromptLengths, next.PromptLengths...)
	b.ResponseLengths = append(b.ResponseLengths, next.ResponseLengths...)
	b.Rewards = append(b.Rewards, next.Rewards...)
	b.RMRewards = append(b.RMRewards, next.RMRewards...)
	b.ConstraintRewards = append(b.ConstraintRewards, next.ConstraintRewards...)
}

func concatRows[T Number](a, b [][]T, fill T) [][]T {
	a, b = PadPair(a, b, fill)
	return append(a, b...)
}

// TrainingBuffer is the consolidated, padded rollout data one worker trains
// on during a step. Every rank holds the same sequence width. Rewards are
// already KL-regularized.
type TrainingBuffer struct {
	ResponseTokens  [][]int64 // B x S
	PromptLengths   []int
	ResponseLengths []int
	LogProbs        [][]float64 // B x (S-1)
	Mask            [][]float64 // B x (S-1)
	Rewards         []float64
	Baseline        []float64
}

// Size returns the number of samples in the buffer.
func (t TrainingBuffer) Size() int {
	return len(t.ResponseTokens)
}

// Split cuts the buffer into k contiguous, equally sized parts.
func (t TrainingBuffer) Split(k int) ([]TrainingBuffer, error) {
	if k < 1 || t.Size()%k != 0 {
		return nil, fmt.Errorf("cannot split %d samples into %d equal parts", t.Size(), k)
	}
	size := t.Size() / k
	parts := make([]TrainingBuffer, k)
	for i := range parts {
		lo, hi := i*size, (i+1)*size
		parts[i] = TrainingBuffer{
			ResponseTokens:  t.ResponseTokens[lo:hi],
			PromptLengths:   t.PromptLengths[lo:hi],
			ResponseLengths: t.ResponseLengths[lo:hi],
			LogProbs:        t.LogProbs[lo:hi],
			Mask:            t.Mask[lo:hi],
			Rewards:         t.Rewards[lo:hi],
			Baseline:        t.Baseline[lo:hi],
		}
	}
	return parts, nil
}

func sameLength(want int, field string, got int) error {
	if got != want {
		return fmt.Errorf("%w: %s has leading dimension %d, want %d", ErrShapeMismatch, field, got, want)
	}
	return nil
}
