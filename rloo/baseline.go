package rloo

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"
)

// RegularizedRewards returns reward - coef*kl per sample. A nil kl leaves the
// rewards unchanged.
func RegularizedRewards(rewards, kl []float64, coef float64) ([]float64, error) {
	out := slices.Clone(rewards)
	if kl == nil {
		return out, nil
	}
	if len(kl) != len(rewards) {
		return nil, fmt.Errorf("%w: rewards=%d kl=%d", ErrShapeMismatch, len(rewards), len(kl))
	}
	for i := range out {
		out[i] -= coef * kl[i]
	}
	return out, nil
}

// GroupByPrompt partitions sample indices by exact equality of their prompt
// token rows. Groups appear in order of first occurrence; members keep their
// batch order.
func GroupByPrompt(prompts [][]int64) [][]int {
	var groups [][]int
	var keys [][]int64
	for i, p := range prompts {
		found := false
		for g, k := range keys {
			if slices.Equal(k, p) {
				groups[g] = append(groups[g], i)
				found = true
				break
			}
		}
		if !found {
			keys = append(keys, p)
			groups = append(groups, []int{i})
		}
	}
	return groups
}

// RLOOBaseline computes the leave-one-out baseline: each sample's baseline is
// the mean regularized reward of the other members of its prompt group,
// ((1 - I) r) / (n - 1) per group.
//
// A group with a single member has no other members. Under SingletonZero its
// baseline is 0; under SingletonReject the call fails with ErrSingletonGroup.
func RLOOBaseline(prompts [][]int64, regularized []float64, singleton string) ([]float64, error) {
	if len(prompts) != len(regularized) {
		return nil, fmt.Errorf("%w: prompts=%d rewards=%d", ErrShapeMismatch, len(prompts), len(regularized))
	}
	baseline := make([]float64, len(regularized))
	for _, group := range GroupByPrompt(prompts) {
		n := len(group)
		if n == 1 {
			if singleton == SingletonReject {
				return nil, fmt.Errorf("sample %d: %w", group[0], ErrSingletonGroup)
			}
			continue
		}
		r := mat.NewVecDense(n, nil)
		for k, idx := range group {
			r.SetVec(k, regularized[idx])
		}
		leaveOneOut := mat.NewDense(n, n, nil)
		leaveOneOut.Apply(func(i, j int, _ float64) float64 {
			if i == j {
				return 0
			}
			return 1
		}, leaveOneOut)

		var b mat.VecDense
		b.MulVec(leaveOneOut, r)
		b.ScaleVec(1/float64(n-1), &b)
		for k, idx := range group {
			baseline[idx] = b.AtVec(k)
		}
	}
	return baseline, nil
}
