package rloo

import (
	"fmt"
	"math"
)

// ResponseMask marks the log-prob positions that score response tokens.
// Log-prob column t predicts token t+1, so a sample whose prompt has length p
// and whose full sequence has length r owns columns [p-1, r-1). Columns are
// clamped to width.
func ResponseMask(promptLengths, responseLengths []int, width int) [][]float64 {
	mask := make([][]float64, len(promptLengths))
	for i, p := range promptLengths {
		row := make([]float64, width)
		lo := max(p-1, 0)
		hi := min(responseLengths[i]-1, width)
		for t := lo; t < hi; t++ {
			row[t] = 1
		}
		mask[i] = row
	}
	return mask
}

// KLPenalty returns one KL value per sample: the masked mean over response
// positions of the per-token divergence between the current and reference
// log-probs. In absolute mode the per-token value is |cur - ref| whatever
// the estimator. A sample with an empty mask gets 0.
func KLPenalty(cur, ref, mask [][]float64, absolute bool, estimator string) ([]float64, error) {
	if len(ref) != len(cur) || len(mask) != len(cur) {
		return nil, fmt.Errorf("%w: logprobs=%d init_logprobs=%d mask=%d", ErrShapeMismatch, len(cur), len(ref), len(mask))
	}
	perToken, err := tokenKL(absolute, estimator)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(cur))
	for i := range cur {
		var sum, n float64
		for t, m := range mask[i] {
			if m == 0 {
				continue
			}
			if t >= len(cur[i]) || t >= len(ref[i]) {
				return nil, fmt.Errorf("%w: sample %d mask covers column %d beyond logprob width", ErrShapeMismatch, i, t)
			}
			sum += m * perToken(cur[i][t], ref[i][t])
			n += m
		}
		if n > 0 {
			out[i] = sum / n
		}
	}
	return out, nil
}

func tokenKL(absolute bool, estimator string) (func(cur, ref float64) float64, error) {
	if absolute {
		return func(cur, ref float64) float64 { return math.Abs(cur - ref) }, nil
	}
	switch estimator {
	case KLEstimatorK1, "":
		return func(cur, ref float64) float64 { return cur - ref }, nil
	case KLEstimatorK3:
		return func(cur, ref float64) float64 {
			d := ref - cur
			return math.Expm1(d) - d
		}, nil
	default:
		return nil, fmt.Errorf("unknown kl_estimator %q", estimator)
	}
}
