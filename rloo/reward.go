package rloo

import "fmt"

// BlendTraining combines the two reward sources on the training path:
//
//	reward = rm * rmMultiplier + mask * constraint * constraintMultiplier
//
// The validation path uses a different rule; see BlendValidation.
func BlendTraining(rm, constraint, mask []float64, rmMultiplier, constraintMultiplier float64) ([]float64, error) {
	if err := blendLengths(rm, constraint, mask); err != nil {
		return nil, err
	}
	out := make([]float64, len(rm))
	for i := range rm {
		out[i] = rm[i]*rmMultiplier + mask[i]*constraint[i]*constraintMultiplier
	}
	return out, nil
}

// BlendValidation combines the two reward sources on the validation path.
// A sample with a constraint is scored by the constraint alone, any other
// sample by the reward model alone:
//
//	reward = constraintMultiplier * mask * constraint + (1 - mask) * rm
//
// rm_multiplier does not apply here, so validation rewards are not directly
// comparable with training rewards.
func BlendValidation(rm, constraint, mask []float64, constraintMultiplier float64) ([]float64, error) {
	if err := blendLengths(rm, constraint, mask); err != nil {
		return nil, err
	}
	out := make([]float64, len(rm))
	for i := range rm {
		out[i] = constraintMultiplier*mask[i]*constraint[i] + (1-mask[i])*rm[i]
	}
	return out, nil
}

func blendLengths(rm, constraint, mask []float64) error {
	if len(constraint) != len(rm) || len(mask) != len(rm) {
		return fmt.Errorf("%w: rm=%d constraint=%d mask=%d rewards", ErrShapeMismatch, len(rm), len(constraint), len(mask))
	}
	return nil
}
