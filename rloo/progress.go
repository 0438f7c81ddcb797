package rloo

import (
	"fmt"
	"math"
)

// StepsPerEpoch is the number of full global batches in a dataset of
// numSamples. A trailing partial batch is dropped.
func StepsPerEpoch(numSamples, globalBatchSize int) int {
	if globalBatchSize < 1 {
		return 0
	}
	return numSamples / globalBatchSize
}

// MaxSteps is stepsPerEpoch*maxEpochs, lowered to override when override is
// non-negative. A negative override disables it.
func MaxSteps(stepsPerEpoch, maxEpochs, override int) int {
	steps := stepsPerEpoch * maxEpochs
	if override >= 0 {
		steps = min(steps, override)
	}
	return steps
}

// RolloutMicrobatches is the number of microbatches each worker consumes per
// step: globalBatchSize / microBatchSize / worldSize, each division exact.
func RolloutMicrobatches(globalBatchSize, microBatchSize, worldSize int) (int, error) {
	perStep, err := divide(globalBatchSize, microBatchSize)
	if err != nil {
		return 0, fmt.Errorf("global batch over micro batch: %w", err)
	}
	n, err := divide(perStep, worldSize)
	if err != nil {
		return 0, fmt.Errorf("microbatches over data-parallel size: %w", err)
	}
	return n, nil
}

func divide(numerator, denominator int) (int, error) {
	if denominator < 1 || numerator%denominator != 0 {
		return 0, fmt.Errorf("%d is not divisible by %d", numerator, denominator)
	}
	return numerator / denominator, nil
}

// validationMicrobatches applies limit_val_batches to the full count: a value
// in (0, 1] is a fraction, a value above 1 an absolute number of microbatches.
func validationMicrobatches(full int, limit float64) int {
	switch {
	case limit <= 0:
		return 0
	case limit <= 1:
		return max(int(math.Floor(float64(full)*limit)), 1)
	default:
		return min(int(limit), full)
	}
}

// Progress is what happens at the end of a step.
type Progress struct {
	RunValidation bool
	Save          bool
	TrainEnd      bool
}

// CheckProgress decides whether the step that just completed triggers a
// validation run and a checkpoint. Both also fire on the last step and when
// the run timer expired, if they are enabled at all.
func CheckProgress(step, maxSteps, valCheckInterval, saveInterval int, limitValBatches float64, timeExceeded bool) Progress {
	end := step == maxSteps
	p := Progress{TrainEnd: end}
	if limitValBatches != 0 && valCheckInterval > 0 {
		p.RunValidation = step%valCheckInterval == 0 || end || timeExceeded
	}
	if saveInterval > 0 {
		p.Save = step%saveInterval == 0 || end || timeExceeded
	}
	return p
}
