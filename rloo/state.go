package rloo

import (
	"context"
	"fmt"

	"github.com/inference-sim/rloo-trainer/rloo/collective"
)

// TrainingState is the loop state that survives checkpoints.
type TrainingState struct {
	Step             int // completed steps
	ConsumedSamples  int // global samples consumed, across all workers
	OptimizationStep int // optimizer steps taken
}

// Epoch derives the current epoch from Step. It is never stored.
func (s TrainingState) Epoch(stepsPerEpoch int) int {
	if stepsPerEpoch < 1 {
		return 0
	}
	return s.Step / stepsPerEpoch
}

// Snapshot is the persisted form of TrainingState.
type Snapshot struct {
	Step             int `yaml:"step"`
	ConsumedSamples  int `yaml:"consumed_samples"`
	OptimizationStep int `yaml:"optimization_step"`
}

// Snapshot returns the persisted form of s.
func (s TrainingState) Snapshot() Snapshot {
	return Snapshot{Step: s.Step, ConsumedSamples: s.ConsumedSamples, OptimizationStep: s.OptimizationStep}
}

// Restore loads snap on every worker and checks that all workers loaded the
// same values by broadcasting rank 0's copy. The outcome of the comparison is
// agreed across the group, so a difference on any worker yields
// ErrStateMismatch on every worker.
func Restore(ctx context.Context, g collective.Group, snap Snapshot) (TrainingState, error) {
	local := []float64{float64(snap.Step), float64(snap.ConsumedSamples), float64(snap.OptimizationStep)}
	root, err := g.Broadcast(ctx, 0, local)
	if err != nil {
		return TrainingState{}, fmt.Errorf("broadcast restored state: %w", err)
	}
	mismatch := 0.0
	for i := range local {
		if local[i] != root[i] {
			mismatch = 1
			break
		}
	}
	diverged, err := g.AllReduce(ctx, collective.OpMax, []float64{mismatch})
	if err != nil {
		return TrainingState{}, fmt.Errorf("agree on restored state: %w", err)
	}
	if diverged[0] > 0 {
		if mismatch > 0 {
			return TrainingState{}, fmt.Errorf("rank %d loaded %v, rank 0 loaded %v: %w",
				g.Topology().Rank, local, root, ErrStateMismatch)
		}
		return TrainingState{}, fmt.Errorf("another rank diverged from rank 0: %w", ErrStateMismatch)
	}
	return TrainingState{Step: snap.Step, ConsumedSamples: snap.ConsumedSamples, OptimizationStep: snap.OptimizationStep}, nil
}
