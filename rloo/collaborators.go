package rloo

import (
	"context"
)

// Tokenizer decodes token ids for human-readable example logging.
type Tokenizer interface {
	IDsToText(ids []int64) string
	EOSID() int64
}

// Policy is the model being fine-tuned. Its forward/backward computation and
// internal parallelism are opaque to this package; every call blocks.
type Policy interface {
	Tokenizer() Tokenizer

	PrepareForInference(ctx context.Context) error
	FinishInference(ctx context.Context) error

	// Infer samples one response per row of mb.
	Infer(ctx context.Context, mb Microbatch) (Generation, error)

	// InitPolicyLogProbs scores each generation under the frozen reference
	// policy. The result has one B x (S-1) matrix per generation.
	InitPolicyLogProbs(ctx context.Context, gens []Generation) ([][][]float64, error)

	PrepareForTraining(ctx context.Context) error
	FinishTraining(ctx context.Context) error

	// TrainStep runs forward and backward on one training split and returns
	// the mean loss plus model-reported metrics. Gradients stay in the model
	// for the Optimizer to apply.
	TrainStep(ctx context.Context, batch TrainingBuffer) (float64, map[string]float64, error)
}

// Optimizer applies the gradients accumulated by Policy.TrainStep.
type Optimizer interface {
	ZeroGrad()
	// ClipGradNorm scales gradients so their global norm is at most maxNorm
	// and returns the norm before clipping.
	ClipGradNorm(maxNorm float64) float64
	Step()
	LearningRate() float64
}

// Scheduler advances the learning-rate schedule once per optimizer step.
type Scheduler interface {
	Step()
}

// ConstraintArgs carries the rule-based constraint attached to one prompt.
// An empty map means the prompt has no constraint to evaluate.
type ConstraintArgs map[string]string

// ConstraintScores is the rule-based part of a critic response.
type ConstraintScores struct {
	Rewards []float64 // per-sample constraint reward
	Mask    []float64 // 1 where the sample carries a constraint, else 0
}

// ScoreTask is a pending reward-model request.
type ScoreTask interface {
	// Join blocks until the reward-model scores are available.
	Join(ctx context.Context) ([]float64, error)
}

// Critic scores rollouts. The reward-model score is asynchronous; the
// constraint scores are returned immediately.
type Critic interface {
	InferAsync(ctx context.Context, gen Generation, args []ConstraintArgs) (ScoreTask, ConstraintScores, error)
}

// DataIterator yields the microbatches of one epoch for one worker.
type DataIterator interface {
	// Remaining is the number of microbatches not yet returned by Next.
	Remaining() int
	Next() (Microbatch, bool)
}

// DataSource shards a prompt dataset across the data-parallel workers.
type DataSource interface {
	// Iterator opens the given epoch, skipping the first skipGlobalBatches
	// global batches (used to resume mid-epoch).
	Iterator(epoch, skipGlobalBatches int) DataIterator
	NumSamples() int
	GlobalBatchSize() int
	MicroBatchSize() int
	// ShuffledRestart reports whether each epoch visits samples in a new order.
	ShuffledRestart() bool
}

// MetricLogger receives metric dictionaries and example tables.
type MetricLogger interface {
	LogMetrics(metrics map[string]float64, step int, prefix string)
	LogTable(key string, rows []ExampleRow, step int)
	Finalize() error
}

// CheckpointStore persists training state together with the step's metrics.
type CheckpointStore interface {
	Save(ctx context.Context, snap Snapshot, metrics map[string]float64, final bool) error
}

// RunTimer bounds the wall-clock duration of a run. It is polled once per
// step and never interrupts work in flight.
type RunTimer interface {
	Start()
	Expired() bool
}
