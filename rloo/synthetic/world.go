package synthetic

import (
	"fmt"
	"time"

	"github.com/inference-sim/rloo-trainer/rloo"
	"github.com/inference-sim/rloo-trainer/rloo/collective"
)

// Worker is the set of synthetic collaborators of one rank.
type Worker struct {
	Tokenizer *Tokenizer
	Policy    *Policy
	Optimizer *SGD
	Scheduler *WarmupScheduler
	Critic    *Critic
	Train     *Dataset
	Val       *Dataset // nil when val_samples is 0
}

// NewWorker builds the collaborators of the rank behind group. Every rank
// derives the same prompts from key; response sampling differs per rank.
func NewWorker(cfg Config, key RunKey, group collective.Group) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	topo := group.Topology()
	if cfg.GlobalBatchSize%(topo.WorldSize*cfg.MicroBatchSize) != 0 ||
		cfg.ValGlobalBatchSize%(topo.WorldSize*cfg.MicroBatchSize) != 0 {
		return nil, fmt.Errorf("global batch sizes %d and %d must be multiples of world_size*micro_batch_size=%d",
			cfg.GlobalBatchSize, cfg.ValGlobalBatchSize, topo.WorldSize*cfg.MicroBatchSize)
	}

	rng := NewPartitionedRNG(key)
	tok := NewTokenizer(cfg.VocabSize)
	train := GeneratePrompts(rng, cfg.TrainSamples, cfg.MaxPromptLen, tok, cfg.ConstraintFraction)
	val := GeneratePrompts(rng, cfg.ValSamples, cfg.MaxPromptLen, tok, cfg.ConstraintFraction)

	policy := NewPolicy(cfg.InitialMeanLength, cfg.LengthStddev, cfg.MaxResponseLen, tok,
		rng.ForSubsystem(SubsystemSampling(topo.Rank)), group)
	opt := NewSGD(policy, cfg.LearningRate)

	w := &Worker{
		Tokenizer: tok,
		Policy:    policy,
		Optimizer: opt,
		Scheduler: NewWarmupScheduler(opt, cfg.WarmupSteps),
		Critic:    NewCritic(tok, cfg.TargetLength, time.Duration(cfg.CriticLatencyMs)*time.Millisecond),
		Train:     NewDataset(train, cfg.GlobalBatchSize, cfg.MicroBatchSize, cfg.MaxPromptLen, topo, cfg.ShuffledRestart, rng),
	}
	if cfg.ValSamples > 0 {
		w.Val = NewDataset(val, cfg.ValGlobalBatchSize, cfg.MicroBatchSize, cfg.MaxPromptLen, topo, false, rng)
	}
	return w, nil
}

// Collaborators fills the model, data and critic fields of an
// rloo.Collaborators. Logger, checkpoint store and run timer are left to
// the caller.
func (w *Worker) Collaborators() rloo.Collaborators {
	c := rloo.Collaborators{
		Policy:    w.Policy,
		Optimizer: w.Optimizer,
		Scheduler: w.Scheduler,
		Critic:    w.Critic,
		Train:     w.Train,
	}
	if w.Val != nil {
		c.Val = w.Val
	}
	return c
}
