package rloo

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/rloo-trainer/rloo/collective"
)

// scoreSlot holds at most one outstanding reward-model request.
type scoreSlot struct {
	task ScoreTask
}

func (s *scoreSlot) submit(t ScoreTask) error {
	if s.task != nil {
		return errors.New("reward-model request already outstanding")
	}
	s.task = t
	return nil
}

func (s *scoreSlot) join(ctx context.Context) ([]float64, error) {
	if s.task == nil {
		return nil, errors.New("no reward-model request outstanding")
	}
	t := s.task
	s.task = nil
	return t.Join(ctx)
}

// drain joins and discards any outstanding request so the slot can be reused
// after a failed round.
func (s *scoreSlot) drain(ctx context.Context) {
	if s.task == nil {
		return
	}
	if _, err := s.join(ctx); err != nil {
		logrus.Debugf("discarded reward-model request: %v", err)
	}
}

// Generator samples rollouts from the policy and scores them.
// It is not safe for concurrent use; each worker owns one.
type Generator struct {
	cfg    GeneratorConfig
	policy Policy
	critic Critic
	group  collective.Group
	slot   scoreSlot
}

// NewGenerator creates a Generator. Panics on nil collaborators.
func NewGenerator(cfg GeneratorConfig, policy Policy, critic Critic, group collective.Group) *Generator {
	if policy == nil || critic == nil || group == nil {
		panic("NewGenerator: policy, critic and group must be non-nil")
	}
	return &Generator{cfg: cfg, policy: policy, critic: critic, group: group}
}

// Rollouts runs the training path over up to n microbatches from it: every
// prompt is duplicated, sampled GenerationIter times, scored, and given a KL
// penalty and a baseline. The returned metrics are reduced across the group.
func (g *Generator) Rollouts(ctx context.Context, it DataIterator, n int) ([]*RolloutBatch, RolloutMetrics, error) {
	var batches []*RolloutBatch
	for i := 0; i < n; i++ {
		mb, ok := it.Next()
		if !ok {
			break
		}
		b, err := g.trainingRollout(ctx, mb)
		if err != nil {
			return nil, RolloutMetrics{}, fmt.Errorf("rollout microbatch %d: %w", i, err)
		}
		batches = append(batches, b)
	}

	metrics, err := g.reduce(ctx, batches)
	if err != nil {
		return nil, RolloutMetrics{}, err
	}
	metrics.InitPolicyKL = localMeanKL(batches)
	return batches, metrics, nil
}

// Validate runs the validation path over up to n microbatches from it: one
// sample per prompt, scored synchronously with the validation blending rule.
func (g *Generator) Validate(ctx context.Context, it DataIterator, n int) ([]*RolloutBatch, RolloutMetrics, error) {
	var batches []*RolloutBatch
	for i := 0; i < n; i++ {
		mb, ok := it.Next()
		if !ok {
			break
		}
		b, err := g.validationRollout(ctx, mb)
		if err != nil {
			return nil, RolloutMetrics{}, fmt.Errorf("validation microbatch %d: %w", i, err)
		}
		batches = append(batches, b)
	}
	metrics, err := g.reduce(ctx, batches)
	if err != nil {
		return nil, RolloutMetrics{}, err
	}
	return batches, metrics, nil
}

func (g *Generator) trainingRollout(ctx context.Context, mb Microbatch) (*RolloutBatch, error) {
	mb = mb.Duplicate(g.cfg.DuplicatePrompts)
	eos := g.policy.Tokenizer().EOSID()

	var acc *RolloutBatch
	for round := 0; round < g.cfg.GenerationIter; round++ {
		b, err := g.sampleAndScore(ctx, mb)
		if err != nil {
			return nil, fmt.Errorf("generation round %d: %w", round, err)
		}
		if acc == nil {
			acc = b
			continue
		}
		acc.appendRound(b, eos)
	}

	acc.Mask = ResponseMask(acc.PromptLengths, acc.ResponseLengths, Width(acc.LogProbs))
	if g.cfg.KLEnabled() {
		kl, err := KLPenalty(acc.LogProbs, acc.InitLogProbs, acc.Mask, g.cfg.UseAbsoluteKL, g.cfg.KLEstimator)
		if err != nil {
			return nil, err
		}
		acc.InitPolicyKL = kl
	} else {
		acc.InitPolicyKL = make([]float64, acc.Size())
	}

	if g.cfg.Baseline == BaselineRLOO {
		regularized, err := RegularizedRewards(acc.Rewards, acc.InitPolicyKL, g.cfg.InitialPolicyKLPenalty)
		if err != nil {
			return nil, err
		}
		acc.Baseline, err = RLOOBaseline(acc.PromptTokens, regularized, g.cfg.SingletonGroups)
		if err != nil {
			return nil, err
		}
	} else {
		acc.Baseline = make([]float64, acc.Size())
	}

	if err := acc.Validate(); err != nil {
		return nil, err
	}
	return acc, nil
}

// sampleAndScore runs one generation round. The reference log-probs are
// computed while the reward-model request is outstanding.
func (g *Generator) sampleAndScore(ctx context.Context, mb Microbatch) (*RolloutBatch, error) {
	gen, err := g.policy.Infer(ctx, mb)
	if err != nil {
		return nil, fmt.Errorf("infer: %w", err)
	}
	if err := gen.validate(mb.Size()); err != nil {
		return nil, err
	}

	task, constraint, err := g.critic.InferAsync(ctx, gen, mb.Args)
	if err != nil {
		return nil, fmt.Errorf("critic: %w", err)
	}
	if err := g.slot.submit(task); err != nil {
		return nil, err
	}

	initLogProbs, err := g.policy.InitPolicyLogProbs(ctx, []Generation{gen})
	if err != nil {
		g.slot.drain(ctx)
		return nil, fmt.Errorf("init policy logprobs: %w", err)
	}
	if len(initLogProbs) != 1 {
		g.slot.drain(ctx)
		return nil, fmt.Errorf("%w: init policy logprobs for %d generations, want 1", ErrShapeMismatch, len(initLogProbs))
	}

	rm, err := g.slot.join(ctx)
	if err != nil {
		return nil, fmt.Errorf("critic join: %w", err)
	}
	rewards, err := BlendTraining(rm, constraint.Rewards, constraint.Mask, g.cfg.RMMultiplier, g.cfg.ConstraintMultiplier)
	if err != nil {
		return nil, err
	}

	return &RolloutBatch{
		PromptTokens:      cloneRows(mb.PromptTokens),
		ResponseTokens:    gen.ResponseTokens,
		PromptLengths:     gen.PromptLengths,
		ResponseLengths:   gen.ResponseLengths,
		LogProbs:          gen.LogProbs,
		InitLogProbs:      initLogProbs[0],
		Rewards:           rewards,
		RMRewards:         rm,
		ConstraintRewards: constraint.Rewards,
	}, nil
}

func (g *Generator) validationRollout(ctx context.Context, mb Microbatch) (*RolloutBatch, error) {
	gen, err := g.policy.Infer(ctx, mb)
	if err != nil {
		return nil, fmt.Errorf("infer: %w", err)
	}
	if err := gen.validate(mb.Size()); err != nil {
		return nil, err
	}
	task, constraint, err := g.critic.InferAsync(ctx, gen, mb.Args)
	if err != nil {
		return nil, fmt.Errorf("critic: %w", err)
	}
	rm, err := task.Join(ctx)
	if err != nil {
		return nil, fmt.Errorf("critic join: %w", err)
	}
	rewards, err := BlendValidation(rm, constraint.Rewards, constraint.Mask, g.cfg.ConstraintMultiplier)
	if err != nil {
		return nil, err
	}
	b := &RolloutBatch{
		ResponseTokens:    gen.ResponseTokens,
		PromptLengths:     gen.PromptLengths,
		ResponseLengths:   gen.ResponseLengths,
		LogProbs:          gen.LogProbs,
		Rewards:           rewards,
		RMRewards:         rm,
		ConstraintRewards: constraint.Rewards,
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func (g *Generator) reduce(ctx context.Context, batches []*RolloutBatch) (RolloutMetrics, error) {
	global, err := ReduceRolloutMetrics(ctx, g.group, batches)
	if err != nil {
		return RolloutMetrics{}, err
	}
	m := RolloutMetrics{Global: global}
	for _, b := range batches {
		if b.Size() > 0 {
			ex := NewRolloutExample(g.policy.Tokenizer(), b)
			m.Example = &ex
			break
		}
	}
	if m.Example == nil {
		logrus.Debugf("rank %d produced no rollouts this cycle", g.group.Topology().Rank)
	}
	return m, nil
}

// localMeanKL is the per-sample KL averaged over this worker only.
func localMeanKL(batches []*RolloutBatch) float64 {
	var sum float64
	var n int
	for _, b := range batches {
		for _, kl := range b.InitPolicyKL {
			sum += kl
		}
		n += b.Size()
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
