package synthetic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/inference-sim/rloo-trainer/rloo"
	"github.com/inference-sim/rloo-trainer/rloo/collective"
)

type phase int

const (
	phaseIdle phase = iota
	phaseInference
	phaseTraining
)

// Policy samples a response length L ~ N(mu, stddev), rounded and clamped
// to [1, maxLen], and fills the response with random words. The sequence
// log-prob log N(L | mu, stddev) is spread evenly over the response tokens.
// The reference policy is the same distribution frozen at the initial mu.
//
// Gradients are averaged across the group inside TrainStep, so every rank
// holds the same mu after each optimizer step.
type Policy struct {
	mu, refMu float64
	stddev    float64
	maxLen    int
	grad      float64

	tok   *Tokenizer
	rng   *rand.Rand
	group collective.Group
	phase phase
}

// NewPolicy creates a policy starting at mean length mu.
func NewPolicy(mu, stddev float64, maxLen int, tok *Tokenizer, rng *rand.Rand, group collective.Group) *Policy {
	return &Policy{mu: mu, refMu: mu, stddev: stddev, maxLen: maxLen, tok: tok, rng: rng, group: group}
}

// Mean returns the current mean response length.
func (p *Policy) Mean() float64 {
	return p.mu
}

// Tokenizer implements rloo.Policy.
func (p *Policy) Tokenizer() rloo.Tokenizer {
	return p.tok
}

// PrepareForInference implements rloo.Policy.
func (p *Policy) PrepareForInference(context.Context) error {
	p.phase = phaseInference
	return nil
}

// FinishInference implements rloo.Policy.
func (p *Policy) FinishInference(context.Context) error {
	p.phase = phaseIdle
	return nil
}

// PrepareForTraining implements rloo.Policy.
func (p *Policy) PrepareForTraining(context.Context) error {
	p.phase = phaseTraining
	return nil
}

// FinishTraining implements rloo.Policy.
func (p *Policy) FinishTraining(context.Context) error {
	p.phase = phaseIdle
	return nil
}

// Infer implements rloo.Policy.
func (p *Policy) Infer(_ context.Context, mb rloo.Microbatch) (rloo.Generation, error) {
	if p.phase != phaseInference {
		return rloo.Generation{}, errors.New("policy is not prepared for inference")
	}
	var gen rloo.Generation
	for i, prompt := range mb.PromptTokens {
		pl := mb.PromptLengths[i]
		n := p.sampleLength()
		seq := make([]int64, 0, pl+n)
		seq = append(seq, prompt[:pl]...)
		for k := 0; k < n; k++ {
			seq = append(seq, 1+p.rng.Int63n(int64(p.tok.VocabSize())))
		}
		gen.ResponseTokens = append(gen.ResponseTokens, seq)
		gen.LogProbs = append(gen.LogProbs, spreadLogProb(pl, len(seq), logNormal(float64(n), p.mu, p.stddev)))
		gen.PromptLengths = append(gen.PromptLengths, pl)
		gen.ResponseLengths = append(gen.ResponseLengths, len(seq))
	}
	return gen, nil
}

func (p *Policy) sampleLength() int {
	l := int(math.Round(p.rng.NormFloat64()*p.stddev + p.mu))
	return min(max(l, 1), p.maxLen)
}

// InitPolicyLogProbs implements rloo.Policy.
func (p *Policy) InitPolicyLogProbs(_ context.Context, gens []rloo.Generation) ([][][]float64, error) {
	out := make([][][]float64, len(gens))
	for g, gen := range gens {
		for i, seq := range gen.ResponseTokens {
			n := gen.ResponseLengths[i] - gen.PromptLengths[i]
			out[g] = append(out[g], spreadLogProb(gen.PromptLengths[i], len(seq), logNormal(float64(n), p.refMu, p.stddev)))
		}
	}
	return out, nil
}

// TrainStep implements rloo.Policy. The loss is the REINFORCE objective
// -mean((reward - baseline) * log pi(L)); its gradient with respect to mu is
// accumulated after averaging across the group.
func (p *Policy) TrainStep(ctx context.Context, batch rloo.TrainingBuffer) (float64, map[string]float64, error) {
	if p.phase != phaseTraining {
		return 0, nil, errors.New("policy is not prepared for training")
	}
	n := float64(batch.Size())
	var loss, grad, adv float64
	for i := 0; i < batch.Size(); i++ {
		l := float64(batch.ResponseLengths[i] - batch.PromptLengths[i])
		a := batch.Rewards[i] - batch.Baseline[i]
		loss -= a * logNormal(l, p.mu, p.stddev)
		grad -= a * (l - p.mu) / (p.stddev * p.stddev)
		adv += a
	}
	if n > 0 {
		loss, grad, adv = loss/n, grad/n, adv/n
	}

	world := float64(p.group.Topology().WorldSize)
	reduced, err := p.group.AllReduce(ctx, collective.OpSum, []float64{loss, grad})
	if err != nil {
		return 0, nil, fmt.Errorf("gradient all-reduce: %w", err)
	}
	p.grad += reduced[1] / world
	return reduced[0] / world, map[string]float64{"advantage_mean": adv, "mean_length": p.mu}, nil
}

func logNormal(x, mu, stddev float64) float64 {
	z := (x - mu) / stddev
	return -0.5*z*z - math.Log(stddev) - 0.5*math.Log(2*math.Pi)
}

// spreadLogProb returns the S-1 log-prob row of a sequence of length s whose
// first pl tokens are prompt: the response columns share total evenly.
func spreadLogProb(pl, s int, total float64) []float64 {
	row := make([]float64, s-1)
	n := s - pl
	if n <= 0 {
		return row
	}
	for t := max(pl-1, 0); t < s-1; t++ {
		row[t] = total / float64(n)
	}
	return row
}
