package synthetic

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/inference-sim/rloo-trainer/rloo"
)

// Critic scores rollouts. The reward model prefers responses of a target
// length and runs asynchronously; the constraint rules are checked inline.
type Critic struct {
	tok     *Tokenizer
	target  float64
	latency time.Duration
}

// NewCritic creates a critic rewarding responses close to target tokens.
func NewCritic(tok *Tokenizer, target float64, latency time.Duration) *Critic {
	return &Critic{tok: tok, target: target, latency: latency}
}

// InferAsync implements rloo.Critic.
func (c *Critic) InferAsync(ctx context.Context, gen rloo.Generation, args []rloo.ConstraintArgs) (rloo.ScoreTask, rloo.ConstraintScores, error) {
	if len(args) != gen.Size() {
		return nil, rloo.ConstraintScores{}, fmt.Errorf("%d constraint args for %d samples", len(args), gen.Size())
	}
	scores := rloo.ConstraintScores{
		Rewards: make([]float64, gen.Size()),
		Mask:    make([]float64, gen.Size()),
	}
	for i := range args {
		if len(args[i]) == 0 {
			continue
		}
		ok, err := c.check(response(gen, i), args[i])
		if err != nil {
			return nil, rloo.ConstraintScores{}, fmt.Errorf("sample %d: %w", i, err)
		}
		scores.Mask[i] = 1
		if ok {
			scores.Rewards[i] = 1
		}
	}

	lengths := make([]int, gen.Size())
	for i := range lengths {
		lengths[i] = gen.ResponseLengths[i] - gen.PromptLengths[i]
	}
	task := &scoreTask{done: make(chan struct{})}
	go func() {
		defer close(task.done)
		if c.latency > 0 {
			select {
			case <-time.After(c.latency):
			case <-ctx.Done():
				task.err = ctx.Err()
				return
			}
		}
		task.scores = c.score(lengths)
	}()
	return task, scores, nil
}

// score is 1 at the target length and falls off linearly, to -1 at twice
// the target distance.
func (c *Critic) score(lengths []int) []float64 {
	out := make([]float64, len(lengths))
	scale := math.Max(c.target, 1)
	for i, l := range lengths {
		out[i] = math.Max(1-math.Abs(float64(l)-c.target)/scale, -1)
	}
	return out
}

func (c *Critic) check(resp []int64, args rloo.ConstraintArgs) (bool, error) {
	if v, ok := args[ArgMaxWords]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return false, fmt.Errorf("bad %s %q: %w", ArgMaxWords, v, err)
		}
		if len(resp) > n {
			return false, nil
		}
	}
	if w, ok := args[ArgKeyword]; ok {
		if !slices.ContainsFunc(resp, func(id int64) bool { return c.tok.Word(id) == w }) {
			return false, nil
		}
	}
	return true, nil
}

// response returns the generated tokens of sample i without prompt or EOS.
func response(gen rloo.Generation, i int) []int64 {
	seq := gen.ResponseTokens[i]
	end := min(gen.ResponseLengths[i], len(seq))
	start := min(gen.PromptLengths[i], end)
	return slices.DeleteFunc(slices.Clone(seq[start:end]), func(id int64) bool { return id == EOS })
}

type scoreTask struct {
	done   chan struct{}
	scores []float64
	err    error
}

// Join implements rloo.ScoreTask.
func (t *scoreTask) Join(ctx context.Context) ([]float64, error) {
	select {
	case <-t.done:
		return t.scores, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
