package rloo

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type fakeTokenizer struct{}

func (fakeTokenizer) IDsToText(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("t%d", id)
	}
	return strings.Join(parts, " ")
}

func (fakeTokenizer) EOSID() int64 { return 0 }

// fakePolicy appends (row%3)+1+round response tokens to every prompt.
// Current log-probs are -0.5 per column; reference log-probs are -1.
type fakePolicy struct {
	mu        sync.Mutex
	events    *[]string
	rounds    int
	trainSeen []TrainingBuffer
	inferErr  error
	initErr   error
}

func (p *fakePolicy) record(e string) {
	if p.events != nil {
		*p.events = append(*p.events, e)
	}
}

func (p *fakePolicy) Tokenizer() Tokenizer                      { return fakeTokenizer{} }
func (p *fakePolicy) PrepareForInference(context.Context) error { return nil }
func (p *fakePolicy) FinishInference(context.Context) error     { return nil }
func (p *fakePolicy) PrepareForTraining(context.Context) error  { return nil }
func (p *fakePolicy) FinishTraining(context.Context) error      { return nil }

func (p *fakePolicy) Infer(_ context.Context, mb Microbatch) (Generation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("infer")
	if p.inferErr != nil {
		return Generation{}, p.inferErr
	}
	var gen Generation
	for i, prompt := range mb.PromptTokens {
		pl := mb.PromptLengths[i]
		n := i%3 + 1 + p.rounds
		seq := append([]int64(nil), prompt[:pl]...)
		for k := 0; k < n; k++ {
			seq = append(seq, int64(100+k))
		}
		lp := make([]float64, len(seq)-1)
		for k := range lp {
			lp[k] = -0.5
		}
		gen.ResponseTokens = append(gen.ResponseTokens, seq)
		gen.LogProbs = append(gen.LogProbs, lp)
		gen.PromptLengths = append(gen.PromptLengths, pl)
		gen.ResponseLengths = append(gen.ResponseLengths, len(seq))
	}
	p.rounds++
	return gen, nil
}

func (p *fakePolicy) InitPolicyLogProbs(_ context.Context, gens []Generation) ([][][]float64, error) {
	p.record("init_logprobs")
	if p.initErr != nil {
		return nil, p.initErr
	}
	out := make([][][]float64, len(gens))
	for g, gen := range gens {
		for _, lp := range gen.LogProbs {
			row := make([]float64, len(lp))
			for k := range row {
				row[k] = -1
			}
			out[g] = append(out[g], row)
		}
	}
	return out, nil
}

func (p *fakePolicy) TrainStep(_ context.Context, batch TrainingBuffer) (float64, map[string]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trainSeen = append(p.trainSeen, batch)
	return 0.25, map[string]float64{"samples": float64(batch.Size())}, nil
}

type fakeTask struct {
	rewards []float64
	events  *[]string
}

func (t fakeTask) Join(context.Context) ([]float64, error) {
	if t.events != nil {
		*t.events = append(*t.events, "join")
	}
	return t.rewards, nil
}

// fakeCritic scores a sample by its generated length. Samples with
// constraint args get constraint reward 1.
type fakeCritic struct {
	events *[]string
}

func (c fakeCritic) InferAsync(_ context.Context, gen Generation, args []ConstraintArgs) (ScoreTask, ConstraintScores, error) {
	if c.events != nil {
		*c.events = append(*c.events, "critic")
	}
	rm := make([]float64, gen.Size())
	scores := ConstraintScores{Rewards: make([]float64, gen.Size()), Mask: make([]float64, gen.Size())}
	for i := range rm {
		rm[i] = float64(gen.ResponseLengths[i] - gen.PromptLengths[i])
		if len(args[i]) > 0 {
			scores.Rewards[i] = 1
			scores.Mask[i] = 1
		}
	}
	return fakeTask{rewards: rm, events: c.events}, scores, nil
}

// fakeSource serves numSamples prompts; prompt j is {j+1, j+1} and rank r
// gets every sample whose position inside a global batch is r mod world.
type fakeSource struct {
	numSamples, gbs, mbs int
	topo                 struct{ rank, world int }
	shuffled             bool
	opened               []int
}

func newFakeSource(numSamples, gbs, mbs, rank, world int) *fakeSource {
	s := &fakeSource{numSamples: numSamples, gbs: gbs, mbs: mbs, shuffled: true}
	s.topo.rank, s.topo.world = rank, world
	return s
}

func (s *fakeSource) NumSamples() int       { return s.numSamples }
func (s *fakeSource) GlobalBatchSize() int  { return s.gbs }
func (s *fakeSource) MicroBatchSize() int   { return s.mbs }
func (s *fakeSource) ShuffledRestart() bool { return s.shuffled }

func (s *fakeSource) Iterator(epoch, skip int) DataIterator {
	s.opened = append(s.opened, skip)
	var mbs []Microbatch
	for b := skip; b < s.numSamples/s.gbs; b++ {
		var local []int
		for j := b * s.gbs; j < (b+1)*s.gbs; j++ {
			if j%s.topo.world == s.topo.rank {
				local = append(local, j)
			}
		}
		for lo := 0; lo+s.mbs <= len(local); lo += s.mbs {
			var mb Microbatch
			for _, j := range local[lo : lo+s.mbs] {
				mb.PromptTokens = append(mb.PromptTokens, []int64{int64(j + 1), int64(j + 1)})
				mb.PromptLengths = append(mb.PromptLengths, 2)
				var args ConstraintArgs
				if j%2 == 0 {
					args = ConstraintArgs{"max_words": "3"}
				}
				mb.Args = append(mb.Args, args)
			}
			mbs = append(mbs, mb)
		}
	}
	return &sliceIterator{mbs: mbs}
}

type sliceIterator struct {
	mbs []Microbatch
}

func (it *sliceIterator) Remaining() int { return len(it.mbs) }

func (it *sliceIterator) Next() (Microbatch, bool) {
	if len(it.mbs) == 0 {
		return Microbatch{}, false
	}
	mb := it.mbs[0]
	it.mbs = it.mbs[1:]
	return mb, true
}

type loggedMetrics struct {
	prefix  string
	step    int
	metrics map[string]float64
}

type fakeLogger struct {
	mu        sync.Mutex
	logged    []loggedMetrics
	tables    map[string][]ExampleRow
	finalized bool
}

func (l *fakeLogger) LogMetrics(m map[string]float64, step int, prefix string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logged = append(l.logged, loggedMetrics{prefix: prefix, step: step, metrics: m})
}

func (l *fakeLogger) LogTable(key string, rows []ExampleRow, _ int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tables == nil {
		l.tables = map[string][]ExampleRow{}
	}
	l.tables[key] = rows
}

func (l *fakeLogger) Finalize() error {
	l.finalized = true
	return nil
}

func (l *fakeLogger) withPrefix(prefix string) []loggedMetrics {
	var out []loggedMetrics
	for _, m := range l.logged {
		if m.prefix == prefix {
			out = append(out, m)
		}
	}
	return out
}

type savedCheckpoint struct {
	snap    Snapshot
	metrics map[string]float64
	final   bool
}

type fakeStore struct {
	saved []savedCheckpoint
}

func (s *fakeStore) Save(_ context.Context, snap Snapshot, metrics map[string]float64, final bool) error {
	s.saved = append(s.saved, savedCheckpoint{snap: snap, metrics: metrics, final: final})
	return nil
}

type fakeOptimizer struct {
	steps, zeroGrads int
}

func (o *fakeOptimizer) ZeroGrad()                    { o.zeroGrads++ }
func (o *fakeOptimizer) ClipGradNorm(float64) float64 { return 0.5 }
func (o *fakeOptimizer) Step()                        { o.steps++ }
func (o *fakeOptimizer) LearningRate() float64        { return 0.01 }

type fakeScheduler struct{ steps int }

func (s *fakeScheduler) Step() { s.steps++ }

// fakeTimer expires once Expired has been polled after more than limit steps.
type fakeTimer struct {
	limit, polls, starts int
}

func (t *fakeTimer) Start() { t.starts++ }

func (t *fakeTimer) Expired() bool {
	t.polls++
	return t.limit > 0 && t.polls >= t.limit
}
