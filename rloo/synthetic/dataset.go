package synthetic

import (
	"strconv"

	"github.com/inference-sim/rloo-trainer/rloo"
	"github.com/inference-sim/rloo-trainer/rloo/collective"
)

// Constraint argument keys understood by Critic.
const (
	ArgMaxWords = "max_words"
	ArgKeyword  = "keyword"
)

// Prompt is one dataset sample.
type Prompt struct {
	Tokens []int64 // unpadded
	Args   rloo.ConstraintArgs
}

// Dataset is a fixed list of prompts sharded across the data-parallel
// group. Every global batch is split into contiguous per-rank slices and a
// trailing partial global batch is dropped.
type Dataset struct {
	prompts  []Prompt
	gbs, mbs int
	padTo    int
	topo     collective.Topology
	shuffled bool
	rng      *PartitionedRNG
}

// GeneratePrompts builds n prompts from the dataset subsystem of rng. The
// same key yields the same prompts on every rank.
func GeneratePrompts(rng *PartitionedRNG, n, maxLen int, tok *Tokenizer, constraintFraction float64) []Prompt {
	r := rng.ForSubsystem(SubsystemDataset)
	prompts := make([]Prompt, n)
	for i := range prompts {
		length := 1 + r.Intn(maxLen)
		tokens := make([]int64, length)
		for k := range tokens {
			tokens[k] = 1 + r.Int63n(int64(tok.VocabSize()))
		}
		var args rloo.ConstraintArgs
		if r.Float64() < constraintFraction {
			if r.Intn(2) == 0 {
				args = rloo.ConstraintArgs{ArgMaxWords: strconv.Itoa(2 + r.Intn(10))}
			} else {
				args = rloo.ConstraintArgs{ArgKeyword: tok.Word(1 + r.Int63n(int64(tok.VocabSize())))}
			}
		}
		prompts[i] = Prompt{Tokens: tokens, Args: args}
	}
	return prompts
}

// NewDataset shards prompts for topo. Prompt rows are right padded with EOS
// to padTo.
func NewDataset(prompts []Prompt, gbs, mbs, padTo int, topo collective.Topology, shuffled bool, rng *PartitionedRNG) *Dataset {
	if gbs%topo.WorldSize != 0 || (gbs/topo.WorldSize)%mbs != 0 {
		panic("NewDataset: global batch must split evenly into per-rank micro batches")
	}
	return &Dataset{prompts: prompts, gbs: gbs, mbs: mbs, padTo: padTo, topo: topo, shuffled: shuffled, rng: rng}
}

// NumSamples implements rloo.DataSource.
func (d *Dataset) NumSamples() int { return len(d.prompts) }

// GlobalBatchSize implements rloo.DataSource.
func (d *Dataset) GlobalBatchSize() int { return d.gbs }

// MicroBatchSize implements rloo.DataSource.
func (d *Dataset) MicroBatchSize() int { return d.mbs }

// ShuffledRestart implements rloo.DataSource.
func (d *Dataset) ShuffledRestart() bool { return d.shuffled }

// Iterator implements rloo.DataSource. With shuffled restart every epoch
// visits the prompts in a different order, identical on all ranks.
func (d *Dataset) Iterator(epoch, skipGlobalBatches int) rloo.DataIterator {
	order := make([]int, len(d.prompts))
	for i := range order {
		order[i] = i
	}
	if d.shuffled {
		r := d.rng.Fresh(SubsystemShuffle, int64(epoch))
		r.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	perRank := d.gbs / d.topo.WorldSize
	var batches [][]int
	for b := skipGlobalBatches; (b+1)*d.gbs <= len(order); b++ {
		lo := b*d.gbs + d.topo.Rank*perRank
		local := order[lo : lo+perRank]
		for k := 0; k < perRank; k += d.mbs {
			batches = append(batches, local[k:k+d.mbs])
		}
	}
	return &iterator{d: d, batches: batches}
}

type iterator struct {
	d       *Dataset
	batches [][]int
}

func (it *iterator) Remaining() int { return len(it.batches) }

func (it *iterator) Next() (rloo.Microbatch, bool) {
	if len(it.batches) == 0 {
		return rloo.Microbatch{}, false
	}
	idx := it.batches[0]
	it.batches = it.batches[1:]

	var mb rloo.Microbatch
	for _, i := range idx {
		p := it.d.prompts[i]
		row := make([]int64, max(it.d.padTo, len(p.Tokens)))
		copy(row, p.Tokens)
		for k := len(p.Tokens); k < len(row); k++ {
			row[k] = EOS
		}
		mb.PromptTokens = append(mb.PromptTokens, row)
		mb.PromptLengths = append(mb.PromptLengths, len(p.Tokens))
		mb.Args = append(mb.Args, p.Args)
	}
	return mb, true
}
