package synthetic

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// RunKey identifies a reproducible run. Two runs with the same key and
// configuration sample the same prompts and responses.
type RunKey int64

// RNG subsystems.
const (
	SubsystemDataset = "dataset"
	SubsystemShuffle = "shuffle"
)

// SubsystemSampling returns the response-sampling subsystem of one rank.
func SubsystemSampling(rank int) string {
	return fmt.Sprintf("sampling_%d", rank)
}

// PartitionedRNG hands out isolated, deterministically seeded generators per
// subsystem: masterSeed XOR fnv1a64(name), except SubsystemDataset which
// uses the master seed directly so every rank builds the same dataset.
//
// Not safe for concurrent use.
type PartitionedRNG struct {
	key        RunKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a RunKey.
func NewPartitionedRNG(key RunKey) *PartitionedRNG {
	return &PartitionedRNG{key: key, subsystems: make(map[string]*rand.Rand)}
}

// ForSubsystem returns the cached generator of the named subsystem.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(p.seed(name)))
	p.subsystems[name] = rng
	return rng
}

// Fresh returns a new generator for name and salt that is not cached. Used
// where the same stream must be replayed, e.g. one shuffle per epoch.
func (p *PartitionedRNG) Fresh(name string, salt int64) *rand.Rand {
	return rand.New(rand.NewSource(p.seed(name) ^ salt))
}

// Key returns the RunKey the generators derive from.
func (p *PartitionedRNG) Key() RunKey {
	return p.key
}

func (p *PartitionedRNG) seed(name string) int64 {
	if name == SubsystemDataset {
		return int64(p.key)
	}
	return int64(p.key) ^ fnv1a64(name)
}

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
