// Package collective provides the synchronization primitives shared by the
// data-parallel workers of one training run.
//
// Every operation on a Group is a barrier: all ranks must issue the same
// operations in the same order and the same number of times, or the run
// deadlocks. Two implementations exist:
//   - Fabric: in-process, one goroutine per rank (simulated fleets and tests)
//   - Client/Coordinator: HTTP rendezvous hosted by rank 0 (multi-process runs)
package collective

import (
	"context"
	"fmt"
	"math"
)

// Topology identifies one worker inside the data-parallel group.
// It is passed explicitly to every component that needs rank or world size.
type Topology struct {
	Rank      int
	WorldSize int
}

// IsRoot reports whether this worker is rank 0.
func (t Topology) IsRoot() bool {
	return t.Rank == 0
}

// Validate checks that the rank lies inside the world.
func (t Topology) Validate() error {
	if t.WorldSize < 1 {
		return fmt.Errorf("world size must be >= 1, got %d", t.WorldSize)
	}
	if t.Rank < 0 || t.Rank >= t.WorldSize {
		return fmt.Errorf("rank %d out of range for world size %d", t.Rank, t.WorldSize)
	}
	return nil
}

// ReduceOp selects how AllReduce combines the contributions of every rank.
type ReduceOp string

const (
	OpSum ReduceOp = "sum"
	OpMax ReduceOp = "max"

	opBroadcast = "broadcast"
	opBarrier   = "barrier"
)

// Group is the set of collective operations a worker may issue.
type Group interface {
	// Topology returns this worker's rank and the group's world size.
	Topology() Topology

	// AllReduce combines values element-wise across all ranks and returns
	// the combined vector to every rank.
	AllReduce(ctx context.Context, op ReduceOp, values []float64) ([]float64, error)

	// Broadcast returns root's values to every rank. Non-root ranks must
	// pass a vector of the same length; its contents are ignored.
	Broadcast(ctx context.Context, root int, values []float64) ([]float64, error)

	// Barrier blocks until every rank has reached it.
	Barrier(ctx context.Context) error
}

// contribution is one rank's input to one collective round.
type contribution struct {
	Rank   int       `json:"rank"`
	Op     string    `json:"op"`
	Root   int       `json:"root"`
	Values []float64 `json:"values"`
}

// combine computes the result of a round once every rank has contributed.
// Rounds whose contributions disagree on op, root, or length are rejected so
// that a control-flow divergence surfaces as an error on every rank.
func combine(parts []contribution) ([]float64, error) {
	first := parts[0]
	for _, p := range parts[1:] {
		if p.Op != first.Op || p.Root != first.Root {
			return nil, fmt.Errorf("collective mismatch: rank %d issued %s(root=%d), rank %d issued %s(root=%d)",
				first.Rank, first.Op, first.Root, p.Rank, p.Op, p.Root)
		}
		if len(p.Values) != len(first.Values) {
			return nil, fmt.Errorf("collective %s: rank %d sent %d values, rank %d sent %d",
				first.Op, first.Rank, len(first.Values), p.Rank, len(p.Values))
		}
	}

	switch first.Op {
	case string(OpSum):
		out := make([]float64, len(first.Values))
		for _, p := range parts {
			for i, v := range p.Values {
				out[i] += v
			}
		}
		return out, nil
	case string(OpMax):
		out := make([]float64, len(first.Values))
		for i := range out {
			out[i] = math.Inf(-1)
		}
		for _, p := range parts {
			for i, v := range p.Values {
				out[i] = math.Max(out[i], v)
			}
		}
		return out, nil
	case opBroadcast:
		if first.Root < 0 || first.Root >= len(parts) {
			return nil, fmt.Errorf("broadcast root %d out of range for world size %d", first.Root, len(parts))
		}
		return append([]float64(nil), parts[first.Root].Values...), nil
	case opBarrier:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown collective op %q", first.Op)
	}
}
