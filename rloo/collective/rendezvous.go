package collective

import (
	"context"
	"fmt"
	"sync"
)

// rendezvous matches contributions by sequence number. The last rank to
// arrive computes the result; every rank then receives its own copy.
type rendezvous struct {
	size int

	mu     sync.Mutex
	rounds map[uint64]*round
}

type round struct {
	parts     []contribution
	seen      []bool
	arrived   int
	collected int
	done      chan struct{}
	result    []float64
	err       error
}

func newRendezvous(size int) *rendezvous {
	return &rendezvous{
		size:   size,
		rounds: make(map[uint64]*round),
	}
}

func (r *rendezvous) exchange(ctx context.Context, seq uint64, c contribution) ([]float64, error) {
	if c.Rank < 0 || c.Rank >= r.size {
		return nil, fmt.Errorf("rank %d out of range for world size %d", c.Rank, r.size)
	}

	r.mu.Lock()
	rd, ok := r.rounds[seq]
	if !ok {
		rd = &round{
			parts: make([]contribution, r.size),
			seen:  make([]bool, r.size),
			done:  make(chan struct{}),
		}
		r.rounds[seq] = rd
	}
	if rd.seen[c.Rank] {
		r.mu.Unlock()
		return nil, fmt.Errorf("rank %d contributed twice to collective round %d", c.Rank, seq)
	}
	rd.seen[c.Rank] = true
	rd.parts[c.Rank] = c
	rd.arrived++
	if rd.arrived == r.size {
		rd.result, rd.err = combine(rd.parts)
		close(rd.done)
	}
	r.mu.Unlock()

	select {
	case <-rd.done:
	case <-ctx.Done():
		return nil, fmt.Errorf("collective round %d (%s) on rank %d: %w", seq, c.Op, c.Rank, ctx.Err())
	}

	r.mu.Lock()
	rd.collected++
	if rd.collected == r.size {
		delete(r.rounds, seq)
	}
	r.mu.Unlock()

	if rd.err != nil {
		return nil, rd.err
	}
	return append([]float64(nil), rd.result...), nil
}
