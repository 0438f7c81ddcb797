package collective

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Fabric connects size in-process workers. Each worker obtains its Group
// with Group(rank) and must use it from a single goroutine.
type Fabric struct {
	size int
	rv   *rendezvous
}

// NewFabric creates a Fabric for size workers.
// Panics if size < 1.
func NewFabric(size int) *Fabric {
	if size < 1 {
		panic(fmt.Sprintf("Fabric: size must be >= 1, got %d", size))
	}
	return &Fabric{size: size, rv: newRendezvous(size)}
}

// Size returns the number of workers the Fabric connects.
func (f *Fabric) Size() int {
	return f.size
}

// Group returns the collective endpoint for rank.
// Panics if rank is out of range.
func (f *Fabric) Group(rank int) Group {
	if rank < 0 || rank >= f.size {
		panic(fmt.Sprintf("Fabric: rank %d out of range for size %d", rank, f.size))
	}
	return &fabricGroup{fabric: f, topo: Topology{Rank: rank, WorldSize: f.size}}
}

type fabricGroup struct {
	fabric *Fabric
	topo   Topology
	seq    uint64
}

func (g *fabricGroup) Topology() Topology {
	return g.topo
}

func (g *fabricGroup) AllReduce(ctx context.Context, op ReduceOp, values []float64) ([]float64, error) {
	return g.exchange(ctx, contribution{Op: string(op), Values: values})
}

func (g *fabricGroup) Broadcast(ctx context.Context, root int, values []float64) ([]float64, error) {
	return g.exchange(ctx, contribution{Op: opBroadcast, Root: root, Values: values})
}

func (g *fabricGroup) Barrier(ctx context.Context) error {
	_, err := g.exchange(ctx, contribution{Op: opBarrier})
	return err
}

func (g *fabricGroup) exchange(ctx context.Context, c contribution) ([]float64, error) {
	c.Rank = g.topo.Rank
	c.Values = append([]float64(nil), c.Values...)
	seq := g.seq
	g.seq++
	return g.fabric.rv.exchange(ctx, seq, c)
}

// RunSPMD runs fn once per rank of a fresh Fabric of the given size, each in
// its own goroutine, and returns the first error. The first failure cancels
// the context handed to the other ranks so they leave any pending collective.
func RunSPMD(ctx context.Context, size int, fn func(ctx context.Context, g Group) error) error {
	fabric := NewFabric(size)
	eg, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < size; rank++ {
		g := fabric.Group(rank)
		eg.Go(func() error {
			if err := fn(ctx, g); err != nil {
				return fmt.Errorf("rank %d: %w", g.Topology().Rank, err)
			}
			return nil
		})
	}
	return eg.Wait()
}
