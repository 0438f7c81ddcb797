package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/inference-sim/rloo-trainer/rloo"
	"github.com/inference-sim/rloo-trainer/rloo/checkpoint"
	"github.com/inference-sim/rloo-trainer/rloo/collective"
	"github.com/inference-sim/rloo-trainer/rloo/monitor"
	"github.com/inference-sim/rloo-trainer/rloo/synthetic"
)

const tracerName = "github.com/inference-sim/rloo-trainer"

// checkpointStore is a rloo.CheckpointStore that can also read back its
// latest record.
type checkpointStore interface {
	rloo.CheckpointStore
	Load(ctx context.Context) (checkpoint.Record, error)
}

// WorkerResult is what one rank reports after Fit returns.
type WorkerResult struct {
	Rank       int
	State      rloo.TrainingState
	MeanLength float64
}

// openStore builds the configured checkpoint store for rank. It returns a
// nil store when checkpoints are disabled.
func openStore(cfg CheckpointConfig, runID string, rank int) (checkpointStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case "":
		return nil, noop, nil
	case checkpoint.BackendFile:
		s, err := checkpoint.NewFileStore(cfg.Dir, runID, rank)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	case checkpoint.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return checkpoint.NewRedisStore(client, cfg.Prefix, runID, rank), client.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

// runWorker trains one rank over g until Fit returns.
func runWorker(ctx context.Context, cfg RunConfig, g collective.Group, runID string, registry *prometheus.Registry) (WorkerResult, error) {
	topo := g.Topology()
	log := logrus.WithField("rank", topo.Rank)

	w, err := synthetic.NewWorker(cfg.Synthetic, synthetic.RunKey(cfg.Seed), g)
	if err != nil {
		return WorkerResult{}, err
	}
	store, closeStore, err := openStore(cfg.Checkpoint, runID, topo.Rank)
	if err != nil {
		return WorkerResult{}, err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warnf("closing checkpoint store: %v", err)
		}
	}()

	c := w.Collaborators()
	c.Logger = monitor.WithProcessStats(monitor.Multi{
		monitor.NewLogrusLogger(log),
		monitor.NewPrometheusLogger(registry, topo.Rank),
	})
	c.RunTimer = rloo.NewWallClockTimer(cfg.RunTimeLimit)
	c.Tracer = otel.Tracer(tracerName)
	if store != nil {
		c.Checkpoints = store
	}

	trainer, err := rloo.NewTrainer(cfg.Trainer, g, c)
	if err != nil {
		return WorkerResult{}, err
	}
	if store != nil && cfg.Checkpoint.Resume {
		if err := resume(ctx, g, trainer, store, log); err != nil {
			return WorkerResult{}, err
		}
	}
	if err := trainer.Fit(ctx); err != nil {
		return WorkerResult{}, err
	}
	return WorkerResult{Rank: topo.Rank, State: trainer.State(), MeanLength: w.Policy.Mean()}, nil
}

// resume restores the latest checkpoint. Every rank takes part in the same
// collectives: if any rank found a record, all ranks restore, and a rank
// without one fails the agreement check.
func resume(ctx context.Context, g collective.Group, trainer *rloo.Trainer, store checkpointStore, log *logrus.Entry) error {
	rec, err := store.Load(ctx)
	found := 1.0
	if errors.Is(err, checkpoint.ErrNoCheckpoint) {
		found = 0
	} else if err != nil {
		return fmt.Errorf("loading checkpoint: %w", err)
	}
	agreed, err := g.AllReduce(ctx, collective.OpMax, []float64{found})
	if err != nil {
		return fmt.Errorf("agreeing on resume: %w", err)
	}
	if agreed[0] == 0 {
		log.Info("no checkpoint found, starting fresh")
		return nil
	}
	if rec.Final {
		log.Infof("latest checkpoint at step %d is final", rec.State.Step)
	}
	return trainer.Restore(ctx, rec.State)
}

// runFleet runs workers ranks in-process over a shared Fabric.
func runFleet(ctx context.Context, cfg RunConfig, workers int, registry *prometheus.Registry) ([]WorkerResult, error) {
	if workers < 1 {
		return nil, fmt.Errorf("workers must be >= 1, got %d", workers)
	}
	runID := cfg.Checkpoint.RunID
	if runID == "" {
		runID = checkpoint.NewRunID()
	}
	results := make([]WorkerResult, workers)
	err := collective.RunSPMD(ctx, workers, func(ctx context.Context, g collective.Group) error {
		res, err := runWorker(ctx, cfg, g, runID, registry)
		if err != nil {
			return err
		}
		results[res.Rank] = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
