package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/rloo-trainer/rloo/collective"
)

// WorkerEnv is the process topology of a multi-process run.
type WorkerEnv struct {
	Rank            int           `env:"RLOO_RANK" envDefault:"0"`
	WorldSize       int           `env:"RLOO_WORLD_SIZE" envDefault:"1"`
	CoordinatorAddr string        `env:"RLOO_COORDINATOR_ADDR" envDefault:"http://127.0.0.1:29500"`
	ListenAddr      string        `env:"RLOO_LISTEN_ADDR" envDefault:":29500"` // rank 0 only
	RunID           string        `env:"RLOO_RUN_ID"`
	StartupTimeout  time.Duration `env:"RLOO_STARTUP_TIMEOUT" envDefault:"2m"`
}

// LoadWorkerEnv parses the RLOO_* variables.
func LoadWorkerEnv() (WorkerEnv, error) {
	var e WorkerEnv
	if err := env.Parse(&e); err != nil {
		return WorkerEnv{}, fmt.Errorf("parsing worker environment: %w", err)
	}
	if err := e.Topology().Validate(); err != nil {
		return WorkerEnv{}, err
	}
	return e, nil
}

// Topology returns the rank and world size of this process.
func (e WorkerEnv) Topology() collective.Topology {
	return collective.Topology{Rank: e.Rank, WorldSize: e.WorldSize}
}

// waitForCoordinator polls the coordinator health endpoint until it answers
// or timeout elapses.
func waitForCoordinator(ctx context.Context, baseURL string, timeout time.Duration) error {
	client := &http.Client{Timeout: 5 * time.Second}
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = timeout

	probe := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/healthz", nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("coordinator health: %s", resp.Status)
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logrus.Debugf("coordinator at %s not ready (%v), retrying in %s", baseURL, err, wait)
	}
	if err := backoff.RetryNotify(probe, backoff.WithContext(policy, ctx), notify); err != nil {
		return fmt.Errorf("waiting for coordinator at %s: %w", baseURL, err)
	}
	return nil
}
