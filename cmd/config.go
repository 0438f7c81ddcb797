package cmd

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/rloo-trainer/rloo"
	"github.com/inference-sim/rloo-trainer/rloo/checkpoint"
	"github.com/inference-sim/rloo-trainer/rloo/synthetic"
)

// CheckpointConfig selects where workers persist their training state.
type CheckpointConfig struct {
	Backend   string `yaml:"backend"` // "", "file" or "redis"; empty disables checkpoints
	Dir       string `yaml:"dir"`
	RedisAddr string `yaml:"redis_addr"`
	Prefix    string `yaml:"prefix"`
	RunID     string `yaml:"run_id"` // reuse to resume a run
	Resume    bool   `yaml:"resume"`
}

// RunConfig is the run.yaml structure.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type RunConfig struct {
	Seed         int64            `yaml:"seed"`
	RunTimeLimit time.Duration    `yaml:"run_time_limit"` // 0 means unlimited
	Trainer      rloo.Config      `yaml:"trainer"`
	Synthetic    synthetic.Config `yaml:"synthetic"`
	Checkpoint   CheckpointConfig `yaml:"checkpoint"`
}

// DefaultRunConfig returns the configuration of a short simulated run.
func DefaultRunConfig() RunConfig {
	cfg := RunConfig{
		Seed:      42,
		Trainer:   rloo.DefaultConfig(),
		Synthetic: synthetic.DefaultConfig(),
		Checkpoint: CheckpointConfig{
			Dir:    "checkpoints",
			Prefix: "rloo",
		},
	}
	cfg.Trainer.ModelGBS = cfg.Synthetic.GlobalBatchSize * cfg.Trainer.Generator.SamplesPerPrompt() / 2
	cfg.Trainer.ValCheckInterval = 4
	return cfg
}

// LoadRunConfig reads path on top of DefaultRunConfig. Unknown keys are
// errors. An empty path returns the defaults.
func LoadRunConfig(path string) (RunConfig, error) {
	cfg := DefaultRunConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return RunConfig{}, fmt.Errorf("reading run config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return RunConfig{}, fmt.Errorf("parsing run config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every section.
func (c RunConfig) Validate() error {
	if err := c.Trainer.Validate(); err != nil {
		return fmt.Errorf("trainer: %w", err)
	}
	if err := c.Synthetic.Validate(); err != nil {
		return fmt.Errorf("synthetic: %w", err)
	}
	if c.RunTimeLimit < 0 {
		return fmt.Errorf("run_time_limit must be non-negative, got %s", c.RunTimeLimit)
	}
	ck := c.Checkpoint
	if ck.Backend == "" {
		if c.Trainer.SaveInterval > 0 {
			return fmt.Errorf("save_interval=%d needs a checkpoint backend", c.Trainer.SaveInterval)
		}
		return nil
	}
	if !checkpoint.ValidBackends[ck.Backend] {
		return fmt.Errorf("unknown checkpoint backend %q", ck.Backend)
	}
	if ck.Backend == checkpoint.BackendFile && ck.Dir == "" {
		return fmt.Errorf("file checkpoints need a dir")
	}
	if ck.Backend == checkpoint.BackendRedis && ck.RedisAddr == "" {
		return fmt.Errorf("redis checkpoints need a redis_addr")
	}
	return nil
}
