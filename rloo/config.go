package rloo

import "fmt"

// Baseline kinds.
const (
	BaselineRLOO = "rloo"
	BaselineNone = "none"
)

// KL estimators. Both are single-sample estimators of KL(policy || reference)
// evaluated on tokens sampled from the current policy.
const (
	// KLEstimatorK1 is log pi - log ref.
	KLEstimatorK1 = "k1"
	// KLEstimatorK3 is exp(log ref - log pi) - 1 - (log ref - log pi); non-negative.
	KLEstimatorK3 = "k3"
)

// Singleton group policies for the RLOO baseline.
const (
	SingletonZero   = "zero"
	SingletonReject = "reject"
)

// ValidBaselines is the set of recognized baseline kinds.
var ValidBaselines = map[string]bool{BaselineRLOO: true, BaselineNone: true}

// ValidKLEstimators is the set of recognized KL estimators.
var ValidKLEstimators = map[string]bool{KLEstimatorK1: true, KLEstimatorK3: true}

// ValidSingletonPolicies is the set of recognized singleton group policies.
var ValidSingletonPolicies = map[string]bool{SingletonZero: true, SingletonReject: true}

// GeneratorConfig groups the rollout generation parameters.
type GeneratorConfig struct {
	DuplicatePrompts       int     `yaml:"duplicate_prompts"`         // copies of every prompt per generation round
	GenerationIter         int     `yaml:"generation_iter"`           // independent generation rounds per microbatch
	RMMultiplier           float64 `yaml:"rm_multiplier"`             // reward-model weight on the training path
	ConstraintMultiplier   float64 `yaml:"constraint_multiplier"`     // constraint-reward weight on both paths
	InitialPolicyKLPenalty float64 `yaml:"initial_policy_kl_penalty"` // KL coefficient; 0 disables the penalty
	UseAbsoluteKL          bool    `yaml:"use_absolute_kl"`           // |current - reference| instead of the estimator
	KLEstimator            string  `yaml:"kl_estimator"`              // "k1" (default) or "k3"
	Baseline               string  `yaml:"baseline"`                  // "rloo" (default) or "none"
	SingletonGroups        string  `yaml:"singleton_groups"`          // "zero" (default) or "reject"
}

// SamplesPerPrompt is the RLOO group size produced for every distinct prompt.
func (c GeneratorConfig) SamplesPerPrompt() int {
	return c.DuplicatePrompts * c.GenerationIter
}

// KLEnabled reports whether the KL penalty is computed.
func (c GeneratorConfig) KLEnabled() bool {
	return c.InitialPolicyKLPenalty > 0
}

// Config holds every knob of the training loop.
type Config struct {
	Generator GeneratorConfig `yaml:"generator"`

	MaxEpochs             int     `yaml:"max_epochs"`
	MaxSteps              int     `yaml:"max_steps"`          // -1 disables the override
	ValCheckInterval      int     `yaml:"val_check_interval"` // 0 disables validation
	SaveInterval          int     `yaml:"save_interval"`      // 0 disables checkpointing
	LimitValBatches       float64 `yaml:"limit_val_batches"`  // 0 disables validation
	GradientClipVal       float64 `yaml:"gradient_clip_val"`  // 0 disables clipping
	ModelGBS              int     `yaml:"model_gbs"`          // global training batch size per optimizer step
	RolloutBatchSeqLength int     `yaml:"rollout_batch_seq_length"`
	ExampleTableSize      int     `yaml:"example_table_size"`
}

// DefaultConfig returns the configuration used when a field is left unset.
func DefaultConfig() Config {
	return Config{
		Generator: GeneratorConfig{
			DuplicatePrompts:     4,
			GenerationIter:       1,
			RMMultiplier:         1.0,
			ConstraintMultiplier: 1.0,
			KLEstimator:          KLEstimatorK1,
			Baseline:             BaselineRLOO,
			SingletonGroups:      SingletonZero,
		},
		MaxEpochs:        1,
		MaxSteps:         -1,
		LimitValBatches:  1.0,
		GradientClipVal:  1.0,
		ExampleTableSize: 64,
	}
}

// Validate checks value ranges and cross-field constraints.
func (c Config) Validate() error {
	g := c.Generator
	if g.DuplicatePrompts < 1 {
		return fmt.Errorf("duplicate_prompts must be >= 1, got %d", g.DuplicatePrompts)
	}
	if g.GenerationIter < 1 {
		return fmt.Errorf("generation_iter must be >= 1, got %d", g.GenerationIter)
	}
	if !ValidBaselines[g.Baseline] {
		return fmt.Errorf("unknown baseline %q", g.Baseline)
	}
	if !ValidKLEstimators[g.KLEstimator] {
		return fmt.Errorf("unknown kl_estimator %q", g.KLEstimator)
	}
	if !ValidSingletonPolicies[g.SingletonGroups] {
		return fmt.Errorf("unknown singleton_groups policy %q", g.SingletonGroups)
	}
	if g.InitialPolicyKLPenalty < 0 {
		return fmt.Errorf("initial_policy_kl_penalty must be non-negative, got %f", g.InitialPolicyKLPenalty)
	}
	if g.Baseline == BaselineRLOO && g.SamplesPerPrompt() < 2 {
		return fmt.Errorf("rloo baseline needs at least 2 samples per prompt, got duplicate_prompts*generation_iter=%d",
			g.SamplesPerPrompt())
	}
	if c.MaxEpochs < 1 {
		return fmt.Errorf("max_epochs must be >= 1, got %d", c.MaxEpochs)
	}
	if c.ModelGBS < 1 {
		return fmt.Errorf("model_gbs must be >= 1, got %d", c.ModelGBS)
	}
	if c.ValCheckInterval < 0 || c.SaveInterval < 0 {
		return fmt.Errorf("val_check_interval and save_interval must be non-negative")
	}
	if c.validationEnabled() && c.SaveInterval > 0 && c.SaveInterval%c.ValCheckInterval != 0 {
		return fmt.Errorf("save_interval=%d must be divisible by val_check_interval=%d", c.SaveInterval, c.ValCheckInterval)
	}
	if c.RolloutBatchSeqLength < 0 {
		return fmt.Errorf("rollout_batch_seq_length must be non-negative, got %d", c.RolloutBatchSeqLength)
	}
	if c.ExampleTableSize < 1 {
		return fmt.Errorf("example_table_size must be >= 1, got %d", c.ExampleTableSize)
	}
	return nil
}

func (c Config) validationEnabled() bool {
	return c.LimitValBatches != 0 && c.ValCheckInterval > 0
}

// CheckShuffle rejects multi-epoch runs over a data source that replays
// samples in the same order every epoch.
func CheckShuffle(maxEpochs int, shuffledRestart bool) error {
	if maxEpochs > 1 && !shuffledRestart {
		return fmt.Errorf("max_epochs=%d: %w", maxEpochs, ErrShuffleRequired)
	}
	return nil
}
