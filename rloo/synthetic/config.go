package synthetic

import "fmt"

// Config describes the simulated model, data and critic.
type Config struct {
	VocabSize          int     `yaml:"vocab_size"`
	TrainSamples       int     `yaml:"train_samples"`
	ValSamples         int     `yaml:"val_samples"`
	GlobalBatchSize    int     `yaml:"global_batch_size"`
	MicroBatchSize     int     `yaml:"micro_batch_size"`
	ValGlobalBatchSize int     `yaml:"val_global_batch_size"`
	MaxPromptLen       int     `yaml:"max_prompt_len"`
	MaxResponseLen     int     `yaml:"max_response_len"`
	ShuffledRestart    bool    `yaml:"shuffled_restart"`
	InitialMeanLength  float64 `yaml:"initial_mean_length"` // policy and reference start here
	LengthStddev       float64 `yaml:"length_stddev"`
	TargetLength       float64 `yaml:"target_length"` // the reward model prefers this length
	ConstraintFraction float64 `yaml:"constraint_fraction"`
	LearningRate       float64 `yaml:"learning_rate"`
	WarmupSteps        int     `yaml:"warmup_steps"`
	CriticLatencyMs    int     `yaml:"critic_latency_ms"`
}

// DefaultConfig returns a small configuration that trains in milliseconds.
func DefaultConfig() Config {
	return Config{
		VocabSize:          64,
		TrainSamples:       256,
		ValSamples:         32,
		GlobalBatchSize:    16,
		MicroBatchSize:     2,
		ValGlobalBatchSize: 8,
		MaxPromptLen:       6,
		MaxResponseLen:     24,
		ShuffledRestart:    true,
		InitialMeanLength:  6,
		LengthStddev:       2,
		TargetLength:       12,
		ConstraintFraction: 0.5,
		LearningRate:       0.5,
		WarmupSteps:        2,
	}
}

// Validate checks ranges.
func (c Config) Validate() error {
	if c.VocabSize < 1 {
		return fmt.Errorf("vocab_size must be >= 1, got %d", c.VocabSize)
	}
	if c.MicroBatchSize < 1 || c.GlobalBatchSize < c.MicroBatchSize || c.ValGlobalBatchSize < c.MicroBatchSize {
		return fmt.Errorf("need 1 <= micro_batch_size <= global batch sizes, got micro=%d global=%d val_global=%d",
			c.MicroBatchSize, c.GlobalBatchSize, c.ValGlobalBatchSize)
	}
	if c.TrainSamples < c.GlobalBatchSize {
		return fmt.Errorf("train_samples=%d is smaller than global_batch_size=%d", c.TrainSamples, c.GlobalBatchSize)
	}
	if c.ValSamples < 0 {
		return fmt.Errorf("val_samples must be non-negative, got %d", c.ValSamples)
	}
	if c.MaxPromptLen < 1 || c.MaxResponseLen < 1 {
		return fmt.Errorf("max_prompt_len and max_response_len must be >= 1")
	}
	if c.LengthStddev <= 0 {
		return fmt.Errorf("length_stddev must be positive, got %f", c.LengthStddev)
	}
	if c.ConstraintFraction < 0 || c.ConstraintFraction > 1 {
		return fmt.Errorf("constraint_fraction must be in [0, 1], got %f", c.ConstraintFraction)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive, got %f", c.LearningRate)
	}
	if c.WarmupSteps < 0 || c.CriticLatencyMs < 0 {
		return fmt.Errorf("warmup_steps and critic_latency_ms must be non-negative")
	}
	return nil
}
