package rloo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaxSteps(t *testing.T) {
	assert.Equal(t, 30, MaxSteps(10, 3, -1))
	assert.Equal(t, 25, MaxSteps(10, 3, 25))
	assert.Equal(t, 30, MaxSteps(10, 3, 100))
	assert.Equal(t, 0, MaxSteps(10, 3, 0))
}

func TestStepsPerEpoch_DropsPartialBatch(t *testing.T) {
	assert.Equal(t, 3, StepsPerEpoch(35, 10))
	assert.Equal(t, 0, StepsPerEpoch(5, 10))
	assert.Equal(t, 0, StepsPerEpoch(5, 0))
}

func TestRolloutMicrobatches(t *testing.T) {
	n, err := RolloutMicrobatches(64, 4, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = RolloutMicrobatches(64, 5, 4)
	assert.Error(t, err)
	_, err = RolloutMicrobatches(64, 4, 3)
	assert.Error(t, err)
}

func TestValidationMicrobatches_FractionAndCount(t *testing.T) {
	assert.Equal(t, 10, validationMicrobatches(10, 1.0))
	assert.Equal(t, 5, validationMicrobatches(10, 0.5))
	assert.Equal(t, 1, validationMicrobatches(10, 0.01))
	assert.Equal(t, 3, validationMicrobatches(10, 3))
	assert.Equal(t, 10, validationMicrobatches(10, 50))
	assert.Equal(t, 0, validationMicrobatches(10, 0))
}

func TestCheckProgress(t *testing.T) {
	tests := []struct {
		name         string
		step         int
		timeExceeded bool
		want         Progress
	}{
		{"neither", 1, false, Progress{}},
		{"validation interval", 2, false, Progress{RunValidation: true}},
		{"save interval", 4, false, Progress{RunValidation: true, Save: true}},
		{"train end", 7, false, Progress{RunValidation: true, Save: true, TrainEnd: true}},
		{"timer expired", 3, true, Progress{RunValidation: true, Save: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckProgress(tt.step, 7, 2, 4, 1.0, tt.timeExceeded))
		})
	}
}

func TestCheckProgress_DisabledNeverFires(t *testing.T) {
	assert.Equal(t, Progress{TrainEnd: true}, CheckProgress(5, 5, 0, 0, 1.0, true))
	assert.Equal(t, Progress{Save: true}, CheckProgress(4, 5, 2, 4, 0, false))
}
