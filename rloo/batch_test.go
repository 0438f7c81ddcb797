package rloo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMicrobatch_Duplicate_StacksCopies(t *testing.T) {
	mb := twoPromptMicrobatch()
	dup := mb.Duplicate(3)

	require.Equal(t, 6, dup.Size())
	assert.Equal(t, [][]int64{{1, 1}, {2, 2}, {1, 1}, {2, 2}, {1, 1}, {2, 2}}, dup.PromptTokens)
	assert.Equal(t, ConstraintArgs{"keyword": "go"}, dup.Args[4])
	assert.Nil(t, dup.Args[5])

	dup.PromptTokens[0][0] = 42
	assert.Equal(t, int64(1), mb.PromptTokens[0][0], "duplicate must not alias the source")
}

func TestRolloutBatch_Validate_LeadingDimensionMismatch(t *testing.T) {
	b := assembledBatch(4)
	require.NoError(t, b.Validate())

	b.Baseline = []float64{1, 2}
	assert.ErrorIs(t, b.Validate(), ErrShapeMismatch)
}

func TestRolloutBatch_Validate_OptionalFieldsMayBeNil(t *testing.T) {
	b := assembledBatch(4)
	b.PromptTokens, b.InitLogProbs, b.Mask, b.Baseline, b.InitPolicyKL = nil, nil, nil, nil, nil
	assert.NoError(t, b.Validate())
}

func TestTrainingBuffer_Split_ContiguousParts(t *testing.T) {
	buf := TrainingBuffer{
		ResponseTokens:  [][]int64{{1}, {2}, {3}, {4}},
		PromptLengths:   []int{1, 1, 1, 1},
		ResponseLengths: []int{1, 1, 1, 1},
		LogProbs:        [][]float64{{}, {}, {}, {}},
		Mask:            [][]float64{{}, {}, {}, {}},
		Rewards:         []float64{1, 2, 3, 4},
		Baseline:        []float64{0, 0, 0, 0},
	}
	parts, err := buf.Split(2)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, []float64{1, 2}, parts[0].Rewards)
	assert.Equal(t, [][]int64{{3}, {4}}, parts[1].ResponseTokens)

	_, err = buf.Split(3)
	assert.Error(t, err)
}
