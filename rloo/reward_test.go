package rloo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlendTraining_WeightsBothSources(t *testing.T) {
	got, err := BlendTraining([]float64{2}, []float64{1}, []float64{1}, 0.5, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{3}, got)
}

func TestBlendValidation_ConstraintReplacesRewardModel(t *testing.T) {
	got, err := BlendValidation([]float64{2}, []float64{1}, []float64{1}, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, got)
}

func TestBlend_SameInputs_PathsDiverge(t *testing.T) {
	rm := []float64{2, 2}
	constraint := []float64{1, 1}
	mask := []float64{1, 0}

	train, err := BlendTraining(rm, constraint, mask, 0.5, 2)
	require.NoError(t, err)
	val, err := BlendValidation(rm, constraint, mask, 2)
	require.NoError(t, err)

	assert.Equal(t, []float64{3, 1}, train)
	assert.Equal(t, []float64{2, 2}, val, "unconstrained samples keep the raw reward-model score")
}

func TestBlend_LengthMismatch_ReturnsError(t *testing.T) {
	_, err := BlendTraining([]float64{1, 2}, []float64{1}, []float64{1, 1}, 1, 1)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	_, err = BlendValidation([]float64{1}, []float64{1}, nil, 1)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}
