package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/rloo-trainer/rloo"
)

func TestFileStore_SaveLoad_RoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "run-a", 1)
	require.NoError(t, err)

	snap := rloo.Snapshot{Step: 4, ConsumedSamples: 256, OptimizationStep: 8}
	require.NoError(t, store.Save(context.Background(), snap, map[string]float64{"train_global_rewards": 0.5}, true))

	rec, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap, rec.State)
	assert.Equal(t, "run-a", rec.RunID)
	assert.Equal(t, 1, rec.Rank)
	assert.True(t, rec.Final)
	assert.Equal(t, 0.5, rec.Metrics["train_global_rewards"])
}

func TestFileStore_SecondSave_ReplacesFirst(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "", 0)
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), rloo.Snapshot{Step: 1}, nil, false))
	require.NoError(t, store.Save(context.Background(), rloo.Snapshot{Step: 2}, nil, false))

	rec, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rec.State.Step)
	assert.NotEmpty(t, rec.RunID)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are cleaned up")
	assert.Equal(t, filepath.Join(dir, "rank-0.yaml"), store.Path())
}

func TestFileStore_Load_NothingSaved(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "run", 0)
	require.NoError(t, err)
	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoCheckpoint)
}

func TestFileStore_Load_StateKeysAreStable(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "run", 0)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), rloo.Snapshot{Step: 3, ConsumedSamples: 9, OptimizationStep: 6}, nil, false))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "step: 3")
	assert.Contains(t, string(data), "consumed_samples: 9")
	assert.Contains(t, string(data), "optimization_step: 6")
	assert.NotContains(t, string(data), "epoch")
}
