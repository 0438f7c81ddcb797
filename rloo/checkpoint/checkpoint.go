// Package checkpoint persists rloo training state.
//
// Each worker writes its own record. A record holds the TrainingState
// snapshot plus the scalar metrics of the step that produced it; the model
// weights are the policy's concern and are not stored here.
package checkpoint

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/rloo-trainer/rloo"
)

// Backend names accepted by configuration.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// ValidBackends is the set of recognized checkpoint backends.
var ValidBackends = map[string]bool{BackendFile: true, BackendRedis: true}

// ErrNoCheckpoint is returned by Load when nothing was saved yet.
var ErrNoCheckpoint = errors.New("no checkpoint found")

// Record is one saved checkpoint.
type Record struct {
	RunID   string             `yaml:"run_id"`
	Rank    int                `yaml:"rank"`
	State   rloo.Snapshot      `yaml:"state"`
	Metrics map[string]float64 `yaml:"metrics,omitempty"`
	Final   bool               `yaml:"final"`
	SavedAt time.Time          `yaml:"saved_at"`
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

func newRecord(runID string, rank int, snap rloo.Snapshot, metrics map[string]float64, final bool) Record {
	return Record{
		RunID:   runID,
		Rank:    rank,
		State:   snap,
		Metrics: metrics,
		Final:   final,
		SavedAt: time.Now().UTC(),
	}
}

func encode(r Record) ([]byte, error) {
	data, err := yaml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding checkpoint: %w", err)
	}
	return data, nil
}

func decode(data []byte) (Record, error) {
	var r Record
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("decoding checkpoint: %w", err)
	}
	return r, nil
}
