package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/rloo-trainer/rloo"
)

// FileStore keeps the latest checkpoint of one rank in <dir>/rank-<r>.yaml.
// Writes go to a temporary file first and are renamed into place, so a
// reader never sees a partial record.
type FileStore struct {
	dir   string
	runID string
	rank  int
}

// NewFileStore creates dir if needed. An empty runID is replaced by a fresh one.
func NewFileStore(dir, runID string, rank int) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating checkpoint dir: %w", err)
	}
	if runID == "" {
		runID = NewRunID()
	}
	return &FileStore{dir: dir, runID: runID, rank: rank}, nil
}

// Path returns the file this store writes.
func (s *FileStore) Path() string {
	return filepath.Join(s.dir, fmt.Sprintf("rank-%d.yaml", s.rank))
}

// Save implements rloo.CheckpointStore.
func (s *FileStore) Save(_ context.Context, snap rloo.Snapshot, metrics map[string]float64, final bool) error {
	data, err := encode(newRecord(s.runID, s.rank, snap, metrics, final))
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, fmt.Sprintf(".rank-%d-*.yaml", s.rank))
	if err != nil {
		return fmt.Errorf("creating checkpoint temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path()); err != nil {
		return fmt.Errorf("publishing checkpoint: %w", err)
	}
	logrus.Debugf("checkpoint step=%d written to %s", snap.Step, s.Path())
	return nil
}

// Load reads the latest record, or returns ErrNoCheckpoint.
func (s *FileStore) Load(_ context.Context) (Record, error) {
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, ErrNoCheckpoint
	}
	if err != nil {
		return Record{}, fmt.Errorf("reading checkpoint: %w", err)
	}
	return decode(data)
}
