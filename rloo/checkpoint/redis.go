package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/inference-sim/rloo-trainer/rloo"
)

// RedisStore keeps the latest checkpoint of one rank under
// <prefix>:<run id>:rank:<r>. Final records are also kept in a per-run list
// of finished ranks.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	runID  string
	rank   int
}

// NewRedisStore wraps client. An empty runID is replaced by a fresh one.
func NewRedisStore(client redis.UniversalClient, prefix, runID string, rank int) *RedisStore {
	if client == nil {
		panic("NewRedisStore: client must be non-nil")
	}
	if prefix == "" {
		prefix = "rloo"
	}
	if runID == "" {
		runID = NewRunID()
	}
	return &RedisStore{client: client, prefix: prefix, runID: runID, rank: rank}
}

// RunID returns the run identifier the store writes under.
func (s *RedisStore) RunID() string {
	return s.runID
}

func (s *RedisStore) key() string {
	return fmt.Sprintf("%s:%s:rank:%d", s.prefix, s.runID, s.rank)
}

func (s *RedisStore) finishedKey() string {
	return fmt.Sprintf("%s:%s:finished", s.prefix, s.runID)
}

// Save implements rloo.CheckpointStore.
func (s *RedisStore) Save(ctx context.Context, snap rloo.Snapshot, metrics map[string]float64, final bool) error {
	data, err := encode(newRecord(s.runID, s.rank, snap, metrics, final))
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(), data, 0)
	if final {
		pipe.SAdd(ctx, s.finishedKey(), s.rank)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving checkpoint to redis: %w", err)
	}
	return nil
}

// Load reads the latest record, or returns ErrNoCheckpoint.
func (s *RedisStore) Load(ctx context.Context) (Record, error) {
	data, err := s.client.Get(ctx, s.key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNoCheckpoint
	}
	if err != nil {
		return Record{}, fmt.Errorf("loading checkpoint from redis: %w", err)
	}
	return decode(data)
}

// Finished returns the number of ranks that saved a final record.
func (s *RedisStore) Finished(ctx context.Context) (int64, error) {
	return s.client.SCard(ctx, s.finishedKey()).Result()
}
