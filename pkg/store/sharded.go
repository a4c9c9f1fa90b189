package store

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/Mindburn-Labs/zkhotdog/pkg/measurement"
)

// DefaultShards is used when NewShardedStore is given a non-positive count.
const DefaultShards = 32

type shard struct {
	mu      sync.Mutex
	records map[string]*measurement.Measurement
}

// ShardedStore partitions records across independently locked shards
// selected by an FNV-1a hash of the id. With one shard every operation
// serializes on a single lock.
type ShardedStore struct {
	shards []*shard
}

func NewShardedStore(n int) *ShardedStore {
	if n <= 0 {
		n = DefaultShards
	}
	s := &ShardedStore{shards: make([]*shard, n)}
	for i := range s.shards {
		s.shards[i] = &shard{records: make(map[string]*measurement.Measurement)}
	}
	return s
}

func (s *ShardedStore) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

func (s *ShardedStore) Create(ctx context.Context, m measurement.Measurement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := s.shardFor(m.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.records[m.ID]; ok {
		return fmt.Errorf("%s: %w", m.ID, ErrAlreadyExists)
	}
	rec := m.Clone()
	sh.records[m.ID] = &rec
	return nil
}

func (s *ShardedStore) Snapshot(ctx context.Context, id string) (measurement.Measurement, error) {
	if err := ctx.Err(); err != nil {
		return measurement.Measurement{}, err
	}
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[id]
	if !ok {
		return measurement.Measurement{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return rec.Clone(), nil
}

// Mutate applies fn to a working copy and commits it only if fn succeeds.
func (s *ShardedStore) Mutate(ctx context.Context, id string, fn func(*measurement.Measurement) error) (measurement.Measurement, error) {
	if err := ctx.Err(); err != nil {
		return measurement.Measurement{}, err
	}
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[id]
	if !ok {
		return measurement.Measurement{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	work := rec.Clone()
	if err := fn(&work); err != nil {
		return rec.Clone(), err
	}
	if err := checkCommit(id, *rec, work); err != nil {
		return rec.Clone(), err
	}
	*rec = work
	return work.Clone(), nil
}

func (s *ShardedStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.records)
		sh.mu.Unlock()
	}
	return n
}
