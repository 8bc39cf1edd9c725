package memory

import (
	"context"
	"sort"
	"sync"

	"solana-candle-engine/internal/domain"
	"solana-candle-engine/internal/storage"
)

// CheckpointStore is an in-memory implementation of storage.CheckpointStore.
type CheckpointStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Checkpoint // keyed by (pool|timeframe)
}

// NewCheckpointStore creates a new in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{
		data: make(map[string]*domain.Checkpoint),
	}
}

// Get retrieves the checkpoint for a pair.
func (s *CheckpointStore) Get(_ context.Context, pool string, tf domain.Timeframe) (*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.data[pairKey(pool, tf)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cpCopy := *cp
	return &cpCopy, nil
}

// Upsert creates or replaces the checkpoint for a pair.
func (s *CheckpointStore) Upsert(_ context.Context, cp *domain.Checkpoint) error {
	if cp == nil || cp.PoolAddress == "" || !cp.Timeframe.Valid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cpCopy := *cp
	s.data[pairKey(cp.PoolAddress, cp.Timeframe)] = &cpCopy
	return nil
}

// ListByPool retrieves all checkpoints for a pool, finest timeframe first.
func (s *CheckpointStore) ListByPool(_ context.Context, pool string) ([]*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Checkpoint
	for _, cp := range s.data {
		if cp.PoolAddress == pool {
			cpCopy := *cp
			result = append(result, &cpCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timeframe.Duration() < result[j].Timeframe.Duration()
	})

	return result, nil
}

var _ storage.CheckpointStore = (*CheckpointStore)(nil)
