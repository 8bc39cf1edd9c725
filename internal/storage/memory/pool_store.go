package memory

import (
	"context"
	"sort"
	"sync"

	"solana-candle-engine/internal/domain"
	"solana-candle-engine/internal/storage"
)

// PoolStore is an in-memory implementation of storage.PoolStore.
type PoolStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Pool // keyed by pool address
}

// NewPoolStore creates a new in-memory pool store.
func NewPoolStore() *PoolStore {
	return &PoolStore{
		data: make(map[string]*domain.Pool),
	}
}

// UpsertPool adds or refreshes a tracked pool, preserving the tier of an
// existing entry.
func (s *PoolStore) UpsertPool(_ context.Context, p *domain.Pool) error {
	if p == nil || p.Address == "" || p.AssetAddress == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	poolCopy := *p
	if existing, ok := s.data[p.Address]; ok {
		poolCopy.Tier = existing.Tier
		poolCopy.CreatedAt = existing.CreatedAt
	}
	s.data[p.Address] = &poolCopy
	return nil
}

// GetPool retrieves a pool by address.
func (s *PoolStore) GetPool(_ context.Context, address string) (*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	poolCopy := *p
	return &poolCopy, nil
}

// ListPools retrieves all tracked pools, ordered by address for stable output.
func (s *PoolStore) ListPools(_ context.Context) ([]*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Pool
	for _, p := range s.data {
		poolCopy := *p
		result = append(result, &poolCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Address < result[j].Address
	})

	return result, nil
}

// ListByAsset retrieves all pools of one asset.
func (s *PoolStore) ListByAsset(_ context.Context, asset string) ([]*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Pool
	for _, p := range s.data {
		if p.AssetAddress == asset {
			poolCopy := *p
			result = append(result, &poolCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Address < result[j].Address
	})

	return result, nil
}

// DeletePool removes a pool from tracking.
func (s *PoolStore) DeletePool(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[address]; !ok {
		return storage.ErrNotFound
	}
	delete(s.data, address)
	return nil
}

// SetTier updates the activity tier of a pool.
func (s *PoolStore) SetTier(_ context.Context, address string, tier domain.ActivityTier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.data[address]
	if !ok {
		return storage.ErrNotFound
	}
	p.Tier = tier
	return nil
}

var _ storage.PoolStore = (*PoolStore)(nil)
