package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"solana-candle-engine/internal/domain"
	"solana-candle-engine/internal/storage"
)

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu   sync.RWMutex
	data map[string]map[int64]*domain.Candle // keyed by (pool|timeframe) then bucket
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		data: make(map[string]map[int64]*domain.Candle),
	}
}

func pairKey(pool string, tf domain.Timeframe) string {
	return fmt.Sprintf("%s|%s", pool, tf)
}

// Upsert merges candles into the store, one row per bucket.
func (s *CandleStore) Upsert(_ context.Context, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	// Validate the whole batch before touching the map
	for _, c := range candles {
		if c == nil {
			return storage.ErrInvalidInput
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range candles {
		key := pairKey(c.PoolAddress, c.Timeframe)
		buckets, ok := s.data[key]
		if !ok {
			buckets = make(map[int64]*domain.Candle)
			s.data[key] = buckets
		}
		candleCopy := *c
		buckets[c.BucketMs] = &candleCopy
	}

	return nil
}

// GetRange retrieves candles within [fromMs, toMs] (inclusive), bucket ASC.
func (s *CandleStore) GetRange(_ context.Context, pool string, tf domain.Timeframe, fromMs, toMs int64) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Candle
	for bucket, c := range s.data[pairKey(pool, tf)] {
		if bucket >= fromMs && bucket <= toMs {
			candleCopy := *c
			result = append(result, &candleCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].BucketMs < result[j].BucketMs
	})

	return result, nil
}

// GetAll retrieves all candles for a pair, bucket ASC.
func (s *CandleStore) GetAll(_ context.Context, pool string, tf domain.Timeframe) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Candle
	for _, c := range s.data[pairKey(pool, tf)] {
		candleCopy := *c
		result = append(result, &candleCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].BucketMs < result[j].BucketMs
	})

	return result, nil
}

// Count returns the number of distinct buckets stored for a pair.
func (s *CandleStore) Count(_ context.Context, pool string, tf domain.Timeframe) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.data[pairKey(pool, tf)]), nil
}

var _ storage.CandleStore = (*CandleStore)(nil)
