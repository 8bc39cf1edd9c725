package memory

import (
	"context"
	"errors"
	"testing"

	"solana-candle-engine/internal/domain"
	"solana-candle-engine/internal/storage"
)

func TestCheckpointStore_GetNotFound(t *testing.T) {
	s := NewCheckpointStore()
	_, err := s.Get(context.Background(), "p1", domain.Timeframe1m)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCheckpointStore_UpsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewCheckpointStore()

	cp := &domain.Checkpoint{
		PoolAddress: "p1",
		Timeframe:   domain.Timeframe1m,
		OldestMs:    1000,
		NewestMs:    5000,
	}
	if err := s.Upsert(ctx, cp); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Mutating the caller's struct must not leak into the store
	cp.NewestMs = 9999

	got, err := s.Get(ctx, "p1", domain.Timeframe1m)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.NewestMs != 5000 {
		t.Errorf("stored checkpoint aliased caller memory: newest = %d", got.NewestMs)
	}

	// Replace
	cp.NewestMs = 7000
	if err := s.Upsert(ctx, cp); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, _ = s.Get(ctx, "p1", domain.Timeframe1m)
	if got.NewestMs != 7000 {
		t.Errorf("upsert did not replace: newest = %d", got.NewestMs)
	}
}

func TestCheckpointStore_UpsertInvalid(t *testing.T) {
	s := NewCheckpointStore()
	err := s.Upsert(context.Background(), &domain.Checkpoint{PoolAddress: "", Timeframe: domain.Timeframe1m})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty pool, got %v", err)
	}
	err = s.Upsert(context.Background(), &domain.Checkpoint{PoolAddress: "p1", Timeframe: "3m"})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for bad timeframe, got %v", err)
	}
}

func TestCheckpointStore_ListByPoolFinestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewCheckpointStore()

	for _, tf := range []domain.Timeframe{domain.Timeframe1h, domain.Timeframe1s, domain.Timeframe5m} {
		if err := s.Upsert(ctx, &domain.Checkpoint{PoolAddress: "p1", Timeframe: tf}); err != nil {
			t.Fatalf("upsert %s: %v", tf, err)
		}
	}
	if err := s.Upsert(ctx, &domain.Checkpoint{PoolAddress: "p2", Timeframe: domain.Timeframe1m}); err != nil {
		t.Fatalf("upsert p2: %v", err)
	}

	got, err := s.ListByPool(ctx, "p1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 checkpoints, got %d", len(got))
	}
	want := []domain.Timeframe{domain.Timeframe1s, domain.Timeframe5m, domain.Timeframe1h}
	for i, tf := range want {
		if got[i].Timeframe != tf {
			t.Errorf("position %d: got %s, want %s", i, got[i].Timeframe, tf)
		}
	}
}
