package memory

import (
	"context"
	"errors"
	"testing"

	"solana-candle-engine/internal/domain"
	"solana-candle-engine/internal/storage"
)

func TestPoolStore_UpsertPreservesTier(t *testing.T) {
	ctx := context.Background()
	s := NewPoolStore()

	p := &domain.Pool{Address: "p1", AssetAddress: "a1", Dex: "raydium", CreatedAt: 100}
	if err := s.UpsertPool(ctx, p); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.SetTier(ctx, "p1", domain.TierHot); err != nil {
		t.Fatalf("set tier: %v", err)
	}

	// Discovery refresh must not reset the classifier's tier
	if err := s.UpsertPool(ctx, &domain.Pool{Address: "p1", AssetAddress: "a1", Dex: "raydium", CreatedAt: 200}); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	got, err := s.GetPool(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Tier != domain.TierHot {
		t.Errorf("tier reset by refresh: got %s", got.Tier)
	}
	if got.CreatedAt != 100 {
		t.Errorf("created-at rewritten by refresh: got %d", got.CreatedAt)
	}
}

func TestPoolStore_SetTierNotFound(t *testing.T) {
	s := NewPoolStore()
	err := s.SetTier(context.Background(), "missing", domain.TierHot)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPoolStore_DeletePool(t *testing.T) {
	ctx := context.Background()
	s := NewPoolStore()

	if err := s.UpsertPool(ctx, &domain.Pool{Address: "p1", AssetAddress: "a1"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.DeletePool(ctx, "p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetPool(ctx, "p1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("deleted pool still readable: %v", err)
	}
	if err := s.DeletePool(ctx, "p1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestPoolStore_ListByAsset(t *testing.T) {
	ctx := context.Background()
	s := NewPoolStore()

	pools := []*domain.Pool{
		{Address: "p2", AssetAddress: "a1"},
		{Address: "p1", AssetAddress: "a1"},
		{Address: "p3", AssetAddress: "a2"},
	}
	for _, p := range pools {
		if err := s.UpsertPool(ctx, p); err != nil {
			t.Fatalf("upsert %s: %v", p.Address, err)
		}
	}

	got, err := s.ListByAsset(ctx, "a1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 pools for a1, got %d", len(got))
	}
	if got[0].Address != "p1" || got[1].Address != "p2" {
		t.Errorf("unexpected order: %s, %s", got[0].Address, got[1].Address)
	}

	all, err := s.ListPools(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 pools total, got %d", len(all))
	}
}
