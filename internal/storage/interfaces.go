package storage

import (
	"context"

	"solana-candle-engine/internal/domain"
)

// CandleStore persists OHLCV rows per (pool, timeframe). Rows are merged,
// never rewritten except to fill gaps: upserting an already-present bucket
// replaces it in place and never duplicates it.
type CandleStore interface {
	// Upsert merges candles into the store. Idempotent: re-ingesting an
	// overlapping page leaves one row per bucket. Returns ErrInvalidInput
	// if any candle fails validation; nothing is written in that case.
	Upsert(ctx context.Context, candles []*domain.Candle) error

	// GetRange retrieves candles for a pair within [fromMs, toMs]
	// (inclusive, bucket start), ordered by bucket ascending.
	GetRange(ctx context.Context, pool string, tf domain.Timeframe, fromMs, toMs int64) ([]*domain.Candle, error)

	// GetAll retrieves all candles for a pair, ordered by bucket ascending.
	GetAll(ctx context.Context, pool string, tf domain.Timeframe) ([]*domain.Candle, error)

	// Count returns the number of distinct buckets stored for a pair.
	Count(ctx context.Context, pool string, tf domain.Timeframe) (int, error)
}

// CheckpointStore persists backfill progress per (pool, timeframe).
// The fetch-apply path and the live monitor are the only writers.
type CheckpointStore interface {
	// Get retrieves the checkpoint for a pair. Returns ErrNotFound if the
	// pair has never been fetched.
	Get(ctx context.Context, pool string, tf domain.Timeframe) (*domain.Checkpoint, error)

	// Upsert creates or replaces the checkpoint for a pair.
	Upsert(ctx context.Context, cp *domain.Checkpoint) error

	// ListByPool retrieves all checkpoints for a pool, ordered by
	// timeframe finest first.
	ListByPool(ctx context.Context, pool string) ([]*domain.Checkpoint, error)
}

// PoolStore holds the tracked pool set supplied by discovery, plus the
// activity tier written by the classifier. Reads are concurrent with
// scheduling; tier writes are single-writer (the classifier).
type PoolStore interface {
	// UpsertPool adds or refreshes a tracked pool. The tier of an
	// existing pool is preserved unless explicitly set.
	UpsertPool(ctx context.Context, p *domain.Pool) error

	// GetPool retrieves a pool by address. Returns ErrNotFound if untracked.
	GetPool(ctx context.Context, address string) (*domain.Pool, error)

	// ListPools retrieves all tracked pools.
	ListPools(ctx context.Context) ([]*domain.Pool, error)

	// ListByAsset retrieves all pools of one asset.
	ListByAsset(ctx context.Context, asset string) ([]*domain.Pool, error)

	// SetTier updates the activity tier of a pool. Returns ErrNotFound if
	// the pool is untracked.
	SetTier(ctx context.Context, address string, tier domain.ActivityTier) error

	// DeletePool removes a pool from tracking. Stored candles and
	// checkpoints stay behind; in-flight fetch results for the pool are
	// discarded by their writers. Returns ErrNotFound if untracked.
	DeletePool(ctx context.Context, address string) error
}
