package domain

import "time"

// StalenessThresholdMs is the maximum age of the newest stored candle
// before a series counts as out of date.
const StalenessThresholdMs = int64(time.Hour / time.Millisecond)

// Checkpoint is the persisted backfill progress marker for one
// (pool, timeframe) pair. Created on the first fetch attempt; mutated only
// through the fetch-apply path or the live monitor, never deleted while the
// pool is tracked.
type Checkpoint struct {
	PoolAddress string
	Timeframe   Timeframe
	OldestMs    int64 // oldest covered bucket start, Unix ms
	NewestMs    int64 // newest covered bucket start, Unix ms
	Complete    bool
}

// ComputeComplete evaluates the completion rule: history reaches back to
// the asset's creation time AND the newest candle is within the staleness
// threshold of now.
func ComputeComplete(oldestMs, newestMs, assetCreatedMs, nowMs int64) bool {
	return oldestMs <= assetCreatedMs && nowMs-newestMs <= StalenessThresholdMs
}

// Recompute refreshes the Complete flag from the checkpoint's own bounds.
func (cp *Checkpoint) Recompute(assetCreatedMs, nowMs int64) {
	cp.Complete = ComputeComplete(cp.OldestMs, cp.NewestMs, assetCreatedMs, nowMs)
}

// Stale reports whether the newest covered candle is older than the
// staleness threshold.
func (cp *Checkpoint) Stale(nowMs int64) bool {
	return nowMs-cp.NewestMs > StalenessThresholdMs
}
