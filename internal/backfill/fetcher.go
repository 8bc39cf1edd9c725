package backfill

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"solana-candle-engine/internal/domain"
	"solana-candle-engine/internal/observability"
	"solana-candle-engine/internal/provider"
	"solana-candle-engine/internal/storage"
)

// Default fetch parameters.
const (
	DefaultPageLimit = 1000
	DefaultMaxPages  = 5
	DefaultPagePause = 200 * time.Millisecond
)

// Publisher receives update events for an asset. The gateway implements it.
type Publisher interface {
	Publish(asset string, ev *domain.UpdateEvent)
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	PageLimit int           // candles per request
	MaxPages  int           // page budget per FetchOnce run
	PagePause time.Duration // pause between pages of one run
	Publisher Publisher     // optional, nil disables events
	Logger    *log.Logger
}

// Fetcher pulls historical candles for one (pool, timeframe) pair at a time
// and advances its checkpoint. All candle and checkpoint writes for polled
// pairs go through here; the checkpoint only ever widens, oldest moves down
// and newest moves up.
type Fetcher struct {
	candles     storage.CandleStore
	checkpoints storage.CheckpointStore
	pools       storage.PoolStore
	provider    provider.Provider

	pageLimit int
	maxPages  int
	pagePause time.Duration
	publisher Publisher
	logger    *log.Logger

	nowMs func() int64
}

// NewFetcher creates a Fetcher.
func NewFetcher(candles storage.CandleStore, checkpoints storage.CheckpointStore, pools storage.PoolStore, p provider.Provider, opts FetcherOptions) *Fetcher {
	if opts.PageLimit <= 0 {
		opts.PageLimit = DefaultPageLimit
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if opts.PagePause <= 0 {
		opts.PagePause = DefaultPagePause
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Fetcher{
		candles:     candles,
		checkpoints: checkpoints,
		pools:       pools,
		provider:    p,
		pageLimit:   opts.PageLimit,
		maxPages:    opts.MaxPages,
		pagePause:   opts.PagePause,
		publisher:   opts.Publisher,
		logger:      opts.Logger,
		nowMs:       func() int64 { return time.Now().UnixMilli() },
	}
}

// FetchOnce runs one fetch pass for a pair: first it closes the gap between
// the stored newest candle and now, then it extends history backwards toward
// the asset creation time, spending at most the page budget.
func (f *Fetcher) FetchOnce(ctx context.Context, pool *domain.Pool, tf domain.Timeframe) (*domain.Checkpoint, error) {
	cp, err := f.fetchOnce(ctx, pool, tf)
	if err != nil {
		observability.RecordFetch("error")
		f.publish(pool, &domain.UpdateEvent{
			Kind:        domain.EventError,
			PoolAddress: pool.Address,
			Timeframe:   tf,
			Reason:      coarseReason(err),
			TimestampMs: f.nowMs(),
		})
	} else {
		observability.RecordFetch("ok")
	}
	return cp, err
}

// coarseReason maps a fetch error onto a subscriber-safe reason string.
// Raw provider error bodies never reach the update channel.
func coarseReason(err error) string {
	switch {
	case errors.Is(err, provider.ErrRateLimited):
		return "rate-limited"
	case errors.Is(err, provider.ErrMalformed):
		return "malformed-response"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "fetch-failed"
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, pool *domain.Pool, tf domain.Timeframe) (*domain.Checkpoint, error) {
	cp, err := f.checkpoints.Get(ctx, pool.Address, tf)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("load checkpoint: %w", err)
		}
		cp = nil
	}

	pagesLeft := f.maxPages

	// Newer data first so a demoted pair recovers freshness before history
	if cp == nil || f.behindMaintenance(cp, tf) {
		cp, err = f.fetchForward(ctx, pool, tf, cp, &pagesLeft)
		if err != nil || cp == nil {
			return cp, err
		}
	}

	// Then extend backwards until the asset creation time
	for pagesLeft > 0 && cp.OldestMs > pool.AssetCreatedAt {
		cp, err = f.fetchBackwardPage(ctx, pool, tf, cp, &pagesLeft)
		if err != nil || cp == nil {
			return cp, err
		}
	}

	return cp, nil
}

// behindMaintenance reports whether the stored newest candle is older than
// the timeframe's refresh cadence. The 1h staleness threshold only gates
// completeness; the forward fetch runs on the maintenance cadence so a
// complete pair never drifts behind it.
func (f *Fetcher) behindMaintenance(cp *domain.Checkpoint, tf domain.Timeframe) bool {
	return f.nowMs()-cp.NewestMs > int64(tf.MaintenanceInterval()/time.Millisecond)
}

// fetchForward closes the gap between the stored newest candle and now. It
// walks upward from the stored newest in page-sized strides: a stride spans
// fewer buckets than one page holds, so each page necessarily covers its
// whole stride and newest never advances across an unfetched span. A pass
// that runs out of page budget resumes from where it stopped next cycle.
// On a cold pair the first page seeds the checkpoint.
func (f *Fetcher) fetchForward(ctx context.Context, pool *domain.Pool, tf domain.Timeframe, cp *domain.Checkpoint, pagesLeft *int) (*domain.Checkpoint, error) {
	if cp == nil {
		return f.seedCheckpoint(ctx, pool, tf, pagesLeft)
	}

	step := int64(f.pageLimit) * tf.DurationMs()

	for *pagesLeft > 0 {
		nowMs := f.nowMs()
		if nowMs-cp.NewestMs <= tf.DurationMs() {
			break
		}
		upper := cp.NewestMs + step
		if upper > nowMs {
			upper = nowMs
		}

		page, err := f.fetchPage(ctx, pool, tf, upper, pagesLeft)
		if err != nil {
			return nil, err
		}
		if len(page) > 0 {
			if ok, err := f.apply(ctx, pool, page); err != nil || !ok {
				return nil, err
			}
		}

		// The page held everything below upper, trades or not; the stride
		// is covered through its last bucket
		covered := tf.TruncateMs(upper - 1)
		if covered <= cp.NewestMs {
			break
		}
		cp.NewestMs = covered
		if err := f.saveCheckpoint(ctx, pool, cp); err != nil {
			return nil, err
		}
		f.publishProgress(pool, cp)
	}

	return cp, nil
}

// seedCheckpoint fetches the newest page of a cold pair and establishes its
// checkpoint from it.
func (f *Fetcher) seedCheckpoint(ctx context.Context, pool *domain.Pool, tf domain.Timeframe, pagesLeft *int) (*domain.Checkpoint, error) {
	page, err := f.fetchPage(ctx, pool, tf, f.nowMs(), pagesLeft)
	if err != nil {
		return nil, err
	}
	if len(page) == 0 {
		// Nothing traded yet, leave the pair cold and retry later
		return nil, nil
	}
	if ok, err := f.apply(ctx, pool, page); err != nil || !ok {
		return nil, err
	}

	cp := &domain.Checkpoint{
		PoolAddress: pool.Address,
		Timeframe:   tf,
		OldestMs:    page[0].BucketMs,
		NewestMs:    page[len(page)-1].BucketMs,
	}
	if err := f.saveCheckpoint(ctx, pool, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// fetchBackwardPage extends history one page older than the stored oldest
// candle. An empty page means the API has nothing older, which pins oldest
// to the asset creation time.
func (f *Fetcher) fetchBackwardPage(ctx context.Context, pool *domain.Pool, tf domain.Timeframe, cp *domain.Checkpoint, pagesLeft *int) (*domain.Checkpoint, error) {
	page, err := f.fetchPage(ctx, pool, tf, cp.OldestMs, pagesLeft)
	if err != nil {
		return nil, err
	}

	if len(page) == 0 {
		cp.OldestMs = pool.AssetCreatedAt
		if err := f.saveCheckpoint(ctx, pool, cp); err != nil {
			return nil, err
		}
		return cp, nil
	}

	if ok, err := f.apply(ctx, pool, page); err != nil || !ok {
		return nil, err
	}

	if lo := page[0].BucketMs; lo < cp.OldestMs {
		cp.OldestMs = lo
	}
	if err := f.saveCheckpoint(ctx, pool, cp); err != nil {
		return nil, err
	}

	f.publishProgress(pool, cp)

	return cp, nil
}

func (f *Fetcher) fetchPage(ctx context.Context, pool *domain.Pool, tf domain.Timeframe, beforeMs int64, pagesLeft *int) ([]*domain.Candle, error) {
	if *pagesLeft < f.maxPages {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.pagePause):
		}
	}
	*pagesLeft--

	start := time.Now()
	page, err := f.provider.FetchOHLCV(ctx, pool.Address, tf, beforeMs, f.pageLimit)
	observability.RecordFetchLatency(string(tf), time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("fetch ohlcv %s/%s: %w", pool.Address, tf, err)
	}
	observability.RecordPage(len(page))
	return page, nil
}

// apply stores a page unless the pool was untracked while the fetch was in
// flight; results for removed pools are discarded.
func (f *Fetcher) apply(ctx context.Context, pool *domain.Pool, page []*domain.Candle) (bool, error) {
	if _, err := f.pools.GetPool(ctx, pool.Address); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			f.logger.Printf("backfill: pool %s untracked mid-fetch, discarding %d candles", pool.Address, len(page))
			return false, nil
		}
		return false, fmt.Errorf("recheck pool: %w", err)
	}

	if err := f.candles.Upsert(ctx, page); err != nil {
		return false, fmt.Errorf("store candles: %w", err)
	}
	return true, nil
}

func (f *Fetcher) saveCheckpoint(ctx context.Context, pool *domain.Pool, cp *domain.Checkpoint) error {
	wasComplete := cp.Complete
	cp.Recompute(pool.AssetCreatedAt, f.nowMs())
	if err := f.checkpoints.Upsert(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if cp.Complete && !wasComplete {
		f.publishComplete(ctx, pool, cp)
	}
	return nil
}

// publishComplete announces a series that just transitioned to complete,
// carrying the stored bucket count and the full candle set. Later saves of
// a still-complete pair stay silent.
func (f *Fetcher) publishComplete(ctx context.Context, pool *domain.Pool, cp *domain.Checkpoint) {
	if f.publisher == nil {
		return
	}
	n, err := f.candles.Count(ctx, pool.Address, cp.Timeframe)
	if err != nil {
		f.logger.Printf("backfill: count %s/%s: %v", pool.Address, cp.Timeframe, err)
	}
	all, err := f.candles.GetAll(ctx, pool.Address, cp.Timeframe)
	if err != nil {
		f.logger.Printf("backfill: load series %s/%s: %v", pool.Address, cp.Timeframe, err)
	}
	f.publish(pool, &domain.UpdateEvent{
		Kind:        domain.EventHistoricalComplete,
		PoolAddress: pool.Address,
		Timeframe:   cp.Timeframe,
		SwapCount:   n,
		Candles:     all,
		TimestampMs: f.nowMs(),
	})
}

func (f *Fetcher) publishProgress(pool *domain.Pool, cp *domain.Checkpoint) {
	total := cp.NewestMs - pool.AssetCreatedAt
	done := cp.NewestMs - cp.OldestMs
	if total <= 0 {
		return
	}
	if done > total {
		done = total
	}
	f.publish(pool, &domain.UpdateEvent{
		Kind:        domain.EventProgress,
		PoolAddress: pool.Address,
		Timeframe:   cp.Timeframe,
		Phase:       domain.PhaseBackfill,
		Current:     int(done * 100 / total),
		Total:       100,
		TimestampMs: f.nowMs(),
	})
}

func (f *Fetcher) publish(pool *domain.Pool, ev *domain.UpdateEvent) {
	if f.publisher == nil {
		return
	}
	f.publisher.Publish(pool.AssetAddress, ev)
}
