package backfill

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"solana-candle-engine/internal/domain"
	"solana-candle-engine/internal/observability"
	"solana-candle-engine/internal/storage"
)

// Default scheduling parameters.
const (
	DefaultCycleInterval = 15 * time.Minute
	DefaultBatchSize     = 24
	DefaultWorkers       = 4
)

// LiveSet reports which pools are currently fed by the live monitor. The
// scheduler stays away from those; the monitor owns their checkpoints.
type LiveSet interface {
	IsLive(poolAddress string) bool
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	CycleInterval time.Duration
	BatchSize     int // pairs fetched per cycle
	Workers       int // concurrent fetches
	Live          LiveSet
	Logger        *log.Logger
}

// Scheduler drives the fetcher: every cycle it ranks all polled
// (pool, timeframe) pairs and fetches the most urgent ones. A pair has at
// most one fetch in flight at a time.
type Scheduler struct {
	pools       storage.PoolStore
	checkpoints storage.CheckpointStore
	fetcher     *Fetcher

	cycleInterval time.Duration
	batchSize     int
	workers       int
	live          LiveSet
	logger        *log.Logger

	mu       sync.Mutex
	inflight map[string]struct{} // pair key
	lastRun  map[string]int64    // pair key -> last fetch, unix ms

	wg     sync.WaitGroup
	cancel context.CancelFunc

	nowMs func() int64
}

// NewScheduler creates a Scheduler.
func NewScheduler(pools storage.PoolStore, checkpoints storage.CheckpointStore, fetcher *Fetcher, opts SchedulerOptions) *Scheduler {
	if opts.CycleInterval <= 0 {
		opts.CycleInterval = DefaultCycleInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Scheduler{
		pools:         pools,
		checkpoints:   checkpoints,
		fetcher:       fetcher,
		cycleInterval: opts.CycleInterval,
		batchSize:     opts.BatchSize,
		workers:       opts.Workers,
		live:          opts.Live,
		logger:        opts.Logger,
		inflight:      make(map[string]struct{}),
		lastRun:       make(map[string]int64),
		nowMs:         func() int64 { return time.Now().UnixMilli() },
	}
}

// Start runs scheduling cycles until Stop or context cancellation. The
// first cycle runs immediately.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.cycleInterval)
		defer ticker.Stop()

		for {
			if err := s.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Printf("backfill: cycle failed: %v", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop halts scheduling and waits for in-flight fetches.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// candidate is one schedulable (pool, timeframe) pair.
type candidate struct {
	pool       *domain.Pool
	tf         domain.Timeframe
	checkpoint *domain.Checkpoint // nil when the pair is cold
}

// RunCycle selects and fetches one batch of pairs.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	batch, err := s.selectBatch(ctx)
	if err != nil {
		return err
	}
	observability.RecordCycle(len(batch), float64(time.Now().Unix()))
	if len(batch) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, c := range batch {
		c := c
		g.Go(func() error {
			defer s.release(pairKey(c.pool.Address, c.tf))

			if _, err := s.fetcher.FetchOnce(ctx, c.pool, c.tf); err != nil {
				// One failing pair must not sink the batch
				s.logger.Printf("backfill: fetch %s/%s: %v", c.pool.Address, c.tf, err)
			}
			return nil
		})
	}

	return g.Wait()
}

// selectBatch ranks all due pairs and claims the top of the list.
func (s *Scheduler) selectBatch(ctx context.Context) ([]*candidate, error) {
	pools, err := s.pools.ListPools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}

	nowMs := s.nowMs()
	var due []*candidate

	for _, pool := range pools {
		if s.live != nil && s.live.IsLive(pool.Address) {
			continue
		}

		cps := make(map[domain.Timeframe]*domain.Checkpoint)
		list, err := s.checkpoints.ListByPool(ctx, pool.Address)
		if err != nil {
			return nil, fmt.Errorf("list checkpoints %s: %w", pool.Address, err)
		}
		for _, cp := range list {
			cps[cp.Timeframe] = cp
		}

		for _, tf := range domain.Timeframes {
			if !s.due(pool, tf, cps[tf], nowMs) {
				continue
			}
			due = append(due, &candidate{pool: pool, tf: tf, checkpoint: cps[tf]})
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		return moreUrgent(due[i], due[j])
	})

	var batch []*candidate
	for _, c := range due {
		if len(batch) == s.batchSize {
			break
		}
		if s.claim(pairKey(c.pool.Address, c.tf), nowMs) {
			batch = append(batch, c)
		}
	}

	return batch, nil
}

// due reports whether a pair needs a fetch this cycle. A complete and fresh
// pair drops to its maintenance cadence.
func (s *Scheduler) due(pool *domain.Pool, tf domain.Timeframe, cp *domain.Checkpoint, nowMs int64) bool {
	if cp == nil {
		return true
	}
	if cp.Stale(nowMs) || cp.OldestMs > pool.AssetCreatedAt {
		return true
	}

	s.mu.Lock()
	last := s.lastRun[pairKey(pool.Address, tf)]
	s.mu.Unlock()

	return nowMs-last >= int64(tf.MaintenanceInterval()/time.Millisecond)
}

// moreUrgent orders candidates: higher tier first, then cold pairs, then
// the pair whose newest candle is oldest, then the youngest asset.
func moreUrgent(a, b *candidate) bool {
	if a.pool.Tier != b.pool.Tier {
		return a.pool.Tier > b.pool.Tier
	}
	aCold, bCold := a.checkpoint == nil, b.checkpoint == nil
	if aCold != bCold {
		return aCold
	}
	if !aCold && a.checkpoint.NewestMs != b.checkpoint.NewestMs {
		return a.checkpoint.NewestMs < b.checkpoint.NewestMs
	}
	return a.pool.AssetCreatedAt > b.pool.AssetCreatedAt
}

func (s *Scheduler) claim(key string, nowMs int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inflight[key]; ok {
		return false
	}
	s.inflight[key] = struct{}{}
	s.lastRun[key] = nowMs
	return true
}

func (s *Scheduler) release(key string) {
	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()
}

func pairKey(pool string, tf domain.Timeframe) string {
	return pool + "|" + string(tf)
}
