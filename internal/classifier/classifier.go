package classifier

import (
	"context"
	"log"
	"sync"
	"time"

	"solana-candle-engine/internal/domain"
	"solana-candle-engine/internal/observability"
	"solana-candle-engine/internal/provider"
	"solana-candle-engine/internal/storage"
)

// DefaultInterval is how often tiers are re-evaluated.
const DefaultInterval = time.Hour

// Thresholds holds the tier boundaries applied to rolling pool stats.
// HOT keys off the 15-minute window, ACTIVE off the 1-hour window; any 24h
// volume at all keeps a pool NORMAL instead of DORMANT.
type Thresholds struct {
	HotVolumeUSD15m   float64
	HotSwaps15m       int
	ActiveVolumeUSD1h float64
	ActiveSwaps1h     int
}

// DefaultThresholds returns the standard tier boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HotVolumeUSD15m:   10_000,
		HotSwaps15m:       50,
		ActiveVolumeUSD1h: 1_000,
		ActiveSwaps1h:     20,
	}
}

// Options configures the Classifier.
type Options struct {
	Interval   time.Duration
	Thresholds Thresholds
	Logger     *log.Logger
}

// Classifier periodically re-evaluates the activity tier of every tracked
// pool from provider stats. It is the only tier writer; a failed stats
// batch leaves the previous tiers in place.
type Classifier struct {
	pools      storage.PoolStore
	provider   provider.Provider
	interval   time.Duration
	thresholds Thresholds
	logger     *log.Logger

	mu     sync.Mutex
	pinned map[string]struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a Classifier.
func New(pools storage.PoolStore, p provider.Provider, opts Options) *Classifier {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Classifier{
		pools:      pools,
		provider:   p,
		interval:   opts.Interval,
		thresholds: opts.Thresholds,
		logger:     opts.Logger,
		pinned:     make(map[string]struct{}),
	}
}

// Start runs the classification loop until Stop or context cancellation.
func (c *Classifier) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.RunOnce(ctx); err != nil {
					c.logger.Printf("classifier: cycle failed: %v", err)
				}
			}
		}
	}()
}

// Stop halts the loop and waits for the in-flight cycle.
func (c *Classifier) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// PinRealtime forces a pool to the REALTIME tier until unpinned.
func (c *Classifier) PinRealtime(address string) {
	c.mu.Lock()
	c.pinned[address] = struct{}{}
	c.mu.Unlock()
}

// UnpinRealtime removes the REALTIME pin; the pool falls back to its
// stats-derived tier on the next cycle.
func (c *Classifier) UnpinRealtime(address string) {
	c.mu.Lock()
	delete(c.pinned, address)
	c.mu.Unlock()
}

func (c *Classifier) isPinned(address string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pinned[address]
	return ok
}

// RunOnce evaluates all tracked pools in one pass.
func (c *Classifier) RunOnce(ctx context.Context) error {
	pools, err := c.pools.ListPools(ctx)
	if err != nil {
		return err
	}

	tierCounts := make(map[domain.ActivityTier]int)

	for start := 0; start < len(pools); start += provider.MaxStatsBatch {
		end := start + provider.MaxStatsBatch
		if end > len(pools) {
			end = len(pools)
		}
		batch := pools[start:end]

		addrs := make([]string, len(batch))
		for i, p := range batch {
			addrs[i] = p.Address
		}

		stats, err := c.provider.FetchPoolStats(ctx, addrs)
		if err != nil {
			// Stale tiers beat wrong tiers, keep what we had
			c.logger.Printf("classifier: stats batch failed, tiers unchanged: %v", err)
			observability.RecordStatsBatchError()
			for _, p := range batch {
				tierCounts[p.Tier]++
			}
			continue
		}

		for _, p := range batch {
			tier := c.classify(p.Address, stats[p.Address])
			tierCounts[tier]++
			if tier == p.Tier {
				continue
			}
			if err := c.pools.SetTier(ctx, p.Address, tier); err != nil {
				c.logger.Printf("classifier: set tier %s for %s: %v", tier, p.Address, err)
				continue
			}
			c.logger.Printf("classifier: %s %s -> %s", p.Address, p.Tier, tier)
			observability.RecordTierChange()
		}
	}

	for _, tier := range []domain.ActivityTier{domain.TierDormant, domain.TierNormal, domain.TierActive, domain.TierHot, domain.TierRealtime} {
		observability.SetTierCount(tier.String(), tierCounts[tier])
	}

	return nil
}

// classify maps rolling stats onto a tier. A pool absent from the stats
// response has no recorded activity and is DORMANT.
func (c *Classifier) classify(address string, s *provider.PoolStats) domain.ActivityTier {
	if c.isPinned(address) {
		return domain.TierRealtime
	}
	if s == nil {
		return domain.TierDormant
	}
	if s.VolumeUSD15m >= c.thresholds.HotVolumeUSD15m || s.SwapCount15m >= c.thresholds.HotSwaps15m {
		return domain.TierHot
	}
	if s.VolumeUSD1h >= c.thresholds.ActiveVolumeUSD1h || s.SwapCount1h >= c.thresholds.ActiveSwaps1h {
		return domain.TierActive
	}
	if s.VolumeUSD24h > 0 {
		return domain.TierNormal
	}
	return domain.TierDormant
}
