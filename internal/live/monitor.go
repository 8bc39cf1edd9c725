package live

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"solana-candle-engine/internal/backfill"
	"solana-candle-engine/internal/domain"
	"solana-candle-engine/internal/observability"
	"solana-candle-engine/internal/storage"
)

// Default monitor parameters.
const (
	DefaultCheckInterval = 30 * time.Second
	DefaultFlushInterval = 2 * time.Second
)

// TradeFeed delivers live trades for subscribed pools. The websocket client
// implements it.
type TradeFeed interface {
	// Subscribe opens a trade stream for a pool. The channel closes when
	// the feed drops the pool for good.
	Subscribe(ctx context.Context, pool string) (<-chan *domain.TradeEvent, error)

	// Unsubscribe tears the stream down.
	Unsubscribe(pool string) error
}

// Options configures the Monitor.
type Options struct {
	CheckInterval time.Duration
	FlushInterval time.Duration
	Publisher     backfill.Publisher
	Logger        *log.Logger
}

// Monitor moves pools between polled backfill and live trade-driven
// updates. A pool goes live once its finest timeframe is fully backfilled;
// it falls back to polling when the feed goes quiet past the staleness
// threshold or the pool drops to the dormant tier. While a pool is live the
// monitor is the only writer of its checkpoints.
type Monitor struct {
	pools       storage.PoolStore
	checkpoints storage.CheckpointStore
	candles     storage.CandleStore
	feed        TradeFeed

	checkInterval time.Duration
	flushInterval time.Duration
	publisher     backfill.Publisher
	logger        *log.Logger

	mu       sync.Mutex
	sessions map[string]*session
	// pools demoted for feed staleness, keyed to the finest bucket of the
	// last trade seen; re-promotion waits until polling fetched past it
	staleBarrier map[string]int64

	wg     sync.WaitGroup
	cancel context.CancelFunc

	nowMs func() int64
}

// session is one live pool.
type session struct {
	pool   *domain.Pool
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	lastTradeMs int64
}

// NewMonitor creates a Monitor.
func NewMonitor(pools storage.PoolStore, checkpoints storage.CheckpointStore, candles storage.CandleStore, feed TradeFeed, opts Options) *Monitor {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Monitor{
		pools:         pools,
		checkpoints:   checkpoints,
		candles:       candles,
		feed:          feed,
		checkInterval: opts.CheckInterval,
		flushInterval: opts.FlushInterval,
		publisher:     opts.Publisher,
		logger:        opts.Logger,
		sessions:      make(map[string]*session),
		staleBarrier:  make(map[string]int64),
		nowMs:         func() int64 { return time.Now().UnixMilli() },
	}
}

// Compile-time check: the scheduler consults the monitor for live pools.
var _ backfill.LiveSet = (*Monitor)(nil)

// IsLive reports whether a pool currently has a live session.
func (m *Monitor) IsLive(pool string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[pool]
	return ok
}

// Start runs promotion/demotion scans until Stop or context cancellation.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.Scan(ctx); err != nil && !errors.Is(err, context.Canceled) {
					m.logger.Printf("live: scan failed: %v", err)
				}
			}
		}
	}()
}

// Stop tears down all sessions and waits for them.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}

	m.mu.Lock()
	var open []*session
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	for _, s := range open {
		s.cancel()
		<-s.done
	}

	m.wg.Wait()
}

// StopPool tears down one pool's session, falling back to polling.
func (m *Monitor) StopPool(pool string) {
	m.demote(pool, "stopped")
}

// Scan promotes every eligible pool and demotes sessions that went stale
// or dormant.
func (m *Monitor) Scan(ctx context.Context) error {
	pools, err := m.pools.ListPools(ctx)
	if err != nil {
		return fmt.Errorf("list pools: %w", err)
	}

	tracked := make(map[string]*domain.Pool, len(pools))
	for _, p := range pools {
		tracked[p.Address] = p
	}

	// Sessions whose pool vanished or went dormant are torn down
	m.mu.Lock()
	var drop []string
	for addr := range m.sessions {
		p, ok := tracked[addr]
		if !ok {
			drop = append(drop, addr)
			continue
		}
		if p.Tier == domain.TierDormant {
			drop = append(drop, addr)
		}
	}
	m.mu.Unlock()
	for _, addr := range drop {
		m.demote(addr, "dormant")
	}

	nowMs := m.nowMs()

	for _, p := range pools {
		if m.IsLive(p.Address) {
			if m.sessionStale(p.Address, nowMs) {
				m.demote(p.Address, "stale")
			}
			continue
		}
		if p.Tier == domain.TierDormant {
			continue
		}

		cp, err := m.checkpoints.Get(ctx, p.Address, domain.FinestTimeframe())
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return fmt.Errorf("checkpoint %s: %w", p.Address, err)
		}
		if cp.Complete && !cp.Stale(nowMs) && m.fetchCaughtUp(p.Address, cp) {
			if err := m.promote(ctx, p); err != nil {
				m.logger.Printf("live: promote %s: %v", p.Address, err)
			}
		}
	}

	return nil
}

func (m *Monitor) sessionStale(pool string, nowMs int64) bool {
	m.mu.Lock()
	s, ok := m.sessions[pool]
	m.mu.Unlock()
	if !ok {
		return false
	}

	s.mu.Lock()
	last := s.lastTradeMs
	s.mu.Unlock()

	// A feed gone quiet for longer than the finest timeframe's maintenance
	// interval hands the pool back to the backfill scheduler.
	staleAfterMs := int64(domain.FinestTimeframe().MaintenanceInterval() / time.Millisecond)
	return nowMs-last > staleAfterMs
}

// fetchCaughtUp reports whether a pool demoted for feed staleness has had
// its checkpoint advanced past the demotion point by the poll path. A feed
// outage window must be fetched before the pool may stream again, or the
// next flush would claim coverage over a hole.
func (m *Monitor) fetchCaughtUp(pool string, cp *domain.Checkpoint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	barrier, ok := m.staleBarrier[pool]
	if !ok {
		return true
	}
	if cp.NewestMs > barrier {
		delete(m.staleBarrier, pool)
		return true
	}
	return false
}

// promote opens a feed subscription and starts the pool's session loop.
func (m *Monitor) promote(ctx context.Context, pool *domain.Pool) error {
	m.mu.Lock()
	if _, ok := m.sessions[pool.Address]; ok {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	ch, err := m.feed.Subscribe(ctx, pool.Address)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		pool:        pool,
		cancel:      cancel,
		done:        make(chan struct{}),
		lastTradeMs: m.nowMs(),
	}

	m.mu.Lock()
	m.sessions[pool.Address] = s
	observability.SetLivePools(len(m.sessions))
	m.mu.Unlock()

	m.logger.Printf("live: %s promoted", pool.Address)
	m.publish(pool, &domain.UpdateEvent{
		Kind:         domain.EventLiveStarted,
		PoolAddress:  pool.Address,
		TimestampMs:  m.nowMs(),
		AssetAddress: pool.AssetAddress,
	})
	m.publish(pool, &domain.UpdateEvent{
		Kind:        domain.EventStatus,
		PoolAddress: pool.Address,
		Phase:       domain.PhaseLive,
		TimestampMs: m.nowMs(),
	})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(s.done)
		m.runSession(sctx, s, ch)
	}()

	return nil
}

// demote closes a session and hands the pool back to the scheduler.
func (m *Monitor) demote(pool, reason string) {
	m.mu.Lock()
	s, ok := m.sessions[pool]
	if ok {
		delete(m.sessions, pool)
		observability.SetLivePools(len(m.sessions))
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	s.cancel()
	<-s.done
	if err := m.feed.Unsubscribe(pool); err != nil {
		m.logger.Printf("live: unsubscribe %s: %v", pool, err)
	}

	if reason == "stale" {
		s.mu.Lock()
		last := s.lastTradeMs
		s.mu.Unlock()
		m.mu.Lock()
		m.staleBarrier[pool] = domain.FinestTimeframe().TruncateMs(last)
		m.mu.Unlock()
	}

	m.logger.Printf("live: %s demoted (%s)", pool, reason)
	m.publish(s.pool, &domain.UpdateEvent{
		Kind:        domain.EventStatus,
		PoolAddress: pool,
		Phase:       domain.PhaseBackfill,
		Reason:      reason,
		TimestampMs: m.nowMs(),
	})
}

// runSession folds trades into open buckets, persisting closed candles as
// they seal and open buckets on the flush cadence.
func (m *Monitor) runSession(ctx context.Context, s *session, ch <-chan *domain.TradeEvent) {
	buckets := NewBucketSet(s.pool.Address)

	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.flush(s, buckets)
			return

		case tr, ok := <-ch:
			if !ok {
				// Feed gave up on this pool; the next scan demotes it
				// via staleness, flush what we have
				m.flush(s, buckets)
				return
			}
			m.applyTrade(ctx, s, buckets, tr)

		case <-ticker.C:
			m.flush(s, buckets)
		}
	}
}

func (m *Monitor) applyTrade(ctx context.Context, s *session, buckets *BucketSet, tr *domain.TradeEvent) {
	s.mu.Lock()
	if tr.TimestampMs > s.lastTradeMs {
		s.lastTradeMs = tr.TimestampMs
	}
	s.mu.Unlock()

	observability.RecordTrade()
	closed, updated := buckets.Apply(tr)

	if len(closed) > 0 {
		if err := m.candles.Upsert(ctx, closed); err != nil {
			m.logger.Printf("live: persist closed buckets %s: %v", s.pool.Address, err)
		}
	}

	m.publish(s.pool, &domain.UpdateEvent{
		Kind:        domain.EventTrade,
		PoolAddress: s.pool.Address,
		TimestampMs: tr.TimestampMs,
		Trade:       tr,
	})
	if len(updated) > 0 {
		m.publish(s.pool, &domain.UpdateEvent{
			Kind:        domain.EventCandleUpdate,
			PoolAddress: s.pool.Address,
			TimestampMs: tr.TimestampMs,
			Candles:     updated,
		})
	}
}

// flush persists the open buckets and advances the live checkpoints.
func (m *Monitor) flush(s *session, buckets *BucketSet) {
	open := buckets.Open()
	if len(open) == 0 {
		return
	}

	// Session teardown still flushes, use a fresh context
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.candles.Upsert(ctx, open); err != nil {
		m.logger.Printf("live: flush %s: %v", s.pool.Address, err)
		return
	}

	for _, c := range open {
		created := false
		cp, err := m.checkpoints.Get(ctx, s.pool.Address, c.Timeframe)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				m.logger.Printf("live: checkpoint %s/%s: %v", s.pool.Address, c.Timeframe, err)
				continue
			}
			cp = &domain.Checkpoint{
				PoolAddress: s.pool.Address,
				Timeframe:   c.Timeframe,
				OldestMs:    c.BucketMs,
				NewestMs:    c.BucketMs,
			}
			created = true
		}
		if !created && c.BucketMs <= cp.NewestMs {
			continue
		}
		if c.BucketMs > cp.NewestMs {
			cp.NewestMs = c.BucketMs
		}
		cp.Recompute(s.pool.AssetCreatedAt, m.nowMs())
		if err := m.checkpoints.Upsert(ctx, cp); err != nil {
			m.logger.Printf("live: save checkpoint %s/%s: %v", s.pool.Address, c.Timeframe, err)
		}
	}
}

func (m *Monitor) publish(pool *domain.Pool, ev *domain.UpdateEvent) {
	if m.publisher == nil {
		return
	}
	if ev.AssetAddress == "" {
		ev.AssetAddress = pool.AssetAddress
	}
	m.publisher.Publish(pool.AssetAddress, ev)
}
