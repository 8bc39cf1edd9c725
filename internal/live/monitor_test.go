package live

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"solana-candle-engine/internal/domain"
	"solana-candle-engine/internal/storage/memory"
)

type fakeFeed struct {
	mu           sync.Mutex
	chans        map[string]chan *domain.TradeEvent
	unsubscribed []string
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{chans: make(map[string]chan *domain.TradeEvent)}
}

func (f *fakeFeed) Subscribe(_ context.Context, pool string) (<-chan *domain.TradeEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan *domain.TradeEvent, 64)
	f.chans[pool] = ch
	return ch, nil
}

func (f *fakeFeed) Unsubscribe(pool string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, pool)
	return nil
}

func (f *fakeFeed) send(pool string, tr *domain.TradeEvent) {
	f.mu.Lock()
	ch := f.chans[pool]
	f.mu.Unlock()
	ch <- tr
}

type capturePublisher struct {
	mu     sync.Mutex
	events []*domain.UpdateEvent
}

func (p *capturePublisher) Publish(_ string, ev *domain.UpdateEvent) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *capturePublisher) kinds() []domain.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventKind, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Kind
	}
	return out
}

type monitorEnv struct {
	pools       *memory.PoolStore
	checkpoints *memory.CheckpointStore
	candles     *memory.CandleStore
	feed        *fakeFeed
	pub         *capturePublisher
	monitor     *Monitor
	pool        *domain.Pool
	now         atomic.Int64
}

func newMonitorEnv(t *testing.T) *monitorEnv {
	t.Helper()

	env := &monitorEnv{
		pools:       memory.NewPoolStore(),
		checkpoints: memory.NewCheckpointStore(),
		candles:     memory.NewCandleStore(),
		feed:        newFakeFeed(),
		pub:         &capturePublisher{},
	}
	env.now.Store(domain.Timeframe1m.TruncateMs(1_704_067_200_000) + 100*24*3_600_000)

	env.pool = &domain.Pool{
		Address:        "pool-a",
		AssetAddress:   "asset-a",
		AssetCreatedAt: env.now.Load() - 30*24*3_600_000,
	}
	ctx := context.Background()
	if err := env.pools.UpsertPool(ctx, env.pool); err != nil {
		t.Fatalf("seed pool: %v", err)
	}
	if err := env.pools.SetTier(ctx, env.pool.Address, domain.TierHot); err != nil {
		t.Fatalf("set tier: %v", err)
	}

	env.monitor = NewMonitor(env.pools, env.checkpoints, env.candles, env.feed, Options{
		FlushInterval: 5 * time.Millisecond,
		Publisher:     env.pub,
	})
	env.monitor.nowMs = func() int64 { return env.now.Load() }
	return env
}

func (e *monitorEnv) completeCheckpoint(t *testing.T, tf domain.Timeframe) {
	t.Helper()
	if err := e.checkpoints.Upsert(context.Background(), &domain.Checkpoint{
		PoolAddress: e.pool.Address,
		Timeframe:   tf,
		OldestMs:    e.pool.AssetCreatedAt,
		NewestMs:    e.now.Load() - 60_000,
		Complete:    true,
	}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestMonitor_PromotesWhenFinestComplete(t *testing.T) {
	env := newMonitorEnv(t)
	env.completeCheckpoint(t, domain.FinestTimeframe())

	if err := env.monitor.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	defer env.monitor.Stop()

	if !env.monitor.IsLive(env.pool.Address) {
		t.Fatal("pool not promoted")
	}

	var sawLive, sawStatus bool
	for _, k := range env.pub.kinds() {
		if k == domain.EventLiveStarted {
			sawLive = true
		}
		if k == domain.EventStatus {
			sawStatus = true
		}
	}
	if !sawLive || !sawStatus {
		t.Errorf("missing promotion events: live=%v status=%v", sawLive, sawStatus)
	}
}

func TestMonitor_DoesNotPromoteIncompletePool(t *testing.T) {
	env := newMonitorEnv(t)
	// Incomplete finest checkpoint
	if err := env.checkpoints.Upsert(context.Background(), &domain.Checkpoint{
		PoolAddress: env.pool.Address,
		Timeframe:   domain.FinestTimeframe(),
		OldestMs:    env.pool.AssetCreatedAt + 1,
		NewestMs:    env.now.Load() - 60_000,
	}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	if err := env.monitor.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if env.monitor.IsLive(env.pool.Address) {
		t.Fatal("incomplete pool promoted")
	}
}

func TestMonitor_TradesFlowIntoStoreAndCheckpoint(t *testing.T) {
	env := newMonitorEnv(t)
	env.completeCheckpoint(t, domain.FinestTimeframe())

	ctx := context.Background()
	if err := env.monitor.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	defer env.monitor.Stop()

	tradeTs := env.now.Load() - 500
	env.feed.send(env.pool.Address, &domain.TradeEvent{
		PoolAddress: env.pool.Address,
		TimestampMs: tradeTs,
		Price:       4.2,
		QuoteAmount: 100,
		Side:        domain.TradeBuy,
	})

	waitFor(t, "open bucket persisted", func() bool {
		n, _ := env.candles.Count(ctx, env.pool.Address, domain.FinestTimeframe())
		return n > 0
	})

	waitFor(t, "checkpoint advanced", func() bool {
		cp, err := env.checkpoints.Get(ctx, env.pool.Address, domain.FinestTimeframe())
		return err == nil && cp.NewestMs == domain.FinestTimeframe().TruncateMs(tradeTs)
	})

	var sawTrade, sawUpdate bool
	waitFor(t, "trade events", func() bool {
		for _, k := range env.pub.kinds() {
			if k == domain.EventTrade {
				sawTrade = true
			}
			if k == domain.EventCandleUpdate {
				sawUpdate = true
			}
		}
		return sawTrade && sawUpdate
	})
}

func TestMonitor_DemotesDormantPool(t *testing.T) {
	env := newMonitorEnv(t)
	env.completeCheckpoint(t, domain.FinestTimeframe())

	ctx := context.Background()
	if err := env.monitor.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !env.monitor.IsLive(env.pool.Address) {
		t.Fatal("pool not promoted")
	}

	if err := env.pools.SetTier(ctx, env.pool.Address, domain.TierDormant); err != nil {
		t.Fatalf("set tier: %v", err)
	}
	if err := env.monitor.Scan(ctx); err != nil {
		t.Fatalf("second scan: %v", err)
	}

	if env.monitor.IsLive(env.pool.Address) {
		t.Fatal("dormant pool still live")
	}
	env.feed.mu.Lock()
	unsub := len(env.feed.unsubscribed)
	env.feed.mu.Unlock()
	if unsub != 1 {
		t.Errorf("unsubscribe calls = %d, want 1", unsub)
	}
}

func TestMonitor_DemotesStaleSession(t *testing.T) {
	env := newMonitorEnv(t)
	env.completeCheckpoint(t, domain.FinestTimeframe())

	ctx := context.Background()
	if err := env.monitor.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !env.monitor.IsLive(env.pool.Address) {
		t.Fatal("pool not promoted")
	}

	// Feed goes quiet for longer than the finest maintenance interval
	env.now.Add(int64(domain.FinestTimeframe().MaintenanceInterval()/time.Millisecond) + 5_000)
	if err := env.monitor.Scan(ctx); err != nil {
		t.Fatalf("second scan: %v", err)
	}

	if env.monitor.IsLive(env.pool.Address) {
		t.Fatal("stale session still live")
	}

	// Demotion announces the fallback to polling
	var sawBackfill bool
	env.pub.mu.Lock()
	for _, ev := range env.pub.events {
		if ev.Kind == domain.EventStatus && ev.Phase == domain.PhaseBackfill {
			sawBackfill = true
		}
	}
	env.pub.mu.Unlock()
	if !sawBackfill {
		t.Error("no backfill status event after demotion")
	}
}

func TestMonitor_StaleDemotionBlocksRepromotionUntilFetch(t *testing.T) {
	env := newMonitorEnv(t)
	env.completeCheckpoint(t, domain.FinestTimeframe())

	ctx := context.Background()
	if err := env.monitor.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	defer env.monitor.Stop()
	if !env.monitor.IsLive(env.pool.Address) {
		t.Fatal("pool not promoted")
	}

	env.now.Add(int64(domain.FinestTimeframe().MaintenanceInterval()/time.Millisecond) + 5_000)
	if err := env.monitor.Scan(ctx); err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if env.monitor.IsLive(env.pool.Address) {
		t.Fatal("stale session still live")
	}

	// The checkpoint still claims completeness and sits under the 1h
	// staleness threshold, but the feed outage window has not been fetched:
	// re-promotion must wait
	if err := env.monitor.Scan(ctx); err != nil {
		t.Fatalf("third scan: %v", err)
	}
	if env.monitor.IsLive(env.pool.Address) {
		t.Fatal("re-promoted before polling covered the outage window")
	}

	// Polling advances the checkpoint past the outage; streaming may resume
	env.completeCheckpoint(t, domain.FinestTimeframe())
	if err := env.monitor.Scan(ctx); err != nil {
		t.Fatalf("fourth scan: %v", err)
	}
	if !env.monitor.IsLive(env.pool.Address) {
		t.Fatal("pool not re-promoted after catch-up fetch")
	}
}

func TestMonitor_StopPool(t *testing.T) {
	env := newMonitorEnv(t)
	env.completeCheckpoint(t, domain.FinestTimeframe())

	if err := env.monitor.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	env.monitor.StopPool(env.pool.Address)

	if env.monitor.IsLive(env.pool.Address) {
		t.Fatal("pool still live after StopPool")
	}
}
