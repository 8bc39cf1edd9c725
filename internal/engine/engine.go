package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"solana-candle-engine/internal/backfill"
	"solana-candle-engine/internal/domain"
	"solana-candle-engine/internal/storage"
)

// ErrNotTracked is returned for control operations on assets the engine is
// not monitoring.
var ErrNotTracked = errors.New("asset not tracked")

// LiveController is the slice of the live monitor the engine drives. The
// monitor implements it.
type LiveController interface {
	IsLive(pool string) bool
	StopPool(pool string)
}

// PoolSpec describes one pool of an asset as supplied by discovery.
type PoolSpec struct {
	Address string
	Dex     string
}

// AssetInput is a discovery record: an asset and the pools trading it.
type AssetInput struct {
	Asset       string
	CreatedAtMs int64
	Pools       []PoolSpec
}

// PoolStatus is the per-pool slice of an asset status report.
type PoolStatus struct {
	Address     string
	Dex         string
	Tier        domain.ActivityTier
	Live        bool
	Checkpoints []*domain.Checkpoint
}

// AssetStatus is the control-surface status report for one asset.
type AssetStatus struct {
	Asset  string
	Active bool
	Phase  string
	Pools  []PoolStatus
}

// Options configures the Engine.
type Options struct {
	Publisher backfill.Publisher
	Logger    *log.Logger
}

// Engine is the registry of monitored assets and the control surface over
// it. Start and stop are idempotent; starting an already-active asset
// reports its current status instead of failing. Stopping deletes the
// asset's pools from the registry so the next scheduling cycle skips them
// and in-flight fetch results get discarded at the apply boundary; stored
// candles and checkpoints survive for a later restart.
type Engine struct {
	pools       storage.PoolStore
	checkpoints storage.CheckpointStore
	live        LiveController
	publisher   backfill.Publisher
	logger      *log.Logger

	mu     sync.Mutex
	active map[string]struct{} // keyed by asset address
}

// NewEngine creates an Engine.
func NewEngine(pools storage.PoolStore, checkpoints storage.CheckpointStore, live LiveController, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Engine{
		pools:       pools,
		checkpoints: checkpoints,
		live:        live,
		publisher:   opts.Publisher,
		logger:      opts.Logger,
		active:      make(map[string]struct{}),
	}
}

// Restore rebuilds the active set from the pool registry after a restart.
func (e *Engine) Restore(ctx context.Context) error {
	pools, err := e.pools.ListPools(ctx)
	if err != nil {
		return fmt.Errorf("list pools: %w", err)
	}

	e.mu.Lock()
	for _, p := range pools {
		e.active[p.AssetAddress] = struct{}{}
	}
	n := len(e.active)
	e.mu.Unlock()

	e.logger.Printf("engine: restored %d tracked assets", n)
	return nil
}

// StartMonitoring registers an asset and its pools. Already-active assets
// are left untouched and their current status is returned.
func (e *Engine) StartMonitoring(ctx context.Context, in AssetInput) (*AssetStatus, error) {
	if err := domain.ValidateAddress(in.Asset); err != nil {
		return nil, fmt.Errorf("asset address: %w", err)
	}
	if len(in.Pools) == 0 {
		return nil, fmt.Errorf("asset %s: %w: no pools", in.Asset, storage.ErrInvalidInput)
	}
	for _, p := range in.Pools {
		if err := domain.ValidateAddress(p.Address); err != nil {
			return nil, fmt.Errorf("pool address: %w", err)
		}
	}

	e.mu.Lock()
	_, already := e.active[in.Asset]
	if !already {
		e.active[in.Asset] = struct{}{}
	}
	e.mu.Unlock()

	if already {
		return e.Status(ctx, in.Asset, "")
	}

	now := time.Now().UnixMilli()
	for _, p := range in.Pools {
		pool := &domain.Pool{
			Address:        p.Address,
			AssetAddress:   in.Asset,
			AssetCreatedAt: in.CreatedAtMs,
			Dex:            p.Dex,
			CreatedAt:      now,
		}
		if err := e.pools.UpsertPool(ctx, pool); err != nil {
			e.mu.Lock()
			delete(e.active, in.Asset)
			e.mu.Unlock()
			return nil, fmt.Errorf("register pool %s: %w", p.Address, err)
		}
	}

	e.logger.Printf("engine: tracking %s (%d pools)", in.Asset, len(in.Pools))
	e.publish(&domain.UpdateEvent{
		Kind:         domain.EventStatus,
		AssetAddress: in.Asset,
		Phase:        domain.PhaseMetadata,
		TimestampMs:  now,
	})
	e.publish(&domain.UpdateEvent{
		Kind:         domain.EventStatus,
		AssetAddress: in.Asset,
		Phase:        domain.PhaseBackfill,
		TimestampMs:  now,
	})

	return e.Status(ctx, in.Asset, "")
}

// UpdatePools upserts newly discovered pools for an already-tracked asset.
func (e *Engine) UpdatePools(ctx context.Context, asset string, pools []PoolSpec) error {
	e.mu.Lock()
	_, ok := e.active[asset]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("asset %s: %w", asset, ErrNotTracked)
	}

	existing, err := e.pools.ListByAsset(ctx, asset)
	if err != nil {
		return fmt.Errorf("list pools: %w", err)
	}
	createdAt := int64(0)
	if len(existing) > 0 {
		createdAt = existing[0].AssetCreatedAt
	}

	now := time.Now().UnixMilli()
	for _, p := range pools {
		if err := domain.ValidateAddress(p.Address); err != nil {
			return fmt.Errorf("pool address: %w", err)
		}
		pool := &domain.Pool{
			Address:        p.Address,
			AssetAddress:   asset,
			AssetCreatedAt: createdAt,
			Dex:            p.Dex,
			CreatedAt:      now,
		}
		if err := e.pools.UpsertPool(ctx, pool); err != nil {
			return fmt.Errorf("register pool %s: %w", p.Address, err)
		}
	}
	return nil
}

// StopMonitoring unregisters an asset. Stopping an unknown asset is a
// no-op.
func (e *Engine) StopMonitoring(ctx context.Context, asset string) error {
	e.mu.Lock()
	_, ok := e.active[asset]
	if ok {
		delete(e.active, asset)
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}

	pools, err := e.pools.ListByAsset(ctx, asset)
	if err != nil {
		return fmt.Errorf("list pools: %w", err)
	}

	for _, p := range pools {
		if e.live != nil {
			e.live.StopPool(p.Address)
		}
		if err := e.pools.DeletePool(ctx, p.Address); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("unregister pool %s: %w", p.Address, err)
		}
	}

	e.logger.Printf("engine: stopped tracking %s (%d pools)", asset, len(pools))
	return nil
}

// Status reports an asset's phase, pools and their checkpoints. A
// non-empty timeframe narrows the checkpoint listing to that timeframe.
func (e *Engine) Status(ctx context.Context, asset string, tf domain.Timeframe) (*AssetStatus, error) {
	e.mu.Lock()
	_, active := e.active[asset]
	e.mu.Unlock()
	if !active {
		return nil, fmt.Errorf("asset %s: %w", asset, ErrNotTracked)
	}
	if tf != "" && !tf.Valid() {
		return nil, fmt.Errorf("timeframe %q: %w", tf, storage.ErrInvalidInput)
	}

	pools, err := e.pools.ListByAsset(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}

	st := &AssetStatus{Asset: asset, Active: true, Phase: domain.PhaseMetadata}
	anyCheckpoint := false
	for _, p := range pools {
		ps := PoolStatus{
			Address: p.Address,
			Dex:     p.Dex,
			Tier:    p.Tier,
		}
		if e.live != nil && e.live.IsLive(p.Address) {
			ps.Live = true
		}

		if tf != "" {
			cp, err := e.checkpoints.Get(ctx, p.Address, tf)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("checkpoint %s/%s: %w", p.Address, tf, err)
			}
			if cp != nil {
				ps.Checkpoints = []*domain.Checkpoint{cp}
			}
		} else {
			cps, err := e.checkpoints.ListByPool(ctx, p.Address)
			if err != nil {
				return nil, fmt.Errorf("checkpoints %s: %w", p.Address, err)
			}
			ps.Checkpoints = cps
		}
		if len(ps.Checkpoints) > 0 {
			anyCheckpoint = true
		}

		st.Pools = append(st.Pools, ps)
	}

	for _, ps := range st.Pools {
		if ps.Live {
			st.Phase = domain.PhaseLive
			break
		}
	}
	if st.Phase != domain.PhaseLive && anyCheckpoint {
		st.Phase = domain.PhaseBackfill
	}

	return st, nil
}

// ListActive returns the tracked asset addresses, sorted.
func (e *Engine) ListActive() []string {
	e.mu.Lock()
	out := make([]string, 0, len(e.active))
	for asset := range e.active {
		out = append(out, asset)
	}
	e.mu.Unlock()

	sort.Strings(out)
	return out
}

// IsTracked reports whether an asset is in the active set.
func (e *Engine) IsTracked(asset string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[asset]
	return ok
}

func (e *Engine) publish(ev *domain.UpdateEvent) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(ev.AssetAddress, ev)
}
