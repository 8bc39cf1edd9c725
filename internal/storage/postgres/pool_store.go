package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-candle-engine/internal/domain"
	"solana-candle-engine/internal/storage"
)

// PoolStore implements storage.PoolStore using PostgreSQL.
type PoolStore struct {
	pool *Pool
}

// NewPoolStore creates a new PoolStore.
func NewPoolStore(pool *Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PoolStore = (*PoolStore)(nil)

// UpsertPool adds or refreshes a tracked pool. A refresh keeps the tier and
// created_at written earlier.
func (s *PoolStore) UpsertPool(ctx context.Context, p *domain.Pool) error {
	if p == nil || p.Address == "" || p.AssetAddress == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO pools (address, asset_address, asset_created_at, dex, tier, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address) DO UPDATE SET
			asset_address = EXCLUDED.asset_address,
			asset_created_at = EXCLUDED.asset_created_at,
			dex = EXCLUDED.dex
	`

	_, err := s.pool.Exec(ctx, query,
		p.Address,
		p.AssetAddress,
		p.AssetCreatedAt,
		p.Dex,
		int(p.Tier),
		p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert pool: %w", err)
	}
	return nil
}

// GetPool retrieves a pool by address. Returns ErrNotFound if untracked.
func (s *PoolStore) GetPool(ctx context.Context, address string) (*domain.Pool, error) {
	query := `
		SELECT address, asset_address, asset_created_at, dex, tier, created_at
		FROM pools
		WHERE address = $1
	`

	row := s.pool.QueryRow(ctx, query, address)
	p, err := scanPool(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pool: %w", err)
	}
	return p, nil
}

// ListPools retrieves all tracked pools, ordered by address.
func (s *PoolStore) ListPools(ctx context.Context) ([]*domain.Pool, error) {
	query := `
		SELECT address, asset_address, asset_created_at, dex, tier, created_at
		FROM pools
		ORDER BY address ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	defer rows.Close()

	return scanPools(rows)
}

// ListByAsset retrieves all pools of one asset, ordered by address.
func (s *PoolStore) ListByAsset(ctx context.Context, asset string) ([]*domain.Pool, error) {
	query := `
		SELECT address, asset_address, asset_created_at, dex, tier, created_at
		FROM pools
		WHERE asset_address = $1
		ORDER BY address ASC
	`

	rows, err := s.pool.Query(ctx, query, asset)
	if err != nil {
		return nil, fmt.Errorf("list pools by asset: %w", err)
	}
	defer rows.Close()

	return scanPools(rows)
}

// SetTier updates the activity tier of a pool.
func (s *PoolStore) SetTier(ctx context.Context, address string, tier domain.ActivityTier) error {
	query := `UPDATE pools SET tier = $2 WHERE address = $1`

	tag, err := s.pool.Exec(ctx, query, address, int(tier))
	if err != nil {
		return fmt.Errorf("set pool tier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeletePool removes a pool from tracking.
func (s *PoolStore) DeletePool(ctx context.Context, address string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pools WHERE address = $1`, address)
	if err != nil {
		return fmt.Errorf("delete pool: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// scanPool scans a single row into a Pool.
func scanPool(row pgx.Row) (*domain.Pool, error) {
	var p domain.Pool
	var tier int

	err := row.Scan(
		&p.Address,
		&p.AssetAddress,
		&p.AssetCreatedAt,
		&p.Dex,
		&tier,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Tier = domain.ActivityTier(tier)
	return &p, nil
}

// scanPools scans multiple rows into a slice of Pool.
func scanPools(rows pgx.Rows) ([]*domain.Pool, error) {
	var pools []*domain.Pool

	for rows.Next() {
		var p domain.Pool
		var tier int

		err := rows.Scan(
			&p.Address,
			&p.AssetAddress,
			&p.AssetCreatedAt,
			&p.Dex,
			&tier,
			&p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan pool row: %w", err)
		}

		p.Tier = domain.ActivityTier(tier)
		pools = append(pools, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pool rows: %w", err)
	}

	return pools, nil
}
