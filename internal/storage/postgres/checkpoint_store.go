package postgres

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"solana-candle-engine/internal/domain"
	"solana-candle-engine/internal/storage"
)

// CheckpointStore implements storage.CheckpointStore using PostgreSQL.
type CheckpointStore struct {
	pool *Pool
}

// NewCheckpointStore creates a new CheckpointStore.
func NewCheckpointStore(pool *Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// Get retrieves the checkpoint for a pair. Returns ErrNotFound if not exists.
func (s *CheckpointStore) Get(ctx context.Context, pool string, tf domain.Timeframe) (*domain.Checkpoint, error) {
	query := `
		SELECT pool_address, timeframe, oldest_ms, newest_ms, complete
		FROM backfill_checkpoints
		WHERE pool_address = $1 AND timeframe = $2
	`

	row := s.pool.QueryRow(ctx, query, pool, string(tf))
	cp, err := scanCheckpoint(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return cp, nil
}

// Upsert creates or replaces the checkpoint for a pair.
func (s *CheckpointStore) Upsert(ctx context.Context, cp *domain.Checkpoint) error {
	if cp == nil || cp.PoolAddress == "" || !cp.Timeframe.Valid() {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO backfill_checkpoints (pool_address, timeframe, oldest_ms, newest_ms, complete)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pool_address, timeframe) DO UPDATE SET
			oldest_ms = EXCLUDED.oldest_ms,
			newest_ms = EXCLUDED.newest_ms,
			complete = EXCLUDED.complete,
			updated_at = NOW()
	`

	_, err := s.pool.Exec(ctx, query,
		cp.PoolAddress,
		string(cp.Timeframe),
		cp.OldestMs,
		cp.NewestMs,
		cp.Complete,
	)
	if err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}

// ListByPool retrieves all checkpoints for a pool, finest timeframe first.
func (s *CheckpointStore) ListByPool(ctx context.Context, pool string) ([]*domain.Checkpoint, error) {
	query := `
		SELECT pool_address, timeframe, oldest_ms, newest_ms, complete
		FROM backfill_checkpoints
		WHERE pool_address = $1
	`

	rows, err := s.pool.Query(ctx, query, pool)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints by pool: %w", err)
	}
	defer rows.Close()

	var result []*domain.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		result = append(result, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoint rows: %w", err)
	}

	// Timeframe strings don't sort by duration, order in Go instead
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timeframe.Duration() < result[j].Timeframe.Duration()
	})

	return result, nil
}

// scanCheckpoint scans a single row into a Checkpoint.
func scanCheckpoint(row pgx.Row) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	var tfStr string

	err := row.Scan(
		&cp.PoolAddress,
		&tfStr,
		&cp.OldestMs,
		&cp.NewestMs,
		&cp.Complete,
	)
	if err != nil {
		return nil, err
	}

	cp.Timeframe = domain.Timeframe(tfStr)
	return &cp, nil
}
