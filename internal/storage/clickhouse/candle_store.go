package clickhouse

import (
	"context"
	"fmt"

	"solana-candle-engine/internal/domain"
	"solana-candle-engine/internal/storage"
)

// CandleStore implements storage.CandleStore using ClickHouse.
//
// The candles table is a ReplacingMergeTree keyed by (pool, timeframe,
// bucket): re-ingesting a bucket inserts a newer version and reads collapse
// to the latest via FINAL, which gives the one-row-per-bucket merge
// semantics without a read-modify-write cycle.
type CandleStore struct {
	conn *Conn
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(conn *Conn) *CandleStore {
	return &CandleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// Upsert merges candles into the store. Idempotent per bucket.
func (s *CandleStore) Upsert(ctx context.Context, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	// Validate the whole batch before preparing the insert
	for _, c := range candles {
		if c == nil {
			return storage.ErrInvalidInput
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candles (
			pool_address, timeframe, bucket_ms, open, high, low, close, volume
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, c := range candles {
		err = batch.Append(
			c.PoolAddress, string(c.Timeframe), c.BucketMs,
			c.Open, c.High, c.Low, c.Close, c.Volume,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetRange retrieves candles within [fromMs, toMs] (inclusive), bucket ASC.
func (s *CandleStore) GetRange(ctx context.Context, pool string, tf domain.Timeframe, fromMs, toMs int64) ([]*domain.Candle, error) {
	query := `
		SELECT pool_address, timeframe, bucket_ms, open, high, low, close, volume
		FROM candles FINAL
		WHERE pool_address = ? AND timeframe = ? AND bucket_ms >= ? AND bucket_ms <= ?
		ORDER BY bucket_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, pool, string(tf), fromMs, toMs)
	if err != nil {
		return nil, fmt.Errorf("query candles by range: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// GetAll retrieves all candles for a pair, bucket ASC.
func (s *CandleStore) GetAll(ctx context.Context, pool string, tf domain.Timeframe) ([]*domain.Candle, error) {
	query := `
		SELECT pool_address, timeframe, bucket_ms, open, high, low, close, volume
		FROM candles FINAL
		WHERE pool_address = ? AND timeframe = ?
		ORDER BY bucket_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, pool, string(tf))
	if err != nil {
		return nil, fmt.Errorf("query all candles: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// Count returns the number of distinct buckets stored for a pair.
func (s *CandleStore) Count(ctx context.Context, pool string, tf domain.Timeframe) (int, error) {
	query := `
		SELECT count(*) FROM candles FINAL
		WHERE pool_address = ? AND timeframe = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, pool, string(tf)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count candles: %w", err)
	}
	return int(count), nil
}

// Rows interface for scanning
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanCandles scans multiple rows into a slice.
func scanCandles(rows chRows) ([]*domain.Candle, error) {
	var candles []*domain.Candle

	for rows.Next() {
		var c domain.Candle
		var tfStr string

		err := rows.Scan(
			&c.PoolAddress, &tfStr, &c.BucketMs,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}

		c.Timeframe = domain.Timeframe(tfStr)
		candles = append(candles, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}

	return candles, nil
}
