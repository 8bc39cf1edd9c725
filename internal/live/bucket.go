package live

import (
	"solana-candle-engine/internal/domain"
)

// BucketSet folds a pool's trade stream into one open candle per timeframe.
// Not safe for concurrent use; each pool session owns its own set.
type BucketSet struct {
	pool string
	open map[domain.Timeframe]*domain.Candle
}

// NewBucketSet creates an empty BucketSet for a pool.
func NewBucketSet(pool string) *BucketSet {
	return &BucketSet{
		pool: pool,
		open: make(map[domain.Timeframe]*domain.Candle),
	}
}

// Apply folds one trade into the open candles. It returns the candles that
// the trade closed (their bucket ended before this trade) and the open
// candles it touched. Trades older than an open bucket are dropped; history
// behind the open bucket belongs to the backfill path.
func (b *BucketSet) Apply(tr *domain.TradeEvent) (closed, updated []*domain.Candle) {
	for _, tf := range domain.Timeframes {
		bucketMs := tf.TruncateMs(tr.TimestampMs)
		cur := b.open[tf]

		switch {
		case cur == nil:
			cur = b.newCandle(tf, bucketMs, tr)
			b.open[tf] = cur

		case bucketMs > cur.BucketMs:
			final := *cur
			closed = append(closed, &final)
			cur = b.newCandle(tf, bucketMs, tr)
			b.open[tf] = cur

		case bucketMs < cur.BucketMs:
			// Late trade from before the open bucket
			continue

		default:
			cur.Close = tr.Price
			if tr.Price > cur.High {
				cur.High = tr.Price
			}
			if tr.Price < cur.Low {
				cur.Low = tr.Price
			}
			cur.Volume += tr.QuoteAmount
		}

		copyOf := *cur
		updated = append(updated, &copyOf)
	}

	return closed, updated
}

// Open returns copies of all current open candles.
func (b *BucketSet) Open() []*domain.Candle {
	out := make([]*domain.Candle, 0, len(b.open))
	for _, tf := range domain.Timeframes {
		if c, ok := b.open[tf]; ok {
			copyOf := *c
			out = append(out, &copyOf)
		}
	}
	return out
}

// NewestMs returns the start of the finest open bucket, or 0 when no trade
// has been applied yet.
func (b *BucketSet) NewestMs() int64 {
	if c, ok := b.open[domain.FinestTimeframe()]; ok {
		return c.BucketMs
	}
	return 0
}

func (b *BucketSet) newCandle(tf domain.Timeframe, bucketMs int64, tr *domain.TradeEvent) *domain.Candle {
	return &domain.Candle{
		PoolAddress: b.pool,
		Timeframe:   tf,
		BucketMs:    bucketMs,
		Open:        tr.Price,
		High:        tr.Price,
		Low:         tr.Price,
		Close:       tr.Price,
		Volume:      tr.QuoteAmount,
	}
}
