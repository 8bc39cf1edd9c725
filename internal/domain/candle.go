package domain

import "fmt"

// Candle is one OHLCV bucket for a (pool, timeframe) pair.
// BucketMs is the bucket start, Unix ms, aligned to the timeframe boundary.
type Candle struct {
	PoolAddress string
	Timeframe   Timeframe
	BucketMs    int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
}

// Validate enforces the candle invariant:
// high >= max(open, close) >= min(open, close) >= low, volume >= 0,
// bucket aligned to the timeframe boundary.
func (c *Candle) Validate() error {
	if c.PoolAddress == "" {
		return fmt.Errorf("candle: empty pool address")
	}
	if !c.Timeframe.Valid() {
		return fmt.Errorf("candle: invalid timeframe %q", c.Timeframe)
	}
	if c.Timeframe.TruncateMs(c.BucketMs) != c.BucketMs {
		return fmt.Errorf("candle: bucket %d not aligned to %s boundary", c.BucketMs, c.Timeframe)
	}
	if c.Volume < 0 {
		return fmt.Errorf("candle: negative volume %f", c.Volume)
	}
	hi, lo := c.Open, c.Open
	if c.Close > hi {
		hi = c.Close
	}
	if c.Close < lo {
		lo = c.Close
	}
	if c.High < hi {
		return fmt.Errorf("candle: high %f below body %f", c.High, hi)
	}
	if c.Low > lo {
		return fmt.Errorf("candle: low %f above body %f", c.Low, lo)
	}
	return nil
}
