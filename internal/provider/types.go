package provider

import (
	"context"
	"errors"

	"solana-candle-engine/internal/domain"
)

// Provider errors.
var (
	// ErrRateLimited is returned when the API refuses the request with 429
	// and retries are exhausted.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrMalformed is returned when the API responds with a body that
	// cannot be interpreted as candle data.
	ErrMalformed = errors.New("provider response malformed")
)

// MaxPageLimit is the largest candle page the API serves per request.
const MaxPageLimit = 1000

// MaxStatsBatch is the largest number of pools one stats request may carry.
const MaxStatsBatch = 30

// PoolStats is the rolling activity summary used for tier classification.
type PoolStats struct {
	Address      string
	VolumeUSD15m float64
	VolumeUSD1h  float64
	VolumeUSD24h float64
	SwapCount15m int
	SwapCount1h  int
	SwapCount24h int
	LastTradeMs  int64
}

// Provider fetches historical candles and pool activity from the market
// data API.
type Provider interface {
	// FetchOHLCV retrieves up to limit candles for a pair strictly older
	// than beforeMs, normalized ascending by bucket. An empty result means
	// no data exists before beforeMs; it is not an error.
	FetchOHLCV(ctx context.Context, pool string, tf domain.Timeframe, beforeMs int64, limit int) ([]*domain.Candle, error)

	// FetchPoolStats retrieves activity stats for up to MaxStatsBatch
	// pools in one call. Pools unknown to the API are absent from the
	// result.
	FetchPoolStats(ctx context.Context, pools []string) (map[string]*PoolStats, error)
}
