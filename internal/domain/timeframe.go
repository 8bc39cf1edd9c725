package domain

import "time"

// Timeframe identifies a candle aggregation interval.
type Timeframe string

// Tracked timeframes, finest to coarsest.
const (
	Timeframe1s  Timeframe = "1s"
	Timeframe15s Timeframe = "15s"
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Timeframes lists all tracked timeframes, finest first.
var Timeframes = []Timeframe{
	Timeframe1s,
	Timeframe15s,
	Timeframe1m,
	Timeframe5m,
	Timeframe15m,
	Timeframe1h,
	Timeframe4h,
	Timeframe1d,
}

// timeframeDurations maps each timeframe to its bucket width.
var timeframeDurations = map[Timeframe]time.Duration{
	Timeframe1s:  1 * time.Second,
	Timeframe15s: 15 * time.Second,
	Timeframe1m:  1 * time.Minute,
	Timeframe5m:  5 * time.Minute,
	Timeframe15m: 15 * time.Minute,
	Timeframe1h:  1 * time.Hour,
	Timeframe4h:  4 * time.Hour,
	Timeframe1d:  24 * time.Hour,
}

// maintenanceIntervals maps each timeframe to how often a completed series
// needs refreshing. Independent of the staleness threshold used during
// backfill.
var maintenanceIntervals = map[Timeframe]time.Duration{
	Timeframe1s:  1 * time.Minute,
	Timeframe15s: 1 * time.Minute,
	Timeframe1m:  5 * time.Minute,
	Timeframe5m:  15 * time.Minute,
	Timeframe15m: 1 * time.Hour,
	Timeframe1h:  2 * time.Hour,
	Timeframe4h:  8 * time.Hour,
	Timeframe1d:  24 * time.Hour,
}

// Valid reports whether tf is one of the tracked timeframes.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// Duration returns the bucket width of the timeframe.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// DurationMs returns the bucket width in milliseconds.
func (tf Timeframe) DurationMs() int64 {
	return timeframeDurations[tf].Milliseconds()
}

// MaintenanceInterval returns how often a completed series for this
// timeframe needs refreshing.
func (tf Timeframe) MaintenanceInterval() time.Duration {
	return maintenanceIntervals[tf]
}

// TruncateMs aligns a timestamp (ms) down to the start of its bucket.
func (tf Timeframe) TruncateMs(tsMs int64) int64 {
	d := tf.DurationMs()
	if d <= 0 {
		return tsMs
	}
	return tsMs - tsMs%d
}

// FinestTimeframe returns the finest tracked timeframe. The live transition
// keys off its checkpoint.
func FinestTimeframe() Timeframe {
	return Timeframes[0]
}
