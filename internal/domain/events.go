package domain

// EventKind identifies an update-channel message type.
type EventKind string

const (
	// EventStatus reports the current phase for an asset: metadata,
	// backfill, or live.
	EventStatus EventKind = "status"
	// EventProgress reports current/total during a backfill page.
	EventProgress EventKind = "progress"
	// EventHistoricalComplete signals that backfill finished for a
	// (pool, timeframe); carries the swap count and full candle set.
	EventHistoricalComplete EventKind = "historical-complete"
	// EventLiveStarted signals the switch to event-driven updates.
	EventLiveStarted EventKind = "live-started"
	// EventTrade carries one live trade.
	EventTrade EventKind = "trade"
	// EventCandleUpdate carries an updated open bucket for one timeframe.
	EventCandleUpdate EventKind = "candle-update"
	// EventError surfaces a coarse failure reason. Raw provider error
	// bodies are never forwarded.
	EventError EventKind = "error"
)

// Phase values carried by EventStatus.
const (
	PhaseMetadata = "metadata"
	PhaseBackfill = "backfill"
	PhaseLive     = "live"
)

// Critical reports whether an event of this kind may be dropped from a full
// subscriber queue. Progress ticks, trades and open-bucket updates are
// droppable; terminal and phase events are not.
func (k EventKind) Critical() bool {
	switch k {
	case EventProgress, EventTrade, EventCandleUpdate:
		return false
	default:
		return true
	}
}

// UpdateEvent is a single message on an asset's update channel. Fields are
// populated per kind; unset fields are zero.
type UpdateEvent struct {
	Kind         EventKind
	AssetAddress string
	PoolAddress  string
	Timeframe    Timeframe
	TimestampMs  int64

	Phase string // status

	Current int // progress
	Total   int // progress

	SwapCount int       // historical-complete
	Candles   []*Candle // historical-complete: full set; candle-update: one bucket

	Trade *TradeEvent // trade

	Reason string // error
}
