package domain

// TradeSide marks the direction of a trade relative to the base token.
type TradeSide string

const (
	TradeBuy  TradeSide = "buy"
	TradeSell TradeSide = "sell"
)

// TradeEvent is one trade delivered by the push feed for a live pool.
// The engine only consumes these.
type TradeEvent struct {
	PoolAddress string
	TimestampMs int64
	Price       float64
	BaseAmount  float64
	QuoteAmount float64 // quote-side notional, used as candle volume
	Side        TradeSide
}
