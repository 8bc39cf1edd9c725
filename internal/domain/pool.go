package domain

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// ActivityTier classifies a pool by recent trading activity. Higher values
// are scheduled first.
type ActivityTier int

const (
	TierDormant ActivityTier = iota
	TierNormal
	TierActive
	TierHot
	TierRealtime
)

// String returns the tier name.
func (t ActivityTier) String() string {
	switch t {
	case TierDormant:
		return "DORMANT"
	case TierNormal:
		return "NORMAL"
	case TierActive:
		return "ACTIVE"
	case TierHot:
		return "HOT"
	case TierRealtime:
		return "REALTIME"
	default:
		return fmt.Sprintf("ActivityTier(%d)", int(t))
	}
}

// Pool is a liquidity venue for an asset on a specific DEX. The engine
// tracks candle series per (pool, timeframe).
type Pool struct {
	Address        string       // pool account address (base58)
	AssetAddress   string       // mint address of the traded token
	AssetCreatedAt int64        // asset creation time, Unix ms
	Dex            string       // venue identifier, e.g. "raydium"
	Tier           ActivityTier // set by the activity classifier
	CreatedAt      int64        // pool creation time, Unix ms
}

// ValidateAddress checks that s is a plausible Solana account address:
// base58 payload of 32 bytes.
func ValidateAddress(s string) error {
	decoded, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("decode address: %w", err)
	}
	if len(decoded) != 32 {
		return fmt.Errorf("address %q: expected 32 bytes, got %d", s, len(decoded))
	}
	return nil
}
