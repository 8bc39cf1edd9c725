package domain

import "testing"

func validCandle() *Candle {
	return &Candle{
		PoolAddress: "pool1",
		Timeframe:   Timeframe1m,
		BucketMs:    1_704_067_200_000,
		Open:        1.0,
		High:        1.5,
		Low:         0.8,
		Close:       1.2,
		Volume:      100,
	}
}

func TestCandle_Validate(t *testing.T) {
	if err := validCandle().Validate(); err != nil {
		t.Fatalf("valid candle rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Candle)
	}{
		{"empty pool", func(c *Candle) { c.PoolAddress = "" }},
		{"bad timeframe", func(c *Candle) { c.Timeframe = "3m" }},
		{"unaligned bucket", func(c *Candle) { c.BucketMs += 500 }},
		{"negative volume", func(c *Candle) { c.Volume = -1 }},
		{"high below close", func(c *Candle) { c.High = 1.1 }},
		{"low above open", func(c *Candle) { c.Low = 1.05 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCandle()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestValidateAddress(t *testing.T) {
	// Raydium AMM v4 program id: a well-formed 32-byte base58 address.
	if err := ValidateAddress("675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"); err != nil {
		t.Errorf("valid address rejected: %v", err)
	}
	if err := ValidateAddress("not-base58-0OIl"); err == nil {
		t.Error("invalid base58 accepted")
	}
	if err := ValidateAddress("abc"); err == nil {
		t.Error("short address accepted")
	}
}
