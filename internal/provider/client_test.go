package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"solana-candle-engine/internal/domain"
)

func TestFetchOHLCV_NormalizesAscending(t *testing.T) {
	// API serves newest-first, seconds precision
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("aggregate"); got != "5" {
			t.Errorf("aggregate = %s, want 5", got)
		}
		if got := r.URL.Query().Get("before_timestamp"); got != "1704070800" {
			t.Errorf("before_timestamp = %s, want 1704070800", got)
		}
		fmt.Fprint(w, `{"data":{"attributes":{"ohlcv_list":[
			[1704070500, 1.2, 1.3, 1.1, 1.25, 500],
			[1704070200, 1.0, 1.2, 0.9, 1.2, 300]
		]}}}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	candles, err := c.FetchOHLCV(context.Background(), "pool-a", domain.Timeframe5m, 1_704_070_800_000, 100)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if candles[0].BucketMs != 1_704_070_200_000 || candles[1].BucketMs != 1_704_070_500_000 {
		t.Errorf("candles not ascending: %d, %d", candles[0].BucketMs, candles[1].BucketMs)
	}
	if candles[0].Volume != 300 {
		t.Errorf("volume = %v, want 300", candles[0].Volume)
	}
	for _, c := range candles {
		if err := c.Validate(); err != nil {
			t.Errorf("fetched candle invalid: %v", err)
		}
	}
}

func TestFetchOHLCV_EmptyPageIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"attributes":{"ohlcv_list":[]}}}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	candles, err := c.FetchOHLCV(context.Background(), "pool-a", domain.Timeframe1m, 1_704_070_800_000, 100)
	if err != nil {
		t.Fatalf("empty page returned error: %v", err)
	}
	if len(candles) != 0 {
		t.Errorf("expected no candles, got %d", len(candles))
	}
}

func TestFetchOHLCV_MalformedRow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"attributes":{"ohlcv_list":[[1704070200, 1.0]]}}}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	_, err := c.FetchOHLCV(context.Background(), "pool-a", domain.Timeframe1m, 1_704_070_800_000, 100)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestFetchOHLCV_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"data":{"attributes":{"ohlcv_list":[[1704070200, 1, 1, 1, 1, 10]]}}}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, WithRetryDelay(time.Millisecond), WithMaxDelay(2*time.Millisecond))
	candles, err := c.FetchOHLCV(context.Background(), "pool-a", domain.Timeframe1m, 1_704_070_800_000, 100)
	if err != nil {
		t.Fatalf("fetch after retry: %v", err)
	}
	if len(candles) != 1 {
		t.Errorf("expected 1 candle, got %d", len(candles))
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestFetchOHLCV_RateLimitExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, WithMaxRetries(1), WithRetryDelay(time.Millisecond))
	_, err := c.FetchOHLCV(context.Background(), "pool-a", domain.Timeframe1m, 1_704_070_800_000, 100)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestFetchPoolStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[
			{"attributes":{"address":"pool-a","volume_usd":{"m15":"310.25","h1":"980","h24":"12500.5"},"last_trade_at":1704070200,"transactions":{"m15":4,"h1":12,"h24":340}}}
		]}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	stats, err := c.FetchPoolStats(context.Background(), []string{"pool-a", "pool-b"})
	if err != nil {
		t.Fatalf("fetch stats: %v", err)
	}

	got, ok := stats["pool-a"]
	if !ok {
		t.Fatal("pool-a missing from stats")
	}
	if got.VolumeUSD15m != 310.25 || got.VolumeUSD1h != 980 || got.VolumeUSD24h != 12500.5 {
		t.Errorf("volumes = %v/%v/%v", got.VolumeUSD15m, got.VolumeUSD1h, got.VolumeUSD24h)
	}
	if got.SwapCount15m != 4 || got.SwapCount1h != 12 || got.SwapCount24h != 340 {
		t.Errorf("swap counts = %d/%d/%d", got.SwapCount15m, got.SwapCount1h, got.SwapCount24h)
	}
	if got.LastTradeMs != 1_704_070_200_000 {
		t.Errorf("last trade = %d", got.LastTradeMs)
	}

	// Pools unknown to the API are simply absent
	if _, ok := stats["pool-b"]; ok {
		t.Error("pool-b should be absent")
	}
}

func TestFetchPoolStats_BatchLimit(t *testing.T) {
	c := NewHTTPClient("http://unused")
	pools := make([]string, MaxStatsBatch+1)
	for i := range pools {
		pools[i] = fmt.Sprintf("pool-%d", i)
	}
	if _, err := c.FetchPoolStats(context.Background(), pools); err == nil {
		t.Fatal("oversized batch accepted")
	}
}
