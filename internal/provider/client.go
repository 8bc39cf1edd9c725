package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"solana-candle-engine/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// HTTPClient implements Provider over the market data REST API.
type HTTPClient struct {
	baseURL     string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a new market data API client.
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface check.
var _ Provider = (*HTTPClient)(nil)

// timeframePeriods maps timeframes onto the API's period/aggregate pairs.
var timeframePeriods = map[domain.Timeframe]struct {
	period    string
	aggregate int
}{
	domain.Timeframe1s:  {"second", 1},
	domain.Timeframe15s: {"second", 15},
	domain.Timeframe1m:  {"minute", 1},
	domain.Timeframe5m:  {"minute", 5},
	domain.Timeframe15m: {"minute", 15},
	domain.Timeframe1h:  {"hour", 1},
	domain.Timeframe4h:  {"hour", 4},
	domain.Timeframe1d:  {"day", 1},
}

// ohlcvResponse is the raw API response for an OHLCV page.
// Each list entry is [timestamp_sec, open, high, low, close, volume].
type ohlcvResponse struct {
	Data struct {
		Attributes struct {
			OHLCVList [][]float64 `json:"ohlcv_list"`
		} `json:"attributes"`
	} `json:"data"`
}

// FetchOHLCV retrieves one page of candles older than beforeMs, ascending.
func (c *HTTPClient) FetchOHLCV(ctx context.Context, pool string, tf domain.Timeframe, beforeMs int64, limit int) ([]*domain.Candle, error) {
	mapping, ok := timeframePeriods[tf]
	if !ok {
		return nil, fmt.Errorf("unsupported timeframe %q", tf)
	}
	if limit <= 0 || limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	q := url.Values{}
	q.Set("aggregate", fmt.Sprintf("%d", mapping.aggregate))
	q.Set("before_timestamp", fmt.Sprintf("%d", beforeMs/1000))
	q.Set("limit", fmt.Sprintf("%d", limit))

	endpoint := fmt.Sprintf("%s/pools/%s/ohlcv/%s?%s", c.baseURL, pool, mapping.period, q.Encode())

	var resp ohlcvResponse
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	candles := make([]*domain.Candle, 0, len(resp.Data.Attributes.OHLCVList))
	for _, row := range resp.Data.Attributes.OHLCVList {
		if len(row) != 6 {
			return nil, fmt.Errorf("%w: ohlcv row has %d fields", ErrMalformed, len(row))
		}
		candles = append(candles, &domain.Candle{
			PoolAddress: pool,
			Timeframe:   tf,
			BucketMs:    tf.TruncateMs(int64(row[0]) * 1000),
			Open:        row[1],
			High:        row[2],
			Low:         row[3],
			Close:       row[4],
			Volume:      row[5],
		})
	}

	// The API serves newest-first, callers always see ascending
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].BucketMs < candles[j].BucketMs
	})

	return candles, nil
}

// statsResponse is the raw API response for a multi-pool stats request.
// Volumes come as decimal strings.
type statsResponse struct {
	Data []struct {
		Attributes struct {
			Address   string `json:"address"`
			VolumeUSD struct {
				M15 string `json:"m15"`
				H1  string `json:"h1"`
				H24 string `json:"h24"`
			} `json:"volume_usd"`
			LastTradeAt  int64 `json:"last_trade_at"`
			Transactions struct {
				M15 int `json:"m15"`
				H1  int `json:"h1"`
				H24 int `json:"h24"`
			} `json:"transactions"`
		} `json:"attributes"`
	} `json:"data"`
}

// parseUSD parses a decimal volume string; absent fields count as zero.
func parseUSD(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: volume %q", ErrMalformed, s)
	}
	return v, nil
}

// FetchPoolStats retrieves activity stats for up to MaxStatsBatch pools.
func (c *HTTPClient) FetchPoolStats(ctx context.Context, pools []string) (map[string]*PoolStats, error) {
	if len(pools) == 0 {
		return map[string]*PoolStats{}, nil
	}
	if len(pools) > MaxStatsBatch {
		return nil, fmt.Errorf("stats batch of %d exceeds limit %d", len(pools), MaxStatsBatch)
	}

	endpoint := fmt.Sprintf("%s/pools/multi/%s", c.baseURL, strings.Join(pools, ","))

	var resp statsResponse
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	stats := make(map[string]*PoolStats, len(resp.Data))
	for _, item := range resp.Data {
		attr := item.Attributes
		v15m, err := parseUSD(attr.VolumeUSD.M15)
		if err != nil {
			return nil, err
		}
		v1h, err := parseUSD(attr.VolumeUSD.H1)
		if err != nil {
			return nil, err
		}
		v24h, err := parseUSD(attr.VolumeUSD.H24)
		if err != nil {
			return nil, err
		}
		stats[attr.Address] = &PoolStats{
			Address:      attr.Address,
			VolumeUSD15m: v15m,
			VolumeUSD1h:  v1h,
			VolumeUSD24h: v24h,
			SwapCount15m: attr.Transactions.M15,
			SwapCount1h:  attr.Transactions.H1,
			SwapCount24h: attr.Transactions.H24,
			LastTradeMs:  attr.LastTradeAt * 1000,
		}
	}

	return stats, nil
}

// get performs a GET with retries and exponential backoff.
func (c *HTTPClient) get(ctx context.Context, endpoint string, result interface{}) error {
	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = ErrRateLimited
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
			continue
		}

		if err := json.Unmarshal(body, result); err != nil {
			// A body that doesn't parse won't parse on retry either
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		return nil
	}

	if errors.Is(lastErr, ErrRateLimited) {
		return ErrRateLimited
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
