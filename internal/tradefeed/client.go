package tradefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"solana-candle-engine/internal/domain"
	"solana-candle-engine/internal/live"
)

// Config configures WebSocket client behavior.
type Config struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// Buffer is the per-pool channel capacity.
	Buffer int

	Logger *log.Logger
}

// DefaultConfig returns default WebSocket configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		Buffer:            1024,
	}
}

// Client streams trades over a WebSocket, one subscription per pool. It
// reconnects with exponential backoff and replays all subscriptions after
// a reconnect. Trades for a full subscriber buffer are dropped, the open
// buckets recover from the next trade.
type Client struct {
	endpoint string
	config   Config
	logger   *log.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	subs   map[string]chan *domain.TradeEvent // keyed by pool address
	subsMu sync.RWMutex

	dropped atomic.Uint64

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

// Compile-time check: the live monitor consumes this as its trade feed.
var _ live.TradeFeed = (*Client)(nil)

// NewClient creates a trade feed client and connects to the endpoint.
func NewClient(ctx context.Context, endpoint string, config *Config) (*Client, error) {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultConfig().Buffer
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	c := &Client{
		endpoint: endpoint,
		config:   cfg,
		logger:   cfg.Logger,
		subs:     make(map[string]chan *domain.TradeEvent),
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// connect establishes WebSocket connection.
func (c *Client) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// Subscribe opens a trade stream for a pool.
func (c *Client) Subscribe(ctx context.Context, pool string) (<-chan *domain.TradeEvent, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("client closed")
	}

	c.subsMu.Lock()
	if _, ok := c.subs[pool]; ok {
		c.subsMu.Unlock()
		return nil, fmt.Errorf("pool %s already subscribed", pool)
	}
	ch := make(chan *domain.TradeEvent, c.config.Buffer)
	c.subs[pool] = ch
	c.subsMu.Unlock()

	if err := c.writeControl("subscribe", pool); err != nil {
		c.subsMu.Lock()
		delete(c.subs, pool)
		c.subsMu.Unlock()
		return nil, err
	}

	return ch, nil
}

// Unsubscribe tears a pool's stream down and closes its channel.
func (c *Client) Unsubscribe(pool string) error {
	c.subsMu.Lock()
	ch, ok := c.subs[pool]
	if ok {
		delete(c.subs, pool)
	}
	c.subsMu.Unlock()
	if !ok {
		return nil
	}
	close(ch)

	return c.writeControl("unsubscribe", pool)
}

// Close closes the connection and all subscription channels.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.subsMu.Lock()
	for pool, ch := range c.subs {
		close(ch)
		delete(c.subs, pool)
	}
	c.subsMu.Unlock()

	c.wg.Wait()
	return nil
}

// Dropped returns the number of trades discarded on full buffers.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// controlMessage is an outbound subscribe/unsubscribe frame.
type controlMessage struct {
	Type string `json:"type"`
	Pool string `json:"pool"`
}

func (c *Client) writeControl(msgType, pool string) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteJSON(controlMessage{Type: msgType, Pool: pool}); err != nil {
		return fmt.Errorf("write %s: %w", msgType, err)
	}
	return nil
}

// readLoop reads messages and dispatches trades to subscribers.
func (c *Client) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			if !c.reconnecting.Swap(true) {
				go c.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = c.config.ReconnectDelay

		c.handleMessage(message)
	}
}

// reconnect attempts to reconnect and resubscribe every pool.
func (c *Client) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		// Will retry on next read error
		return
	}

	c.resubscribeAll()
}

// resubscribeAll replays subscriptions after a reconnect. Pool-keyed
// subscriptions make this a plain replay, no id remapping.
func (c *Client) resubscribeAll() {
	c.subsMu.RLock()
	pools := make([]string, 0, len(c.subs))
	for pool := range c.subs {
		pools = append(pools, pool)
	}
	c.subsMu.RUnlock()

	for _, pool := range pools {
		if err := c.writeControl("subscribe", pool); err != nil {
			c.logger.Printf("tradefeed: resubscribe %s: %v", pool, err)
		}
	}
}

// tradeMessage is an inbound trade frame.
type tradeMessage struct {
	Type        string  `json:"type"`
	Pool        string  `json:"pool"`
	TimestampMs int64   `json:"timestamp_ms"`
	Price       float64 `json:"price"`
	BaseAmount  float64 `json:"base_amount"`
	QuoteAmount float64 `json:"quote_amount"`
	Side        string  `json:"side"`
}

// handleMessage processes one incoming frame.
func (c *Client) handleMessage(message []byte) {
	var msg tradeMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Printf("tradefeed: unreadable frame: %v", err)
		return
	}
	if msg.Type != "trade" {
		return
	}

	tr := &domain.TradeEvent{
		PoolAddress: msg.Pool,
		TimestampMs: msg.TimestampMs,
		Price:       msg.Price,
		BaseAmount:  msg.BaseAmount,
		QuoteAmount: msg.QuoteAmount,
		Side:        domain.TradeSide(msg.Side),
	}

	// Send while holding the read lock so Unsubscribe cannot close the
	// channel under a pending send
	c.subsMu.RLock()
	if ch, ok := c.subs[msg.Pool]; ok {
		select {
		case ch <- tr:
		default:
			c.dropped.Add(1)
		}
	}
	c.subsMu.RUnlock()
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// A dead connection surfaces in the read loop
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}
