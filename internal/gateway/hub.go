package gateway

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"solana-candle-engine/internal/backfill"
	"solana-candle-engine/internal/domain"
	"solana-candle-engine/internal/observability"
)

// DefaultQueueSize is the per-subscriber event queue capacity.
const DefaultQueueSize = 64

// Options configures the Hub.
type Options struct {
	QueueSize int
	Logger    *log.Logger
}

// Hub fans update events out to per-asset subscribers. Every subscriber
// gets its own bounded queue; a slow consumer loses the oldest droppable
// events first and never blocks publishers or other subscribers.
type Hub struct {
	queueSize int
	logger    *log.Logger

	mu     sync.RWMutex
	assets map[string]map[string]*subscriber // asset -> subscription id
	closed bool

	dropped atomic.Uint64
}

// Compile-time check: the fetcher and monitor publish through the hub.
var _ backfill.Publisher = (*Hub)(nil)

// Subscription is one consumer's view of an asset's update channel. Events
// arrive on C in publish order; C closes on Unsubscribe or hub shutdown.
type Subscription struct {
	ID    string
	Asset string
	C     <-chan *domain.UpdateEvent
}

// subscriber owns a bounded queue drained by a pump goroutine.
type subscriber struct {
	id string

	mu  sync.Mutex
	buf []*domain.UpdateEvent

	notify chan struct{}
	done   chan struct{}
	out    chan *domain.UpdateEvent
}

// NewHub creates a Hub.
func NewHub(opts Options) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Hub{
		queueSize: opts.QueueSize,
		logger:    opts.Logger,
		assets:    make(map[string]map[string]*subscriber),
	}
}

// Subscribe registers a consumer for one asset's updates.
func (h *Hub) Subscribe(asset string) *Subscription {
	s := &subscriber{
		id:     uuid.NewString(),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan *domain.UpdateEvent),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(s.out)
		return &Subscription{ID: s.id, Asset: asset, C: s.out}
	}
	subs, ok := h.assets[asset]
	if !ok {
		subs = make(map[string]*subscriber)
		h.assets[asset] = subs
	}
	subs[s.id] = s
	h.mu.Unlock()

	observability.AdjustSubscribers(1)
	go s.pump()

	return &Subscription{ID: s.id, Asset: asset, C: s.out}
}

// Unsubscribe removes a consumer and closes its channel.
func (h *Hub) Unsubscribe(asset, id string) {
	h.mu.Lock()
	var s *subscriber
	if subs, ok := h.assets[asset]; ok {
		if s, ok = subs[id]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(h.assets, asset)
			}
		}
	}
	h.mu.Unlock()

	if s != nil {
		s.stop()
		observability.AdjustSubscribers(-1)
	}
}

// Publish delivers an event to every subscriber of the asset.
func (h *Hub) Publish(asset string, ev *domain.UpdateEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	observability.RecordPublish(string(ev.Kind))
	for _, s := range h.assets[asset] {
		if s.enqueue(ev, h.queueSize) {
			h.dropped.Add(1)
			observability.RecordEventDropped()
		}
	}
}

// Dropped returns the number of events evicted from full queues.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close shuts every subscription down.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []*subscriber
	for _, subs := range h.assets {
		for _, s := range subs {
			all = append(all, s)
		}
	}
	h.assets = make(map[string]map[string]*subscriber)
	h.mu.Unlock()

	for _, s := range all {
		s.stop()
	}
	observability.AdjustSubscribers(-len(all))
}

// enqueue appends an event, evicting from a full queue. The oldest
// droppable event goes first; only when everything buffered must be kept
// does a droppable newcomer get discarded, and a queue full of must-keep
// events sheds its oldest. Reports whether anything was evicted.
func (s *subscriber) enqueue(ev *domain.UpdateEvent, max int) bool {
	s.mu.Lock()
	evicted := false
	if len(s.buf) >= max {
		evicted = true
		idx := -1
		for i, queued := range s.buf {
			if !queued.Kind.Critical() {
				idx = i
				break
			}
		}
		switch {
		case idx >= 0:
			s.buf = append(s.buf[:idx], s.buf[idx+1:]...)
		case !ev.Kind.Critical():
			s.mu.Unlock()
			return true
		default:
			s.buf = s.buf[1:]
		}
	}
	s.buf = append(s.buf, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return evicted
}

// pump drains the queue into the delivery channel.
func (s *subscriber) pump() {
	defer close(s.out)

	for {
		s.mu.Lock()
		var ev *domain.UpdateEvent
		if len(s.buf) > 0 {
			ev = s.buf[0]
			s.buf = s.buf[1:]
		}
		s.mu.Unlock()

		if ev == nil {
			select {
			case <-s.done:
				return
			case <-s.notify:
				continue
			}
		}

		select {
		case <-s.done:
			return
		case s.out <- ev:
		}
	}
}

func (s *subscriber) stop() {
	close(s.done)
}
