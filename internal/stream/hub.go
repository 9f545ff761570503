// Package stream fans simulated price quotes out to live subscribers.
package stream

import (
	"context"
	"sort"
	"sync"
	"time"

	"marketsim/internal/market"
)

// All subscribes to every instrument.
const All = "*"

// Quote is one instrument's price after a tick.
type Quote struct {
	Tick      int       `json:"tick"`
	ID        int       `json:"id"`
	Code      string    `json:"code"`
	Price     float64   `json:"price"`
	DailyOpen float64   `json:"dailyOpen"`
	Halted    bool      `json:"halted"`
	At        time.Time `json:"at"`
}

// ChangePct is the move since the day's open, in percent.
func (q Quote) ChangePct() float64 {
	if q.DailyOpen == 0 {
		return 0
	}
	return (q.Price - q.DailyOpen) / q.DailyOpen * 100
}

// QuotesOf snapshots every instrument after tick.
func QuotesOf(tick int, instruments []*market.Instrument) []Quote {
	now := time.Now()
	quotes := make([]Quote, len(instruments))
	for i, inst := range instruments {
		quotes[i] = Quote{
			Tick:      tick,
			ID:        inst.ID,
			Code:      inst.Code,
			Price:     inst.Price,
			DailyOpen: inst.DailyOpen,
			Halted:    inst.Halted,
			At:        now,
		}
	}
	return quotes
}

// HubConfig holds configuration for the Hub.
type HubConfig struct {
	// BufferSize is the size of the inbound quote buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:           1024,
		SubscriberBufferSize: 64,
	}
}

// Hub distributes quotes from the simulation loop to subscribers. Publishing
// never blocks the loop: a full buffer or a slow subscriber drops quotes.
type Hub struct {
	config      HubConfig
	mu          sync.RWMutex
	subscribers map[string][]*Subscriber
	quotes      chan Quote
	done        chan struct{}
	stopped     chan struct{}
	started     bool

	metricsMu sync.Mutex
	received  uint64
	delivered uint64
	dropped   uint64
}

// Subscriber is one subscription channel.
type Subscriber struct {
	Code    string
	Channel chan Quote
	Dropped int
}

// NewHub creates a hub with default configuration.
func NewHub() *Hub {
	return NewHubWithConfig(DefaultHubConfig())
}

// NewHubWithConfig creates a hub with custom configuration.
func NewHubWithConfig(config HubConfig) *Hub {
	return &Hub{
		config:      config,
		subscribers: make(map[string][]*Subscriber),
		quotes:      make(chan Quote, config.BufferSize),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
}

// Start begins the distribution loop.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return
	}
	h.started = true
	go h.broadcastLoop(ctx)
}

func (h *Hub) broadcastLoop(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			// Flush what was published before Stop.
			for {
				select {
				case q := <-h.quotes:
					h.broadcast(q)
				default:
					return
				}
			}
		case q := <-h.quotes:
			h.broadcast(q)
		}
	}
}

// Stop drains pending quotes, then closes every subscriber channel.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return
	}
	h.started = false
	close(h.done)
	h.mu.Unlock()

	<-h.stopped

	h.mu.Lock()
	defer h.mu.Unlock()
	for code, subs := range h.subscribers {
		for _, sub := range subs {
			close(sub.Channel)
		}
		delete(h.subscribers, code)
	}
}

// Subscribe returns a channel of quotes for one instrument code, or for
// every instrument when code is All.
func (h *Hub) Subscribe(code string) <-chan Quote {
	ch := make(chan Quote, h.config.SubscriberBufferSize)
	h.mu.Lock()
	h.subscribers[code] = append(h.subscribers[code], &Subscriber{Code: code, Channel: ch})
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (h *Hub) Unsubscribe(code string, ch <-chan Quote) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[code]
	for i, sub := range subs {
		if sub.Channel == ch {
			close(sub.Channel)
			h.subscribers[code] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subscribers[code]) == 0 {
		delete(h.subscribers, code)
	}
}

// Publish queues a quote for distribution without blocking.
func (h *Hub) Publish(q Quote) bool {
	select {
	case h.quotes <- q:
		return true
	default:
		h.metricsMu.Lock()
		h.dropped++
		h.metricsMu.Unlock()
		return false
	}
}

// PublishAll queues every quote in order.
func (h *Hub) PublishAll(quotes []Quote) {
	for _, q := range quotes {
		h.Publish(q)
	}
}

func (h *Hub) broadcast(q Quote) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var delivered, dropped uint64
	for _, key := range []string{q.Code, All} {
		for _, sub := range h.subscribers[key] {
			select {
			case sub.Channel <- q:
				delivered++
			default:
				sub.Dropped++
				dropped++
			}
		}
	}

	h.metricsMu.Lock()
	h.received++
	h.delivered += delivered
	h.dropped += dropped
	h.metricsMu.Unlock()
}

// SubscriberCount returns the number of subscribers for a code.
func (h *Hub) SubscriberCount(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[code])
}

// SubscribedCodes returns every code with a live subscriber, sorted.
func (h *Hub) SubscribedCodes() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	codes := make([]string, 0, len(h.subscribers))
	for code := range h.subscribers {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Metrics returns hub counters.
func (h *Hub) Metrics() HubMetrics {
	h.metricsMu.Lock()
	defer h.metricsMu.Unlock()
	return HubMetrics{
		Received:  h.received,
		Delivered: h.delivered,
		Dropped:   h.dropped,
	}
}

// HubMetrics contains hub counters.
type HubMetrics struct {
	Received  uint64 `json:"received"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}
