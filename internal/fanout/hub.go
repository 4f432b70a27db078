package fanout

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/retasync-go/pkg/fanout"
)

// Config holds configuration for the hub
type Config struct {
	// BufferSize is the per-subscriber queue length.
	BufferSize int
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
}

// Hub fans notifications out to subscribers. Publish never blocks on a
// slow subscriber, and each subscriber sees notifications in Seq order.
type Hub struct {
	config Config
	logger *zap.Logger
	now    func() time.Time

	mu   sync.Mutex
	seq  uint64
	subs map[string]*Subscription

	dropped atomic.Uint64
}

var _ fanout.Publisher = (*Hub)(nil)

func NewHub(config Config, logger *zap.Logger) *Hub {
	config.SetDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		config: config,
		logger: logger.Named("fanout"),
		now:    time.Now,
		subs:   make(map[string]*Subscription),
	}
}

// Publish implements fanout.Publisher.
func (h *Hub) Publish(n fanout.Notification) fanout.Notification {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	n.Seq = h.seq
	n.At = h.now().UTC()

	for _, sub := range h.subs {
		if !sub.filter.Matches(n) {
			continue
		}
		if sub.deliver(n) {
			h.dropped.Add(1)
			h.logger.Debug("subscriber queue full, dropped oldest notification",
				zap.String("subscriber_id", sub.id), zap.Uint64("seq", n.Seq))
		}
	}
	return n
}

// Subscribe registers a new subscriber. It sees only notifications
// published after this call returns.
func (h *Hub) Subscribe(filter fanout.Filter) *Subscription {
	sub := &Subscription{
		id:          uuid.NewString(),
		filter:      filter,
		connectedAt: h.now(),
		ch:          make(chan fanout.Notification, h.config.BufferSize),
	}

	h.mu.Lock()
	h.subs[sub.id] = sub
	h.mu.Unlock()

	h.logger.Debug("subscriber added", zap.String("subscriber_id", sub.id))
	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call twice.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub.closed {
		return
	}
	sub.closed = true
	delete(h.subs, sub.id)
	close(sub.ch)
}

// Close unsubscribes everyone.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.subs {
		sub.closed = true
		close(sub.ch)
		delete(h.subs, id)
	}
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns the total notifications dropped across all subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Seq returns the last assigned sequence number.
func (h *Hub) Seq() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}
