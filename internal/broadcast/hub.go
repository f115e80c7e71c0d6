package broadcast

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Virrpe/saaspype-trends/internal/config"
	"github.com/Virrpe/saaspype-trends/internal/metrics"
	"github.com/Virrpe/saaspype-trends/internal/models"
)

// Hub fans incremental opportunity updates out to subscribed clients. Each
// subscriber owns a bounded queue; the configured overflow policy decides
// whether a slow client loses its oldest pending delta or its connection.
// Delivery is at-most-once per tick: a missed delta is superseded by the
// next tick's state.
type Hub struct {
	logger *slog.Logger
	cfg    config.BroadcastConfig

	mu          sync.RWMutex
	clients     map[*Client]struct{}
	lastByTrend map[string]models.Opportunity
	seq         uint64
	closed      bool
}

// NewHub creates a broadcast hub.
func NewHub(cfg config.BroadcastConfig, logger *slog.Logger) *Hub {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 64
	}
	if cfg.OverflowPolicy == "" {
		cfg.OverflowPolicy = "drop-oldest"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:      logger,
		cfg:         cfg,
		clients:     make(map[*Client]struct{}),
		lastByTrend: make(map[string]models.Opportunity),
	}
}

// Publish diffs the fresh ranked snapshot against the last published state
// and delivers the delta to every subscriber whose filter matches. Called
// once per tick by the coordinator.
func (h *Hub) Publish(tick uint64, snapshot []models.Opportunity) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}

	var updated []models.Opportunity
	current := make(map[string]models.Opportunity, len(snapshot))
	for _, opp := range snapshot {
		current[opp.TrendID] = opp
		if prev, ok := h.lastByTrend[opp.TrendID]; !ok || changed(prev, opp) {
			updated = append(updated, opp)
		}
	}
	var removed []string
	for id := range h.lastByTrend {
		if _, ok := current[id]; !ok {
			removed = append(removed, id)
		}
	}
	h.lastByTrend = current
	h.seq++
	delta := models.StreamDelta{
		Seq:       h.seq,
		Tick:      tick,
		Updated:   updated,
		Removed:   removed,
		Timestamp: time.Now().UTC(),
	}

	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	if len(updated) == 0 && len(removed) == 0 {
		return
	}

	for _, c := range clients {
		c.deliver(delta)
	}
}

// Snapshot returns the last published opportunity state as a full delta,
// used to prime a fresh subscriber so replaying subsequent deltas
// reconstructs the live ranking.
func (h *Hub) Snapshot() models.StreamDelta {
	h.mu.RLock()
	defer h.mu.RUnlock()

	updated := make([]models.Opportunity, 0, len(h.lastByTrend))
	for _, opp := range h.lastByTrend {
		updated = append(updated, opp)
	}
	return models.StreamDelta{Seq: h.seq, Updated: updated, Timestamp: time.Now().UTC()}
}

// ClientCount reports the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close tears down every subscription after a final state message.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.closeFinal()
	}
	metrics.SetSubscribers(0)
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.SetSubscribers(n)
	h.logger.Info("stream client connected", slog.Int("clients", n))
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		metrics.SetSubscribers(n)
		h.logger.Info("stream client disconnected", slog.Int("clients", n))
	}
}

// changed reports whether an opportunity's externally visible fields moved.
func changed(a, b models.Opportunity) bool {
	if a.CompositeScore != b.CompositeScore ||
		a.Confidence != b.Confidence ||
		a.Category != b.Category ||
		a.Rationale != b.Rationale ||
		len(a.PlatformCounts) != len(b.PlatformCounts) {
		return true
	}
	for platform, count := range a.PlatformCounts {
		if b.PlatformCounts[platform] != count {
			return true
		}
	}
	return false
}
