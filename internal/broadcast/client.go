package broadcast

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Virrpe/saaspype-trends/internal/metrics"
	"github.com/Virrpe/saaspype-trends/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// subscribeMessage is the only inbound frame clients send: an optional
// filter update.
type subscribeMessage struct {
	Action string              `json:"action"` // "subscribe"
	Filter models.StreamFilter `json:"filter"`
}

// Client is one WebSocket subscriber with its bounded outbound queue.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	logger *slog.Logger

	mu     sync.Mutex
	queue  []models.StreamDelta
	notify chan struct{}
	done   chan struct{}
	filter models.StreamFilter
	closed bool
}

// ServeWS upgrades an HTTP request into a stream subscription. The new
// subscriber is primed with the current full state so that applying every
// subsequent delta reconstructs the live ranking.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &Client{
		hub:    h,
		conn:   conn,
		logger: h.logger,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	h.add(c)
	c.deliver(h.Snapshot())

	go c.writePump()
	go c.readPump()
}

// deliver enqueues a delta, applying the hub's overflow policy when the
// queue is full. The delta is pre-filtered for this client.
func (c *Client) deliver(delta models.StreamDelta) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	filtered := c.filterDelta(delta)
	if len(filtered.Updated) == 0 && len(filtered.Removed) == 0 {
		c.mu.Unlock()
		return
	}

	if len(c.queue) >= c.hub.cfg.QueueCapacity {
		if c.hub.cfg.OverflowPolicy == "disconnect" {
			c.mu.Unlock()
			metrics.BroadcastDrop("disconnected")
			c.logger.Warn("stream client too slow, disconnecting")
			c.shutdown()
			return
		}
		// drop-oldest: the evicted delta is superseded by newer state.
		c.queue = c.queue[1:]
		metrics.BroadcastDrop("dropped")
	}
	c.queue = append(c.queue, filtered)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// filterDelta narrows a delta to this client's filter. Caller holds c.mu.
func (c *Client) filterDelta(delta models.StreamDelta) models.StreamDelta {
	f := c.filter
	out := delta
	out.Updated = nil
	for _, opp := range delta.Updated {
		if f.Match(opp) {
			out.Updated = append(out.Updated, opp)
		}
	}
	return out
}

func (c *Client) pop() (models.StreamDelta, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return models.StreamDelta{}, false
	}
	delta := c.queue[0]
	c.queue = c.queue[1:]
	return delta, true
}

// writePump drains the queue onto the connection and keeps the peer alive
// with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.notify:
			for {
				delta, ok := c.pop()
				if !ok {
					break
				}
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteJSON(delta); err != nil {
					c.shutdown()
					return
				}
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump consumes inbound subscription frames until the peer goes away.
func (c *Client) readPump() {
	defer c.shutdown()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("stream read error", slog.Any("error", err))
			}
			return
		}

		var sub subscribeMessage
		if err := json.Unmarshal(message, &sub); err != nil {
			c.logger.Warn("invalid subscribe message", slog.Any("error", err))
			continue
		}
		if sub.Action == "subscribe" {
			c.mu.Lock()
			c.filter = sub.Filter
			c.mu.Unlock()
		}
	}
}

// shutdown tears the subscription down and frees its queue immediately.
func (c *Client) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.queue = nil
	close(c.done)
	c.mu.Unlock()

	c.hub.remove(c)
	c.conn.Close()
}

// closeFinal sends a terminal frame before closing; used on hub shutdown.
func (c *Client) closeFinal() {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "pipeline stopped"))
	c.shutdown()
}
