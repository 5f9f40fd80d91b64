package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"peerd/pkg/model"
)

const (
	eventBuffer  = 16
	writeTimeout = 5 * time.Second
)

// EventHub streams cycle events to websocket subscribers. It is a
// bird.Observer; slow subscribers miss events instead of blocking the cycle.
type EventHub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu   sync.Mutex
	subs map[*websocket.Conn]chan WSMessage
}

func NewEventHub(logger *zap.Logger) *EventHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
		subs:   map[*websocket.Conn]chan WSMessage{},
	}
}

// HandleEvents upgrades the request and subscribes it to cycle events.
func (h *EventHub) HandleEvents(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("ws upgrade failed", zap.Error(err), zap.String("remote", r.RemoteAddr))
		return
	}
	ch := make(chan WSMessage, eventBuffer)
	h.mu.Lock()
	h.subs[c] = ch
	h.mu.Unlock()
	h.logger.Debug("event subscriber connected", zap.String("remote", r.RemoteAddr))

	go h.writeLoop(c, ch)
	go h.readLoop(c)
}

// CycleDone fans ev out to all subscribers.
func (h *EventHub) CycleDone(ev model.CycleEvent) {
	h.broadcast(WSMessage{Type: "cycle", Payload: ev})
}

// RetryScheduled is reported so clients can see deferred updates piling up.
func (h *EventHub) RetryScheduled(retries uint32) {
	h.broadcast(WSMessage{Type: "retry_scheduled", Payload: map[string]uint32{"retries": retries}})
}

func (h *EventHub) RetryStale() {}

// Subscribers returns the number of connected clients.
func (h *EventHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber.
func (h *EventHub) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.subs))
	for c := range h.subs {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		h.drop(c)
	}
}

func (h *EventHub) broadcast(msg WSMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c, ch := range h.subs {
		select {
		case ch <- msg:
		default:
			h.logger.Debug("event subscriber lagging, dropping message",
				zap.String("remote", c.RemoteAddr().String()), zap.String("type", msg.Type))
		}
	}
}

func (h *EventHub) writeLoop(c *websocket.Conn, ch <-chan WSMessage) {
	for msg := range ch {
		_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.WriteJSON(msg); err != nil {
			h.drop(c)
			return
		}
	}
}

// readLoop discards client frames and detects disconnects.
func (h *EventHub) readLoop(c *websocket.Conn) {
	defer h.drop(c)
	for {
		if _, _, err := c.NextReader(); err != nil {
			return
		}
	}
}

func (h *EventHub) drop(c *websocket.Conn) {
	h.mu.Lock()
	ch, ok := h.subs[c]
	if ok {
		delete(h.subs, c)
		close(ch)
	}
	h.mu.Unlock()
	if ok {
		_ = c.Close()
		h.logger.Debug("event subscriber disconnected", zap.String("remote", c.RemoteAddr().String()))
	}
}
