package events

import (
	"log/slog"
	"sync"
)

// subscriberBuffer bounds how many pending events a slow GUI subscriber may
// queue before events are dropped for it, mirroring the teacher's
// Hub.broadcast channel capacity.
const subscriberBuffer = 256

// Hub fans DashboardEvents out to any number of in-process subscribers
// (e.g. a GUI render loop). It is the in-process analogue of the teacher's
// api.Hub, minus the websocket transport: Subscribe returns a channel
// directly rather than registering a network connection.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan DashboardEvent]struct{}
	logger      *slog.Logger
}

// NewHub creates an empty event hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[chan DashboardEvent]struct{}),
		logger:      logger.With("component", "events"),
	}
}

// Subscribe registers a new subscriber and returns its event channel.
// Call Unsubscribe with the same channel when the consumer is done.
func (h *Hub) Subscribe() chan DashboardEvent {
	ch := make(chan DashboardEvent, subscriberBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a subscriber's channel.
func (h *Hub) Unsubscribe(ch chan DashboardEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[ch]; ok {
		delete(h.subscribers, ch)
		close(ch)
	}
}

// Broadcast sends evt to every current subscriber. A subscriber whose
// buffer is full has the event dropped for it rather than blocking the
// publisher, same as the teacher's broadcast-channel-full handling.
func (h *Hub) Broadcast(evt DashboardEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subscribers {
		select {
		case ch <- evt:
		default:
			h.logger.Warn("subscriber buffer full, dropping event", "type", evt.Type, "symbol", evt.Symbol)
		}
	}
}

// SubscriberCount reports how many subscribers are currently registered.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
