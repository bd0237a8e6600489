package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mohammedfirdouss/ai-grocery-app/internal/models"
)

// Hub routes processing events to live subscribers, keyed by order id.
// The web layer registers one subscription per websocket connection.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
	log  *slog.Logger
}

// Subscription receives events for a single order. Events is closed
// when the subscription is cancelled.
type Subscription struct {
	OrderID string
	Events  chan models.ProcessingEvent

	hub  *Hub
	once sync.Once
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		subs: make(map[string]map[*Subscription]struct{}),
		log:  log,
	}
}

func (h *Hub) Name() string { return "websocket" }

// Subscribe registers interest in one order's events.
func (h *Hub) Subscribe(orderID string) *Subscription {
	s := &Subscription{
		OrderID: orderID,
		Events:  make(chan models.ProcessingEvent, 16),
		hub:     h,
	}
	h.mu.Lock()
	if h.subs[orderID] == nil {
		h.subs[orderID] = make(map[*Subscription]struct{})
	}
	h.subs[orderID][s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Cancel removes the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		if set, ok := h.subs[s.OrderID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, s.OrderID)
			}
		}
		h.mu.Unlock()
		close(s.Events)
	})
}

// Deliver forwards the event to every subscriber of its order. Slow
// subscribers lose events rather than block the pipeline.
func (h *Hub) Deliver(ctx context.Context, event models.ProcessingEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[event.OrderID] {
		select {
		case s.Events <- event:
		default:
			h.log.Warn("subscriber too slow, dropping event",
				"order_id", event.OrderID, "event_kind", event.Kind)
		}
	}
	return nil
}

// Subscribers reports the live subscription count (health endpoint).
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}
