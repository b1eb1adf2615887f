// Package notify fans lifecycle events out to connected push clients. Delivery is
// best effort: events are dropped for slow subscribers and never replayed.
package notify

import (
	"log/slog"
	"sync"

	"github.com/cuongbtq/content-pipeline/internal/domain"
	"github.com/cuongbtq/content-pipeline/shared/metrics"
)

// Push is the wire shape sent to clients
type Push struct {
	JobID  string        `json:"job_id"`
	Status domain.Status `json:"status"`
	Error  string        `json:"error,omitempty"`
}

// NewPush strips internal fields from a lifecycle event
func NewPush(event domain.LifecycleEvent) Push {
	return Push{JobID: event.JobID, Status: event.Status, Error: event.Error}
}

// Subscriber receives the pushes addressed to one owner
type Subscriber struct {
	ownerID string
	pushes  chan Push
	once    sync.Once
}

// Pushes is closed when the subscriber is removed from the hub
func (s *Subscriber) Pushes() <-chan Push {
	return s.pushes
}

// Hub tracks live subscribers
type Hub struct {
	mu      sync.RWMutex
	subs    map[*Subscriber]struct{}
	buffer  int
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewHub creates a hub whose subscribers buffer up to buffer pushes
func NewHub(buffer int, m *metrics.Metrics, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		subs:    make(map[*Subscriber]struct{}),
		buffer:  buffer,
		metrics: m,
		logger:  logger,
	}
}

// Subscribe registers a subscriber for ownerID's events
func (h *Hub) Subscribe(ownerID string) *Subscriber {
	sub := &Subscriber{ownerID: ownerID, pushes: make(chan Push, h.buffer)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	h.metrics.SubscriberAdded()
	return sub
}

// Unsubscribe removes sub and closes its channel. Repeated calls are no-ops.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	sub.once.Do(func() {
		h.mu.Lock()
		delete(h.subs, sub)
		close(sub.pushes)
		h.mu.Unlock()

		h.metrics.SubscriberRemoved()
	})
}

// Broadcast offers event to every subscriber of its owner without blocking and
// returns how many accepted it
func (h *Hub) Broadcast(event domain.LifecycleEvent) int {
	push := NewPush(event)

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.subs {
		if sub.ownerID != event.OwnerID {
			continue
		}

		select {
		case sub.pushes <- push:
			delivered++
		default:
			h.metrics.PushDropped()
			h.logger.Warn("Dropping push for slow subscriber",
				slog.String("job_id", event.JobID),
				slog.String("user_id", sub.ownerID),
			)
		}
	}

	return delivered
}

// Count returns the number of live subscribers
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
