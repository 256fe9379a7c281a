package broadcast

import (
	"context"
	"encoding/json"
	"sync"

	"transit-pulse/internal/general/contracts"
	"transit-pulse/internal/general/logger"
	"transit-pulse/internal/general/metrics"
)

const defaultBuffer = 32

// Broadcaster fans events out to connected viewers. Constructor-injected so
// services never reach for a global hub.
type Broadcaster interface {
	PublishVehicle(event contracts.VehicleEvent)
	PublishAlert(tripID string, alert contracts.MonitorAlert)
}

// Subscription is one viewer connection. Messages arrive pre-marshalled on C;
// a subscriber that stops draining loses messages rather than blocking the
// publisher.
type Subscription struct {
	id     uint64
	TripID string // non-empty: also receive this trip's monitor alerts
	C      chan []byte
}

// Hub is the in-process broadcast fan-out. All publishes are non-blocking.
type Hub struct {
	log     *logger.Logger
	metrics *metrics.Collector

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*Subscription
}

func NewHub(log *logger.Logger, collector *metrics.Collector) *Hub {
	return &Hub{
		log:     log,
		metrics: collector,
		subs:    make(map[uint64]*Subscription),
	}
}

// Subscribe registers a viewer. tripID may be empty for a pure live-view
// connection that only wants vehicle events.
func (h *Hub) Subscribe(tripID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		id:     h.nextID,
		TripID: tripID,
		C:      make(chan []byte, defaultBuffer),
	}
	h.subs[sub.id] = sub
	if h.metrics != nil {
		h.metrics.Subscribers.Set(float64(len(h.subs)))
	}
	return sub
}

// Unsubscribe removes the viewer and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	close(sub.C)
	if h.metrics != nil {
		h.metrics.Subscribers.Set(float64(len(h.subs)))
	}
}

// PublishVehicle delivers a vehicle event to every subscriber.
func (h *Hub) PublishVehicle(event contracts.VehicleEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error(context.Background(), "broadcast_marshal_failed", "Failed to encode vehicle event", err, nil)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.metrics != nil {
		h.metrics.BroadcastEvents.Inc()
	}
	for _, sub := range h.subs {
		h.send(sub, payload)
	}
}

// PublishAlert delivers a monitor alert only to subscribers of the trip.
func (h *Hub) PublishAlert(tripID string, alert contracts.MonitorAlert) {
	payload, err := json.Marshal(alert)
	if err != nil {
		h.log.Error(context.Background(), "broadcast_marshal_failed", "Failed to encode monitor alert", err, nil)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.metrics != nil {
		h.metrics.BroadcastEvents.Inc()
	}
	for _, sub := range h.subs {
		if sub.TripID != tripID {
			continue
		}
		h.send(sub, payload)
	}
}

// SubscriberCount reports the number of connected viewers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) send(sub *Subscription, payload []byte) {
	select {
	case sub.C <- payload:
	default:
		if h.metrics != nil {
			h.metrics.BroadcastDropped.Inc()
		}
	}
}
