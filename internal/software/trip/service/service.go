package service

import (
	"context"
	"encoding/json"
	"time"

	"transit-pulse/internal/broadcast"
	"transit-pulse/internal/general/contracts"
	"transit-pulse/internal/general/logger"
	"transit-pulse/internal/general/metrics"
	"transit-pulse/internal/general/rabbitmq"
	"transit-pulse/internal/monitor"
	"transit-pulse/internal/ports"

	"github.com/google/uuid"
)

const producerName = "tracker-service"

// tripService implements the trip lifecycle: start, throttled position
// reporting, end, and the inactivity monitor's forced termination path.
type tripService struct {
	logger     *logger.Logger
	metrics    *metrics.Collector
	uow        ports.UnitOfWork
	tripRepo   ports.TripRepository
	routeRepo  ports.RouteRepository
	riderRepo  ports.RiderRepository
	rewardRepo ports.RewardRepository
	traceRepo  ports.TraceRepository
	hub        broadcast.Broadcaster
	pub        *rabbitmq.MQPublisher
	monitors   *monitor.Manager
	samples    *sampleBuffer
}

// NewTripService wires the trip lifecycle service. Call
// monitors.SetEnder(svc) on the returned value before serving traffic so
// the inactivity watcher can terminate trips.
func NewTripService(
	log *logger.Logger,
	collector *metrics.Collector,
	uow ports.UnitOfWork,
	tripRepo ports.TripRepository,
	routeRepo ports.RouteRepository,
	riderRepo ports.RiderRepository,
	rewardRepo ports.RewardRepository,
	traceRepo ports.TraceRepository,
	hub broadcast.Broadcaster,
	pub *rabbitmq.MQPublisher,
	monitors *monitor.Manager,
) ports.TripService {
	return &tripService{
		logger:     log,
		metrics:    collector,
		uow:        uow,
		tripRepo:   tripRepo,
		routeRepo:  routeRepo,
		riderRepo:  riderRepo,
		rewardRepo: rewardRepo,
		traceRepo:  traceRepo,
		hub:        hub,
		pub:        pub,
		monitors:   monitors,
		samples:    newSampleBuffer(),
	}
}

// publishVehicle fans the event out to connected viewers and mirrors it
// onto the fanout exchange for external consumers. Both paths are best
// effort.
func (service *tripService) publishVehicle(ctx context.Context, ev contracts.VehicleEvent) {
	ev.Envelope = contracts.Envelope{
		CorrelationID: generateCorrelationID(),
		Producer:      producerName,
		SentAt:        time.Now().UTC(),
	}
	service.hub.PublishVehicle(ev)

	if service.pub == nil {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := service.pub.Publish(contracts.ExchangeVehicleFanout, "", body); err != nil {
		service.logger.Error(ctx, "vehicle_event_publish_failed", "Failed to mirror vehicle event to RabbitMQ", err, map[string]any{
			"trip_id": ev.TripID,
			"type":    ev.Type,
		})
	}
}

// publishLifecycle logs trip start/end onto the durable topic exchange.
func (service *tripService) publishLifecycle(ctx context.Context, routingKey string, msg contracts.TripLifecycleMessage) {
	if service.pub == nil {
		return
	}
	msg.Envelope = contracts.Envelope{
		CorrelationID: generateCorrelationID(),
		Producer:      producerName,
		SentAt:        time.Now().UTC(),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := service.pub.Publish(contracts.ExchangeTripTopic, routingKey, body); err != nil {
		service.logger.Error(ctx, "trip_event_publish_failed", "Failed to publish trip lifecycle event", err, map[string]any{
			"trip_id":     msg.TripID,
			"routing_key": routingKey,
		})
	}
}

func generateCorrelationID() string {
	return uuid.NewString()
}
