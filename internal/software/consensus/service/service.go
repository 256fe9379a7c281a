package service

import (
	"context"
	"encoding/json"
	"time"

	"transit-pulse/internal/domain/geo"
	"transit-pulse/internal/domain/trace"
	"transit-pulse/internal/general/contracts"
	"transit-pulse/internal/general/logger"
	"transit-pulse/internal/general/metrics"
	"transit-pulse/internal/general/rabbitmq"
	"transit-pulse/internal/ports"
	"transit-pulse/internal/routing"

	"github.com/google/uuid"
)

// consensusService turns many riders' independent traces of the same route
// into one agreed-upon geometry, pending operator review.
type consensusService struct {
	logger    *logger.Logger
	metrics   *metrics.Collector
	uow       ports.UnitOfWork
	routeRepo ports.RouteRepository
	traceRepo ports.TraceRepository
	snapper   routing.RoadSnapper
	pub       *rabbitmq.MQPublisher
}

func NewConsensusService(
	log *logger.Logger,
	collector *metrics.Collector,
	uow ports.UnitOfWork,
	routeRepo ports.RouteRepository,
	traceRepo ports.TraceRepository,
	snapper routing.RoadSnapper,
	pub *rabbitmq.MQPublisher,
) ports.ConsensusService {
	return &consensusService{
		logger:    log,
		metrics:   collector,
		uow:       uow,
		routeRepo: routeRepo,
		traceRepo: traceRepo,
		snapper:   snapper,
		pub:       pub,
	}
}

// SubmitTrace validates and stores one rider trace. Hitting the pending
// threshold queues a consensus run without blocking the response.
func (service *consensusService) SubmitTrace(ctx context.Context, in ports.SubmitTraceInput) (ports.SubmitTraceResult, error) {
	tr, err := trace.New(in.RouteID, in.RiderID, in.Points, in.StartedAt, in.EndedAt)
	if err != nil {
		return ports.SubmitTraceResult{}, err
	}

	var pending int
	err = service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		if _, err := service.routeRepo.GetByID(txCtx, in.RouteID); err != nil {
			return err
		}
		if err := service.traceRepo.Create(txCtx, tr); err != nil {
			return err
		}
		var err error
		pending, err = service.traceRepo.CountPending(txCtx, in.RouteID)
		return err
	})
	if err != nil {
		return ports.SubmitTraceResult{}, err
	}

	queued := false
	if pending >= trace.BatchThreshold {
		service.triggerRun(ctx, in.RouteID)
		queued = true
	}

	service.logger.Info(ctx, "trace_submitted", "Route trace accepted", map[string]any{
		"trace_id": tr.ID,
		"route_id": in.RouteID,
		"pending":  pending,
		"queued":   queued,
	})
	return ports.SubmitTraceResult{
		TraceID:      tr.ID,
		PendingCount: pending,
		BatchQueued:  queued,
	}, nil
}

// triggerRun hands the batch to the background consumer; without a broker
// it degrades to a detached goroutine so the HTTP response never waits.
func (service *consensusService) triggerRun(ctx context.Context, routeID string) {
	if service.pub != nil {
		body, err := json.Marshal(contracts.ConsensusRunMessage{
			RouteID: routeID,
			Envelope: contracts.Envelope{
				CorrelationID: uuid.NewString(),
				Producer:      "tracker-service",
				SentAt:        time.Now().UTC(),
			},
		})
		if err == nil {
			if err := service.pub.Publish(contracts.ExchangeTripTopic, contracts.RouteConsensusKey, body); err == nil {
				return
			}
			service.logger.Error(ctx, "consensus_queue_failed", "Falling back to in-process consensus run", err, map[string]any{
				"route_id": routeID,
			})
		}
	}

	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := service.RunConsensus(runCtx, routeID); err != nil {
			service.logger.Error(runCtx, "consensus_run_failed", "Detached consensus run failed", err, map[string]any{
				"route_id": routeID,
			})
		}
	}()
}

// geoSnap runs the suggestion through the road-routing collaborator. Any
// failure degrades to the raw polyline.
func (service *consensusService) geoSnap(ctx context.Context, points []geo.LatLng) ([]geo.LatLng, bool) {
	if service.snapper == nil {
		return points, false
	}
	res, err := service.snapper.SnappedPolyline(ctx, points)
	if err != nil {
		service.logger.Error(ctx, "road_snap_failed", "Routing collaborator unavailable, keeping raw geometry", err, nil)
		return points, false
	}
	return res.Points, res.Approximate
}
