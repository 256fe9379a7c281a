package service

import (
	"context"
	"encoding/json"
	"time"

	"transit-pulse/internal/domain/reward"
	"transit-pulse/internal/domain/trace"
	"transit-pulse/internal/domain/trip"
	"transit-pulse/internal/general/contracts"
	"transit-pulse/internal/ports"
)

// EndTrip closes the rider's active trip: completion bonus, vehicle-left
// broadcast, monitor teardown, and — when enough samples accumulated — an
// implicit pending route trace for geometry consensus.
func (service *tripService) EndTrip(ctx context.Context, riderID string) (ports.EndTripResult, error) {
	return service.endTrip(ctx, riderID, nil)
}

// ForceEndTrip is the inactivity watcher's termination path. Identical to
// EndTrip except for the explanatory note on the trip record.
func (service *tripService) ForceEndTrip(ctx context.Context, riderID, note string) (ports.EndTripResult, error) {
	res, err := service.endTrip(ctx, riderID, &note)
	if err == nil && service.metrics != nil {
		service.metrics.TripsForceEnded.Inc()
	}
	return res, err
}

func (service *tripService) endTrip(ctx context.Context, riderID string, note *string) (ports.EndTripResult, error) {
	now := time.Now().UTC()
	var (
		t            *trip.Trip
		traceKept    bool
		pendingCount int
	)
	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		t, err = service.tripRepo.GetActiveForRider(txCtx, riderID)
		if err != nil {
			return err
		}

		if err := service.tripRepo.End(txCtx, t.ID, now, trip.CompletionBonus, note); err != nil {
			return err
		}

		entry, err := reward.New(riderID, trip.CompletionBonus, reward.CategoryBonus, "trip completion bonus")
		if err != nil {
			return err
		}
		if err := service.rewardRepo.Award(txCtx, entry); err != nil {
			return err
		}

		// position history becomes a pending trace when long enough and
		// the trip rode a known route; the buffer is drained only after
		// the tx commits so a rolled-back end can retry with the trace
		points, first, last := service.samples.snapshot(t.ID)
		if t.RouteID == nil || len(points) < trip.MinTraceSamples {
			return nil
		}
		tr, err := trace.New(*t.RouteID, riderID, points, first, last)
		if err != nil {
			return nil // a malformed buffer never blocks the trip from ending
		}
		if err := service.traceRepo.Create(txCtx, tr); err != nil {
			return err
		}
		traceKept = true

		pendingCount, err = service.traceRepo.CountPending(txCtx, *t.RouteID)
		return err
	})
	if err != nil {
		service.logger.Error(ctx, "trip_end_failed", "Failed to end trip", err, map[string]any{
			"rider_id": riderID,
		})
		return ports.EndTripResult{}, err
	}

	service.samples.drain(t.ID)
	service.monitors.Detach(t.ID)

	lat, lng := 0.0, 0.0
	if pos, ok := t.Position(); ok {
		lat, lng = pos.Lat, pos.Lng
	}
	service.publishVehicle(ctx, contracts.VehicleEvent{
		Type:    contracts.EventVehicleLeft,
		TripID:  t.ID,
		RouteID: routeIDOrEmpty(t.RouteID),
	})
	status := "ENDED"
	if note != nil {
		status = "FORCE_ENDED"
	}
	service.publishLifecycle(ctx, contracts.RouteTripEndedPrefix+t.ID, contracts.TripLifecycleMessage{
		TripID:  t.ID,
		RiderID: riderID,
		RouteID: t.RouteID,
		Status:  status,
		Point:   contracts.GeoPoint{Lat: lat, Lng: lng},
	})

	if traceKept && pendingCount >= trace.BatchThreshold {
		service.queueConsensus(ctx, *t.RouteID)
	}

	if service.metrics != nil {
		service.metrics.TripsEnded.Inc()
		service.metrics.CreditsGranted.Add(float64(trip.CompletionBonus))
	}
	service.logger.Info(ctx, "trip_ended", "Trip ended", map[string]any{
		"trip_id":    t.ID,
		"rider_id":   riderID,
		"forced":     note != nil,
		"trace_kept": traceKept,
	})

	msg := "trip ended, thanks for riding"
	if note != nil {
		msg = *note
	}
	return ports.EndTripResult{
		TripID:        t.ID,
		EndedAt:       now,
		CreditsEarned: t.CreditsEarned + trip.CompletionBonus,
		TraceKept:     traceKept,
		Message:       msg,
	}, nil
}

// queueConsensus asks the background consumer to batch the route's pending
// traces. Best effort: a publish failure just waits for the next trigger.
func (service *tripService) queueConsensus(ctx context.Context, routeID string) {
	if service.pub == nil {
		return
	}
	body, err := json.Marshal(contracts.ConsensusRunMessage{
		RouteID: routeID,
		Envelope: contracts.Envelope{
			CorrelationID: generateCorrelationID(),
			Producer:      producerName,
			SentAt:        time.Now().UTC(),
		},
	})
	if err != nil {
		return
	}
	if err := service.pub.Publish(contracts.ExchangeTripTopic, contracts.RouteConsensusKey, body); err != nil {
		service.logger.Error(ctx, "consensus_queue_failed", "Failed to queue consensus run", err, map[string]any{
			"route_id": routeID,
		})
	}
}
