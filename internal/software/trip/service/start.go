package service

import (
	"context"

	"transit-pulse/internal/domain/geo"
	"transit-pulse/internal/domain/route"
	"transit-pulse/internal/domain/trip"
	"transit-pulse/internal/general/contracts"
	"transit-pulse/internal/monitor"
	"transit-pulse/internal/ports"
)

// StartTrip opens a rider's boarding session at the reported position. A
// rider with an active trip gets trip.ErrActiveTripExists; the storage
// layer's partial unique index is the arbiter under concurrency.
func (service *tripService) StartTrip(ctx context.Context, in ports.StartTripInput) (ports.StartTripResult, error) {
	t, err := trip.New(in.RiderID, in.RouteID, in.Latitude, in.Longitude)
	if err != nil {
		return ports.StartTripResult{}, err
	}

	// resolve the route once: stops feed the deviation watcher, the
	// destination stop the proximity watcher
	var (
		stops            []geo.LatLng
		dest             *geo.LatLng
		proximityEnabled bool
	)
	err = service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		if in.RouteID != nil {
			rt, err := service.routeRepo.GetByID(txCtx, *in.RouteID)
			if err != nil {
				return err
			}
			stops = rt.StopCoords()
			if in.DestinationStopID != nil {
				d, err := destinationCoords(rt, *in.DestinationStopID)
				if err != nil {
					return err
				}
				dest = d
				t.DestinationStop = in.DestinationStopID
			}
		}

		rider, err := service.riderRepo.GetByID(txCtx, in.RiderID)
		if err != nil {
			return err
		}
		proximityEnabled = rider.ProximityEnabled()

		return service.tripRepo.Create(txCtx, t)
	})
	if err != nil {
		service.logger.Error(ctx, "trip_start_failed", "Failed to start trip", err, map[string]any{
			"rider_id": in.RiderID,
		})
		return ports.StartTripResult{}, err
	}

	service.samples.add(t.ID, geo.LatLng{Lat: in.Latitude, Lng: in.Longitude}, t.StartedAt)

	service.monitors.Attach(monitor.TripConfig{
		TripID:           t.ID,
		RiderID:          t.RiderID,
		RouteID:          t.RouteID,
		Stops:            stops,
		Destination:      dest,
		ProximityEnabled: proximityEnabled,
		StartLat:         in.Latitude,
		StartLng:         in.Longitude,
		StartedAt:        t.StartedAt,
	})

	service.publishVehicle(ctx, contracts.VehicleEvent{
		Type:    contracts.EventVehicleJoined,
		TripID:  t.ID,
		RouteID: routeIDOrEmpty(t.RouteID),
		Lat:     in.Latitude,
		Lng:     in.Longitude,
	})
	service.publishLifecycle(ctx, contracts.RouteTripStartedPrefix+t.ID, contracts.TripLifecycleMessage{
		TripID:  t.ID,
		RiderID: t.RiderID,
		RouteID: t.RouteID,
		Status:  "STARTED",
		Point:   contracts.GeoPoint{Lat: in.Latitude, Lng: in.Longitude},
	})

	if service.metrics != nil {
		service.metrics.TripsStarted.Inc()
	}
	service.logger.Info(ctx, "trip_started", "Trip started", map[string]any{
		"trip_id":  t.ID,
		"rider_id": t.RiderID,
		"route_id": t.RouteID,
	})

	return ports.StartTripResult{
		TripID:    t.ID,
		RouteID:   t.RouteID,
		StartedAt: t.StartedAt,
		Message:   "trip started, this vehicle is now visible to riders",
	}, nil
}

func destinationCoords(rt *route.Route, stopID string) (*geo.LatLng, error) {
	for _, s := range rt.Stops {
		if s.ID == stopID {
			p := s.LatLng()
			return &p, nil
		}
	}
	return nil, trip.ErrBadDestination
}

func routeIDOrEmpty(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}
