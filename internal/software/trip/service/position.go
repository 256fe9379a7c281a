package service

import (
	"context"
	"time"

	"transit-pulse/internal/domain/geo"
	"transit-pulse/internal/domain/reward"
	"transit-pulse/internal/domain/trip"
	"transit-pulse/internal/general/contracts"
	"transit-pulse/internal/ports"
)

// ReportPosition records a position sample for the rider's active trip and
// lazily evaluates the 60-second credit window: a report with no prior
// credit, or spaced more than the window since the last credited one,
// earns exactly one credit.
func (service *tripService) ReportPosition(ctx context.Context, in ports.ReportPositionInput) (ports.ReportPositionResult, error) {
	if err := geo.ValidateCoords(in.Latitude, in.Longitude); err != nil {
		return ports.ReportPositionResult{}, err
	}

	now := time.Now().UTC()
	var (
		t       *trip.Trip
		granted bool
	)
	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		t, err = service.tripRepo.GetActiveForRider(txCtx, in.RiderID)
		if err != nil {
			return err
		}

		if err := service.tripRepo.SavePosition(txCtx, t.ID, in.Latitude, in.Longitude, now); err != nil {
			return err
		}

		if !t.CreditDue(now) {
			return nil
		}

		entry, err := reward.New(in.RiderID, trip.ReportCredit, reward.CategoryEarn, "position report")
		if err != nil {
			return err
		}
		if err := service.rewardRepo.Award(txCtx, entry); err != nil {
			return err
		}
		if err := service.tripRepo.MarkCredited(txCtx, t.ID, now, trip.ReportCredit); err != nil {
			return err
		}
		granted = true
		return nil
	})
	if err != nil {
		return ports.ReportPositionResult{}, err
	}

	service.samples.add(t.ID, geo.LatLng{Lat: in.Latitude, Lng: in.Longitude}, now)
	service.monitors.Observe(t.ID, in.Latitude, in.Longitude, now)

	service.publishVehicle(ctx, contracts.VehicleEvent{
		Type:    contracts.EventVehicleLocation,
		TripID:  t.ID,
		RouteID: routeIDOrEmpty(t.RouteID),
		Lat:     in.Latitude,
		Lng:     in.Longitude,
	})

	earned := t.CreditsEarned
	if granted {
		earned += trip.ReportCredit
		if service.metrics != nil {
			service.metrics.CreditsGranted.Add(float64(trip.ReportCredit))
		}
	}

	return ports.ReportPositionResult{
		TripID:         t.ID,
		CreditGranted:  granted,
		CreditsEarned:  earned,
		LastPositionAt: now,
	}, nil
}
