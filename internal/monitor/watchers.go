package monitor

import (
	"context"
	"time"

	"transit-pulse/internal/domain/geo"
	"transit-pulse/internal/domain/report"
	"transit-pulse/internal/general/contracts"
)

const (
	congestionResolveMeters = 200.0
	deviationMeters         = 250.0
	proximityPrepareMeters  = 400.0
	proximityAlertMeters    = 200.0
)

// runCongestion auto-resolves the rider's own congestion report once the
// vehicle has moved past it. Resolve failures are logged and retried on
// the next tick.
func (m *Manager) runCongestion(ctx context.Context, st *tripState) {
	ticker := time.NewTicker(m.intervals.Congestion)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			var rep *report.Report
			err := m.uow.WithinTx(ctx, func(txCtx context.Context) error {
				var err error
				rep, err = m.reports.GetActiveCongestionByRider(txCtx, st.cfg.RiderID, now)
				return err
			})
			if err != nil {
				m.logger.Error(ctx, "congestion_lookup_failed", "Failed to look up congestion report", err, map[string]any{
					"trip_id": st.cfg.TripID,
				})
				continue
			}
			if rep == nil {
				continue
			}

			lat, lng, _ := st.position()
			if geo.DistanceMeters(lat, lng, rep.Latitude, rep.Longitude) <= congestionResolveMeters {
				continue
			}

			if err := m.resolver.ResolveReport(ctx, rep.ID, st.cfg.RiderID); err != nil {
				m.logger.Error(ctx, "congestion_resolve_failed", "Failed to auto-resolve congestion report", err, map[string]any{
					"trip_id":   st.cfg.TripID,
					"report_id": rep.ID,
				})
				continue
			}
			m.alertFired("congestion")
			m.logger.Info(ctx, "congestion_resolved", "Congestion report auto-resolved", map[string]any{
				"trip_id":   st.cfg.TripID,
				"report_id": rep.ID,
			})
		}
	}
}

// runDeviation alerts when the rider is sustainedly off the route's stop
// corridor.
func (m *Manager) runDeviation(ctx context.Context, st *tripState) {
	ticker := time.NewTicker(m.intervals.Deviation)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			lat, lng, _ := st.position()
			minDist := geo.MinDistanceMeters(lat, lng, st.cfg.Stops)

			offFor := st.offRoute(minDist > deviationMeters, now)
			if offFor < m.intervals.DeviationSustained {
				continue
			}

			m.hub.PublishAlert(st.cfg.TripID, contracts.MonitorAlert{
				Type:    contracts.AlertDeviation,
				TripID:  st.cfg.TripID,
				Message: "trip has left its route",
				At:      now,
			})
			m.alertFired("deviation")
			// silence until acknowledged or back on route
			st.ackDeviation(now)
		}
	}
}

// runInactivity prompts a stationary rider and force-ends the trip when
// the prompt goes unanswered through the grace window.
func (m *Manager) runInactivity(ctx context.Context, st *tripState) {
	ticker := time.NewTicker(m.intervals.Inactivity)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			stationary, promptAt := st.stationaryFor(now)

			if !promptAt.IsZero() {
				if now.Sub(promptAt) < m.intervals.InactivityGrace {
					continue
				}
				// the ender tears down this trip's watcher set, and Detach
				// drains every watcher goroutine — escalating from this one
				// would deadlock on its own exit
				go m.forceEnd(ctx, st, now)
				return
			}

			if stationary < m.intervals.InactivityThreshold {
				continue
			}

			st.markPrompted(now)
			m.hub.PublishAlert(st.cfg.TripID, contracts.MonitorAlert{
				Type:    contracts.AlertStillOnBoard,
				TripID:  st.cfg.TripID,
				Message: "are you still on board?",
				At:      now,
			})
			m.alertFired("inactivity")
		}
	}
}

func (m *Manager) forceEnd(ctx context.Context, st *tripState, now time.Time) {
	ender := m.tripEnder()
	if ender == nil {
		m.logger.Error(ctx, "force_end_unwired", "No trip ender configured", nil, map[string]any{
			"trip_id": st.cfg.TripID,
		})
		return
	}

	// detached context: the watcher's own cancellation must not abort the
	// termination it triggered
	endCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	note := "auto-ended after inactivity prompt went unanswered"
	if _, err := ender.ForceEndTrip(endCtx, st.cfg.RiderID, note); err != nil {
		m.logger.Error(ctx, "force_end_failed", "Failed to force-end inactive trip", err, map[string]any{
			"trip_id": st.cfg.TripID,
		})
		return
	}
	m.logger.Info(ctx, "trip_force_ended", "Inactive trip terminated", map[string]any{
		"trip_id": st.cfg.TripID,
		"idle":    now.Sub(st.cfg.StartedAt).String(),
	})
}

// runProximity walks the destination banner through prepare/alert/missed.
func (m *Manager) runProximity(ctx context.Context, st *tripState) {
	ticker := time.NewTicker(m.intervals.Proximity)
	defer ticker.Stop()

	dest := *st.cfg.Destination

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			lat, lng, _ := st.position()
			dist := geo.DistanceMeters(lat, lng, dest.Lat, dest.Lng)

			state := st.advanceBanner(dist)
			if state == "" {
				continue
			}

			m.hub.PublishAlert(st.cfg.TripID, contracts.MonitorAlert{
				Type:   contracts.AlertProximityBanner,
				TripID: st.cfg.TripID,
				State:  state,
				At:     now,
			})
			m.alertFired("proximity")
		}
	}
}
