package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"transit-pulse/internal/domain/geo"
	"transit-pulse/internal/domain/route"
	"transit-pulse/internal/general/logger"
	"transit-pulse/internal/general/metrics"
	"transit-pulse/internal/ports"
)

const (
	// boardingRadiusMeters rejects routes whose nearest stop is too far
	// from the rider to walk to.
	boardingRadiusMeters = 1000.0

	// vehicleSpeedKMH converts a live vehicle's distance to an ETA.
	vehicleSpeedKMH = 20.0
)

// recommendService ranks active routes for an origin/destination pair.
// Linear scans throughout: route and stop counts stay small enough that a
// spatial index would be overhead.
type recommendService struct {
	logger    *logger.Logger
	metrics   *metrics.Collector
	uow       ports.UnitOfWork
	routeRepo ports.RouteRepository
	tripRepo  ports.TripRepository
}

func NewRecommendService(
	log *logger.Logger,
	collector *metrics.Collector,
	uow ports.UnitOfWork,
	routeRepo ports.RouteRepository,
	tripRepo ports.TripRepository,
) ports.RecommendService {
	return &recommendService{
		logger:    log,
		metrics:   collector,
		uow:       uow,
		routeRepo: routeRepo,
		tripRepo:  tripRepo,
	}
}

// Recommend evaluates every active route with at least two stops and
// returns the qualifying ones sorted by ascending ETA (route code breaks
// ties, so the ranking is deterministic under input permutation).
func (service *recommendService) Recommend(ctx context.Context, in ports.RecommendInput) ([]ports.Recommendation, error) {
	started := time.Now()

	if err := geo.ValidateCoords(in.OriginLat, in.OriginLng); err != nil {
		return nil, err
	}
	if err := geo.ValidateCoords(in.DestLat, in.DestLng); err != nil {
		return nil, err
	}

	var (
		routes   []*route.Route
		vehicles []ports.ActiveVehicle
	)
	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		routes, err = service.routeRepo.ListActive(txCtx)
		if err != nil {
			return err
		}
		vehicles, err = service.tripRepo.ListActiveVehicles(txCtx)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]ports.Recommendation, 0, len(routes))
	for _, rt := range routes {
		if rec, ok := service.evaluate(rt, vehicles, in); ok {
			out = append(out, rec)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].EtaMinutes != out[j].EtaMinutes {
			return out[i].EtaMinutes < out[j].EtaMinutes
		}
		return out[i].RouteCode < out[j].RouteCode
	})

	if service.metrics != nil {
		service.metrics.RecommendObserve(time.Since(started))
	}
	service.logger.Debug(ctx, "recommendation_served", "Recommendation query evaluated", map[string]any{
		"candidates": len(routes),
		"returned":   len(out),
	})
	return out, nil
}

// evaluate applies the boarding-radius and directionality checks to one
// route and builds its recommendation.
func (service *recommendService) evaluate(rt *route.Route, vehicles []ports.ActiveVehicle, in ports.RecommendInput) (ports.Recommendation, bool) {
	if len(rt.Stops) < 2 {
		return ports.Recommendation{}, false
	}

	coords := rt.StopCoords()
	boardIdx, boardDist := geo.Nearest(in.OriginLat, in.OriginLng, coords)
	alightIdx, alightDist := geo.Nearest(in.DestLat, in.DestLng, coords)

	if boardDist > boardingRadiusMeters {
		return ports.Recommendation{}, false
	}
	// directionality: never recommend riding the route backwards
	if rt.Stops[boardIdx].OrderIndex >= rt.Stops[alightIdx].OrderIndex {
		return ports.Recommendation{}, false
	}

	boarding := stopRef(rt.Stops[boardIdx], boardDist)
	alighting := stopRef(rt.Stops[alightIdx], alightDist)

	segment := make([]geo.LatLng, 0, alightIdx-boardIdx+1)
	for _, s := range rt.Segment(boardIdx, alightIdx) {
		segment = append(segment, s.LatLng())
	}

	rec := ports.Recommendation{
		RouteID:   rt.ID,
		RouteName: rt.Name,
		RouteCode: rt.Code,
		Boarding:  boarding,
		Alighting: alighting,
		Segment:   segment,
	}

	if v, dist, ok := nearestVehicle(rt.ID, boarding, vehicles); ok {
		eta := etaMinutes(dist)
		rec.Vehicle = &ports.LiveVehicle{
			TripID:         v.TripID,
			Lat:            v.Lat,
			Lng:            v.Lng,
			DistanceMeters: dist,
			EtaMinutes:     eta,
		}
		rec.EtaMinutes = eta
		rec.EtaSource = "live"
		rec.Status = fmt.Sprintf("vehicle %.0f m from %s, about %.0f min away", dist, boarding.Name, eta)
	} else {
		rec.EtaMinutes = float64(rt.HeadwayMinutes)
		rec.EtaSource = "headway"
		rec.Status = fmt.Sprintf("no live vehicle, next departure within %d min", rt.HeadwayMinutes)
	}

	return rec, true
}

func stopRef(s route.Stop, dist float64) ports.StopRef {
	return ports.StopRef{
		StopID:         s.ID,
		Name:           s.Name,
		Lat:            s.Latitude,
		Lng:            s.Longitude,
		OrderIndex:     s.OrderIndex,
		DistanceMeters: dist,
	}
}

// nearestVehicle finds the live trip on the route closest to the boarding
// stop.
func nearestVehicle(routeID string, boarding ports.StopRef, vehicles []ports.ActiveVehicle) (ports.ActiveVehicle, float64, bool) {
	var (
		best     ports.ActiveVehicle
		bestDist = -1.0
	)
	for _, v := range vehicles {
		if v.RouteID != routeID {
			continue
		}
		d := geo.DistanceMeters(v.Lat, v.Lng, boarding.Lat, boarding.Lng)
		if bestDist < 0 || d < bestDist {
			best, bestDist = v, d
		}
	}
	return best, bestDist, bestDist >= 0
}

func etaMinutes(distanceMeters float64) float64 {
	return distanceMeters / 1000.0 / vehicleSpeedKMH * 60.0
}
