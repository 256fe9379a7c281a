package service

import (
	"context"
	"math"
	"time"

	"transit-pulse/internal/domain/geo"
	"transit-pulse/internal/domain/route"
	"transit-pulse/internal/domain/trace"
)

// minSuggestionPoints is the smallest geometry worth suggesting; attempts
// below it are discarded and the traces stay pending for the next batch.
const minSuggestionPoints = 5

// RunConsensus processes one route's pending traces as a batch. Per-route
// mutual exclusion comes from the claim: pending rows are locked FOR UPDATE
// and transition to processed inside the same transaction, so a concurrent
// run for the same route blocks on the lock and then finds nothing to claim.
func (service *consensusService) RunConsensus(ctx context.Context, routeID string) error {
	if service.metrics != nil {
		service.metrics.ConsensusRuns.Inc()
	}

	return service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		traces, err := service.traceRepo.ClaimPending(txCtx, routeID)
		if err != nil {
			return err
		}
		if len(traces) < trace.BatchThreshold {
			// another run already consumed the batch, or the trigger raced
			// a rejection; nothing to do
			return nil
		}

		points := clusterTraces(traces)
		if len(points) < minSuggestionPoints {
			if service.metrics != nil {
				service.metrics.ConsensusDiscards.Inc()
			}
			service.logger.Info(txCtx, "consensus_discarded", "Consensus produced too few points, traces stay pending", map[string]any{
				"route_id": routeID,
				"traces":   len(traces),
				"points":   len(points),
			})
			return nil
		}

		ids := make([]string, len(traces))
		for i, t := range traces {
			ids[i] = t.ID
		}
		if err := service.traceRepo.SetStatus(txCtx, ids, trace.StatusProcessed); err != nil {
			return err
		}

		sg := &route.SuggestedGeometry{
			Points:      points,
			TraceCount:  len(traces),
			TraceIDs:    ids,
			GeneratedAt: time.Now().UTC(),
		}
		if err := service.routeRepo.SetSuggestedGeometry(txCtx, routeID, sg); err != nil {
			return err
		}

		if service.metrics != nil {
			service.metrics.ConsensusSuggestions.Inc()
		}
		service.logger.Info(txCtx, "consensus_suggested", "Suggested geometry published", map[string]any{
			"route_id":    routeID,
			"trace_count": len(traces),
			"points":      len(points),
		})
		return nil
	})
}

// cellKey is a coordinate rounded to 4 decimal places, roughly an 11 m
// cell at these latitudes.
type cellKey struct {
	lat float64
	lng float64
}

type cluster struct {
	sumLat float64
	sumLng float64
	n      int
}

// clusterTraces flattens the traces in submission order and merges samples
// that round to the same 4-decimal cell. Output order is each cell's first
// appearance; the cell's point is the mean of its members.
func clusterTraces(traces []*trace.RouteTrace) []geo.LatLng {
	clusters := make(map[cellKey]*cluster)
	var order []cellKey

	for _, t := range traces {
		for _, p := range t.Points {
			key := cellKey{lat: round4(p.Lat), lng: round4(p.Lng)}
			c, ok := clusters[key]
			if !ok {
				c = &cluster{}
				clusters[key] = c
				order = append(order, key)
			}
			c.sumLat += p.Lat
			c.sumLng += p.Lng
			c.n++
		}
	}

	out := make([]geo.LatLng, len(order))
	for i, key := range order {
		c := clusters[key]
		out[i] = geo.LatLng{
			Lat: c.sumLat / float64(c.n),
			Lng: c.sumLng / float64(c.n),
		}
	}
	return out
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
