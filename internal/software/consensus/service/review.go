package service

import (
	"context"

	"transit-pulse/internal/domain/route"
	"transit-pulse/internal/domain/trace"
	"transit-pulse/internal/ports"
)

// AcceptSuggestion promotes the route's suggested geometry to its accepted
// one. The polyline is road-snapped first when the routing collaborator is
// reachable; a snap failure keeps the raw consensus geometry rather than
// blocking the promotion.
func (service *consensusService) AcceptSuggestion(ctx context.Context, routeID string) (ports.SuggestionResult, error) {
	// read outside the promoting tx: the snap call is a network round trip
	// and must not hold row locks
	var sg *route.SuggestedGeometry
	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		rt, err := service.routeRepo.GetByID(txCtx, routeID)
		if err != nil {
			return err
		}
		if rt.Suggested == nil {
			return route.ErrNoSuggestedPath
		}
		sg = rt.Suggested
		return nil
	})
	if err != nil {
		return ports.SuggestionResult{}, err
	}

	points, snapApprox := service.geoSnap(ctx, sg.Points)
	approximate := sg.Approximate || snapApprox

	err = service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		return service.routeRepo.PromoteSuggested(txCtx, routeID, points, approximate)
	})
	if err != nil {
		return ports.SuggestionResult{}, err
	}

	service.logger.Info(ctx, "suggestion_accepted", "Suggested geometry promoted", map[string]any{
		"route_id":    routeID,
		"points":      len(points),
		"approximate": approximate,
	})
	return ports.SuggestionResult{
		RouteID:     routeID,
		Points:      points,
		TraceCount:  sg.TraceCount,
		Approximate: approximate,
		GeneratedAt: sg.GeneratedAt,
	}, nil
}

// RejectSuggestion drops the suggestion and discards its source traces so
// they never feed another batch.
func (service *consensusService) RejectSuggestion(ctx context.Context, routeID string) error {
	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		rt, err := service.routeRepo.GetByID(txCtx, routeID)
		if err != nil {
			return err
		}
		if rt.Suggested == nil {
			return route.ErrNoSuggestedPath
		}
		if len(rt.Suggested.TraceIDs) > 0 {
			if err := service.traceRepo.SetStatus(txCtx, rt.Suggested.TraceIDs, trace.StatusDiscarded); err != nil {
				return err
			}
		}
		return service.routeRepo.ClearSuggested(txCtx, routeID)
	})
	if err != nil {
		return err
	}

	service.logger.Info(ctx, "suggestion_rejected", "Suggested geometry discarded", map[string]any{
		"route_id": routeID,
	})
	return nil
}
