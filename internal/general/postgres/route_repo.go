package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"transit-pulse/internal/domain/geo"
	"transit-pulse/internal/domain/route"
	"transit-pulse/internal/ports"

	"github.com/jackc/pgx/v5"
)

// RouteRepo persists routes, stops, and geometries using pgx and plain SQL.
// Polylines live in JSONB columns; stops have their own table ordered by
// order_index.
type RouteRepo struct{}

// NewRouteRepo constructs a new RouteRepo.
func NewRouteRepo() ports.RouteRepository {
	return &RouteRepo{}
}

var ErrRouteNotFound = errors.New("route not found")

// GetByID fetches a route with its ordered stops.
func (repo *RouteRepo) GetByID(ctx context.Context, id string) (*route.Route, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var r route.Route
	var geomJSON, suggestedJSON []byte
	err = tx.QueryRow(ctx, `
		SELECT id, name, code, company_id, first_departure, last_departure,
		       headway_minutes, is_active, geometry, suggested_geometry,
		       created_at, updated_at
		FROM routes
		WHERE id = $1
	`, id).Scan(
		&r.ID, &r.Name, &r.Code, &r.CompanyID, &r.FirstDeparture, &r.LastDeparture,
		&r.HeadwayMinutes, &r.IsActive, &geomJSON, &suggestedJSON,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRouteNotFound
		}
		return nil, fmt.Errorf("get route: %w", err)
	}

	if err := decodeGeometry(geomJSON, suggestedJSON, &r); err != nil {
		return nil, err
	}

	if err := repo.loadStops(ctx, tx, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListActive returns active routes with their ordered stops hydrated.
func (repo *RouteRepo) ListActive(ctx context.Context) ([]*route.Route, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT id, name, code, company_id, first_departure, last_departure,
		       headway_minutes, is_active, geometry, suggested_geometry,
		       created_at, updated_at
		FROM routes
		WHERE is_active
		ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("list active routes: %w", err)
	}
	defer rows.Close()

	var out []*route.Route
	for rows.Next() {
		var r route.Route
		var geomJSON, suggestedJSON []byte
		if err := rows.Scan(
			&r.ID, &r.Name, &r.Code, &r.CompanyID, &r.FirstDeparture, &r.LastDeparture,
			&r.HeadwayMinutes, &r.IsActive, &geomJSON, &suggestedJSON,
			&r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		if err := decodeGeometry(geomJSON, suggestedJSON, &r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for _, r := range out {
		if err := repo.loadStops(ctx, tx, r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SetSuggestedGeometry publishes a consensus suggestion for operator review.
func (repo *RouteRepo) SetSuggestedGeometry(ctx context.Context, routeID string, sg *route.SuggestedGeometry) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(sg)
	if err != nil {
		return fmt.Errorf("encode suggested geometry: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE routes SET suggested_geometry = $2, updated_at = now()
		WHERE id = $1
	`, routeID, body)
	if err != nil {
		return fmt.Errorf("set suggested geometry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRouteNotFound
	}
	return nil
}

// PromoteSuggested copies the polyline into the accepted geometry and clears
// the suggestion slot.
func (repo *RouteRepo) PromoteSuggested(ctx context.Context, routeID string, points []geo.LatLng, approximate bool) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	if len(points) < 2 {
		return route.ErrGeometryTooShort
	}
	body, err := json.Marshal(points)
	if err != nil {
		return fmt.Errorf("encode geometry: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE routes
		SET geometry = $2, geometry_approximate = $3, suggested_geometry = NULL, updated_at = now()
		WHERE id = $1
	`, routeID, body, approximate)
	if err != nil {
		return fmt.Errorf("promote suggested geometry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRouteNotFound
	}
	return nil
}

// ClearSuggested drops the pending suggestion without touching the accepted
// geometry.
func (repo *RouteRepo) ClearSuggested(ctx context.Context, routeID string) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE routes SET suggested_geometry = NULL, updated_at = now()
		WHERE id = $1
	`, routeID)
	if err != nil {
		return fmt.Errorf("clear suggested geometry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRouteNotFound
	}
	return nil
}

// loadStops hydrates the ordered stop list.
func (repo *RouteRepo) loadStops(ctx context.Context, tx pgx.Tx, r *route.Route) error {
	rows, err := tx.Query(ctx, `
		SELECT id, route_id, name, latitude, longitude, order_index
		FROM stops
		WHERE route_id = $1
		ORDER BY order_index
	`, r.ID)
	if err != nil {
		return fmt.Errorf("load stops: %w", err)
	}
	defer rows.Close()

	r.Stops = r.Stops[:0]
	for rows.Next() {
		var s route.Stop
		if err := rows.Scan(&s.ID, &s.RouteID, &s.Name, &s.Latitude, &s.Longitude, &s.OrderIndex); err != nil {
			return fmt.Errorf("scan stop: %w", err)
		}
		r.Stops = append(r.Stops, s)
	}
	return rows.Err()
}

func decodeGeometry(geomJSON, suggestedJSON []byte, r *route.Route) error {
	if len(geomJSON) > 0 {
		if err := json.Unmarshal(geomJSON, &r.Geometry); err != nil {
			return fmt.Errorf("decode geometry: %w", err)
		}
	}
	if len(suggestedJSON) > 0 {
		var sg route.SuggestedGeometry
		if err := json.Unmarshal(suggestedJSON, &sg); err != nil {
			return fmt.Errorf("decode suggested geometry: %w", err)
		}
		r.Suggested = &sg
	}
	return nil
}
