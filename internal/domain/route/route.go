package route

import (
	"errors"
	"strings"
	"time"

	"transit-pulse/internal/domain/geo"
)

var (
	ErrEmptyName          = errors.New("route name cannot be empty")
	ErrEmptyCode          = errors.New("route code cannot be empty")
	ErrBadHeadway         = errors.New("headway_minutes must be positive")
	ErrTooFewStops        = errors.New("route needs at least 2 stops")
	ErrStopOrder          = errors.New("stop order indexes must be strictly increasing")
	ErrGeometryTooShort   = errors.New("geometry needs at least 2 points")
	ErrNoSuggestedPath    = errors.New("route has no suggested geometry")
	ErrSuggestionTooShort = errors.New("suggested geometry needs at least 5 points")
)

// Stop is one boarding point on a route. OrderIndex positions the stop within
// the route's travel direction.
type Stop struct {
	ID         string
	RouteID    string
	Name       string
	Latitude   float64
	Longitude  float64
	OrderIndex int
}

// LatLng returns the stop position as a bare coordinate.
func (s Stop) LatLng() geo.LatLng {
	return geo.LatLng{Lat: s.Latitude, Lng: s.Longitude}
}

// SuggestedGeometry is a consensus path awaiting operator review.
type SuggestedGeometry struct {
	Points      []geo.LatLng `json:"points"`
	TraceCount  int          `json:"trace_count"`
	TraceIDs    []string     `json:"trace_ids,omitempty"` // source traces, re-marked discarded on rejection
	GeneratedAt time.Time    `json:"generated_at"`
	Approximate bool         `json:"approximate,omitempty"`
}

// Route is the domain entity corresponding to the `routes` table.
type Route struct {
	ID             string
	Name           string
	Code           string // unique short code, e.g. "MB-12"
	CompanyID      string
	FirstDeparture string // "HH:MM" local
	LastDeparture  string
	HeadwayMinutes int
	IsActive       bool
	Stops          []Stop
	Geometry       []geo.LatLng       // accepted polyline, nil until set
	Suggested      *SuggestedGeometry // pending operator review, nil when none
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate checks invariants of the Route entity.
func (r *Route) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrEmptyName
	}
	if strings.TrimSpace(r.Code) == "" {
		return ErrEmptyCode
	}
	if r.HeadwayMinutes <= 0 {
		return ErrBadHeadway
	}
	for i := 1; i < len(r.Stops); i++ {
		if r.Stops[i].OrderIndex <= r.Stops[i-1].OrderIndex {
			return ErrStopOrder
		}
	}
	if r.Geometry != nil && len(r.Geometry) < 2 {
		return ErrGeometryTooShort
	}
	return nil
}

// StopCoords returns the ordered stop positions.
func (r *Route) StopCoords() []geo.LatLng {
	out := make([]geo.LatLng, len(r.Stops))
	for i, s := range r.Stops {
		out[i] = s.LatLng()
	}
	return out
}

// Segment returns the inclusive slice of stops between two positions in the
// ordered stop list. Callers guarantee from < to.
func (r *Route) Segment(from, to int) []Stop {
	if from < 0 || to >= len(r.Stops) || from > to {
		return nil
	}
	seg := make([]Stop, to-from+1)
	copy(seg, r.Stops[from:to+1])
	return seg
}
