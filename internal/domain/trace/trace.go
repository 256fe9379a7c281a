package trace

import (
	"errors"
	"strings"
	"time"

	"transit-pulse/internal/domain/geo"
)

// Status tracks a trace through the consensus pipeline.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusProcessed Status = "PROCESSED"
	StatusDiscarded Status = "DISCARDED"
)

// MinSamples is the smallest trace accepted for consensus input.
const MinSamples = 10

// BatchThreshold is how many pending traces a route needs before a
// consensus run is worth triggering.
const BatchThreshold = 5

var (
	ErrEmptyRouteID = errors.New("route_id cannot be empty")
	ErrEmptyRiderID = errors.New("rider_id cannot be empty")
	ErrTooShort     = errors.New("trace needs at least 10 samples")
	ErrBadInterval  = errors.New("ended_at cannot be before started_at")
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessed, StatusDiscarded:
		return true
	}
	return false
}

// RouteTrace is one rider's raw GPS sample sequence for a single trip,
// input to geometry consensus.
type RouteTrace struct {
	ID          string
	RouteID     string
	RiderID     string
	Points      []geo.LatLng
	StartedAt   time.Time
	EndedAt     time.Time
	SampleCount int
	Status      Status
	CreatedAt   time.Time
}

// New builds a validated pending trace.
func New(routeID, riderID string, points []geo.LatLng, startedAt, endedAt time.Time) (*RouteTrace, error) {
	if strings.TrimSpace(routeID) == "" {
		return nil, ErrEmptyRouteID
	}
	if strings.TrimSpace(riderID) == "" {
		return nil, ErrEmptyRiderID
	}
	if len(points) < MinSamples {
		return nil, ErrTooShort
	}
	if endedAt.Before(startedAt) {
		return nil, ErrBadInterval
	}
	for _, p := range points {
		if err := geo.ValidateCoords(p.Lat, p.Lng); err != nil {
			return nil, err
		}
	}
	return &RouteTrace{
		RouteID:     strings.TrimSpace(routeID),
		RiderID:     strings.TrimSpace(riderID),
		Points:      points,
		StartedAt:   startedAt,
		EndedAt:     endedAt,
		SampleCount: len(points),
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}, nil
}
