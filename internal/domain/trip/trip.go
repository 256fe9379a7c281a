package trip

import (
	"errors"
	"strings"
	"time"

	"transit-pulse/internal/domain/geo"
)

const (
	// CreditWindow is the minimum spacing between two credited position
	// reports on the same trip.
	CreditWindow = 60 * time.Second

	// ReportCredit is granted for each credited position report.
	ReportCredit = 1

	// CompletionBonus is granted once when a trip ends normally.
	CompletionBonus = 10

	// MinTraceSamples is the smallest position history worth keeping as a
	// route trace for geometry consensus.
	MinTraceSamples = 10
)

var (
	ErrEmptyRiderID     = errors.New("rider_id cannot be empty")
	ErrActiveTripExists = errors.New("rider already has an active trip")
	ErrNoActiveTrip     = errors.New("rider has no active trip")
	ErrTripNotActive    = errors.New("trip is no longer active")
	ErrMissingPosition  = errors.New("trip start requires a position")
	ErrBadDestination   = errors.New("destination stop does not belong to the route")
)

// Trip is a rider's in-progress or completed boarding session, the domain
// entity behind the `trips` table. At most one active trip may exist per
// rider, enforced by a partial unique index at the storage layer.
type Trip struct {
	ID              string
	RiderID         string
	RouteID         *string // nil for free-roam trips
	Latitude        *float64
	Longitude       *float64
	DestinationStop *string // stop id, nil when rider did not pick one
	StartedAt       time.Time
	LastPositionAt  *time.Time
	LastCreditedAt  *time.Time
	CreditsEarned   int
	IsActive        bool
	EndedAt         *time.Time
	EndNote         *string // set on forced termination
}

// New constructs an active trip at the reported position.
func New(riderID string, routeID *string, lat, lng float64) (*Trip, error) {
	if strings.TrimSpace(riderID) == "" {
		return nil, ErrEmptyRiderID
	}
	if err := geo.ValidateCoords(lat, lng); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Trip{
		RiderID:        strings.TrimSpace(riderID),
		RouteID:        routeID,
		Latitude:       &lat,
		Longitude:      &lng,
		StartedAt:      now,
		LastPositionAt: &now,
		IsActive:       true,
	}, nil
}

// CreditDue reports whether a position report at `at` falls outside the
// current credit window. Evaluated lazily on each report, so irregular
// cadences still earn at most one credit per window.
func (t *Trip) CreditDue(at time.Time) bool {
	if t.LastCreditedAt == nil {
		return true
	}
	return at.Sub(*t.LastCreditedAt) > CreditWindow
}

// Position returns the current coordinate, or false when the trip has not
// reported one yet.
func (t *Trip) Position() (geo.LatLng, bool) {
	if t.Latitude == nil || t.Longitude == nil {
		return geo.LatLng{}, false
	}
	return geo.LatLng{Lat: *t.Latitude, Lng: *t.Longitude}, true
}
