package ports

import (
	"context"
	"time"

	"transit-pulse/internal/domain/geo"
	"transit-pulse/internal/domain/report"
	"transit-pulse/internal/domain/reward"
	"transit-pulse/internal/domain/route"
	"transit-pulse/internal/domain/trace"
	"transit-pulse/internal/domain/trip"
	"transit-pulse/internal/domain/user"
)

// UnitOfWork manages transactions across multiple repository operations.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ActiveVehicle is a live trip position projected for the recommendation
// engine: one row per active trip that has both a route and a position.
type ActiveVehicle struct {
	TripID  string
	RouteID string
	Lat     float64
	Lng     float64
}

// TripRepository defines the methods for the trip store.
type TripRepository interface {
	// Create inserts an active trip. Returns trip.ErrActiveTripExists when
	// the rider already has one (partial unique index on the storage layer).
	Create(ctx context.Context, t *trip.Trip) error
	GetByID(ctx context.Context, id string) (*trip.Trip, error)
	// GetActiveForRider returns trip.ErrNoActiveTrip when none exists.
	GetActiveForRider(ctx context.Context, riderID string) (*trip.Trip, error)
	SavePosition(ctx context.Context, tripID string, lat, lng float64, at time.Time) error
	// MarkCredited stamps last_credited_at and bumps the per-trip total.
	MarkCredited(ctx context.Context, tripID string, at time.Time, amount int) error
	// End deactivates the trip. Returns trip.ErrTripNotActive when the trip
	// was already ended (idempotent guard for double-end calls).
	End(ctx context.Context, tripID string, endedAt time.Time, bonus int, note *string) error
	ListActiveVehicles(ctx context.Context) ([]ActiveVehicle, error)
}

// RouteRepository defines the methods for route and stop data.
type RouteRepository interface {
	GetByID(ctx context.Context, id string) (*route.Route, error)
	// ListActive returns active routes with their ordered stops hydrated.
	ListActive(ctx context.Context) ([]*route.Route, error)
	SetSuggestedGeometry(ctx context.Context, routeID string, sg *route.SuggestedGeometry) error
	// PromoteSuggested copies the given polyline into the accepted geometry
	// and clears the suggestion.
	PromoteSuggested(ctx context.Context, routeID string, points []geo.LatLng, approximate bool) error
	ClearSuggested(ctx context.Context, routeID string) error
}

// TraceRepository defines the methods for rider GPS traces.
type TraceRepository interface {
	Create(ctx context.Context, t *trace.RouteTrace) error
	CountPending(ctx context.Context, routeID string) (int, error)
	// ClaimPending locks and returns the route's pending traces in creation
	// order. Must run inside a UnitOfWork transaction; row locks serialize
	// concurrent consensus runs for the same route.
	ClaimPending(ctx context.Context, routeID string) ([]*trace.RouteTrace, error)
	SetStatus(ctx context.Context, ids []string, status trace.Status) error
}

// RiderRepository defines the methods for rider records.
type RiderRepository interface {
	GetByID(ctx context.Context, id string) (*user.Rider, error)
	SetProximityOptIn(ctx context.Context, riderID string, optIn bool) error
}

// RewardRepository defines the methods for the reward ledger.
type RewardRepository interface {
	// Award appends a positive ledger entry and increments the rider's
	// denormalized balance in the same transaction.
	Award(ctx context.Context, t *reward.Transaction) error
	// Spend atomically decrements the balance when sufficient (premium
	// riders may overdraw) and appends the negative entry. Returns
	// reward.ErrInsufficientCredit when the conditional update matches no
	// row.
	Spend(ctx context.Context, riderID string, amount int, description string) (*reward.Transaction, error)
	BalanceOf(ctx context.Context, riderID string) (int, error)
	ListByRider(ctx context.Context, riderID string, limit int) ([]*reward.Transaction, error)
}

// ReportRepository defines the methods for incident reports.
type ReportRepository interface {
	Create(ctx context.Context, r *report.Report) error
	GetByID(ctx context.Context, id string) (*report.Report, error)
	IncrementConfirmations(ctx context.Context, id string) (int, error)
	Resolve(ctx context.Context, id string, at time.Time) error
	// ListLive returns unexpired active reports for index warm-up.
	ListLive(ctx context.Context, at time.Time) ([]*report.Report, error)
	// GetActiveCongestionByRider returns the rider's newest live congestion
	// report, or nil when none exists.
	GetActiveCongestionByRider(ctx context.Context, riderID string, at time.Time) (*report.Report, error)
}
