package ports

import (
	"context"
	"time"

	"transit-pulse/internal/domain/geo"
)

// ----- DTOs for Trip Service -----

// StartTripInput is the validated input for POST /trips.
type StartTripInput struct {
	RiderID   string
	RouteID   *string // optional
	Latitude  float64
	Longitude float64
	// DestinationStopID enables the destination-proximity watcher.
	DestinationStopID *string
}

// StartTripResult matches the API response for starting a trip.
type StartTripResult struct {
	TripID    string    `json:"trip_id"`
	RouteID   *string   `json:"route_id,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Message   string    `json:"message"`
}

// ReportPositionInput is the validated input for POST /trips/position.
type ReportPositionInput struct {
	RiderID   string
	Latitude  float64
	Longitude float64
}

// ReportPositionResult says whether this report earned a credit.
type ReportPositionResult struct {
	TripID         string    `json:"trip_id"`
	CreditGranted  bool      `json:"credit_granted"`
	CreditsEarned  int       `json:"credits_earned"`
	LastPositionAt time.Time `json:"last_position_at"`
}

// EndTripResult matches the API response for ending a trip.
type EndTripResult struct {
	TripID        string    `json:"trip_id"`
	EndedAt       time.Time `json:"ended_at"`
	CreditsEarned int       `json:"credits_earned"` // includes completion bonus
	TraceKept     bool      `json:"trace_kept"`     // position history saved for consensus
	Message       string    `json:"message"`
}

// TripService exposes the trip lifecycle boundary.
type TripService interface {
	StartTrip(ctx context.Context, in StartTripInput) (StartTripResult, error)
	ReportPosition(ctx context.Context, in ReportPositionInput) (ReportPositionResult, error)
	EndTrip(ctx context.Context, riderID string) (EndTripResult, error)
	// ForceEndTrip is the inactivity monitor's termination path: same
	// semantics as EndTrip plus a note on the trip record.
	ForceEndTrip(ctx context.Context, riderID, note string) (EndTripResult, error)
}

// ----- DTOs for Recommendation Service -----

// RecommendInput is the validated origin/destination query.
type RecommendInput struct {
	OriginLat float64
	OriginLng float64
	DestLat   float64
	DestLng   float64
}

// StopRef is a boarding or alighting stop with its distance from the query
// point.
type StopRef struct {
	StopID         string  `json:"stop_id"`
	Name           string  `json:"name"`
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	OrderIndex     int     `json:"order_index"`
	DistanceMeters float64 `json:"distance_meters"`
}

// LiveVehicle is the nearest active trip on a recommended route.
type LiveVehicle struct {
	TripID         string  `json:"trip_id"`
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	DistanceMeters float64 `json:"distance_meters"` // to the boarding stop
	EtaMinutes     float64 `json:"eta_minutes"`
}

// Recommendation is one qualifying route, ranked by ascending ETA.
type Recommendation struct {
	RouteID    string       `json:"route_id"`
	RouteName  string       `json:"route_name"`
	RouteCode  string       `json:"route_code"`
	Boarding   StopRef      `json:"boarding_stop"`
	Alighting  StopRef      `json:"alighting_stop"`
	Segment    []geo.LatLng `json:"segment"`
	Vehicle    *LiveVehicle `json:"vehicle,omitempty"`
	EtaMinutes float64      `json:"eta_minutes"`
	EtaSource  string       `json:"eta_source"` // "live" | "headway"
	Status     string       `json:"status"`
}

// RecommendService exposes the route recommendation boundary.
type RecommendService interface {
	Recommend(ctx context.Context, in RecommendInput) ([]Recommendation, error)
}

// ----- DTOs for Consensus Service -----

// SubmitTraceInput is the validated input for POST /traces.
type SubmitTraceInput struct {
	RiderID   string
	RouteID   string
	Points    []geo.LatLng
	StartedAt time.Time
	EndedAt   time.Time
}

// SubmitTraceResult matches the API response for a trace submission.
type SubmitTraceResult struct {
	TraceID      string `json:"trace_id"`
	PendingCount int    `json:"pending_count"`
	BatchQueued  bool   `json:"batch_queued"`
}

// SuggestionResult describes a published or promoted suggestion.
type SuggestionResult struct {
	RouteID     string       `json:"route_id"`
	Points      []geo.LatLng `json:"points"`
	TraceCount  int          `json:"trace_count"`
	Approximate bool         `json:"approximate,omitempty"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// ConsensusService exposes the geometry consensus boundary.
type ConsensusService interface {
	SubmitTrace(ctx context.Context, in SubmitTraceInput) (SubmitTraceResult, error)
	// RunConsensus processes the route's pending traces as one batch.
	// Safe to re-run; consumed traces are already marked processed.
	RunConsensus(ctx context.Context, routeID string) error
	// AcceptSuggestion promotes the suggested geometry to the accepted one,
	// road-snapping it when the routing collaborator is reachable.
	AcceptSuggestion(ctx context.Context, routeID string) (SuggestionResult, error)
	// RejectSuggestion discards the suggestion and its source traces.
	RejectSuggestion(ctx context.Context, routeID string) error
}

// ----- DTOs for Report Service -----

// CreateReportInput is the validated input for POST /reports.
type CreateReportInput struct {
	RiderID     string
	RouteID     *string
	Type        string
	Latitude    float64
	Longitude   float64
	Description string
}

// ReportView is the wire shape of a report.
type ReportView struct {
	ReportID      string     `json:"report_id"`
	RiderID       string     `json:"rider_id"`
	RouteID       *string    `json:"route_id,omitempty"`
	Type          string     `json:"type"`
	Lat           float64    `json:"lat"`
	Lng           float64    `json:"lng"`
	Description   string     `json:"description,omitempty"`
	Confirmations int        `json:"confirmations"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// NearbyReportsInput is the validated input for GET /reports/nearby.
type NearbyReportsInput struct {
	Lat          float64
	Lng          float64
	RadiusMeters float64
}

// ReportService exposes the incident report boundary.
type ReportService interface {
	CreateReport(ctx context.Context, in CreateReportInput) (ReportView, error)
	// ConfirmReport increments the counter and rewards both parties.
	// The confirmer must differ from the reporter.
	ConfirmReport(ctx context.Context, reportID, confirmerID string) (ReportView, error)
	// ResolveReport requires ownership.
	ResolveReport(ctx context.Context, reportID, riderID string) error
	NearbyReports(ctx context.Context, in NearbyReportsInput) ([]ReportView, error)
	// WarmIndex seeds the nearby index from storage at startup.
	WarmIndex(ctx context.Context) error
}

// ----- DTOs for Reward Service -----

// BalanceResult matches the API response for a balance read.
type BalanceResult struct {
	RiderID string `json:"rider_id"`
	Balance int    `json:"balance"`
}

// PurchaseResult matches the API response for a feature purchase.
type PurchaseResult struct {
	RiderID string `json:"rider_id"`
	Balance int    `json:"balance"`
	Feature string `json:"feature"`
	Message string `json:"message"`
}

// RewardService exposes the credit balance and spend boundary.
type RewardService interface {
	Balance(ctx context.Context, riderID string) (BalanceResult, error)
	// PurchaseProximityAlerts spends credits to enable the
	// destination-proximity watcher for a non-premium rider.
	PurchaseProximityAlerts(ctx context.Context, riderID string) (PurchaseResult, error)
}
