package contracts

import "time"

// Broadcast event types fanned out to connected viewers.
const (
	EventVehicleJoined   = "vehicle-joined"
	EventVehicleLocation = "vehicle-location"
	EventVehicleLeft     = "vehicle-left"
)

// Monitor alert types, keyed to the originating trip.
const (
	AlertDeviation       = "deviation-alert"
	AlertStillOnBoard    = "inactivity-prompt"
	AlertProximityBanner = "proximity-banner"
)

// Proximity banner states.
const (
	BannerPrepare = "prepare"
	BannerAlert   = "alert"
	BannerMissed  = "missed"
)

// VehicleEvent is the live-view broadcast payload. Lat/Lng are zero for
// EventVehicleLeft.
type VehicleEvent struct {
	Type    string  `json:"type"`
	TripID  string  `json:"trip_id"`
	RouteID string  `json:"route_id,omitempty"`
	Lat     float64 `json:"lat,omitempty"`
	Lng     float64 `json:"lng,omitempty"`
	Envelope
}

// MonitorAlert is sent to a trip's subscribers when a watcher fires.
type MonitorAlert struct {
	Type    string    `json:"type"`
	TripID  string    `json:"trip_id"`
	State   string    `json:"state,omitempty"` // banner state for proximity alerts
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// ConsensusRunMessage asks the background consumer to process a route's
// pending traces.
type ConsensusRunMessage struct {
	RouteID string `json:"route_id"`
	Envelope
}

// TripLifecycleMessage mirrors trip start/end onto the durable topic
// exchange for external consumers.
type TripLifecycleMessage struct {
	TripID  string   `json:"trip_id"`
	RiderID string   `json:"rider_id"`
	RouteID *string  `json:"route_id,omitempty"`
	Status  string   `json:"status"` // "STARTED" | "ENDED" | "FORCE_ENDED"
	Point   GeoPoint `json:"point"`
	Envelope
}
