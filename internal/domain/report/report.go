package report

import (
	"errors"
	"strings"
	"time"

	"transit-pulse/internal/domain/geo"
)

// Lifetime is the fixed window after which a report drops out of every read
// path, resolved or not.
const Lifetime = 30 * time.Minute

// Type is the fixed incident vocabulary.
type Type string

const (
	TypeCongestion  Type = "CONGESTION"
	TypeAccident    Type = "ACCIDENT"
	TypeBreakdown   Type = "BREAKDOWN"
	TypeRoadClosure Type = "ROAD_CLOSURE"
	TypePoliceCheck Type = "POLICE_CHECK"
	TypeFullVehicle Type = "FULL_VEHICLE"
	TypeNoVehicle   Type = "NO_VEHICLE"
)

var (
	ErrEmptyRiderID  = errors.New("rider_id cannot be empty")
	ErrInvalidType   = errors.New("unknown report type")
	ErrOwnConfirm    = errors.New("cannot confirm own report")
	ErrNotOwner      = errors.New("only the reporter can resolve a report")
	ErrAlreadyClosed = errors.New("report is no longer active")
)

// Valid reports whether t is part of the incident vocabulary.
func (t Type) Valid() bool {
	switch t {
	case TypeCongestion, TypeAccident, TypeBreakdown, TypeRoadClosure,
		TypePoliceCheck, TypeFullVehicle, TypeNoVehicle:
		return true
	}
	return false
}

// Report is a rider-filed incident pin with a fixed 30-minute lifetime.
type Report struct {
	ID            string
	RiderID       string
	RouteID       *string
	Type          Type
	Latitude      float64
	Longitude     float64
	Description   string
	Confirmations int
	IsActive      bool
	CreatedAt     time.Time
	ExpiresAt     time.Time
	ResolvedAt    *time.Time
}

// New builds a validated active report expiring Lifetime from now.
func New(riderID string, routeID *string, typ Type, lat, lng float64, description string) (*Report, error) {
	if strings.TrimSpace(riderID) == "" {
		return nil, ErrEmptyRiderID
	}
	if !typ.Valid() {
		return nil, ErrInvalidType
	}
	if err := geo.ValidateCoords(lat, lng); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Report{
		RiderID:     strings.TrimSpace(riderID),
		RouteID:     routeID,
		Type:        typ,
		Latitude:    lat,
		Longitude:   lng,
		Description: strings.TrimSpace(description),
		IsActive:    true,
		CreatedAt:   now,
		ExpiresAt:   now.Add(Lifetime),
	}, nil
}

// Expired reports whether the report has outlived its window at `at`.
func (r *Report) Expired(at time.Time) bool {
	return at.After(r.ExpiresAt)
}

// Live reports whether the report should appear in read paths at `at`.
func (r *Report) Live(at time.Time) bool {
	return r.IsActive && !r.Expired(at)
}
