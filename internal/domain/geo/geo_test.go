package geo

import (
	"math"
	"testing"
)

func TestDistanceMeters_KnownPair(t *testing.T) {
	// Dar es Salaam ferry terminal to Kariakoo market, roughly 1.9 km
	d := DistanceMeters(-6.8205, 39.2898, -6.8185, 39.2721)
	if d < 1800 || d > 2100 {
		t.Errorf("expected ~1.9km, got %.0fm", d)
	}
}

func TestDistanceMeters_ZeroForSamePoint(t *testing.T) {
	if d := DistanceMeters(10.5, 20.5, 10.5, 20.5); d != 0 {
		t.Errorf("expected 0, got %f", d)
	}
}

func TestDistanceKM(t *testing.T) {
	m := DistanceMeters(0, 0, 0, 1)
	km := DistanceKM(0, 0, 0, 1)
	if math.Abs(km*1000-m) > 1e-6 {
		t.Errorf("km/meter mismatch: %f vs %f", km*1000, m)
	}
}

func TestNearest(t *testing.T) {
	points := []LatLng{
		{Lat: 0, Lng: 0},
		{Lat: 0, Lng: 0.01},
		{Lat: 0, Lng: 0.02},
	}
	idx, dist := Nearest(0, 0.011, points)
	if idx != 1 {
		t.Errorf("expected index 1, got %d", idx)
	}
	if dist > 200 {
		t.Errorf("expected <200m, got %.0f", dist)
	}
}

func TestNearest_Empty(t *testing.T) {
	idx, dist := Nearest(0, 0, nil)
	if idx != -1 {
		t.Errorf("expected -1, got %d", idx)
	}
	if !math.IsInf(dist, 1) {
		t.Errorf("expected +Inf, got %f", dist)
	}
}

func TestValidateCoords(t *testing.T) {
	if err := ValidateCoords(91, 0); err != ErrInvalidLatitude {
		t.Errorf("expected ErrInvalidLatitude, got %v", err)
	}
	if err := ValidateCoords(0, -181); err != ErrInvalidLongitude {
		t.Errorf("expected ErrInvalidLongitude, got %v", err)
	}
	if err := ValidateCoords(-6.8, 39.2); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestWithinMeters(t *testing.T) {
	if !WithinMeters(0, 0, 0, 0.001, 200) {
		t.Error("~111m apart should be within 200m")
	}
	if WithinMeters(0, 0, 0, 0.01, 200) {
		t.Error("~1.1km apart should not be within 200m")
	}
}
