package geo

import (
	"errors"
	"math"
)

const earthRadiusMeters = 6371000.0

var (
	ErrInvalidLatitude  = errors.New("latitude must be between -90 and 90")
	ErrInvalidLongitude = errors.New("longitude must be between -180 and 180")
)

// LatLng is a bare WGS84 coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ValidateCoords checks lat/lng ranges.
func ValidateCoords(lat, lng float64) error {
	if lat < -90 || lat > 90 {
		return ErrInvalidLatitude
	}
	if lng < -180 || lng > 180 {
		return ErrInvalidLongitude
	}
	return nil
}

// DistanceMeters returns the great-circle distance between two coordinates
// using the haversine formula.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLng := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLng/2)*math.Sin(deltaLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// DistanceKM returns the haversine distance in kilometers.
func DistanceKM(lat1, lng1, lat2, lng2 float64) float64 {
	return DistanceMeters(lat1, lng1, lat2, lng2) / 1000.0
}

// Nearest scans points linearly and returns the index of the point closest to
// (lat, lng) together with the distance in meters. Returns (-1, +Inf) for an
// empty slice. At route scale a linear scan beats any index.
func Nearest(lat, lng float64, points []LatLng) (int, float64) {
	best := -1
	bestDist := math.Inf(1)
	for i, p := range points {
		d := DistanceMeters(lat, lng, p.Lat, p.Lng)
		if d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best, bestDist
}

// MinDistanceMeters returns the smallest distance from (lat, lng) to any of
// the given points, or +Inf when points is empty.
func MinDistanceMeters(lat, lng float64, points []LatLng) float64 {
	_, d := Nearest(lat, lng, points)
	return d
}

// WithinMeters reports whether two coordinates are within the given radius.
func WithinMeters(lat1, lng1, lat2, lng2, radius float64) bool {
	return DistanceMeters(lat1, lng1, lat2, lng2) <= radius
}
