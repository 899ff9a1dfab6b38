// Package geo validates query coordinates and holds the service-area policy.
// Checks run before any I/O; both error classes map to 400 responses.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// ErrCoordinateInvalid is returned when a coordinate is NaN/Inf or outside
// the valid lat/lon ranges.
var ErrCoordinateInvalid = errors.New("invalid coordinate")

// ErrOutsideServiceArea is returned for a well-formed coordinate that falls
// outside the configured operating rectangle. This is a service-boundary
// policy, deliberately distinct from ErrCoordinateInvalid.
var ErrOutsideServiceArea = errors.New("coordinate outside service area")

// Bounds is a lat/lon rectangle.
type Bounds struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// PennsylvaniaBounds is the default operating rectangle (approximate).
var PennsylvaniaBounds = Bounds{
	MinLat: 39.7199,
	MaxLat: 42.5167,
	MinLon: -80.5243,
	MaxLon: -74.707,
}

// Contains reports whether the coordinate lies within the rectangle.
func (b Bounds) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// ValidateCoordinate rejects NaN/Inf values and coordinates outside
// [-90,90]x[-180,180].
func ValidateCoordinate(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return fmt.Errorf("%w: lat/lon must be real numbers", ErrCoordinateInvalid)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: lat out of range (-90..90)", ErrCoordinateInvalid)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("%w: lon out of range (-180..180)", ErrCoordinateInvalid)
	}
	return nil
}

// ValidateInBounds rejects coordinates outside the service rectangle.
// Callers must run ValidateCoordinate first.
func ValidateInBounds(lat, lon float64, b Bounds) error {
	if !b.Contains(lat, lon) {
		return fmt.Errorf("%w: lat/lon outside %+v", ErrOutsideServiceArea, b)
	}
	return nil
}

const earthRadiusM = 6371008.8

// HaversineMeters returns the great-circle distance between two coordinates.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
