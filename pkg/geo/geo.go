// Package geo provides geographic utility functions for ride dispatch.
//
// All distance calculations use the Haversine formula on WGS-84 coordinates
// with a spherical Earth. Antipodal points and the poles are not special-cased.
package geo

import (
	"math"

	"github.com/shiva/gaadisathi/internal/model"
)

// ─── Constants ──────────────────────────────────────────────

const (
	// EarthRadiusKm is the mean radius of Earth in kilometers.
	EarthRadiusKm = 6371.0

	// DefaultRouteSegments is the number of segments used for a straight-line
	// route when no road geometry is available.
	DefaultRouteSegments = 50
)

// ─── Distance ───────────────────────────────────────────────

// HaversineKm returns the great-circle distance between two points in kilometers.
// It is symmetric and returns exactly 0 for identical points. NaN inputs
// propagate to a NaN result; validate locations before calling.
//
// Complexity: O(1)
func HaversineKm(a, b model.Location) float64 {
	dLat := degToRad(b.Lat - a.Lat)
	dLon := degToRad(b.Lon - a.Lon)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)

	h := sinLat*sinLat +
		math.Cos(degToRad(a.Lat))*math.Cos(degToRad(b.Lat))*sinLon*sinLon

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// HaversineM returns the great-circle distance between two points in meters.
func HaversineM(a, b model.Location) float64 {
	return HaversineKm(a, b) * 1000.0
}

// WithinRadius reports whether point lies within radiusKm of center (inclusive).
func WithinRadius(center, point model.Location, radiusKm float64) bool {
	return HaversineKm(center, point) <= radiusKm
}

// ─── Route Calculations ─────────────────────────────────────

// RouteDistanceKm returns the total distance of an ordered route in kilometers.
//
// Complexity: O(S) where S = number of points.
func RouteDistanceKm(route []model.Location) float64 {
	total := 0.0
	for i := 0; i < len(route)-1; i++ {
		total += HaversineKm(route[i], route[i+1])
	}
	return total
}

// StraightLine returns segments+1 points linearly interpolated between origin
// and destination, both included. Used as the route fallback when road
// geometry cannot be fetched.
func StraightLine(origin, dest model.Location, segments int) []model.Location {
	if segments < 1 {
		segments = 1
	}
	latStep := (dest.Lat - origin.Lat) / float64(segments)
	lonStep := (dest.Lon - origin.Lon) / float64(segments)

	route := make([]model.Location, 0, segments+1)
	route = append(route, model.Location{Lat: origin.Lat, Lon: origin.Lon})
	for i := 1; i < segments; i++ {
		route = append(route, model.Location{
			Lat: origin.Lat + latStep*float64(i),
			Lon: origin.Lon + lonStep*float64(i),
		})
	}
	route = append(route, model.Location{Lat: dest.Lat, Lon: dest.Lon})
	return route
}

// ─── Helpers ────────────────────────────────────────────────

func degToRad(deg float64) float64 {
	return deg * (math.Pi / 180.0)
}
